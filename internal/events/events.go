// Package events publishes document lifecycle events.
//
// Events are published to NATS subjects:
//
//	documents.{tenant_id}.ingested
//	documents.{tenant_id}.deleted
//
// Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Type names an event.
type Type string

const (
	TypeIngested Type = "ingested"
	TypeDeleted  Type = "deleted"
)

// ErrPublish wraps publication failures.
var ErrPublish = errors.New("publish event")

// Event describes a change to one document of one tenant.
type Event struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	TenantID string    `json:"tenant_id"`
	DocID    string    `json:"doc_id"`
	Filename string    `json:"filename,omitempty"`
	Chunks   int       `json:"chunks,omitempty"`
	At       time.Time `json:"at"`
}

// NewEvent stamps a new event with an id and the current time.
func NewEvent(t Type, tenantID, docID string) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		TenantID: tenantID,
		DocID:    docID,
		At:       time.Now().UTC(),
	}
}

// Subject returns the NATS subject for e.
func (e Event) Subject() string {
	return Subject(e.TenantID, e.Type)
}

// Subject returns documents.{tenantID}.{t}.
func Subject(tenantID string, t Type) string {
	return fmt.Sprintf("documents.%s.%s", tenantID, t)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// NATSPublisher publishes JSON events on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	owned  bool
	logger *zap.Logger
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("ragd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisher wraps an existing connection. Close does not close nc.
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, logger: logger}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPublish, err)
	}
	if err := p.nc.Publish(e.Subject(), data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, e.Subject(), err)
	}
	p.logger.Debug("published event",
		zap.String("subject", e.Subject()),
		zap.String("event_id", e.ID))
	return nil
}

// Close drains the connection when the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

// NewPublisher returns a NATS publisher for url, or Nop when url is empty.
func NewPublisher(url string, logger *zap.Logger) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	return Connect(url, logger)
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*NATSPublisher)(nil)
)
