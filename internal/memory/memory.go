// Package memory stores and recalls long-term facts about a user across
// conversations.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// Role is the speaker of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role" jsonschema:"user or assistant"`
	Content string `json:"content" jsonschema:"message text"`
}

var (
	// ErrMissingUser is returned when no user id scopes the call.
	ErrMissingUser = errors.New("user id is required")

	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("memory store unavailable")
)

// Store persists and searches memories scoped by user id.
type Store interface {
	// Add records messages for userID. Messages with empty content are
	// skipped; adding nothing is a no-op.
	Add(ctx context.Context, userID string, messages []Message) error
	// Search returns up to limit memory texts relevant to query.
	Search(ctx context.Context, userID, query string, limit int) ([]string, error)
}

// Nop is a Store that remembers nothing.
type Nop struct{}

func (Nop) Add(context.Context, string, []Message) error { return nil }

func (Nop) Search(context.Context, string, string, int) ([]string, error) { return nil, nil }

// Embedder turns a memory or query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Redactor scrubs secrets from text before it is stored.
type Redactor interface {
	Redact(text string) string
}

// Scrubbed returns a Store that redacts message contents before passing
// them to s.
func Scrubbed(s Store, r Redactor) Store {
	if r == nil {
		return s
	}
	return &scrubbingStore{Store: s, redactor: r}
}

type scrubbingStore struct {
	Store
	redactor Redactor
}

func (s *scrubbingStore) Add(ctx context.Context, userID string, messages []Message) error {
	clean := make([]Message, 0, len(messages))
	for _, m := range messages {
		clean = append(clean, Message{Role: m.Role, Content: s.redactor.Redact(m.Content)})
	}
	return s.Store.Add(ctx, userID, clean)
}

// nonEmpty drops messages without content.
func nonEmpty(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) != "" {
			out = append(out, m)
		}
	}
	return out
}

// NewStore builds the configured Store.
func NewStore(cfg config.MemoryConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "none":
		return Nop{}, nil
	case "local", "":
		return NewLocalStore(LocalConfig{Path: cfg.Path}, embedder, logger)
	case "mem0":
		return NewMem0Client(Mem0Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey.Value()})
	default:
		return nil, fmt.Errorf("unsupported memory provider %q", cfg.Provider)
	}
}
