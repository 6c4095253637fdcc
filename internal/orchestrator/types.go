// Package orchestrator runs one query through document search, the web
// fallback decision, optional web and memory lookups, and context fusion.
//
// States are visited in order:
//
//	start → doc_search (skipped for web_only) → threshold_decision →
//	[web_search] → [memory_search] → fusion → done
//
// Index and embedding failures abort the query. Web and memory failures
// degrade to empty results and are recorded in the trace.
package orchestrator

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/memory"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// State is a step of the per-query state machine.
type State string

const (
	StateStart             State = "start"
	StateDocSearch         State = "doc_search"
	StateThresholdDecision State = "threshold_decision"
	StateWebSearch         State = "web_search"
	StateMemorySearch      State = "memory_search"
	StateFusion            State = "fusion"
	StateGeneration        State = "generation"
	StateDone              State = "done"
)

// Source names a collaborator that may degrade.
type Source string

const (
	SourceWeb    Source = "web"
	SourceMemory Source = "memory"
)

// Error kinds. Web and memory failures are handled internally and only
// ever appear in logs and Trace.Degraded.
var (
	// ErrIndexUnavailable is the vector index failure kind.
	ErrIndexUnavailable = vectorstore.ErrIndexUnavailable

	// ErrEmbeddingFailure means the query could not be embedded.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrWebSearchFailure means the web provider failed or timed out.
	ErrWebSearchFailure = errors.New("web search failure")

	// ErrMemoryFailure means the memory store failed or timed out.
	ErrMemoryFailure = errors.New("memory failure")

	// ErrGenerationFailure means the model call failed.
	ErrGenerationFailure = errors.New("generation failure")

	// ErrInvalidQuery means the query text or tenant is missing.
	ErrInvalidQuery = errors.New("invalid query")
)

// Query is one question from one tenant.
type Query struct {
	Text     string
	TenantID string
	Mode     retrieval.Mode
	// DocScope restricts document search to one doc_id when set.
	DocScope string
	// History is the caller-owned recent conversation, oldest first.
	History []memory.Message
}

// Trace records how a query was served.
// TopScore is nil when no document matched.
type Trace struct {
	Mode      retrieval.Mode `json:"mode"`
	States    []State        `json:"states"`
	TopScore  *float32       `json:"top_score,omitempty"`
	UsedWeb   bool           `json:"used_web"`
	Degraded  []Source       `json:"degraded,omitempty"`
	Documents int            `json:"documents"`
	Memory    bool           `json:"memory_consulted"`
	Duration  time.Duration  `json:"duration"`
}

func (t *Trace) visit(s State) {
	t.States = append(t.States, s)
}

func (t *Trace) degrade(s Source) {
	t.Degraded = append(t.Degraded, s)
}

// Result is the outcome of Answer.
type Result struct {
	Bundle fusion.Bundle `json:"bundle"`
	Trace  Trace         `json:"trace"`
}

// Answer is the outcome of Ask.
type Answer struct {
	Text string `json:"answer"`
	Result
}
