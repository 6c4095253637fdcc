// Package retrieval decides, per query, which sources feed the context.
package retrieval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Mode selects the sources consulted for a query.
type Mode int

const (
	// Hybrid searches documents and falls back to the web when they are weak.
	Hybrid Mode = iota
	// DocumentOnly never consults the web.
	DocumentOnly
	// WebOnly never consults the document index.
	WebOnly
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown retrieval mode")

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case Hybrid:
		return "hybrid"
	case DocumentOnly:
		return "document_only"
	case WebOnly:
		return "web_only"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name case-insensitively. An empty string yields
// fallback.
func ParseMode(s string, fallback Mode) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return fallback, nil
	case "hybrid":
		return Hybrid, nil
	case "document_only":
		return DocumentOnly, nil
	case "web_only":
		return WebOnly, nil
	default:
		return fallback, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty means Hybrid.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b), Hybrid)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Policy is the corrective-retrieval decision.
type Policy struct {
	// Threshold is the minimum top document score that keeps a hybrid
	// query off the web.
	Threshold float32
}

// NeedsWeb reports whether web search should run for a query in mode whose
// document search returned results. Only the top result is inspected;
// results must be sorted by descending score.
func (p Policy) NeedsWeb(mode Mode, results []vectorstore.RetrievalResult) bool {
	switch mode {
	case DocumentOnly:
		return false
	case WebOnly:
		return true
	default:
		return len(results) == 0 || results[0].Score < p.Threshold
	}
}
