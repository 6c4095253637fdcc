// Package secrets detects and redacts credentials in text before it is
// embedded, indexed or remembered. Detection uses the default gitleaks
// rule set.
package secrets

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Secret string
}

// Result is the outcome of Scrub.
type Result struct {
	Content  string
	Findings []Finding
	ByRule   map[string]int
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool {
	return len(r.Findings) > 0
}

// Marker returns the replacement text for a secret found by ruleID.
func Marker(ruleID string) string {
	return "[REDACTED:" + ruleID + "]"
}

// Redactor replaces secrets with Marker text. Safe for concurrent use.
type Redactor struct {
	mu     sync.Mutex
	detect func(string) []report.Finding
	logger *zap.Logger
}

// New builds a Redactor from the default gitleaks rules plus the optional
// allowlist.
func New(allowlist *Allowlist, logger *zap.Logger) (*Redactor, error) {
	fn, err := buildDetector(allowlist)
	if err != nil {
		return nil, err
	}
	return newRedactor(fn, logger), nil
}

// buildDetector is a var so tests can observe reloads without the full
// gitleaks rule set.
var buildDetector = func(allowlist *Allowlist) (func(string) []report.Finding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if err := allowlist.apply(&detector.Config); err != nil {
		return nil, err
	}
	return detector.DetectString, nil
}

// Reload swaps in a detector built with allowlist. On error the current
// detector stays in place.
func (r *Redactor) Reload(allowlist *Allowlist) error {
	fn, err := buildDetector(allowlist)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.detect = fn
	r.mu.Unlock()
	return nil
}

func newRedactor(fn func(string) []report.Finding, logger *zap.Logger) *Redactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redactor{detect: fn, logger: logger}
}

// Scrub detects secrets in content and replaces every occurrence of each
// one. Longer secrets are replaced first so overlapping matches do not
// leave fragments behind.
func (r *Redactor) Scrub(content string) Result {
	res := Result{Content: content, ByRule: map[string]int{}}
	if strings.TrimSpace(content) == "" {
		return res
	}

	r.mu.Lock()
	raw := r.detect(content)
	r.mu.Unlock()

	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		res.Findings = append(res.Findings, Finding{RuleID: f.RuleID, Line: f.StartLine, Secret: f.Secret})
		res.ByRule[f.RuleID]++
	}
	if len(res.Findings) == 0 {
		return res
	}

	ordered := slices.Clone(res.Findings)
	slices.SortStableFunc(ordered, func(a, b Finding) int {
		return cmp.Compare(len(b.Secret), len(a.Secret))
	})
	for _, f := range ordered {
		res.Content = strings.ReplaceAll(res.Content, f.Secret, Marker(f.RuleID))
	}

	r.logger.Debug("redacted secrets",
		zap.Int("findings", len(res.Findings)),
		zap.Any("rules", res.ByRule))
	return res
}

// Redact returns content with secrets replaced.
func (r *Redactor) Redact(content string) string {
	return r.Scrub(content).Content
}

// Nop leaves text unchanged.
type Nop struct{}

// Redact returns content unchanged.
func (Nop) Redact(content string) string { return content }

// Scrubber is satisfied by *Redactor and Nop.
type Scrubber interface {
	Redact(content string) string
}

// NewFromConfig builds the configured Scrubber.
func NewFromConfig(cfg config.SecretsConfig, logger *zap.Logger) (Scrubber, error) {
	if cfg.Disabled {
		return Nop{}, nil
	}
	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	return New(allowlist, logger)
}

var (
	_ Scrubber = (*Redactor)(nil)
	_ Scrubber = Nop{}
)
