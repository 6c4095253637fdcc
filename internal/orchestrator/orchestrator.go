package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/generation"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/memory"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/websearch"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentSearcher is the read side of vectorstore.Index.
type DocumentSearcher interface {
	Search(ctx context.Context, tenantID string, vector []float32, topK int, docID string) ([]vectorstore.RetrievalResult, error)
}

// Config holds the per-query knobs.
type Config struct {
	Policy      retrieval.Policy
	TopK        int
	WebLimit    int
	MemoryLimit int

	IndexTimeout      time.Duration
	EmbeddingTimeout  time.Duration
	WebTimeout        time.Duration
	MemoryTimeout     time.Duration
	GenerationTimeout time.Duration
}

// ConfigFrom extracts orchestrator settings from the service config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Policy:            retrieval.Policy{Threshold: cfg.Retrieval.ThresholdValue()},
		TopK:              cfg.Retrieval.TopK,
		WebLimit:          cfg.Retrieval.WebLimit,
		MemoryLimit:       cfg.Retrieval.MemoryLimit,
		IndexTimeout:      cfg.Timeouts.Index.Duration(),
		EmbeddingTimeout:  cfg.Timeouts.Embedding.Duration(),
		WebTimeout:        cfg.Timeouts.WebSearch.Duration(),
		MemoryTimeout:     cfg.Timeouts.Memory.Duration(),
		GenerationTimeout: cfg.Timeouts.Generation.Duration(),
	}
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = vectorstore.DefaultTopK
	}
	if c.WebLimit <= 0 {
		c.WebLimit = 3
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 5
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWebSearch sets the web fallback provider.
func WithWebSearch(p websearch.Provider) Option {
	return func(o *Orchestrator) { o.web = p }
}

// WithMemory sets the long-term memory store.
func WithMemory(s memory.Store) Option {
	return func(o *Orchestrator) { o.memory = s }
}

// WithGenerator sets the answer generator used by Ask.
func WithGenerator(g generation.Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator assembles context for queries. It holds no per-query state
// and is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	embedder  Embedder
	index     DocumentSearcher
	web       websearch.Provider
	memory    memory.Store
	generator generation.Generator
	logger    *zap.Logger
}

// New creates an Orchestrator. Web search and memory default to no-op
// providers; Ask fails with ErrGenerationFailure until a generator is set.
func New(cfg Config, embedder Embedder, index DocumentSearcher, opts ...Option) (*Orchestrator, error) {
	if embedder == nil {
		return nil, errors.New("orchestrator: embedder is required")
	}
	if index == nil {
		return nil, errors.New("orchestrator: index is required")
	}
	cfg.applyDefaults()

	o := &Orchestrator{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		web:      websearch.Nop{},
		memory:   memory.Nop{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Answer assembles the fused context for q.
func (o *Orchestrator) Answer(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "orchestrator.Answer", trace.WithAttributes(
		attribute.String("ragd.mode", q.Mode.String()),
		attribute.Bool("ragd.doc_scoped", q.DocScope != ""),
	))
	defer span.End()

	res, err := o.assemble(ctx, q)
	o.observe(q.Mode, start, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.Trace.visit(StateDone)
	res.Trace.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Bool("ragd.used_web", res.Trace.UsedWeb),
		attribute.Int("ragd.documents", res.Trace.Documents),
	)
	return res, nil
}

// Ask assembles context, generates an answer from it and records the
// exchange in long-term memory. An empty bundle answers generation.IDontKnow
// without calling the model.
func (o *Orchestrator) Ask(ctx context.Context, q Query) (*Answer, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "orchestrator.Ask", trace.WithAttributes(
		attribute.String("ragd.mode", q.Mode.String()),
	))
	defer span.End()

	res, err := o.assemble(ctx, q)
	o.observe(q.Mode, start, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.Trace.visit(StateGeneration)
	text, err := o.generate(ctx, q, res.Bundle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res.Trace.visit(StateDone)
	res.Trace.Duration = time.Since(start)

	o.remember(ctx, q, text)
	return &Answer{Text: text, Result: *res}, nil
}

func (o *Orchestrator) assemble(ctx context.Context, q Query) (*Result, error) {
	ctx = logging.WithMode(ctx, q.Mode.String())
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidQuery)
	}
	if q.TenantID == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, vectorstore.ErrMissingTenant)
	}

	// Memory lookups run alongside document search and are discarded if
	// the query fails.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr := Trace{Mode: q.Mode}
	tr.visit(StateStart)

	var memories <-chan memoryOutcome
	if fusion.NeedsMemory(q.Text) {
		memories = o.searchMemory(ctx, q)
	}

	var docs []vectorstore.RetrievalResult
	if q.Mode != retrieval.WebOnly {
		tr.visit(StateDocSearch)
		var err error
		docs, err = o.searchDocuments(ctx, q)
		if err != nil {
			return nil, err
		}
		tr.Documents = len(docs)
		if len(docs) > 0 {
			top := docs[0].Score
			tr.TopScore = &top
			TopScore.Observe(float64(top))
		}
	}

	tr.visit(StateThresholdDecision)
	useWeb := o.cfg.Policy.NeedsWeb(q.Mode, docs)

	if q.Mode == retrieval.DocumentOnly && len(docs) == 0 {
		tr.visit(StateFusion)
		return &Result{Bundle: fusion.Empty(), Trace: tr}, nil
	}

	var web []websearch.Snippet
	if useWeb {
		tr.visit(StateWebSearch)
		tr.UsedWeb = true
		WebFallbacksTotal.WithLabelValues(q.Mode.String()).Inc()

		var err error
		web, err = o.searchWeb(ctx, q.Text)
		if err != nil {
			o.degrade(ctx, &tr, SourceWeb, err)
			web = nil
		}
	}

	var mems []string
	if memories != nil {
		tr.visit(StateMemorySearch)
		tr.Memory = true
		out := <-memories
		if out.err != nil {
			o.degrade(ctx, &tr, SourceMemory, out.err)
		} else {
			mems = out.memories
		}
	}

	tr.visit(StateFusion)
	bundle := fusion.Fuse(fusion.Input{
		History:   q.History,
		Memories:  mems,
		Documents: docs,
		Web:       web,
		UsedWeb:   useWeb,
	})
	return &Result{Bundle: bundle, Trace: tr}, nil
}

func (o *Orchestrator) searchDocuments(ctx context.Context, q Query) ([]vectorstore.RetrievalResult, error) {
	ectx, cancel := withTimeout(ctx, o.cfg.EmbeddingTimeout)
	vector, err := o.embedder.Embed(ectx, q.Text)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}

	ictx, cancel := withTimeout(ctx, o.cfg.IndexTimeout)
	defer cancel()
	docs, err := o.index.Search(ictx, q.TenantID, vector, o.cfg.TopK, q.DocScope)
	if err != nil {
		return nil, indexError(err)
	}
	return docs, nil
}

func indexError(err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrIndexUnavailable):
		return err
	case errors.Is(err, vectorstore.ErrInvalidID), errors.Is(err, vectorstore.ErrMissingTenant):
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	default:
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
}

func (o *Orchestrator) searchWeb(ctx context.Context, query string) ([]websearch.Snippet, error) {
	wctx, cancel := withTimeout(ctx, o.cfg.WebTimeout)
	defer cancel()

	snippets, err := o.web.Search(wctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWebSearchFailure, err)
	}
	if len(snippets) > o.cfg.WebLimit {
		snippets = snippets[:o.cfg.WebLimit]
	}
	return snippets, nil
}

type memoryOutcome struct {
	memories []string
	err      error
}

func (o *Orchestrator) searchMemory(ctx context.Context, q Query) <-chan memoryOutcome {
	out := make(chan memoryOutcome, 1)
	go func() {
		mctx, cancel := withTimeout(ctx, o.cfg.MemoryTimeout)
		defer cancel()

		mems, err := o.memory.Search(mctx, q.TenantID, q.Text, o.cfg.MemoryLimit)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrMemoryFailure, err)
		}
		out <- memoryOutcome{memories: mems, err: err}
	}()
	return out
}

func (o *Orchestrator) generate(ctx context.Context, q Query, b fusion.Bundle) (string, error) {
	if len(b.Items) == 0 {
		return generation.IDontKnow, nil
	}
	if o.generator == nil {
		return "", fmt.Errorf("%w: no generator configured", ErrGenerationFailure)
	}

	sections := b.RenderSections()
	gctx, cancel := withTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	text, err := o.generator.Generate(gctx, generation.Request{
		Question: q.Text,
		Context:  sections.Context,
		Memory:   sections.Memory,
		History:  sections.History,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailure, err)
	}
	return text, nil
}

// remember stores the exchange under the tenant. Failures are logged only.
func (o *Orchestrator) remember(ctx context.Context, q Query, answer string) {
	mctx, cancel := withTimeout(ctx, o.cfg.MemoryTimeout)
	defer cancel()

	err := o.memory.Add(mctx, q.TenantID, []memory.Message{
		{Role: memory.RoleUser, Content: q.Text},
		{Role: memory.RoleAssistant, Content: answer},
	})
	if err != nil {
		DegradedTotal.WithLabelValues(string(SourceMemory)).Inc()
		o.logger.Warn("failed to store memory",
			append(logging.ContextFields(ctx), zap.Error(err))...)
	}
}

func (o *Orchestrator) degrade(ctx context.Context, tr *Trace, src Source, err error) {
	tr.degrade(src)
	DegradedTotal.WithLabelValues(string(src)).Inc()
	o.logger.Warn("continuing without source",
		append(logging.ContextFields(ctx),
			zap.String("source", string(src)),
			zap.String("mode", tr.Mode.String()),
			zap.Error(err),
		)...)
}

func (o *Orchestrator) observe(mode retrieval.Mode, start time.Time, res *Result, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Bundle.Provenance.NoRelevantContent:
		outcome = "no_relevant_content"
	}
	QueriesTotal.WithLabelValues(mode.String(), outcome).Inc()
	QueryDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
