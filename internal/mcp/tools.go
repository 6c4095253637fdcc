package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/memory"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
)

type queryInput struct {
	TenantID string           `json:"tenant_id" jsonschema:"Tenant whose documents are searched"`
	Question string           `json:"question" jsonschema:"The user question"`
	Mode     string           `json:"mode,omitempty" jsonschema:"hybrid (default), document_only or web_only"`
	DocID    string           `json:"doc_id,omitempty" jsonschema:"Restrict document search to one document"`
	History  []memory.Message `json:"history,omitempty" jsonschema:"Recent chat turns, oldest first"`
}

type contextItem struct {
	Kind   string  `json:"kind" jsonschema:"history, memory, document or web"`
	Text   string  `json:"text"`
	Score  float64 `json:"score,omitempty" jsonschema:"Similarity score for documents; 1.0 for web results"`
	Source string  `json:"source,omitempty" jsonschema:"Filename or URL"`
	Page   int     `json:"page,omitempty"`
}

type provenance struct {
	Kinds             []string `json:"kinds"`
	UsedWeb           bool     `json:"used_web"`
	NoRelevantContent bool     `json:"no_relevant_content"`
	Degraded          []string `json:"degraded,omitempty" jsonschema:"Sources that failed and were skipped"`
}

type retrieveOutput struct {
	Context    string        `json:"context" jsonschema:"Rendered context, one section per source kind"`
	Items      []contextItem `json:"items" jsonschema:"Preview of the context items"`
	Provenance provenance    `json:"provenance"`
}

type askOutput struct {
	Answer     string        `json:"answer"`
	Items      []contextItem `json:"items" jsonschema:"Preview of the context used"`
	Provenance provenance    `json:"provenance"`
}

type ingestInput struct {
	TenantID string   `json:"tenant_id"`
	DocID    string   `json:"doc_id,omitempty" jsonschema:"Document id; defaults to the filename"`
	Filename string   `json:"filename"`
	Pages    []string `json:"pages" jsonschema:"Extracted text, one entry per page"`
}

type ingestOutput struct {
	DocID    string `json:"doc_id"`
	Chunks   int    `json:"chunks"`
	Replaced bool   `json:"replaced"`
}

type listDocumentsInput struct {
	TenantID string `json:"tenant_id"`
}

type documentRef struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
}

type listDocumentsOutput struct {
	Documents []documentRef `json:"documents"`
	Count     int           `json:"count"`
}

type deleteDocumentInput struct {
	TenantID string `json:"tenant_id"`
	DocID    string `json:"doc_id"`
}

type deleteDocumentOutput struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the tenant's documents, long-term memory and, when documents are not relevant enough, the web",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args queryInput) (*mcp.CallToolResult, askOutput, error) {
		out, err := s.ask(ctx, args)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: "Assemble the context for a question without generating an answer",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args queryInput) (*mcp.CallToolResult, retrieveOutput, error) {
		out, err := s.retrieve(ctx, args)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Index a document's pages for a tenant, replacing any earlier version",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
		out, err := s.ingestDocument(ctx, args)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_documents",
		Description: "List the documents a tenant has uploaded",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args listDocumentsInput) (*mcp.CallToolResult, listDocumentsOutput, error) {
		out, err := s.listDocuments(ctx, args)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_document",
		Description: "Delete every chunk of one document",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args deleteDocumentInput) (*mcp.CallToolResult, deleteDocumentOutput, error) {
		out, err := s.deleteDocument(ctx, args)
		return nil, out, err
	})
}

func (s *Server) query(args queryInput) (orchestrator.Query, error) {
	mode, err := retrieval.ParseMode(args.Mode, s.config.DefaultMode)
	if err != nil {
		return orchestrator.Query{}, err
	}
	return orchestrator.Query{
		Text:     args.Question,
		TenantID: args.TenantID,
		Mode:     mode,
		DocScope: args.DocID,
		History:  args.History,
	}, nil
}

func (s *Server) ask(ctx context.Context, args queryInput) (out askOutput, err error) {
	done := s.metrics.track(ctx, "ask")
	defer func() { done(err) }()

	q, err := s.query(args)
	if err != nil {
		return askOutput{}, err
	}
	ans, err := s.answerer.Ask(ctx, q)
	if err != nil {
		s.logger.Warn("ask failed", zap.String("tenant_id", args.TenantID), zap.Error(err))
		return askOutput{}, err
	}
	return askOutput{
		Answer:     ans.Text,
		Items:      previewItems(ans.Bundle, s.config.PreviewCap),
		Provenance: toProvenance(ans.Bundle, ans.Trace),
	}, nil
}

func (s *Server) retrieve(ctx context.Context, args queryInput) (out retrieveOutput, err error) {
	done := s.metrics.track(ctx, "retrieve")
	defer func() { done(err) }()

	q, err := s.query(args)
	if err != nil {
		return retrieveOutput{}, err
	}
	res, err := s.answerer.Answer(ctx, q)
	if err != nil {
		s.logger.Warn("retrieve failed", zap.String("tenant_id", args.TenantID), zap.Error(err))
		return retrieveOutput{}, err
	}
	return retrieveOutput{
		Context:    res.Bundle.Render(),
		Items:      previewItems(res.Bundle, s.config.PreviewCap),
		Provenance: toProvenance(res.Bundle, res.Trace),
	}, nil
}

func (s *Server) ingestDocument(ctx context.Context, args ingestInput) (out ingestOutput, err error) {
	done := s.metrics.track(ctx, "ingest_document")
	defer func() { done(err) }()

	res, err := s.documents.Ingest(ctx, ingest.Request{
		TenantID: args.TenantID,
		DocID:    args.DocID,
		Filename: args.Filename,
		Pages:    args.Pages,
	})
	if err != nil {
		return ingestOutput{}, err
	}
	return ingestOutput{DocID: res.DocID, Chunks: res.Chunks, Replaced: res.Replaced}, nil
}

func (s *Server) listDocuments(ctx context.Context, args listDocumentsInput) (out listDocumentsOutput, err error) {
	done := s.metrics.track(ctx, "list_documents")
	defer func() { done(err) }()

	docs, err := s.documents.List(ctx, args.TenantID)
	if err != nil {
		return listDocumentsOutput{}, err
	}
	out.Documents = make([]documentRef, 0, len(docs))
	for _, d := range docs {
		out.Documents = append(out.Documents, documentRef(d))
	}
	out.Count = len(docs)
	return out, nil
}

func (s *Server) deleteDocument(ctx context.Context, args deleteDocumentInput) (out deleteDocumentOutput, err error) {
	done := s.metrics.track(ctx, "delete_document")
	defer func() { done(err) }()

	if err := s.documents.Delete(ctx, args.TenantID, args.DocID); err != nil {
		return deleteDocumentOutput{}, err
	}
	return deleteDocumentOutput{Deleted: true}, nil
}

func previewItems(b fusion.Bundle, n int) []contextItem {
	preview := b.Preview(n)
	items := make([]contextItem, 0, len(preview.Items))
	for _, it := range preview.Items {
		ci := contextItem{Kind: string(it.Kind), Text: it.Text, Source: it.Source, Page: it.Page}
		if it.Score != nil {
			ci.Score = float64(*it.Score)
		}
		items = append(items, ci)
	}
	return items
}

func toProvenance(b fusion.Bundle, tr orchestrator.Trace) provenance {
	p := provenance{
		Kinds:             make([]string, 0, len(b.Provenance.Kinds)),
		UsedWeb:           b.Provenance.UsedWeb,
		NoRelevantContent: b.Provenance.NoRelevantContent,
	}
	for _, k := range b.Provenance.Kinds {
		p.Kinds = append(p.Kinds, string(k))
	}
	for _, d := range tr.Degraded {
		p.Degraded = append(p.Degraded, string(d))
	}
	return p
}
