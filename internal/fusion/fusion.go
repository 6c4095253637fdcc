// Package fusion merges history, memories, document chunks and web snippets
// into the single ordered context a generator sees.
//
// Items are ordered by source priority: recent chat history, long-term
// memory, documents by descending score, then web results. Kinds are never
// deduplicated against each other.
package fusion

import (
	"cmp"
	"slices"

	"github.com/fyrsmithlabs/ragd/internal/memory"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/websearch"
)

// Kind identifies where a context item came from.
type Kind string

const (
	KindHistory  Kind = "history"
	KindMemory   Kind = "memory"
	KindDocument Kind = "document"
	KindWeb      Kind = "web"
)

// priority lists kinds in bundle order.
var priority = []Kind{KindHistory, KindMemory, KindDocument, KindWeb}

// WebScore is the fixed score given to every web snippet. Web results are
// not re-ranked against document scores.
const WebScore float32 = 1.0

// DefaultPreviewCap is the per-kind item cap used by Preview.
const DefaultPreviewCap = 3

// ContextItem is one unit of context.
type ContextItem struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
	// Score is set for document and web items only.
	Score *float32 `json:"score,omitempty"`

	// Role is the speaker of a history item.
	Role memory.Role `json:"role,omitempty"`
	// Source is the filename of a document item or the URL of a web item.
	Source     string `json:"source,omitempty"`
	DocID      string `json:"doc_id,omitempty"`
	Page       int    `json:"page,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
}

// Provenance describes how a bundle was assembled.
type Provenance struct {
	// Kinds lists the contributing kinds in bundle order.
	Kinds []Kind `json:"kinds"`
	// UsedWeb reports whether the web fallback fired.
	UsedWeb bool `json:"used_web"`
	// NoRelevantContent is set when neither documents nor the web
	// contributed anything.
	NoRelevantContent bool `json:"no_relevant_content"`
}

// Bundle is the ordered context plus its provenance.
type Bundle struct {
	Items      []ContextItem `json:"items"`
	Provenance Provenance    `json:"provenance"`
}

// Input collects the sources for one query.
type Input struct {
	History   []memory.Message
	Memories  []string
	Documents []vectorstore.RetrievalResult
	Web       []websearch.Snippet
	// UsedWeb records the threshold decision, even when the web returned
	// nothing.
	UsedWeb bool
}

// Fuse builds the bundle for in. Empty texts are dropped.
func Fuse(in Input) Bundle {
	items := make([]ContextItem, 0, len(in.History)+len(in.Memories)+len(in.Documents)+len(in.Web))

	for _, m := range in.History {
		if m.Content == "" {
			continue
		}
		items = append(items, ContextItem{Kind: KindHistory, Role: m.Role, Text: m.Content})
	}

	for _, m := range in.Memories {
		if m == "" {
			continue
		}
		items = append(items, ContextItem{Kind: KindMemory, Text: m})
	}

	docs := slices.Clone(in.Documents)
	slices.SortStableFunc(docs, func(a, b vectorstore.RetrievalResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	for _, d := range docs {
		if d.Text == "" {
			continue
		}
		score := d.Score
		items = append(items, ContextItem{
			Kind:       KindDocument,
			Text:       d.Text,
			Score:      &score,
			Source:     d.Filename,
			DocID:      d.DocID,
			Page:       d.Page,
			ChunkIndex: d.ChunkIndex,
		})
	}

	// Every web item scores WebScore, so provider order is kept.
	for _, w := range in.Web {
		if w.Content == "" {
			continue
		}
		score := WebScore
		items = append(items, ContextItem{Kind: KindWeb, Text: w.Content, Score: &score, Source: w.URL})
	}

	return newBundle(items, in.UsedWeb)
}

func newBundle(items []ContextItem, usedWeb bool) Bundle {
	if items == nil {
		items = []ContextItem{}
	}
	b := Bundle{Items: items, Provenance: Provenance{UsedWeb: usedWeb, Kinds: []Kind{}}}
	for _, k := range priority {
		if b.Count(k) > 0 {
			b.Provenance.Kinds = append(b.Provenance.Kinds, k)
		}
	}
	b.Provenance.NoRelevantContent = b.Count(KindDocument) == 0 && b.Count(KindWeb) == 0
	return b
}

// Empty returns a bundle with no items flagged as having no relevant content.
func Empty() Bundle {
	return newBundle(nil, false)
}

// Count returns the number of items of kind k.
func (b Bundle) Count(k Kind) int {
	n := 0
	for _, it := range b.Items {
		if it.Kind == k {
			n++
		}
	}
	return n
}

// ByKind returns the items of kind k in bundle order.
func (b Bundle) ByKind(k Kind) []ContextItem {
	var out []ContextItem
	for _, it := range b.Items {
		if it.Kind == k {
			out = append(out, it)
		}
	}
	return out
}

// Preview caps every kind at n items for display. n <= 0 means
// DefaultPreviewCap. Provenance is copied unchanged.
func (b Bundle) Preview(n int) Bundle {
	if n <= 0 {
		n = DefaultPreviewCap
	}
	seen := make(map[Kind]int, len(priority))
	items := make([]ContextItem, 0, min(len(b.Items), n*len(priority)))
	for _, it := range b.Items {
		if seen[it.Kind] >= n {
			continue
		}
		seen[it.Kind]++
		items = append(items, it)
	}
	p := b.Provenance
	p.Kinds = slices.Clone(p.Kinds)
	return Bundle{Items: items, Provenance: p}
}
