package fusion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/memory"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/websearch"
)

func texts(b Bundle) []string {
	out := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		out = append(out, it.Text)
	}
	return out
}

func TestFuse_PriorityOrder(t *testing.T) {
	b := Fuse(Input{
		History:  []memory.Message{{Role: memory.RoleUser, Content: "h1"}},
		Memories: []string{"m1"},
		Documents: []vectorstore.RetrievalResult{
			{DocID: "a", ChunkIndex: 1, Text: "d2", Score: 0.6},
			{DocID: "a", ChunkIndex: 0, Text: "d1", Score: 0.8},
		},
	})

	assert.Equal(t, []string{"h1", "m1", "d1", "d2"}, texts(b))
	assert.Equal(t, []Kind{KindHistory, KindMemory, KindDocument}, b.Provenance.Kinds)
	assert.False(t, b.Provenance.UsedWeb)
	assert.False(t, b.Provenance.NoRelevantContent)

	require.NotNil(t, b.Items[2].Score)
	assert.Equal(t, float32(0.8), *b.Items[2].Score)
	assert.Nil(t, b.Items[0].Score)
	assert.Nil(t, b.Items[1].Score)
}

func TestFuse_WebItemsScoreOneAndComeLast(t *testing.T) {
	b := Fuse(Input{
		Documents: []vectorstore.RetrievalResult{{DocID: "a", Text: "doc", Score: 0.2}},
		Web: []websearch.Snippet{
			{Content: "w1", URL: "https://a", Score: 0.1},
			{Content: "w2", URL: "https://b", Score: 0.9},
		},
		UsedWeb: true,
	})

	assert.Equal(t, []string{"doc", "w1", "w2"}, texts(b))
	for _, it := range b.ByKind(KindWeb) {
		require.NotNil(t, it.Score)
		assert.Equal(t, WebScore, *it.Score)
	}
	assert.Equal(t, "https://a", b.Items[1].Source)
	assert.True(t, b.Provenance.UsedWeb)
	assert.Equal(t, []Kind{KindDocument, KindWeb}, b.Provenance.Kinds)
}

func TestFuse_StableDocumentOrderOnTies(t *testing.T) {
	b := Fuse(Input{Documents: []vectorstore.RetrievalResult{
		{DocID: "a", ChunkIndex: 0, Text: "first", Score: 0.5},
		{DocID: "b", ChunkIndex: 0, Text: "second", Score: 0.5},
		{DocID: "c", ChunkIndex: 0, Text: "top", Score: 0.7},
	}})
	assert.Equal(t, []string{"top", "first", "second"}, texts(b))
}

func TestFuse_NoCrossKindDedup(t *testing.T) {
	b := Fuse(Input{
		Memories:  []string{"Paris is the capital of France."},
		Documents: []vectorstore.RetrievalResult{{DocID: "a", Text: "Paris is the capital of France.", Score: 0.9}},
	})
	assert.Len(t, b.Items, 2)
}

func TestFuse_Empty(t *testing.T) {
	b := Fuse(Input{})
	assert.NotNil(t, b.Items)
	assert.Empty(t, b.Items)
	assert.Empty(t, b.Provenance.Kinds)
	assert.True(t, b.Provenance.NoRelevantContent)

	// History alone is not relevant content.
	b = Fuse(Input{History: []memory.Message{{Role: memory.RoleUser, Content: "hi"}}, Memories: []string{""}})
	assert.Len(t, b.Items, 1)
	assert.True(t, b.Provenance.NoRelevantContent)

	assert.Equal(t, Fuse(Input{}), Empty())
}

func TestBundle_Preview(t *testing.T) {
	in := Input{UsedWeb: true}
	for i := range 5 {
		in.Documents = append(in.Documents, vectorstore.RetrievalResult{DocID: "a", ChunkIndex: i, Text: "d", Score: float32(10-i) / 10})
		in.Web = append(in.Web, websearch.Snippet{Content: "w"})
	}
	in.Memories = []string{"m1"}
	b := Fuse(in)

	p := b.Preview(0)
	assert.Equal(t, DefaultPreviewCap, p.Count(KindDocument))
	assert.Equal(t, DefaultPreviewCap, p.Count(KindWeb))
	assert.Equal(t, 1, p.Count(KindMemory))
	assert.Equal(t, b.Provenance, p.Provenance)

	// The full bundle is left untouched.
	assert.Equal(t, 5, b.Count(KindDocument))
	assert.Equal(t, float32(1.0), *p.ByKind(KindDocument)[0].Score)

	assert.Equal(t, 1, b.Preview(1).Count(KindWeb))
}

func TestBundle_Render(t *testing.T) {
	b := Fuse(Input{
		History:   []memory.Message{{Role: memory.RoleUser, Content: "hello"}, {Role: memory.RoleAssistant, Content: "hi there"}},
		Documents: []vectorstore.RetrievalResult{{DocID: "a", Filename: "paris.pdf", Page: 2, Text: "Paris is the capital.", Score: 0.9}},
		Web:       []websearch.Snippet{{Content: "From the web.", URL: "https://example.com"}},
	})

	out := b.Render()
	rule := strings.Repeat("=", 80)
	assert.Equal(t, 2, strings.Count(out, rule))
	assert.NotContains(t, out, "LONG-TERM MEMORIES")

	hist := strings.Index(out, "RECENT CHAT HISTORY:")
	docs := strings.Index(out, "DOCUMENTS:")
	web := strings.Index(out, "WEB RESULTS:")
	assert.True(t, hist >= 0 && hist < docs && docs < web)

	assert.Contains(t, out, "user: hello\nassistant: hi there")
	assert.Contains(t, out, "[paris.pdf, page 2] Paris is the capital.")
	assert.Contains(t, out, "(source: https://example.com)")

	assert.Empty(t, Empty().Render())
}

func TestBundle_RenderSections(t *testing.T) {
	b := Fuse(Input{
		History:   []memory.Message{{Role: memory.RoleUser, Content: "earlier"}},
		Memories:  []string{"User name is Ada", "Likes tea"},
		Documents: []vectorstore.RetrievalResult{{DocID: "a", Filename: "f.pdf", Page: 1, Text: "doc", Score: 0.9}},
		Web:       []websearch.Snippet{{Content: "web"}},
	})

	s := b.RenderSections()
	assert.Equal(t, "user: earlier", s.History)
	assert.Equal(t, "- User name is Ada\n- Likes tea", s.Memory)
	assert.Equal(t, "[f.pdf, page 1] doc\n\nweb", s.Context)

	empty := Empty().RenderSections()
	assert.Equal(t, Sections{}, empty)
}

func TestNeedsMemory(t *testing.T) {
	tests := []struct {
		question string
		want     bool
	}{
		{"What is the capital of France?", false},
		{"What is my name?", true},
		{"Do you remember what I said about Lyon?", true},
		{"I'm looking for my notes", true},
		{"What did we discuss?", true},
		{"Remind me of the deadline", true},
		{"As I told you yesterday", true},
		{"You were told yesterday", false},
		{"Summarize the quarterly report", false},
		{"WHAT IS MY NAME", true},
		{"What’s mine?", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsMemory(tt.question))
		})
	}
}
