package vectorstore

import (
	"cmp"
	"slices"
)

// Payload field names stored with every point.
const (
	FieldTenantID   = "tenant_id"
	FieldDocID      = "doc_id"
	FieldFilename   = "filename"
	FieldPage       = "page"
	FieldChunkIndex = "chunk_index"
	FieldText       = "text"
	FieldRevision   = "revision"
)

// Chunk is one unit of indexed text. TenantID, DocID and Filename are
// filled in by Upsert from its arguments.
type Chunk struct {
	TenantID   string
	DocID      string
	Filename   string
	Page       int
	ChunkIndex int
	Text       string
	Vector     []float32
	// Revision tags every chunk written by one upload of a document so a
	// later PruneDocument can tell the new version from the old one.
	Revision string
}

// RetrievalResult is one search hit. Higher Score means more relevant.
type RetrievalResult struct {
	DocID      string  `json:"doc_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// DocumentRef identifies one uploaded document of a tenant.
type DocumentRef struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
}

type chunkKey struct {
	docID      string
	chunkIndex int
}

// dedupResults drops repeated (doc_id, chunk_index) pairs, keeping the
// first occurrence, and truncates to limit. results must already be sorted
// by descending score.
func dedupResults(results []RetrievalResult, limit int) []RetrievalResult {
	seen := make(map[chunkKey]struct{}, len(results))
	out := make([]RetrievalResult, 0, min(len(results), limit))
	for _, r := range results {
		k := chunkKey{r.DocID, r.ChunkIndex}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}

// documentSet collects distinct documents in first-seen order.
type documentSet struct {
	seen map[string]struct{}
	refs []DocumentRef
}

func newDocumentSet() *documentSet {
	return &documentSet{seen: make(map[string]struct{})}
}

func (s *documentSet) add(docID, filename string) {
	if docID == "" {
		return
	}
	if _, ok := s.seen[docID]; ok {
		return
	}
	s.seen[docID] = struct{}{}
	s.refs = append(s.refs, DocumentRef{DocID: docID, Filename: filename})
}

// sorted returns the collected documents ordered by doc_id.
func (s *documentSet) sorted() []DocumentRef {
	out := slices.Clone(s.refs)
	if out == nil {
		out = []DocumentRef{}
	}
	slices.SortFunc(out, func(a, b DocumentRef) int { return cmp.Compare(a.DocID, b.DocID) })
	return out
}

// sortByDocument orders results by (doc_id, chunk_index).
func sortByDocument(results []RetrievalResult) {
	slices.SortFunc(results, func(a, b RetrievalResult) int {
		if c := cmp.Compare(a.DocID, b.DocID); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})
}
