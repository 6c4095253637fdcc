package ingest

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Default splitter settings, in characters.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200
)

// Chunker splits document pages into overlapping chunks.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker returns a recursive character splitter. Non-positive values
// select the defaults.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidRequest, overlap, size)
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

// Split chunks each page independently. Pages are numbered from 1.
// ChunkIndex runs across the whole document so (doc_id, chunk_index) is
// unique. Blank pages produce no chunks.
func (c *Chunker) Split(pages []string) ([]vectorstore.Chunk, error) {
	var chunks []vectorstore.Chunk
	next := 0
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		parts, err := c.splitter.SplitText(page)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", i+1, err)
		}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			chunks = append(chunks, vectorstore.Chunk{
				Page:       i + 1,
				ChunkIndex: next,
				Text:       part,
			})
			next++
		}
	}
	return chunks, nil
}
