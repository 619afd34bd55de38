package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is an in-memory SemanticIndex backed by token overlap.
// It stands in for a real vector store in development and tests; scoring
// is the fraction of query tokens present in the document.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]map[string]struct{} // id -> token set
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]map[string]struct{})}
}

// Add indexes a document under the given ID, replacing any prior content.
func (m *MemoryIndex) Add(id, text string) {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tokens[tok] = struct{}{}
	}
	m.mu.Lock()
	m.docs[id] = tokens
	m.mu.Unlock()
}

// Search implements SemanticIndex.
func (m *MemoryIndex) Search(ctx context.Context, text string, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := strings.Fields(strings.ToLower(text))
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.docs))
	for id, tokens := range m.docs {
		hits := 0
		for _, tok := range query {
			if _, ok := tokens[tok]; ok {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, Match{ID: id, Score: float64(hits) / float64(len(query))})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
