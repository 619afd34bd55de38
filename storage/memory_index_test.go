package storage

import (
	"context"
	"testing"
)

func TestMemoryIndexSearch(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add("q1", "monthly revenue by product category")
	idx.Add("q2", "late shipments by carrier")
	idx.Add("q3", "revenue and profit by region")

	ctx := context.Background()

	t.Run("ranks by overlap", func(t *testing.T) {
		matches, err := idx.Search(ctx, "revenue by category", 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) == 0 {
			t.Fatal("expected matches")
		}
		if matches[0].ID != "q1" {
			t.Errorf("expected q1 first, got %s", matches[0].ID)
		}
		for i := 1; i < len(matches); i++ {
			if matches[i].Score > matches[i-1].Score {
				t.Error("matches not sorted by score descending")
			}
		}
	})

	t.Run("respects k", func(t *testing.T) {
		matches, err := idx.Search(ctx, "revenue by carrier region", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected 1 match, got %d", len(matches))
		}
	})

	t.Run("no overlap yields nothing", func(t *testing.T) {
		matches, err := idx.Search(ctx, "zebra", 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 0 {
			t.Fatalf("expected no matches, got %d", len(matches))
		}
	})

	t.Run("replacing a document", func(t *testing.T) {
		idx.Add("q2", "inventory stockouts by warehouse")
		matches, err := idx.Search(ctx, "carrier", 5)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range matches {
			if m.ID == "q2" {
				t.Error("q2 should no longer match carrier after replacement")
			}
		}
	})
}

func TestMemoryIndexEmptyQuery(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add("q1", "anything")

	matches, err := idx.Search(context.Background(), "   ", 5)
	if err != nil {
		t.Fatal(err)
	}
	if matches != nil {
		t.Fatalf("expected nil for empty query, got %v", matches)
	}
}
