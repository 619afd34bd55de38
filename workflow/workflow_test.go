package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type counterState struct {
	Visits []string
	N      int
}

func appendNode(id string) NodeFunc[counterState] {
	return func(ctx context.Context, s counterState) (counterState, error) {
		s.Visits = append(s.Visits, id)
		return s, nil
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var ge *GraphError
	if !errors.As(err, &ge) {
		t.Fatalf("expected *GraphError, got %v", err)
	}
	if ge.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, ge.Code, ge.Message)
	}
}

func TestBuilderValidation(t *testing.T) {
	t.Run("add node with empty id", func(t *testing.T) {
		b := New[counterState](Options{})
		err := b.AddNode("", appendNode(""))
		assertCode(t, err, CodeInvalidNode)
	})

	t.Run("duplicate node", func(t *testing.T) {
		b := New[counterState](Options{})
		if err := b.AddNode("a", appendNode("a")); err != nil {
			t.Fatal(err)
		}
		err := b.AddNode("a", appendNode("a"))
		assertCode(t, err, CodeDuplicateNode)
	})

	t.Run("compile without entry", func(t *testing.T) {
		b := New[counterState](Options{})
		if err := b.AddNode("a", appendNode("a")); err != nil {
			t.Fatal(err)
		}
		if err := b.AddEdge("a", End); err != nil {
			t.Fatal(err)
		}
		_, err := b.Compile()
		assertCode(t, err, CodeNoEntry)
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		b := New[counterState](Options{})
		if err := b.AddNode("a", appendNode("a")); err != nil {
			t.Fatal(err)
		}
		if err := b.SetEntry("a"); err != nil {
			t.Fatal(err)
		}
		if err := b.AddEdge("a", "ghost"); err != nil {
			t.Fatal(err)
		}
		_, err := b.Compile()
		assertCode(t, err, CodeNodeNotFound)
	})

	t.Run("duplicate edge", func(t *testing.T) {
		b := New[counterState](Options{})
		if err := b.AddNode("a", appendNode("a")); err != nil {
			t.Fatal(err)
		}
		if err := b.AddEdge("a", End); err != nil {
			t.Fatal(err)
		}
		err := b.AddEdge("a", End)
		assertCode(t, err, CodeDuplicateEdge)
	})
}

func TestRunLinear(t *testing.T) {
	b := New[counterState](Options{})
	for _, id := range []string{"first", "second", "third"} {
		if err := b.AddNode(id, appendNode(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.SetEntry("first"); err != nil {
		t.Fatal(err)
	}
	edges := [][2]string{{"first", "second"}, {"second", "third"}, {"third", End}}
	for _, e := range edges {
		if err := b.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}
	g, err := b.Compile()
	if err != nil {
		t.Fatal(err)
	}

	final, err := g.Run(context.Background(), "run-linear", counterState{})
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(final.Visits, ",")
	if got != "first,second,third" {
		t.Fatalf("unexpected visit order: %s", got)
	}
}

func TestRunConditionalRouting(t *testing.T) {
	build := func(t *testing.T, limit int) *Graph[counterState] {
		t.Helper()
		b := New[counterState](Options{})
		if err := b.AddNode("work", func(ctx context.Context, s counterState) (counterState, error) {
			s.N++
			return s, nil
		}); err != nil {
			t.Fatal(err)
		}
		if err := b.SetEntry("work"); err != nil {
			t.Fatal(err)
		}
		router := func(s counterState) string {
			if s.N < limit {
				return "again"
			}
			return "done"
		}
		if err := b.AddConditionalEdges("work", router, map[string]string{
			"again": "work",
			"done":  End,
		}); err != nil {
			t.Fatal(err)
		}
		g, err := b.Compile()
		if err != nil {
			t.Fatal(err)
		}
		return g
	}

	t.Run("loops until router exits", func(t *testing.T) {
		g := build(t, 3)
		final, err := g.Run(context.Background(), "run-cond", counterState{})
		if err != nil {
			t.Fatal(err)
		}
		if final.N != 3 {
			t.Fatalf("expected 3 iterations, got %d", final.N)
		}
	})

	t.Run("max steps bounds the loop", func(t *testing.T) {
		b := New[counterState](Options{MaxSteps: 5})
		if err := b.AddNode("spin", func(ctx context.Context, s counterState) (counterState, error) {
			return s, nil
		}); err != nil {
			t.Fatal(err)
		}
		if err := b.SetEntry("spin"); err != nil {
			t.Fatal(err)
		}
		if err := b.AddConditionalEdges("spin", func(counterState) string { return "again" },
			map[string]string{"again": "spin"}); err != nil {
			t.Fatal(err)
		}
		g, err := b.Compile()
		if err != nil {
			t.Fatal(err)
		}
		_, err = g.Run(context.Background(), "run-spin", counterState{})
		assertCode(t, err, CodeMaxSteps)
	})
}

func TestRunUnknownRouteKey(t *testing.T) {
	b := New[counterState](Options{})
	if err := b.AddNode("a", appendNode("a")); err != nil {
		t.Fatal(err)
	}
	if err := b.SetEntry("a"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddConditionalEdges("a", func(counterState) string { return "nowhere" },
		map[string]string{"done": End}); err != nil {
		t.Fatal(err)
	}
	g, err := b.Compile()
	if err != nil {
		t.Fatal(err)
	}
	_, err = g.Run(context.Background(), "run-badkey", counterState{})
	assertCode(t, err, CodeUnknownRouteKey)
}

func TestRunNodeError(t *testing.T) {
	nodeErr := errors.New("boom")

	b := New[counterState](Options{})
	if err := b.AddNode("fails", func(ctx context.Context, s counterState) (counterState, error) {
		return s, nodeErr
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.SetEntry("fails"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEdge("fails", End); err != nil {
		t.Fatal(err)
	}
	g, err := b.Compile()
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Run(context.Background(), "run-fail", counterState{})
	if !errors.Is(err, nodeErr) {
		t.Fatalf("expected node error, got %v", err)
	}
}

func TestRunContextCancellation(t *testing.T) {
	b := New[counterState](Options{})
	if err := b.AddNode("spin", func(ctx context.Context, s counterState) (counterState, error) {
		return s, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.SetEntry("spin"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddConditionalEdges("spin", func(counterState) string { return "again" },
		map[string]string{"again": "spin"}); err != nil {
		t.Fatal(err)
	}
	g, err := b.Compile()
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Run(ctx, "run-cancel", counterState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunNodeTimeout(t *testing.T) {
	b := New[counterState](Options{NodeTimeout: 10 * time.Millisecond})
	if err := b.AddNode("slow", func(ctx context.Context, s counterState) (counterState, error) {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-time.After(time.Second):
			return s, nil
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.SetEntry("slow"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEdge("slow", End); err != nil {
		t.Fatal(err)
	}
	g, err := b.Compile()
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Run(context.Background(), "run-timeout", counterState{})
	assertCode(t, err, CodeNodeTimeout)
}
