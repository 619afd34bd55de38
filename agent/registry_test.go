package agent

import (
	"context"
	"testing"
)

type stubAgent struct {
	name       string
	caps       []string
	confidence float64
}

func (s *stubAgent) Name() string                 { return s.name }
func (s *stubAgent) Capabilities() []string       { return s.caps }
func (s *stubAgent) CanHandle(query string) float64 { return s.confidence }
func (s *stubAgent) Execute(ctx context.Context, req Request) Result {
	return Result{AgentName: s.name, Success: true}
}

func TestRegistryRegister(t *testing.T) {
	t.Run("duplicate name rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(&stubAgent{name: "a"}); err != nil {
			t.Fatal(err)
		}
		if err := r.Register(&stubAgent{name: "a"}); err == nil {
			t.Fatal("expected error for duplicate registration")
		}
	})

	t.Run("nil agent rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(nil); err == nil {
			t.Fatal("expected error for nil agent")
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(&stubAgent{}); err == nil {
			t.Fatal("expected error for empty name")
		}
	})

	t.Run("names preserve registration order", func(t *testing.T) {
		r := NewRegistry()
		for _, name := range []string{"c", "a", "b"} {
			if err := r.Register(&stubAgent{name: name}); err != nil {
				t.Fatal(err)
			}
		}
		names := r.Names()
		if len(names) != 3 || names[0] != "c" || names[1] != "a" || names[2] != "b" {
			t.Fatalf("unexpected order: %v", names)
		}
		if r.Len() != 3 {
			t.Errorf("expected 3 agents, got %d", r.Len())
		}
	})
}

func TestRegistryFindBest(t *testing.T) {
	t.Run("picks highest confidence", func(t *testing.T) {
		r := NewRegistry()
		_ = r.Register(&stubAgent{name: "low", confidence: 0.4})
		_ = r.Register(&stubAgent{name: "high", confidence: 0.9})

		best, ok := r.FindBest("anything")
		if !ok {
			t.Fatal("expected a match")
		}
		if best.Name() != "high" {
			t.Errorf("expected high, got %s", best.Name())
		}
	})

	t.Run("below threshold is no match", func(t *testing.T) {
		r := NewRegistry()
		_ = r.Register(&stubAgent{name: "weak", confidence: 0.2})

		if _, ok := r.FindBest("anything"); ok {
			t.Fatal("expected no confident match")
		}
	})

	t.Run("score equal to threshold is no match", func(t *testing.T) {
		r := NewRegistry()
		_ = r.Register(&stubAgent{name: "edge", confidence: DefaultConfidenceThreshold})

		if _, ok := r.FindBest("anything"); ok {
			t.Fatal("expected threshold to be exclusive")
		}
	})

	t.Run("tie breaks by registration order", func(t *testing.T) {
		r := NewRegistry()
		_ = r.Register(&stubAgent{name: "first", confidence: 0.8})
		_ = r.Register(&stubAgent{name: "second", confidence: 0.8})

		for i := 0; i < 10; i++ {
			best, ok := r.FindBest("anything")
			if !ok {
				t.Fatal("expected a match")
			}
			if best.Name() != "first" {
				t.Fatalf("tie broke to %s, expected first", best.Name())
			}
		}
	})

	t.Run("custom threshold", func(t *testing.T) {
		r := NewRegistry()
		r.SetThreshold(0.1)
		_ = r.Register(&stubAgent{name: "weak", confidence: 0.2})

		if _, ok := r.FindBest("anything"); !ok {
			t.Fatal("expected match with lowered threshold")
		}
	})

	t.Run("empty registry", func(t *testing.T) {
		r := NewRegistry()
		if _, ok := r.FindBest("anything"); ok {
			t.Fatal("expected no match from empty registry")
		}
	})
}
