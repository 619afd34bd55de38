package workflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	b := New[counterState](Options{})
	b.WithMetrics(metrics)
	if err := b.AddNode("work", appendNode("work")); err != nil {
		t.Fatal(err)
	}
	if err := b.SetEntry("work"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEdge("work", End); err != nil {
		t.Fatal(err)
	}
	g, err := b.Compile()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := g.Run(context.Background(), "run-metrics", counterState{}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(metrics.inflightRuns); got != 0 {
		t.Errorf("inflight_runs after run = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(metrics.stepLatency); got == 0 {
		t.Error("expected step latency observations")
	}
	if got := testutil.ToFloat64(metrics.runsTotal.WithLabelValues("complete")); got != 1 {
		t.Errorf("runs_total{status=complete} = %v, want 1", got)
	}
}

func TestRecordRetry(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RecordRetry("data_analyst", "generate_sql")
	metrics.RecordRetry("data_analyst", "generate_sql")

	got := testutil.ToFloat64(metrics.retries.WithLabelValues("data_analyst", "generate_sql"))
	if got != 2 {
		t.Errorf("retries_total = %v, want 2", got)
	}

	t.Run("nil receiver is a no-op", func(t *testing.T) {
		var m *Metrics
		m.RecordRetry("a", "n")
	})
}
