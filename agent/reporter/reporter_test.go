package reporter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/omnisupply/omnisupply-go/agent"
	"github.com/omnisupply/omnisupply-go/llm"
	"github.com/omnisupply/omnisupply-go/storage"
)

const reportJSON = `{
	"report_type": "",
	"title": "Weekly Business Review",
	"executive_summary": "Revenue held steady this week.",
	"key_highlights": ["Orders up 4%", "Two carriers behind SLA"],
	"recommended_actions": [
		{"action": "Escalate carrier review", "priority": "HIGH", "owner": "operations", "timeline": "This week", "rationale": "SLA breaches"}
	],
	"data_sources": [],
	"report_date": ""
}`

type emptyStore struct{}

func (emptyStore) RunQuery(ctx context.Context, statement string) ([]storage.Row, error) {
	return nil, nil
}

type cannedAgent struct {
	name string
	res  agent.Result
}

func (c *cannedAgent) Name() string                   { return c.name }
func (c *cannedAgent) Capabilities() []string         { return nil }
func (c *cannedAgent) CanHandle(query string) float64 { return 1.0 }
func (c *cannedAgent) Execute(ctx context.Context, req agent.Request) agent.Result {
	return c.res
}

type mapRegistry map[string]agent.Agent

func (m mapRegistry) Get(name string) (agent.Agent, bool) {
	a, ok := m[name]
	return a, ok
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
}

func TestDetermineReportType(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"weekly report please", TypeWeekly},
		{"monthly overview", TypeMonthly},
		{"executive summary for the CEO", TypeExecutive},
		{"prep for tomorrow's meeting", TypeMeetingPrep},
		{"how are we doing", TypeExecutive},
	}

	mock := &llm.Mock{Responses: []string{reportJSON}}
	a, err := New(mock, emptyStore{}, &Options{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := a.Execute(context.Background(), agent.Request{Query: tt.query})
			if res.Metrics["report_type"] != tt.want {
				t.Errorf("report_type = %v, want %v", res.Metrics["report_type"], tt.want)
			}
		})
	}
}

func TestExecuteAggregatesFromPeers(t *testing.T) {
	reg := mapRegistry{
		"data_analyst": &cannedAgent{name: "data_analyst", res: agent.Result{
			Success:  true,
			Insights: []string{"Orders grew", "AOV steady", "Returns flat", "fourth insight"},
			Metrics:  map[string]interface{}{"row_count": 10},
		}},
		"risk_agent": &cannedAgent{name: "risk_agent", res: agent.Result{
			Success: false, Error: "risk agent down",
		}},
	}

	mock := &llm.Mock{Responses: []string{reportJSON}}
	a, err := New(mock, emptyStore{}, &Options{Registry: reg, Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	res := a.Execute(context.Background(), agent.Request{Query: "weekly report"})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	// Failed peer is skipped, successful one counted.
	if res.Metrics["data_sources_count"] != 1 {
		t.Errorf("data_sources_count = %v, want 1", res.Metrics["data_sources_count"])
	}
	if res.Metrics["report_date"] != "2026-08-30" {
		t.Errorf("report_date = %v, want 2026-08-30", res.Metrics["report_date"])
	}

	raw, ok := res.RawData.(map[string]interface{})
	if !ok {
		t.Fatalf("expected markdown in raw data, got %T", res.RawData)
	}
	markdown, _ := raw["markdown_report"].(string)
	for _, want := range []string{"# Weekly Business Review", "## Executive Summary", "Escalate carrier review", "**Priority**: HIGH"} {
		if !strings.Contains(markdown, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestExecuteFallsBackToDatabase(t *testing.T) {
	store := &recordingStore{rows: map[string][]storage.Row{
		"FROM orders":    {{"total_orders": int64(42), "total_revenue": 9000.0, "total_profit": 1500.0, "avg_order_value": 214.0}},
		"FROM inventory": {{"total_items": int64(30), "critical_items": int64(4)}},
	}}

	mock := &llm.Mock{Responses: []string{reportJSON}}
	a, err := New(mock, store, &Options{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	res := a.Execute(context.Background(), agent.Request{Query: "executive summary"})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.Metrics["data_sources_count"] != 2 {
		t.Errorf("data_sources_count = %v, want 2", res.Metrics["data_sources_count"])
	}
	if len(store.queries) != 2 {
		t.Errorf("expected 2 fallback queries, got %d", len(store.queries))
	}
}

type recordingStore struct {
	rows    map[string][]storage.Row
	queries []string
}

func (s *recordingStore) RunQuery(ctx context.Context, statement string) ([]storage.Row, error) {
	s.queries = append(s.queries, statement)
	for match, rows := range s.rows {
		if strings.Contains(statement, match) {
			return rows, nil
		}
	}
	return nil, nil
}

func TestExecuteReportGenerationFailure(t *testing.T) {
	mock := &llm.Mock{Responses: []string{"not json at all"}}
	a, err := New(mock, emptyStore{}, &Options{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	res := a.Execute(context.Background(), agent.Request{Query: "weekly report"})
	if res.Success {
		t.Fatal("expected failure when report generation fails")
	}

	raw, ok := res.RawData.(map[string]interface{})
	if !ok {
		t.Fatalf("expected error markdown, got %T", res.RawData)
	}
	if markdown, _ := raw["markdown_report"].(string); !strings.Contains(markdown, "No report generated") {
		t.Errorf("expected placeholder markdown, got %q", markdown)
	}
}

func TestCanHandle(t *testing.T) {
	a, err := New(&llm.Mock{}, emptyStore{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := a.CanHandle("weekly executive report with a status overview"); got < 0.4 {
		t.Errorf("expected confident score, got %v", got)
	}
	if got := a.CanHandle("hello"); got != 0.0 {
		t.Errorf("expected 0.0 for unrelated query, got %v", got)
	}
}
