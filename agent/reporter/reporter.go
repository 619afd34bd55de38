// Package reporter implements the executive reporting agent. It
// aggregates findings from peer agents (falling back to direct database
// queries), generates a structured report, and renders it as markdown.
package reporter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/omnisupply/omnisupply-go/agent"
	"github.com/omnisupply/omnisupply-go/llm"
	"github.com/omnisupply/omnisupply-go/storage"
	"github.com/omnisupply/omnisupply-go/workflow"
	"github.com/omnisupply/omnisupply-go/workflow/emit"
)

// Name is the registry key for this agent.
const Name = "meeting_agent"

// Report types by audience and cadence.
const (
	TypeWeekly      = "weekly"
	TypeMonthly     = "monthly"
	TypeExecutive   = "executive"
	TypeMeetingPrep = "meeting_prep"
)

// peerAgents are consulted during data aggregation when registered.
var peerAgents = []struct {
	name  string
	query string
}{
	{"data_analyst", "Provide key business metrics summary"},
	{"risk_agent", "What are current supply chain risks?"},
	{"finance_agent", "Provide financial summary"},
}

type dataSource struct {
	Source     string
	Summary    string
	KeyMetrics map[string]interface{}
	Insights   []string
}

type action struct {
	Action    string `json:"action"`
	Priority  string `json:"priority"`
	Owner     string `json:"owner"`
	Timeline  string `json:"timeline"`
	Rationale string `json:"rationale"`
}

type report struct {
	ReportType         string   `json:"report_type"`
	Title              string   `json:"title"`
	ExecutiveSummary   string   `json:"executive_summary"`
	KeyHighlights      []string `json:"key_highlights"`
	RecommendedActions []action `json:"recommended_actions"`
	DataSources        []string `json:"data_sources"`
	ReportDate         string   `json:"report_date"`
}

type state struct {
	Query      string
	ReportType string
	Sources    []dataSource
	Report     *report
	Markdown   string
	Err        string
}

// Registry is the subset of agent lookup the reporter needs from its
// peers.
type Registry interface {
	Get(name string) (agent.Agent, bool)
}

// Options configures the reporter agent.
type Options struct {
	// Registry provides peer agents for data aggregation. When nil
	// the reporter queries the database directly.
	Registry Registry

	// Now overrides the report date. Zero value means time.Now.
	Now func() time.Time

	Emitter emit.Emitter
	Metrics *workflow.Metrics
}

// Agent builds executive reports and summaries from cross-agent data.
type Agent struct {
	model    llm.Model
	store    storage.QueryStore
	registry Registry
	now      func() time.Time
	graph    *workflow.Graph[state]
}

// New builds and compiles the reporting workflow:
//
//	determine_type -> aggregate_data -> generate_report -> format_markdown -> End
func New(model llm.Model, store storage.QueryStore, opts *Options) (*Agent, error) {
	if opts == nil {
		opts = &Options{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	a := &Agent{model: model, store: store, registry: opts.Registry, now: now}

	b := workflow.New[state](workflow.Options{})
	b.WithEmitter(opts.Emitter)
	b.WithMetrics(opts.Metrics)

	steps := []struct {
		id string
		fn workflow.NodeFunc[state]
	}{
		{"determine_type", a.determineTypeNode},
		{"aggregate_data", a.aggregateDataNode},
		{"generate_report", a.generateReportNode},
		{"format_markdown", a.formatMarkdownNode},
	}
	for _, s := range steps {
		if err := b.AddNode(s.id, s.fn); err != nil {
			return nil, err
		}
	}
	if err := b.SetEntry("determine_type"); err != nil {
		return nil, err
	}
	edges := [][2]string{
		{"determine_type", "aggregate_data"},
		{"aggregate_data", "generate_report"},
		{"generate_report", "format_markdown"},
		{"format_markdown", workflow.End},
	}
	for _, e := range edges {
		if err := b.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	graph, err := b.Compile()
	if err != nil {
		return nil, err
	}
	a.graph = graph
	return a, nil
}

// Name implements agent.Agent.
func (a *Agent) Name() string { return Name }

// Capabilities implements agent.Agent.
func (a *Agent) Capabilities() []string {
	return []string{
		"Weekly/monthly business reports",
		"Executive summaries for CxO",
		"Meeting preparation documents",
		"Cross-functional data aggregation",
		"Action item recommendations",
		"KPI dashboard creation",
	}
}

// CanHandle uses weighted keywords tuned for reporting queries.
func (a *Agent) CanHandle(query string) float64 {
	queryLower := strings.ToLower(query)

	score := 0.0
	for _, kw := range []string{"report", "summary", "meeting", "executive", "weekly", "monthly", "dashboard"} {
		if strings.Contains(queryLower, kw) {
			score += 0.15
		}
	}
	for _, kw := range []string{"overview", "status", "update", "briefing", "presentation"} {
		if strings.Contains(queryLower, kw) {
			score += 0.08
		}
	}

	if score > 1.0 {
		return 1.0
	}
	return score
}

// Execute implements agent.Agent.
func (a *Agent) Execute(ctx context.Context, req agent.Request) agent.Result {
	initial := state{Query: req.Query}
	return agent.Run(ctx, Name, a.graph, req, initial, a.formatResult)
}

func (a *Agent) determineTypeNode(ctx context.Context, s state) (state, error) {
	queryLower := strings.ToLower(s.Query)

	switch {
	case strings.Contains(queryLower, "weekly"):
		s.ReportType = TypeWeekly
	case strings.Contains(queryLower, "monthly"):
		s.ReportType = TypeMonthly
	case strings.Contains(queryLower, "executive"),
		strings.Contains(queryLower, "cxo"),
		strings.Contains(queryLower, "ceo"):
		s.ReportType = TypeExecutive
	case strings.Contains(queryLower, "meeting"):
		s.ReportType = TypeMeetingPrep
	default:
		s.ReportType = TypeExecutive
	}
	return s, nil
}

func (a *Agent) aggregateDataNode(ctx context.Context, s state) (state, error) {
	if a.registry != nil {
		for _, peer := range peerAgents {
			worker, ok := a.registry.Get(peer.name)
			if !ok {
				continue
			}
			res := worker.Execute(ctx, agent.Request{Query: peer.query})
			if !res.Success {
				continue
			}
			summary := "No data"
			if len(res.Insights) > 0 {
				summary = res.Insights[0]
			}
			insights := res.Insights
			if len(insights) > 3 {
				insights = insights[:3]
			}
			s.Sources = append(s.Sources, dataSource{
				Source:     peer.name,
				Summary:    summary,
				KeyMetrics: res.Metrics,
				Insights:   insights,
			})
		}
	}

	if len(s.Sources) == 0 {
		s.Sources = a.sourcesFromDatabase(ctx)
	}
	return s, nil
}

// sourcesFromDatabase is the fallback when no peer agents are
// available.
func (a *Agent) sourcesFromDatabase(ctx context.Context) []dataSource {
	var sources []dataSource

	since := a.now().AddDate(0, 0, -30).Format("2006-01-02")
	metricsQuery := fmt.Sprintf(`SELECT
		COUNT(*) AS total_orders,
		SUM(sale_price * quantity) AS total_revenue,
		SUM(profit * quantity) AS total_profit,
		AVG(sale_price * quantity) AS avg_order_value
	FROM orders
	WHERE order_date >= '%s'`, since)

	if rows, err := a.store.RunQuery(ctx, metricsQuery); err == nil && len(rows) > 0 {
		orders := asFloat(rows[0]["total_orders"])
		revenue := asFloat(rows[0]["total_revenue"])
		profit := asFloat(rows[0]["total_profit"])
		sources = append(sources, dataSource{
			Source:  "business_metrics",
			Summary: fmt.Sprintf("Last 30 days: %.0f orders, $%.2f revenue", orders, revenue),
			KeyMetrics: map[string]interface{}{
				"total_orders":    orders,
				"total_revenue":   revenue,
				"total_profit":    profit,
				"avg_order_value": asFloat(rows[0]["avg_order_value"]),
			},
			Insights: []string{
				fmt.Sprintf("Total orders: %.0f", orders),
				fmt.Sprintf("Revenue: $%.2f", revenue),
				fmt.Sprintf("Profit: $%.2f", profit),
			},
		})
	}

	const inventoryQuery = `SELECT
		COUNT(*) AS total_items,
		SUM(CASE WHEN stock_quantity <= reorder_level THEN 1 ELSE 0 END) AS critical_items
	FROM inventory`

	if rows, err := a.store.RunQuery(ctx, inventoryQuery); err == nil && len(rows) > 0 {
		critical := asFloat(rows[0]["critical_items"])
		sources = append(sources, dataSource{
			Source:  "inventory_status",
			Summary: fmt.Sprintf("%.0f items need reordering", critical),
			KeyMetrics: map[string]interface{}{
				"total_items":    asFloat(rows[0]["total_items"]),
				"critical_items": critical,
			},
			Insights: []string{fmt.Sprintf("%.0f items below reorder level", critical)},
		})
	}

	return sources
}

func (a *Agent) generateReportNode(ctx context.Context, s state) (state, error) {
	var summary strings.Builder
	for _, src := range s.Sources {
		fmt.Fprintf(&summary, "**%s**:\n%s\nKey metrics: %v\nInsights: %s\n\n",
			src.Source, src.Summary, src.KeyMetrics, strings.Join(src.Insights, ", "))
	}

	prompt := fmt.Sprintf(`Generate a %s business report based on this data.

User request: %s

Data sources:
%s
Create a report with an executive summary (2-3 paragraphs for CxO
level), 5-7 key highlights, and the top 3-5 recommended actions each
with a priority (HIGH, MEDIUM, LOW), an owner, a timeline, and a
rationale. Make it actionable and focused on business outcomes.`,
		s.ReportType, s.Query, summary.String())

	rep, err := llm.GenerateJSON[report](ctx, a.model, prompt)
	if err != nil {
		s.Err = fmt.Sprintf("report generation failed: %v", err)
		return s, nil
	}

	rep.ReportType = s.ReportType
	rep.ReportDate = a.now().UTC().Format("2006-01-02")
	rep.DataSources = rep.DataSources[:0]
	for _, src := range s.Sources {
		rep.DataSources = append(rep.DataSources, src.Source)
	}

	s.Report = &rep
	return s, nil
}

func (a *Agent) formatMarkdownNode(ctx context.Context, s state) (state, error) {
	if s.Report == nil {
		s.Markdown = "# Error\n\nNo report generated."
		return s, nil
	}
	rep := s.Report

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rep.Title)
	fmt.Fprintf(&b, "**Report Type**: %s\n", rep.ReportType)
	fmt.Fprintf(&b, "**Date**: %s\n", rep.ReportDate)
	fmt.Fprintf(&b, "**Data Sources**: %s\n\n", strings.Join(rep.DataSources, ", "))
	b.WriteString("---\n\n## Executive Summary\n\n")
	b.WriteString(rep.ExecutiveSummary)
	b.WriteString("\n\n---\n\n## Key Highlights\n\n")
	for _, h := range rep.KeyHighlights {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	b.WriteString("\n---\n\n## Recommended Actions\n\n")
	for i, act := range rep.RecommendedActions {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, act.Action)
		fmt.Fprintf(&b, "- **Priority**: %s\n", act.Priority)
		fmt.Fprintf(&b, "- **Owner**: %s\n", act.Owner)
		fmt.Fprintf(&b, "- **Timeline**: %s\n", act.Timeline)
		fmt.Fprintf(&b, "- **Rationale**: %s\n\n", act.Rationale)
	}

	s.Markdown = b.String()
	return s, nil
}

func (a *Agent) formatResult(s state) agent.Result {
	var insights []string
	var recommendations []string

	if s.Report != nil {
		insights = append(insights, s.Report.Title, s.Report.ExecutiveSummary)
		insights = append(insights, s.Report.KeyHighlights...)
		for _, act := range s.Report.RecommendedActions {
			recommendations = append(recommendations, fmt.Sprintf(
				"[%s] %s (Owner: %s, Timeline: %s)",
				act.Priority, act.Action, act.Owner, act.Timeline))
		}
	}

	metrics := map[string]interface{}{
		"report_type": s.ReportType,
	}
	if s.Report != nil {
		metrics["data_sources_count"] = len(s.Report.DataSources)
		metrics["actions_count"] = len(s.Report.RecommendedActions)
		metrics["report_date"] = s.Report.ReportDate
	}

	var raw interface{}
	if s.Markdown != "" {
		raw = map[string]interface{}{"markdown_report": s.Markdown}
	}

	return agent.Result{
		Success:         s.Err == "",
		Error:           s.Err,
		Insights:        insights,
		Recommendations: recommendations,
		Metrics:         metrics,
		RawData:         raw,
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f
		}
	}
	return 0.0
}
