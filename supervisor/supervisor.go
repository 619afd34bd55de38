// Package supervisor orchestrates the registered agents: it plans a
// query, selects workers, executes them in parallel or sequentially,
// and aggregates their results into an executive report.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnisupply/omnisupply-go/agent"
	"github.com/omnisupply/omnisupply-go/llm"
	"github.com/omnisupply/omnisupply-go/workflow"
	"github.com/omnisupply/omnisupply-go/workflow/emit"
)

// Execution orders for selected agents.
const (
	OrderParallel   = "parallel"
	OrderSequential = "sequential"
)

// Plan is the step-by-step task breakdown produced before routing.
type Plan struct {
	Steps          []string `json:"steps"`
	AgentsNeeded   []string `json:"agents_needed"`
	ExpectedOutput string   `json:"expected_output"`
}

// Selection names the agents to invoke and how to run them.
type Selection struct {
	Agents         []string `json:"agents"`
	ExecutionOrder string   `json:"execution_order"`
	Reasoning      string   `json:"reasoning"`
}

// KPI is one named metric for the executive summary.
type KPI struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type executiveSummary struct {
	Summary         string   `json:"summary"`
	KeyInsights     []string `json:"key_insights"`
	Recommendations []string `json:"recommendations"`
	KPIs            []KPI    `json:"kpis"`
}

// Report is the aggregated outcome of a supervised run.
type Report struct {
	SessionID       string
	Query           string
	GeneratedAt     time.Time
	SelectedAgents  []string
	ExecutionOrder  string
	Plan            *Plan
	Summary         string
	KeyInsights     []string
	Recommendations []string
	KPIs            []KPI
	AgentResults    map[string]agent.Result
	Markdown        string
}

type state struct {
	SessionID string
	Query     string
	Context   map[string]interface{}

	Plan           *Plan
	Selected       []string
	ExecutionOrder string
	Results        map[string]agent.Result

	Summary *executiveSummary
	Report  *Report
	Err     string
}

// Options configures the supervisor.
type Options struct {
	// Now overrides report timestamps. Zero value means time.Now.
	Now func() time.Time

	Emitter emit.Emitter
	Metrics *workflow.Metrics
}

// Supervisor plans, routes, and aggregates agent work.
type Supervisor struct {
	model    llm.Model
	registry *agent.Registry
	now      func() time.Time
	graph    *workflow.Graph[state]
}

// New builds and compiles the supervision pipeline:
//
//	parse_query -> plan_task -> select_agents -> execute_agents ->
//	aggregate_report -> End
func New(model llm.Model, registry *agent.Registry, opts *Options) (*Supervisor, error) {
	if opts == nil {
		opts = &Options{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	sup := &Supervisor{model: model, registry: registry, now: now}

	b := workflow.New[state](workflow.Options{})
	b.WithEmitter(opts.Emitter)
	b.WithMetrics(opts.Metrics)

	steps := []struct {
		id string
		fn workflow.NodeFunc[state]
	}{
		{"parse_query", sup.parseQueryNode},
		{"plan_task", sup.planTaskNode},
		{"select_agents", sup.selectAgentsNode},
		{"execute_agents", sup.executeAgentsNode},
		{"aggregate_report", sup.aggregateReportNode},
	}
	for _, s := range steps {
		if err := b.AddNode(s.id, s.fn); err != nil {
			return nil, err
		}
	}
	if err := b.SetEntry("parse_query"); err != nil {
		return nil, err
	}
	edges := [][2]string{
		{"parse_query", "plan_task"},
		{"plan_task", "select_agents"},
		{"select_agents", "execute_agents"},
		{"execute_agents", "aggregate_report"},
		{"aggregate_report", workflow.End},
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
	sup.graph = graph
	return sup, nil
}

// Execute runs the full pipeline. Planning, selection, and individual
// agent failures degrade the report rather than failing the run; only
// the workflow machinery itself can return an error.
func (sup *Supervisor) Execute(ctx context.Context, query string, reqContext map[string]interface{}) (*Report, error) {
	if reqContext == nil {
		reqContext = map[string]interface{}{}
	}
	sessionID := "supervisor_" + uuid.NewString()

	initial := state{
		SessionID: sessionID,
		Query:     query,
		Context:   reqContext,
		Results:   map[string]agent.Result{},
	}

	final, err := sup.graph.Run(ctx, sessionID, initial)
	if err != nil {
		return nil, err
	}
	return final.Report, nil
}

func (sup *Supervisor) parseQueryNode(ctx context.Context, s state) (state, error) {
	s.Context["timestamp"] = sup.now().Format(time.RFC3339)
	s.Context["available_agents"] = sup.registry.Names()
	return s, nil
}

func (sup *Supervisor) planTaskNode(ctx context.Context, s state) (state, error) {
	prompt := fmt.Sprintf(`You are a task planning AI for a supply chain intelligence platform.

Available agents:
%s

User query: %s

Create a step-by-step plan to fulfill this query. Determine what steps
are needed, which agents should be involved, and what the final output
should contain. Be specific and actionable.`,
		sup.formatCapabilities(), s.Query)

	plan, err := llm.GenerateJSON[Plan](ctx, sup.model, prompt)
	if err != nil {
		// Proceed without a plan; selection can still route.
		s.Err = fmt.Sprintf("planning failed: %v", err)
		return s, nil
	}
	s.Plan = &plan
	return s, nil
}

func (sup *Supervisor) selectAgentsNode(ctx context.Context, s state) (state, error) {
	planSteps := "No plan"
	if s.Plan != nil {
		planSteps = strings.Join(s.Plan.Steps, "; ")
	}

	prompt := fmt.Sprintf(`You are an agent router for a supply chain intelligence platform.

Available agents and their capabilities:
%s

User query: %s

Task plan: %s

Select which agents to invoke: the agent names, your reasoning, and
the execution_order ("parallel" for independent agents, "sequential"
when later agents depend on earlier results). Choose the minimal
necessary agents.`, sup.formatCapabilities(), s.Query, planSteps)

	s.ExecutionOrder = OrderParallel

	selection, err := llm.GenerateJSON[Selection](ctx, sup.model, prompt)
	if err == nil {
		for _, name := range selection.Agents {
			if _, ok := sup.registry.Get(name); ok {
				s.Selected = append(s.Selected, name)
			}
		}
		if selection.ExecutionOrder == OrderSequential {
			s.ExecutionOrder = OrderSequential
		}
	}

	if len(s.Selected) == 0 {
		if best, ok := sup.registry.FindBest(s.Query); ok {
			s.Selected = []string{best.Name()}
		}
	}
	return s, nil
}

func (sup *Supervisor) executeAgentsNode(ctx context.Context, s state) (state, error) {
	if len(s.Selected) == 0 {
		return s, nil
	}

	if s.ExecutionOrder == OrderSequential {
		s.Results = sup.executeSequential(ctx, s.Selected, s.Query, s.Context)
	} else {
		s.Results = sup.executeParallel(ctx, s.Selected, s.Query, s.Context)
	}
	return s, nil
}

func (sup *Supervisor) executeParallel(ctx context.Context, names []string, query string, reqContext map[string]interface{}) map[string]agent.Result {
	results := make(map[string]agent.Result, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		worker, ok := sup.registry.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, worker agent.Agent) {
			defer wg.Done()
			res := sup.runWorker(ctx, name, worker, query, reqContext)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, worker)
	}

	wg.Wait()
	return results
}

func (sup *Supervisor) executeSequential(ctx context.Context, names []string, query string, reqContext map[string]interface{}) map[string]agent.Result {
	results := make(map[string]agent.Result, len(names))

	accumulated := make(map[string]interface{}, len(reqContext)+len(names))
	for k, v := range reqContext {
		accumulated[k] = v
	}

	for _, name := range names {
		worker, ok := sup.registry.Get(name)
		if !ok {
			continue
		}
		res := sup.runWorker(ctx, name, worker, query, accumulated)
		results[name] = res
		if res.Success {
			accumulated[name+"_result"] = res
		}
	}
	return results
}

// runWorker isolates one agent call. A panicking agent fails its own
// result only.
func (sup *Supervisor) runWorker(ctx context.Context, name string, worker agent.Agent, query string, reqContext map[string]interface{}) (res agent.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = agent.Result{
				AgentName: name,
				Query:     query,
				Timestamp: sup.now(),
				Success:   false,
				Error:     fmt.Sprintf("agent panicked: %v", r),
			}
		}
	}()
	return worker.Execute(ctx, agent.Request{Query: query, Context: reqContext})
}

func (sup *Supervisor) aggregateReportNode(ctx context.Context, s state) (state, error) {
	report := &Report{
		SessionID:      s.SessionID,
		Query:          s.Query,
		GeneratedAt:    sup.now(),
		SelectedAgents: s.Selected,
		ExecutionOrder: s.ExecutionOrder,
		Plan:           s.Plan,
		AgentResults:   s.Results,
	}

	succeeded := 0
	for _, name := range s.Selected {
		res, ok := s.Results[name]
		if !ok || !res.Success {
			continue
		}
		succeeded++
		report.KeyInsights = append(report.KeyInsights, res.Insights...)
		report.Recommendations = append(report.Recommendations, res.Recommendations...)
	}

	if succeeded == 0 {
		report.Summary = "No results available to generate report."
		report.Markdown = "# OmniSupply Intelligence Report\n\nNo results available to generate report.\n"
		s.Report = report
		return s, nil
	}

	prompt := fmt.Sprintf(`You are an executive report writer for a supply chain intelligence platform.

User query: %s

Agent results:
%s

Create an executive summary: 2-3 paragraphs covering key findings, the
3-5 most important insights, the top 3 priority actions, and the key
performance indicators from the analysis. Make it clear, concise, and
actionable.`, s.Query, sup.formatResults(s.Selected, s.Results))

	summary, err := llm.GenerateJSON[executiveSummary](ctx, sup.model, prompt)
	if err != nil {
		// Mechanical fallback keeps the report useful.
		summary = executiveSummary{
			Summary:         fmt.Sprintf("%d of %d agents completed successfully.", succeeded, len(s.Selected)),
			KeyInsights:     capStrings(report.KeyInsights, 5),
			Recommendations: capStrings(report.Recommendations, 3),
		}
	}

	report.Summary = summary.Summary
	if len(summary.KeyInsights) > 0 {
		report.KeyInsights = summary.KeyInsights
	}
	if len(summary.Recommendations) > 0 {
		report.Recommendations = summary.Recommendations
	}
	report.KPIs = summary.KPIs
	report.Markdown = sup.renderMarkdown(s, report, summary)

	s.Summary = &summary
	s.Report = report
	return s, nil
}

func (sup *Supervisor) renderMarkdown(s state, report *Report, summary executiveSummary) string {
	var b strings.Builder
	b.WriteString("# OmniSupply Intelligence Report\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Query:** %s\n", s.Query)
	fmt.Fprintf(&b, "**Agents Used:** %s\n\n", strings.Join(s.Selected, ", "))
	b.WriteString("---\n\n## Executive Summary\n\n")
	b.WriteString(summary.Summary)
	b.WriteString("\n\n---\n\n## Key Insights\n\n")
	for i, insight := range report.KeyInsights {
		fmt.Fprintf(&b, "%d. %s\n", i+1, insight)
	}
	b.WriteString("\n---\n\n## Recommended Actions\n\n")
	for i, rec := range report.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
	}
	b.WriteString("\n---\n\n## Key Performance Indicators\n\n")
	for _, kpi := range report.KPIs {
		fmt.Fprintf(&b, "- **%s**: %s\n", kpi.Name, kpi.Value)
	}
	b.WriteString("\n---\n\n## Detailed Results by Agent\n\n")
	for _, name := range s.Selected {
		res, ok := s.Results[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", name)
		if res.Success {
			if len(res.Insights) > 0 {
				b.WriteString("**Insights:**\n")
				for _, insight := range res.Insights {
					fmt.Fprintf(&b, "- %s\n", insight)
				}
			}
			if len(res.Metrics) > 0 {
				b.WriteString("\n**Metrics:**\n")
				for k, v := range res.Metrics {
					fmt.Fprintf(&b, "- %s: %v\n", k, v)
				}
			}
		} else {
			fmt.Fprintf(&b, "*Error: %s*\n", res.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (sup *Supervisor) formatCapabilities() string {
	var lines []string
	for _, name := range sup.registry.Names() {
		worker, ok := sup.registry.Get(name)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", name, strings.Join(worker.Capabilities(), ", ")))
	}
	return strings.Join(lines, "\n")
}

func (sup *Supervisor) formatResults(names []string, results map[string]agent.Result) string {
	var b strings.Builder
	for _, name := range names {
		res, ok := results[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n**%s**:\n", name)
		if res.Success {
			fmt.Fprintf(&b, "  Insights: %d\n", len(res.Insights))
			for _, insight := range capStrings(res.Insights, 3) {
				fmt.Fprintf(&b, "    - %s\n", insight)
			}
			if len(res.Recommendations) > 0 {
				fmt.Fprintf(&b, "  Recommendations: %d\n", len(res.Recommendations))
				for _, rec := range capStrings(res.Recommendations, 2) {
					fmt.Fprintf(&b, "    - %s\n", rec)
				}
			}
		} else {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
		}
	}
	return b.String()
}

func capStrings(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
