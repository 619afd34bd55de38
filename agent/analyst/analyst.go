// Package analyst implements the data analyst agent: natural-language
// questions become SQL against the analytical store, with a bounded
// generate-execute retry cycle, and results are distilled into insights.
package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/omnisupply/omnisupply-go/agent"
	"github.com/omnisupply/omnisupply-go/llm"
	"github.com/omnisupply/omnisupply-go/storage"
	"github.com/omnisupply/omnisupply-go/workflow"
	"github.com/omnisupply/omnisupply-go/workflow/emit"
)

// Name is the registry key for this agent.
const Name = "data_analyst"

// DefaultMaxRetries bounds the SQL regenerate cycle. Empirical, so
// configurable via Options.
const DefaultMaxRetries = 2

const schemaDescription = `Available tables and columns:
- orders: order_id, order_date, category, product_id, sale_price, profit, quantity, discount_percent, is_returned, segment, region, state
- shipments: shipment_id, carrier, shipment_date, expected_delivery, actual_delivery, status, origin_location, destination_location
- inventory: sku, product_id, product_name, stock_quantity, reorder_level, warehouse_location
- financial_transactions: transaction_id, transaction_date, transaction_type, category, amount, payment_status`

type classification struct {
	QueryType  string   `json:"query_type"`
	Metrics    []string `json:"metrics"`
	Dimensions []string `json:"dimensions"`
	Filters    []string `json:"filters"`
	TimePeriod string   `json:"time_period"`
	Confidence float64  `json:"confidence"`
}

type sqlQuery struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

type analysis struct {
	Summary         string   `json:"summary"`
	KeyInsights     []string `json:"key_insights"`
	Anomalies       []string `json:"anomalies"`
	Recommendations []string `json:"recommendations"`
}

// state is threaded through one analysis run. Err holds the current step
// failure and is cleared when a retry recovers.
type state struct {
	Query          string
	Context        map[string]interface{}
	Classification *classification
	SQL            *sqlQuery
	Rows           []storage.Row
	Analysis       *analysis
	Err            string
	RetryCount     int
	Attempts       int
}

// Options configures optional collaborators and the retry ceiling.
type Options struct {
	// MaxRetries caps SQL regeneration attempts after the initial one.
	// Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// Index, when present, narrows prompts with semantically similar
	// reference material. The agent runs fine without it.
	Index storage.SemanticIndex

	Emitter emit.Emitter
	Metrics *workflow.Metrics
}

// Agent converts natural-language questions into SQL and analyzes the
// results. Stateless between calls; all per-call state lives in the
// workflow state.
type Agent struct {
	model      llm.Model
	store      storage.QueryStore
	index      storage.SemanticIndex
	metrics    *workflow.Metrics
	maxRetries int
	graph      *workflow.Graph[state]
}

// New builds and compiles the analyst workflow:
//
//	classify -> generate_sql -> run_query -(retry|analyze|end)-> analyze -> End
//
// Compilation errors indicate a programming mistake and abort startup.
func New(model llm.Model, store storage.QueryStore, opts *Options) (*Agent, error) {
	if opts == nil {
		opts = &Options{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	a := &Agent{
		model:      model,
		store:      store,
		index:      opts.Index,
		metrics:    opts.Metrics,
		maxRetries: maxRetries,
	}

	b := workflow.New[state](workflow.Options{})
	b.WithEmitter(opts.Emitter)
	b.WithMetrics(opts.Metrics)

	steps := []struct {
		id string
		fn workflow.NodeFunc[state]
	}{
		{"classify", a.classifyNode},
		{"generate_sql", a.generateSQLNode},
		{"run_query", a.runQueryNode},
		{"analyze", a.analyzeNode},
	}
	for _, s := range steps {
		if err := b.AddNode(s.id, s.fn); err != nil {
			return nil, err
		}
	}
	if err := b.SetEntry("classify"); err != nil {
		return nil, err
	}
	if err := b.AddEdge("classify", "generate_sql"); err != nil {
		return nil, err
	}
	if err := b.AddEdge("generate_sql", "run_query"); err != nil {
		return nil, err
	}
	if err := b.AddConditionalEdges("run_query", a.routeAfterQuery, map[string]string{
		"retry":   "generate_sql",
		"analyze": "analyze",
		"end":     workflow.End,
	}); err != nil {
		return nil, err
	}
	if err := b.AddEdge("analyze", workflow.End); err != nil {
		return nil, err
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
		"SQL query generation from natural language",
		"Data aggregation and analysis",
		"Trend identification",
		"Anomaly detection",
		"KPI calculation",
		"Comparative analysis",
	}
}

// CanHandle overrides the default token-overlap policy with weighted
// keywords tuned for analytical queries.
func (a *Agent) CanHandle(query string) float64 {
	queryLower := strings.ToLower(query)

	score := 0.0
	for _, kw := range []string{"data", "query", "sql", "show", "analyze", "calculate", "trend", "compare"} {
		if strings.Contains(queryLower, kw) {
			score += 0.15
		}
	}
	for _, kw := range []string{"revenue", "sales", "orders", "products", "kpi", "metrics"} {
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
func (a *Agent) Execute(ctx context.Context, req Request) Result {
	initial := state{Query: req.Query, Context: req.Context}
	return agent.Run(ctx, Name, a.graph, req, initial, a.formatResult)
}

// Request and Result aliases keep call sites on the agent package types.
type (
	Request = agent.Request
	Result  = agent.Result
)

func (a *Agent) classifyNode(ctx context.Context, s state) (state, error) {
	prompt := fmt.Sprintf(`Classify this data analysis query and extract entities.

User query: %s

%s

Determine the query type (aggregation, trend, comparison, anomaly, detail),
the metrics to calculate, dimensions to group by, filters, and any time period.`,
		s.Query, schemaDescription)

	c, err := llm.GenerateJSON[classification](ctx, a.model, prompt)
	if err != nil {
		s.Err = fmt.Sprintf("query classification failed: %v", err)
		return s, nil
	}
	s.Classification = &c
	return s, nil
}

func (a *Agent) generateSQLNode(ctx context.Context, s state) (state, error) {
	// A prior failed attempt feeds its error back so the next candidate
	// can address it. Re-entering on a retry consumes retry budget even
	// when generation itself cannot proceed.
	errContext := ""
	if s.Err != "" && s.Attempts > 0 {
		s.RetryCount++
		if a.metrics != nil {
			a.metrics.RecordRetry(Name, "generate_sql")
		}
		errContext = fmt.Sprintf("\n\nPrevious attempt failed with error: %s\nFix the SQL query.", s.Err)
	}

	if s.Classification == nil {
		return s, nil
	}

	refContext := a.referenceContext(ctx, s.Query)

	prompt := fmt.Sprintf(`Generate a SQL query for this analysis request.

User query: %s

Classification:
- Type: %s
- Metrics: %s
- Dimensions: %s
- Filters: %s
- Time period: %s

%s%s

Generate valid SQL for SQLite/MySQL. Limit results to 100 rows.%s`,
		s.Query,
		s.Classification.QueryType,
		joinOrNone(s.Classification.Metrics),
		joinOrNone(s.Classification.Dimensions),
		joinOrNone(s.Classification.Filters),
		orNone(s.Classification.TimePeriod),
		schemaDescription,
		refContext,
		errContext)

	q, err := llm.GenerateJSON[sqlQuery](ctx, a.model, prompt)
	if err != nil {
		s.Err = fmt.Sprintf("sql generation failed: %v", err)
		s.SQL = nil
		return s, nil
	}
	s.SQL = &q
	return s, nil
}

func (a *Agent) runQueryNode(ctx context.Context, s state) (state, error) {
	s.Attempts++

	if s.SQL == nil || s.SQL.SQL == "" {
		if s.Err == "" {
			s.Err = "no SQL query to execute"
		}
		return s, nil
	}

	rows, err := a.store.RunQuery(ctx, s.SQL.SQL)
	if err != nil {
		s.Err = fmt.Sprintf("query execution failed: %v", err)
		return s, nil
	}

	s.Rows = rows
	s.Err = ""
	return s, nil
}

// routeAfterQuery implements the bounded-retry router: a failed attempt
// goes back to generation while retries remain, terminates with the
// failure preserved once they are exhausted, and a clean attempt
// advances to analysis.
func (a *Agent) routeAfterQuery(s state) string {
	if s.Err != "" {
		if s.RetryCount < a.maxRetries {
			return "retry"
		}
		return "end"
	}
	return "analyze"
}

func (a *Agent) analyzeNode(ctx context.Context, s state) (state, error) {
	if len(s.Rows) == 0 {
		s.Analysis = &analysis{
			Summary:         "No data returned from query.",
			KeyInsights:     []string{"Query returned no results"},
			Recommendations: []string{"Verify data availability and query filters"},
		}
		return s, nil
	}

	sample := s.Rows
	if len(sample) > 10 {
		sample = sample[:10]
	}
	var rowsText strings.Builder
	for _, row := range sample {
		fmt.Fprintf(&rowsText, "%v\n", row)
	}

	prompt := fmt.Sprintf(`Analyze these query results and provide insights.

User query: %s

Query results (%d total rows, showing first %d):
%s

Provide a short summary, 3-5 key insights, any anomalies, and recommended actions.`,
		s.Query, len(s.Rows), len(sample), rowsText.String())

	res, err := llm.GenerateJSON[analysis](ctx, a.model, prompt)
	if err != nil {
		s.Err = fmt.Sprintf("result analysis failed: %v", err)
		return s, nil
	}
	s.Analysis = &res
	return s, nil
}

func (a *Agent) formatResult(s state) Result {
	res := Result{
		Success: s.Err == "",
		Error:   s.Err,
		Metrics: map[string]interface{}{
			"row_count": len(s.Rows),
			"attempts":  s.Attempts,
		},
		RawData: s.Rows,
	}

	if s.Classification != nil {
		res.Metrics["query_type"] = s.Classification.QueryType
	}
	if s.SQL != nil {
		res.Metrics["sql"] = s.SQL.SQL
	}

	if s.Analysis != nil {
		res.Insights = append(res.Insights, s.Analysis.Summary)
		res.Insights = append(res.Insights, s.Analysis.KeyInsights...)
		for _, anomaly := range s.Analysis.Anomalies {
			res.Insights = append(res.Insights, "Anomaly: "+anomaly)
		}
		res.Recommendations = append(res.Recommendations, s.Analysis.Recommendations...)
	}

	return res
}

// referenceContext pulls semantically similar reference material into the
// generation prompt when an index is configured.
func (a *Agent) referenceContext(ctx context.Context, query string) string {
	if a.index == nil {
		return ""
	}
	matches, err := a.index.Search(ctx, query, 3)
	if err != nil || len(matches) == 0 {
		return ""
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return "\nRelated reference queries: " + strings.Join(ids, ", ")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "Not specified"
	}
	return s
}
