// Package risk implements the supply-chain risk agent: four independent
// SQL-derived risk signals, a weighted aggregate score with severity
// classification, and an alert recommendation.
package risk

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
const Name = "risk_agent"

type assessment struct {
	TopRisks           []string `json:"top_risks"`
	RecommendedActions []string `json:"recommended_actions"`
	MonitoringItems    []string `json:"monitoring_items"`
}

type alertRecommendation struct {
	ShouldAlert bool     `json:"should_alert"`
	Severity    string   `json:"severity"`
	Recipients  []string `json:"recipients"`
	Message     string   `json:"message"`
}

// categorySignal is one gathered risk dimension. A gather failure leaves
// Score at 0.0 (no evidence) and records the error; the workflow
// continues regardless.
type categorySignal struct {
	Score   float64
	Metrics map[string]interface{}
	Err     string
}

type state struct {
	Query     string
	Context   map[string]interface{}
	Delivery  categorySignal
	Inventory categorySignal
	Quality   categorySignal
	Financial categorySignal

	Overall    float64
	Severity   Severity
	Assessment *assessment
	Alert      *alertRecommendation
	Err        string
}

// Options configures the risk agent.
type Options struct {
	// Weights overrides DefaultWeights. Must sum to 1.0.
	Weights *Weights

	Emitter emit.Emitter
	Metrics *workflow.Metrics
}

// Agent assesses multi-dimensional supply-chain risk.
type Agent struct {
	model   llm.Model
	store   storage.QueryStore
	weights Weights
	graph   *workflow.Graph[state]
}

// New builds and compiles the risk workflow:
//
//	gather_delivery -> gather_inventory -> gather_quality ->
//	gather_financial -> assess -> alert -> End
//
// Weight validation failures are configuration errors and abort startup.
func New(model llm.Model, store storage.QueryStore, opts *Options) (*Agent, error) {
	if opts == nil {
		opts = &Options{}
	}
	weights := DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{model: model, store: store, weights: weights}

	b := workflow.New[state](workflow.Options{})
	b.WithEmitter(opts.Emitter)
	b.WithMetrics(opts.Metrics)

	steps := []struct {
		id string
		fn workflow.NodeFunc[state]
	}{
		{"gather_delivery", a.gatherDeliveryNode},
		{"gather_inventory", a.gatherInventoryNode},
		{"gather_quality", a.gatherQualityNode},
		{"gather_financial", a.gatherFinancialNode},
		{"assess", a.assessNode},
		{"alert", a.alertNode},
	}
	for _, s := range steps {
		if err := b.AddNode(s.id, s.fn); err != nil {
			return nil, err
		}
	}
	if err := b.SetEntry("gather_delivery"); err != nil {
		return nil, err
	}
	edges := [][2]string{
		{"gather_delivery", "gather_inventory"},
		{"gather_inventory", "gather_quality"},
		{"gather_quality", "gather_financial"},
		{"gather_financial", "assess"},
		{"assess", "alert"},
		{"alert", workflow.End},
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
		"Delivery risk assessment (late shipments, carrier issues)",
		"Inventory risk assessment (stockouts, overstock)",
		"Quality risk assessment (returns, defects)",
		"Financial risk assessment (margins, discounts)",
		"Multi-dimensional risk scoring",
		"Alert generation and prioritization",
	}
}

// CanHandle uses weighted keywords tuned for risk queries.
func (a *Agent) CanHandle(query string) float64 {
	queryLower := strings.ToLower(query)

	score := 0.0
	for _, kw := range []string{"risk", "alert", "critical", "issue", "problem", "delay", "late"} {
		if strings.Contains(queryLower, kw) {
			score += 0.15
		}
	}
	for _, kw := range []string{"delivery", "inventory", "stockout", "shortage", "quality", "defect", "margin"} {
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
	initial := state{Query: req.Query, Context: req.Context}
	return agent.Run(ctx, Name, a.graph, req, initial, a.formatResult)
}

func (a *Agent) gatherDeliveryNode(ctx context.Context, s state) (state, error) {
	const q = `SELECT
		COUNT(*) AS total_shipments,
		SUM(CASE WHEN actual_delivery > expected_delivery THEN 1 ELSE 0 END) AS late_shipments
	FROM shipments`

	rows, err := a.store.RunQuery(ctx, q)
	if err != nil {
		s.Delivery = failedSignal(err)
		return s, nil
	}

	total := sumColumn(rows, "total_shipments")
	late := sumColumn(rows, "late_shipments")
	lateRate := ratio(late, total)

	s.Delivery = categorySignal{
		Score: lateRate,
		Metrics: map[string]interface{}{
			"late_rate":       lateRate,
			"total_shipments": total,
			"late_shipments":  late,
		},
	}
	return s, nil
}

func (a *Agent) gatherInventoryNode(ctx context.Context, s state) (state, error) {
	const q = `SELECT
		COUNT(*) AS total_items,
		SUM(CASE WHEN stock_quantity <= reorder_level THEN 1 ELSE 0 END) AS critical_items,
		SUM(CASE WHEN stock_quantity = 0 THEN 1 ELSE 0 END) AS stockout_items
	FROM inventory`

	rows, err := a.store.RunQuery(ctx, q)
	if err != nil {
		s.Inventory = failedSignal(err)
		return s, nil
	}

	total := sumColumn(rows, "total_items")
	critical := sumColumn(rows, "critical_items")
	criticalPct := ratio(critical, total)

	s.Inventory = categorySignal{
		Score: criticalPct,
		Metrics: map[string]interface{}{
			"critical_pct":   criticalPct,
			"total_items":    total,
			"critical_items": critical,
			"stockout_items": sumColumn(rows, "stockout_items"),
		},
	}
	return s, nil
}

func (a *Agent) gatherQualityNode(ctx context.Context, s state) (state, error) {
	const q = `SELECT
		COUNT(*) AS total_orders,
		SUM(CASE WHEN is_returned = 1 THEN 1 ELSE 0 END) AS returned_orders
	FROM orders`

	rows, err := a.store.RunQuery(ctx, q)
	if err != nil {
		s.Quality = failedSignal(err)
		return s, nil
	}

	total := sumColumn(rows, "total_orders")
	returned := sumColumn(rows, "returned_orders")
	returnRate := ratio(returned, total)

	s.Quality = categorySignal{
		Score: returnRate,
		Metrics: map[string]interface{}{
			"return_rate":     returnRate,
			"total_orders":    total,
			"returned_orders": returned,
		},
	}
	return s, nil
}

func (a *Agent) gatherFinancialNode(ctx context.Context, s state) (state, error) {
	const q = `SELECT
		COUNT(*) AS total_orders,
		SUM(CASE WHEN profit < 0 THEN 1 ELSE 0 END) AS negative_profit_orders,
		SUM(CASE WHEN discount_percent > 30 THEN 1 ELSE 0 END) AS high_discount_orders
	FROM orders`

	rows, err := a.store.RunQuery(ctx, q)
	if err != nil {
		s.Financial = failedSignal(err)
		return s, nil
	}

	total := sumColumn(rows, "total_orders")
	atRisk := sumColumn(rows, "negative_profit_orders") + sumColumn(rows, "high_discount_orders")
	riskRate := ratio(atRisk, total)
	if riskRate > 1.0 {
		riskRate = 1.0
	}

	s.Financial = categorySignal{
		Score: riskRate,
		Metrics: map[string]interface{}{
			"risk_rate":              riskRate,
			"total_orders":           total,
			"negative_profit_orders": sumColumn(rows, "negative_profit_orders"),
			"high_discount_orders":   sumColumn(rows, "high_discount_orders"),
		},
	}
	return s, nil
}

func (a *Agent) assessNode(ctx context.Context, s state) (state, error) {
	signals := Signals{
		Delivery:  s.Delivery.Score,
		Inventory: s.Inventory.Score,
		Quality:   s.Quality.Score,
		Financial: s.Financial.Score,
	}

	// Score and severity are computed, never inferred: the model only
	// writes the narrative around them.
	s.Overall = a.weights.Overall(signals)
	s.Severity = ClassifySeverity(s.Overall)

	prompt := fmt.Sprintf(`Assess supply chain risks based on these metrics.

Delivery risk (weight %.0f%%): score %.2f
Inventory risk (weight %.0f%%): score %.2f
Quality risk (weight %.0f%%): score %.2f
Financial risk (weight %.0f%%): score %.2f

Overall risk score: %.2f (%s)

Provide the top 3-5 risks to address, immediate recommended actions,
and items to monitor closely.`,
		a.weights.Delivery*100, signals.Delivery,
		a.weights.Inventory*100, signals.Inventory,
		a.weights.Quality*100, signals.Quality,
		a.weights.Financial*100, signals.Financial,
		s.Overall, s.Severity)

	res, err := llm.GenerateJSON[assessment](ctx, a.model, prompt)
	if err != nil {
		s.Err = fmt.Sprintf("risk assessment failed: %v", err)
		return s, nil
	}
	s.Assessment = &res
	return s, nil
}

func (a *Agent) alertNode(ctx context.Context, s state) (state, error) {
	if s.Assessment == nil {
		s.Alert = &alertRecommendation{Severity: "INFO", Message: "No risk assessment available"}
		return s, nil
	}

	prompt := fmt.Sprintf(`Determine if alerts should be sent for this risk assessment.

Overall risk: %s (score: %.2f)

Top risks:
%s

Should an alert go out (yes for CRITICAL or HIGH), at what severity
(INFO, WARNING, CRITICAL), to whom (operations, finance, executives),
and with what concise message?`,
		s.Severity, s.Overall, bulleted(s.Assessment.TopRisks))

	alert, err := llm.GenerateJSON[alertRecommendation](ctx, a.model, prompt)
	if err != nil {
		s.Alert = &alertRecommendation{Severity: "INFO", Message: "Alert generation failed"}
		return s, nil
	}
	s.Alert = &alert
	return s, nil
}

func (a *Agent) formatResult(s state) agent.Result {
	insights := []string{
		fmt.Sprintf("Overall risk assessment: %s (score: %.2f)", s.Severity, s.Overall),
	}
	if s.Assessment != nil {
		for _, r := range s.Assessment.TopRisks {
			insights = append(insights, "Top risk: "+r)
		}
	}
	for _, cat := range []struct {
		name   string
		signal categorySignal
	}{
		{"delivery", s.Delivery},
		{"inventory", s.Inventory},
		{"quality", s.Quality},
		{"financial", s.Financial},
	} {
		insights = append(insights, fmt.Sprintf("%s risk: %s (%.2f)",
			cat.name, ClassifySeverity(cat.signal.Score), cat.signal.Score))
	}

	var recommendations []string
	if s.Assessment != nil {
		recommendations = append(recommendations, s.Assessment.RecommendedActions...)
	}
	if s.Alert != nil && s.Alert.ShouldAlert {
		recommendations = append(recommendations, "ALERT: "+s.Alert.Message)
	}

	metrics := map[string]interface{}{
		"overall_risk_score": s.Overall,
		"overall_severity":   string(s.Severity),
		"delivery_risk":      s.Delivery.Score,
		"inventory_risk":     s.Inventory.Score,
		"quality_risk":       s.Quality.Score,
		"financial_risk":     s.Financial.Score,
	}
	if s.Alert != nil {
		metrics["should_alert"] = s.Alert.ShouldAlert
		metrics["alert_severity"] = s.Alert.Severity
	}

	return agent.Result{
		Success:         s.Err == "",
		Error:           s.Err,
		Insights:        insights,
		Recommendations: recommendations,
		Metrics:         metrics,
	}
}

// failedSignal records a gather failure as "no evidence of this risk"
// (score 0.0), not "zero risk"; the error rides along for the report.
func failedSignal(err error) categorySignal {
	return categorySignal{
		Score:   0.0,
		Metrics: map[string]interface{}{"error": err.Error()},
		Err:     err.Error(),
	}
}

func sumColumn(rows []storage.Row, column string) float64 {
	total := 0.0
	for _, row := range rows {
		total += asFloat(row[column])
	}
	return total
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

func ratio(part, total float64) float64 {
	if total <= 0 {
		return 0.0
	}
	return part / total
}

func bulleted(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	return b.String()
}
