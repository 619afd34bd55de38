// Package finance implements the finance insight agent: P&L reporting,
// expense analysis, trend-based cashflow forecasting, and KPI tracking.
package finance

import (
	"context"
	"encoding/json"
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
const Name = "finance_agent"

// PLReport is a computed profit and loss statement. All fields come
// from SQL aggregates, not the model.
type PLReport struct {
	TotalRevenue   float64 `json:"total_revenue"`
	TotalCOGS      float64 `json:"total_cogs"`
	TotalExpenses  float64 `json:"total_expenses"`
	GrossProfit    float64 `json:"gross_profit"`
	NetProfit      float64 `json:"net_profit"`
	GrossMarginPct float64 `json:"gross_margin_pct"`
	NetMarginPct   float64 `json:"net_margin_pct"`
	Period         string  `json:"period"`
}

// ExpenseCategory pairs one expense category with its total.
type ExpenseCategory struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

type expenseAnalysis struct {
	TotalExpenses        float64           `json:"total_expenses"`
	ExpenseByCategory    []ExpenseCategory `json:"expense_by_category"`
	Anomalies            []string          `json:"anomalies"`
	TopExpenseCategories []string          `json:"top_expense_categories"`
	Recommendations      []string          `json:"recommendations"`
}

type cashflowForecast struct {
	ForecastPeriod     string   `json:"forecast_period"`
	ProjectedRevenue   float64  `json:"projected_revenue"`
	ProjectedExpenses  float64  `json:"projected_expenses"`
	ProjectedCashflow  float64  `json:"projected_cashflow"`
	ConfidenceLevel    string   `json:"confidence_level"`
	Assumptions        []string `json:"assumptions"`
	Risks              []string `json:"risks"`
}

type kpiSummary struct {
	RevenueGrowthPct  float64 `json:"revenue_growth_pct"`
	ProfitMarginPct   float64 `json:"profit_margin_pct"`
	AverageOrderValue float64 `json:"average_order_value"`
	Observations      []string `json:"observations"`
}

type state struct {
	Query    string
	PL       *PLReport
	Expenses *expenseAnalysis
	Forecast *cashflowForecast
	KPIs     *kpiSummary
	Err      string
}

// Options configures the finance agent.
type Options struct {
	// Now overrides the reference time for reporting windows. Zero
	// value means time.Now.
	Now func() time.Time

	Emitter emit.Emitter
	Metrics *workflow.Metrics
}

// Agent produces financial reports and forecasts from order and
// transaction data.
type Agent struct {
	model llm.Model
	store storage.QueryStore
	now   func() time.Time
	graph *workflow.Graph[state]
}

// New builds and compiles the finance workflow:
//
//	pl_report -> analyze_expenses -> forecast_cashflow -> calculate_kpis -> End
func New(model llm.Model, store storage.QueryStore, opts *Options) (*Agent, error) {
	if opts == nil {
		opts = &Options{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	a := &Agent{model: model, store: store, now: now}

	b := workflow.New[state](workflow.Options{})
	b.WithEmitter(opts.Emitter)
	b.WithMetrics(opts.Metrics)

	steps := []struct {
		id string
		fn workflow.NodeFunc[state]
	}{
		{"pl_report", a.plReportNode},
		{"analyze_expenses", a.analyzeExpensesNode},
		{"forecast_cashflow", a.forecastCashflowNode},
		{"calculate_kpis", a.calculateKPIsNode},
	}
	for _, s := range steps {
		if err := b.AddNode(s.id, s.fn); err != nil {
			return nil, err
		}
	}
	if err := b.SetEntry("pl_report"); err != nil {
		return nil, err
	}
	edges := [][2]string{
		{"pl_report", "analyze_expenses"},
		{"analyze_expenses", "forecast_cashflow"},
		{"forecast_cashflow", "calculate_kpis"},
		{"calculate_kpis", workflow.End},
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
		"P&L report generation",
		"Expense analysis and categorization",
		"Cashflow forecasting",
		"KPI calculation and trending",
		"Financial anomaly detection",
		"Cost optimization recommendations",
		"Revenue analysis",
	}
}

// CanHandle uses weighted keywords tuned for financial queries.
func (a *Agent) CanHandle(query string) float64 {
	queryLower := strings.ToLower(query)

	score := 0.0
	for _, kw := range []string{"finance", "financial", "revenue", "profit", "expense", "cashflow", "forecast"} {
		if strings.Contains(queryLower, kw) {
			score += 0.15
		}
	}
	for _, kw := range []string{"kpi", "margin", "cost", "budget", "p&l", "income", "spending"} {
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

// since renders a date lower bound for SQL comparison. Dates are
// formatted in Go so the statements stay portable across SQLite and
// MySQL.
func (a *Agent) since(days int) string {
	return a.now().AddDate(0, 0, -days).Format("2006-01-02")
}

func (a *Agent) plReportNode(ctx context.Context, s state) (state, error) {
	revenueQuery := fmt.Sprintf(`SELECT
		SUM(sale_price * quantity) AS total_revenue,
		SUM((sale_price - profit) * quantity) AS total_cogs,
		SUM(profit * quantity) AS gross_profit
	FROM orders
	WHERE order_date >= '%s'`, a.since(30))

	revenueRows, err := a.store.RunQuery(ctx, revenueQuery)
	if err != nil {
		s.Err = fmt.Sprintf("P&L generation failed: %v", err)
		return s, nil
	}

	expenseQuery := fmt.Sprintf(`SELECT SUM(amount) AS total_expenses
	FROM financial_transactions
	WHERE transaction_type = 'expense' AND transaction_date >= '%s'`, a.since(30))

	expenseRows, err := a.store.RunQuery(ctx, expenseQuery)
	if err != nil {
		s.Err = fmt.Sprintf("P&L generation failed: %v", err)
		return s, nil
	}

	totalRevenue := firstFloat(revenueRows, "total_revenue")
	totalCOGS := firstFloat(revenueRows, "total_cogs")
	grossProfit := firstFloat(revenueRows, "gross_profit")
	totalExpenses := firstFloat(expenseRows, "total_expenses")

	netProfit := grossProfit - totalExpenses
	grossMargin := 0.0
	netMargin := 0.0
	if totalRevenue > 0 {
		grossMargin = grossProfit / totalRevenue * 100
		netMargin = netProfit / totalRevenue * 100
	}

	s.PL = &PLReport{
		TotalRevenue:   totalRevenue,
		TotalCOGS:      totalCOGS,
		TotalExpenses:  totalExpenses,
		GrossProfit:    grossProfit,
		NetProfit:      netProfit,
		GrossMarginPct: grossMargin,
		NetMarginPct:   netMargin,
		Period:         "Last 30 days",
	}
	return s, nil
}

func (a *Agent) analyzeExpensesNode(ctx context.Context, s state) (state, error) {
	query := fmt.Sprintf(`SELECT
		category,
		SUM(amount) AS total_amount,
		COUNT(*) AS transaction_count,
		AVG(amount) AS avg_amount,
		MAX(amount) AS max_amount
	FROM financial_transactions
	WHERE transaction_type = 'expense' AND transaction_date >= '%s'
	GROUP BY category
	ORDER BY total_amount DESC`, a.since(30))

	rows, err := a.store.RunQuery(ctx, query)
	if err != nil {
		if s.Err == "" {
			s.Err = fmt.Sprintf("expense analysis failed: %v", err)
		}
		return s, nil
	}

	var categories []ExpenseCategory
	var topCategories []string
	total := 0.0
	for _, row := range rows {
		name, _ := row["category"].(string)
		amount := asFloat(row["total_amount"])
		categories = append(categories, ExpenseCategory{Category: name, Amount: amount})
		total += amount
		if len(topCategories) < 5 {
			topCategories = append(topCategories, name)
		}
	}

	var summary strings.Builder
	for _, c := range categories {
		pct := 0.0
		if total > 0 {
			pct = c.Amount / total * 100
		}
		fmt.Fprintf(&summary, "- %s: $%.2f (%.1f%%)\n", c.Category, c.Amount, pct)
	}

	prompt := fmt.Sprintf(`Analyze these expense patterns and detect anomalies.

Total expenses: $%.2f (last 30 days)

Expense breakdown:
%s
Identify unusual spending patterns, the top expense categories, and
cost optimization recommendations.`, total, summary.String())

	analysis, err := llm.GenerateJSON[expenseAnalysis](ctx, a.model, prompt)
	if err != nil {
		if s.Err == "" {
			s.Err = fmt.Sprintf("expense analysis failed: %v", err)
		}
		return s, nil
	}

	// Numbers come from SQL, not the model.
	analysis.TotalExpenses = total
	analysis.ExpenseByCategory = categories
	analysis.TopExpenseCategories = topCategories

	s.Expenses = &analysis
	return s, nil
}

func (a *Agent) forecastCashflowNode(ctx context.Context, s state) (state, error) {
	query := fmt.Sprintf(`SELECT
		SUBSTR(order_date, 1, 7) AS month,
		SUM(sale_price * quantity) AS monthly_revenue,
		COUNT(*) AS order_count
	FROM orders
	WHERE order_date >= '%s'
	GROUP BY SUBSTR(order_date, 1, 7)
	ORDER BY month DESC`, a.since(180))

	rows, err := a.store.RunQuery(ctx, query)
	if err != nil {
		if s.Err == "" {
			s.Err = fmt.Sprintf("cashflow forecast failed: %v", err)
		}
		return s, nil
	}

	if len(rows) < 2 {
		s.Forecast = &cashflowForecast{
			ForecastPeriod:  "90 days",
			ConfidenceLevel: "LOW",
			Assumptions:     []string{"Insufficient historical data"},
			Risks:           []string{"Cannot generate reliable forecast with limited data"},
		}
		return s, nil
	}

	recentRevenue := asFloat(rows[0]["monthly_revenue"])
	priorRevenue := asFloat(rows[1]["monthly_revenue"])

	growthRate := 0.0
	if priorRevenue > 0 {
		growthRate = (recentRevenue - priorRevenue) / priorRevenue
	}

	projectedRevenue := recentRevenue * (1 + growthRate) * 3

	expenseRatio := 0.7
	if s.PL != nil && s.PL.TotalRevenue > 0 {
		expenseRatio = (s.PL.TotalCOGS + s.PL.TotalExpenses) / s.PL.TotalRevenue
	}
	projectedExpenses := projectedRevenue * expenseRatio
	projectedCashflow := projectedRevenue - projectedExpenses

	confidence := "LOW"
	if len(rows) >= 3 {
		confidence = "MEDIUM"
	}

	prompt := fmt.Sprintf(`Create a cashflow forecast narrative for these projections.

Historical data: %d months
Recent monthly revenue: $%.2f
Growth rate: %.1f%%

90-day projections:
- Revenue: $%.2f
- Expenses: $%.2f
- Net cashflow: $%.2f

Provide key assumptions for this forecast and risks to it.`,
		len(rows), recentRevenue, growthRate*100,
		projectedRevenue, projectedExpenses, projectedCashflow)

	forecast, err := llm.GenerateJSON[cashflowForecast](ctx, a.model, prompt)
	if err != nil {
		if s.Err == "" {
			s.Err = fmt.Sprintf("cashflow forecast failed: %v", err)
		}
		return s, nil
	}

	forecast.ForecastPeriod = "90 days"
	forecast.ProjectedRevenue = projectedRevenue
	forecast.ProjectedExpenses = projectedExpenses
	forecast.ProjectedCashflow = projectedCashflow
	forecast.ConfidenceLevel = confidence

	s.Forecast = &forecast
	return s, nil
}

func (a *Agent) calculateKPIsNode(ctx context.Context, s state) (state, error) {
	aovQuery := fmt.Sprintf(`SELECT AVG(sale_price * quantity) AS avg_order_value
	FROM orders
	WHERE order_date >= '%s'`, a.since(30))

	aovRows, err := a.store.RunQuery(ctx, aovQuery)
	if err != nil {
		if s.Err == "" {
			s.Err = fmt.Sprintf("KPI calculation failed: %v", err)
		}
		return s, nil
	}
	avgOrderValue := firstFloat(aovRows, "avg_order_value")

	growthQuery := fmt.Sprintf(`SELECT
		CASE WHEN order_date >= '%s' THEN 'current' ELSE 'prior' END AS period,
		SUM(sale_price * quantity) AS revenue
	FROM orders
	WHERE order_date >= '%s'
	GROUP BY CASE WHEN order_date >= '%s' THEN 'current' ELSE 'prior' END`,
		a.since(30), a.since(60), a.since(30))

	growthRows, err := a.store.RunQuery(ctx, growthQuery)
	if err != nil {
		if s.Err == "" {
			s.Err = fmt.Sprintf("KPI calculation failed: %v", err)
		}
		return s, nil
	}

	currentRevenue := 0.0
	priorRevenue := 0.0
	for _, row := range growthRows {
		period, _ := row["period"].(string)
		if period == "current" {
			currentRevenue = asFloat(row["revenue"])
		} else {
			priorRevenue = asFloat(row["revenue"])
		}
	}
	revenueGrowth := 0.0
	if priorRevenue > 0 {
		revenueGrowth = (currentRevenue - priorRevenue) / priorRevenue * 100
	}

	plJSON := "N/A"
	if s.PL != nil {
		if b, err := json.Marshal(s.PL); err == nil {
			plJSON = string(b)
		}
	}

	prompt := fmt.Sprintf(`Summarize key financial KPIs with short observations.

P&L report: %s
Average order value: $%.2f
Revenue growth: %.1f%% vs prior 30 days`, plJSON, avgOrderValue, revenueGrowth)

	kpis, err := llm.GenerateJSON[kpiSummary](ctx, a.model, prompt)
	if err != nil {
		kpis = kpiSummary{}
	}

	kpis.RevenueGrowthPct = revenueGrowth
	kpis.AverageOrderValue = avgOrderValue
	if s.PL != nil {
		kpis.ProfitMarginPct = s.PL.NetMarginPct
	}

	s.KPIs = &kpis
	return s, nil
}

func (a *Agent) formatResult(s state) agent.Result {
	var insights []string

	if s.PL != nil {
		insights = append(insights,
			fmt.Sprintf("P&L (%s): revenue $%.2f, COGS $%.2f, expenses $%.2f",
				s.PL.Period, s.PL.TotalRevenue, s.PL.TotalCOGS, s.PL.TotalExpenses),
			fmt.Sprintf("Gross profit $%.2f (%.1f%%), net profit $%.2f (%.1f%%)",
				s.PL.GrossProfit, s.PL.GrossMarginPct, s.PL.NetProfit, s.PL.NetMarginPct))
	}
	if s.Expenses != nil {
		insights = append(insights, fmt.Sprintf("Total expenses $%.2f, top categories: %s",
			s.Expenses.TotalExpenses, strings.Join(s.Expenses.TopExpenseCategories, ", ")))
		for _, anomaly := range s.Expenses.Anomalies {
			insights = append(insights, "Anomaly: "+anomaly)
		}
	}
	if s.Forecast != nil {
		insights = append(insights, fmt.Sprintf(
			"Cashflow forecast (%s): revenue $%.2f, expenses $%.2f, net $%.2f (%s confidence)",
			s.Forecast.ForecastPeriod, s.Forecast.ProjectedRevenue,
			s.Forecast.ProjectedExpenses, s.Forecast.ProjectedCashflow,
			s.Forecast.ConfidenceLevel))
	}
	if s.KPIs != nil {
		insights = append(insights, fmt.Sprintf(
			"KPIs: revenue growth %.1f%%, profit margin %.1f%%, avg order value $%.2f",
			s.KPIs.RevenueGrowthPct, s.KPIs.ProfitMarginPct, s.KPIs.AverageOrderValue))
		insights = append(insights, s.KPIs.Observations...)
	}

	var recommendations []string
	if s.Expenses != nil {
		recommendations = append(recommendations, s.Expenses.Recommendations...)
	}

	metrics := map[string]interface{}{}
	if s.PL != nil {
		metrics["net_profit"] = s.PL.NetProfit
		metrics["net_margin_pct"] = s.PL.NetMarginPct
	}
	if s.Expenses != nil {
		metrics["total_expenses"] = s.Expenses.TotalExpenses
	}
	if s.Forecast != nil {
		metrics["projected_cashflow"] = s.Forecast.ProjectedCashflow
		metrics["forecast_confidence"] = s.Forecast.ConfidenceLevel
	}
	if s.KPIs != nil {
		metrics["revenue_growth_pct"] = s.KPIs.RevenueGrowthPct
	}

	return agent.Result{
		Success:         s.Err == "",
		Error:           s.Err,
		Insights:        insights,
		Recommendations: recommendations,
		Metrics:         metrics,
	}
}

func firstFloat(rows []storage.Row, column string) float64 {
	if len(rows) == 0 {
		return 0.0
	}
	return asFloat(rows[0][column])
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
