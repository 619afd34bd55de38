package finance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/omnisupply/omnisupply-go/agent"
	"github.com/omnisupply/omnisupply-go/llm"
	"github.com/omnisupply/omnisupply-go/storage"
)

const (
	expensesJSON = `{"total_expenses":0,"expense_by_category":[],"anomalies":["Marketing spend doubled"],"top_expense_categories":[],"recommendations":["Audit marketing contracts"]}`
	forecastJSON = `{"forecast_period":"","projected_revenue":0,"projected_expenses":0,"projected_cashflow":0,"confidence_level":"","assumptions":["Growth holds"],"risks":["Seasonality"]}`
	kpisJSON     = `{"revenue_growth_pct":0,"profit_margin_pct":0,"average_order_value":0,"observations":["Margins stable"]}`
)

// scriptedStore answers queries by matching fragments of the statement.
type scriptedStore struct {
	mu      sync.Mutex
	queries []string
	answers []struct {
		match string
		rows  []storage.Row
		err   error
	}
}

func (s *scriptedStore) on(match string, rows []storage.Row, err error) {
	s.answers = append(s.answers, struct {
		match string
		rows  []storage.Row
		err   error
	}{match, rows, err})
}

func (s *scriptedStore) RunQuery(ctx context.Context, statement string) ([]storage.Row, error) {
	s.mu.Lock()
	s.queries = append(s.queries, statement)
	s.mu.Unlock()

	for _, a := range s.answers {
		if strings.Contains(statement, a.match) {
			return a.rows, a.err
		}
	}
	return nil, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func healthyStore() *scriptedStore {
	s := &scriptedStore{}
	s.on("total_cogs", []storage.Row{{
		"total_revenue": 10000.0, "total_cogs": 6000.0, "gross_profit": 4000.0,
	}}, nil)
	s.on("total_expenses", []storage.Row{{"total_expenses": 1000.0}}, nil)
	s.on("GROUP BY category", []storage.Row{
		{"category": "logistics", "total_amount": 600.0},
		{"category": "marketing", "total_amount": 400.0},
	}, nil)
	s.on("monthly_revenue", []storage.Row{
		{"month": "2026-08", "monthly_revenue": 10000.0, "order_count": int64(80)},
		{"month": "2026-07", "monthly_revenue": 8000.0, "order_count": int64(70)},
		{"month": "2026-06", "monthly_revenue": 7500.0, "order_count": int64(65)},
	}, nil)
	s.on("avg_order_value", []storage.Row{{"avg_order_value": 125.0}}, nil)
	s.on("CASE WHEN order_date", []storage.Row{
		{"period": "current", "revenue": 10000.0},
		{"period": "prior", "revenue": 8000.0},
	}, nil)
	return s
}

func TestExecutePLReport(t *testing.T) {
	mock := &llm.Mock{Responses: []string{expensesJSON, forecastJSON, kpisJSON}}
	store := healthyStore()

	a, err := New(mock, store, &Options{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	res := a.Execute(context.Background(), agent.Request{Query: "financial summary"})

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if got := res.Metrics["net_profit"]; got != 3000.0 {
		t.Errorf("net_profit = %v, want 3000", got)
	}
	if got := res.Metrics["net_margin_pct"]; got != 30.0 {
		t.Errorf("net_margin_pct = %v, want 30", got)
	}
	// (10000-8000)/8000 = 25% growth
	if got := res.Metrics["revenue_growth_pct"]; got != 25.0 {
		t.Errorf("revenue_growth_pct = %v, want 25", got)
	}
	if got := res.Metrics["forecast_confidence"]; got != "MEDIUM" {
		t.Errorf("forecast_confidence = %v, want MEDIUM", got)
	}
	if got := res.Metrics["total_expenses"]; got != 1000.0 {
		t.Errorf("total_expenses = %v, want 1000", got)
	}
}

func TestExecuteForecastNumbersAreComputed(t *testing.T) {
	mock := &llm.Mock{Responses: []string{expensesJSON, forecastJSON, kpisJSON}}
	store := healthyStore()

	a, err := New(mock, store, &Options{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	res := a.Execute(context.Background(), agent.Request{Query: "cashflow forecast"})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}

	// growth 25%, projected revenue 10000*1.25*3 = 37500,
	// expense ratio (6000+1000)/10000 = 0.7, cashflow 37500*0.3 = 11250
	cashflow, _ := res.Metrics["projected_cashflow"].(float64)
	if cashflow < 11249.9 || cashflow > 11250.1 {
		t.Errorf("projected_cashflow = %v, want 11250", cashflow)
	}
}

func TestExecuteInsufficientHistory(t *testing.T) {
	mock := &llm.Mock{Responses: []string{expensesJSON, forecastJSON, kpisJSON}}
	store := healthyStore()
	// Replace monthly history with a single row.
	for i := range store.answers {
		if store.answers[i].match == "monthly_revenue" {
			store.answers[i].rows = store.answers[i].rows[:1]
		}
	}

	a, err := New(mock, store, &Options{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	res := a.Execute(context.Background(), agent.Request{Query: "forecast"})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if got := res.Metrics["forecast_confidence"]; got != "LOW" {
		t.Errorf("forecast_confidence = %v, want LOW", got)
	}
	if got := res.Metrics["projected_cashflow"]; got != 0.0 {
		t.Errorf("projected_cashflow = %v, want 0", got)
	}
}

func TestExecuteQueryFailure(t *testing.T) {
	mock := &llm.Mock{Responses: []string{expensesJSON, forecastJSON, kpisJSON}}
	store := &scriptedStore{}
	store.on("total_cogs", nil, errors.New("database gone"))

	a, err := New(mock, store, &Options{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	res := a.Execute(context.Background(), agent.Request{Query: "financial summary"})
	if res.Success {
		t.Fatal("expected failure when the P&L query fails")
	}
	if !strings.Contains(res.Error, "database gone") {
		t.Errorf("expected underlying error preserved, got %q", res.Error)
	}
}

func TestCanHandle(t *testing.T) {
	a, err := New(&llm.Mock{}, &scriptedStore{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := a.CanHandle("show me a financial forecast of revenue and profit"); got < 0.4 {
		t.Errorf("expected confident score, got %v", got)
	}
	if got := a.CanHandle("hello"); got != 0.0 {
		t.Errorf("expected 0.0 for unrelated query, got %v", got)
	}
}
