package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed QueryStore.
//
// Designed for development, testing, and single-process deployments:
// a single file (or ":memory:") with zero setup. WAL mode keeps
// concurrent agent reads from blocking each other.
//
// Example:
//
//	store, err := storage.NewSQLiteStore("./omnisupply.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) the database at path.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the analytical schema the agents query: orders,
// shipments, inventory, and financial_transactions. Idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			order_date TIMESTAMP NOT NULL,
			category TEXT NOT NULL,
			product_id TEXT NOT NULL,
			sale_price REAL NOT NULL,
			profit REAL NOT NULL,
			quantity INTEGER NOT NULL,
			discount_percent REAL NOT NULL DEFAULT 0,
			is_returned INTEGER NOT NULL DEFAULT 0,
			segment TEXT,
			region TEXT,
			state TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS shipments (
			shipment_id TEXT PRIMARY KEY,
			carrier TEXT NOT NULL,
			shipment_date TIMESTAMP NOT NULL,
			expected_delivery TIMESTAMP NOT NULL,
			actual_delivery TIMESTAMP,
			status TEXT NOT NULL,
			origin_location TEXT,
			destination_location TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			sku TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			stock_quantity INTEGER NOT NULL,
			reorder_level INTEGER NOT NULL,
			warehouse_location TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS financial_transactions (
			transaction_id TEXT PRIMARY KEY,
			transaction_date TIMESTAMP NOT NULL,
			transaction_type TEXT NOT NULL,
			category TEXT NOT NULL,
			amount REAL NOT NULL,
			payment_status TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_orders_date ON orders(order_date)",
		"CREATE INDEX IF NOT EXISTS idx_orders_category ON orders(category)",
		"CREATE INDEX IF NOT EXISTS idx_shipments_carrier ON shipments(carrier)",
		"CREATE INDEX IF NOT EXISTS idx_tx_date ON financial_transactions(transaction_date)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Exec runs a statement without returning rows. Intended for test
// fixtures and data loading, not for agents.
func (s *SQLiteStore) Exec(ctx context.Context, statement string, args ...interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, statement, args...)
	return err
}

// RunQuery implements QueryStore.
func (s *SQLiteStore) RunQuery(ctx context.Context, statement string) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return scanRows(ctx, s.db, statement)
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanRows runs a query and materializes every row as a column-keyed map.
// Shared by the SQLite and MySQL stores.
func scanRows(ctx context.Context, db *sql.DB, statement string) ([]Row, error) {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			v := values[i]
			// Drivers return TEXT columns as []byte; strings are nicer
			// for prompt building and JSON encoding.
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
