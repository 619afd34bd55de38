// Package storage provides the data collaborators agents query: a
// relational store for analytical SQL and an optional semantic index.
// The orchestration engine never manages these itself; failures propagate
// into workflow state like any other step failure.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("store is closed")

// Row is one result record, keyed by column name.
type Row map[string]interface{}

// QueryStore runs read-only analytical SQL for data-gathering nodes.
//
// Implementations must be safe for concurrent use: the supervisor's
// parallel mode hands the same store to several agents at once and does
// not serialize access.
type QueryStore interface {
	// RunQuery executes the statement and returns all rows.
	RunQuery(ctx context.Context, statement string) ([]Row, error)
}

// Match is one semantic search hit.
type Match struct {
	ID    string
	Score float64
}

// SemanticIndex is the optional vector-search collaborator. Agents run
// fine without one; no engine control flow depends on its presence.
type SemanticIndex interface {
	// Search returns up to k matches for the text, best first.
	Search(ctx context.Context, text string, k int) ([]Match, error)
}
