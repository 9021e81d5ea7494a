// Package storage provides the small set of storage interfaces shared by the
// engine's postgres-backed and in-memory stores.
package storage

import (
	"context"
	"database/sql"
)

// Querier abstracts database query execution so callers can be handed either
// a *sql.DB or an in-flight *sql.Tx without caring which.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Scanner abstracts row scanning for database results.
type Scanner interface {
	Scan(dest ...any) error
}

// TxStore provides transaction support for stores.
type TxStore interface {
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pagination holds pagination parameters for role/status listings.
type Pagination struct {
	Limit  int
	Offset int
}

// DefaultPagination returns the engine's default page size.
func DefaultPagination() Pagination {
	return Pagination{Limit: 50, Offset: 0}
}

// Normalize clamps pagination values to sane, bounded defaults.
func (p Pagination) Normalize(maxLimit int) Pagination {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
