// Package store is the record store behind the repositories: filtered select,
// insert, update and delete over named tables, reporting affected-row counts.
//
// Two backends implement Store: Postgres (pgxpool) and Memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateKey is returned (wrapped in *OpError) when an insert or update
// violates a unique index. Callers racing on entity creation treat it as a
// signal to re-read.
var ErrDuplicateKey = errors.New("duplicate key")

// OpError carries the failing operation and table.
type OpError struct {
	Op    string
	Table string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Store is the table-oriented record store.
type Store interface {
	Select(ctx context.Context, q *Query) ([]Row, error)
	Count(ctx context.Context, q *Query) (int64, error)
	// Insert returns the surrogate id of the new row.
	Insert(ctx context.Context, table string, values Row) (int64, error)
	Update(ctx context.Context, q *Query, values Row) (int64, error)
	Delete(ctx context.Context, q *Query) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Migrator is implemented by backends that accept DDL.
type Migrator interface {
	Exec(ctx context.Context, sql string) error
}

// Row is one record keyed by column name. Joined columns appear under their
// alias.
type Row map[string]any

// Int64 returns the integer value of col, or 0.
func (r Row) Int64(col string) int64 {
	v, _ := toInt64(r[col])
	return v
}

// Int64Ptr returns nil for NULL.
func (r Row) Int64Ptr(col string) *int64 {
	v, ok := toInt64(r[col])
	if !ok {
		return nil
	}
	return &v
}

func (r Row) Bool(col string) bool {
	b, _ := r[col].(bool)
	return b
}

func (r Row) String(col string) string {
	s, _ := r[col].(string)
	return s
}

func (r Row) Time(col string) time.Time {
	t, _ := r[col].(time.Time)
	return t
}

// TimePtr returns nil for NULL.
func (r Row) TimePtr(col string) *time.Time {
	t, ok := r[col].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

// Has reports whether col is present and not NULL.
func (r Row) Has(col string) bool {
	v, ok := r[col]
	return ok && v != nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case *int64:
		if n == nil {
			return 0, false
		}
		return *n, true
	}
	return 0, false
}
