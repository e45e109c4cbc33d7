package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation = "23505"
	defaultPingEvery  = 5 * time.Second
)

// Postgres is the pgxpool-backed Store. The pool is shared by request
// handlers and sweepers; before a query it is pinged (at most every
// pingEvery) and rebuilt when the ping fails.
type Postgres struct {
	dsn       string
	pingEvery time.Duration

	mu       sync.Mutex
	pool     *pgxpool.Pool
	lastPing time.Time
}

// NewPostgres connects and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: postgres dsn is required")
	}
	p := &Postgres{dsn: dsn, pingEvery: defaultPingEvery}
	pool, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	p.lastPing = time.Now()
	return p, nil
}

func (p *Postgres) dial(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return pool, nil
}

// conn returns a live pool, reconnecting after a failed ping.
func (p *Postgres) conn(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil && time.Since(p.lastPing) < p.pingEvery {
		return p.pool, nil
	}
	if p.pool != nil {
		err := p.pool.Ping(ctx)
		if err == nil {
			p.lastPing = time.Now()
			return p.pool, nil
		}
		slog.Warn("store: postgres ping failed, reconnecting", "error", err)
	}

	pool, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	if p.pool != nil {
		p.pool.Close()
	}
	p.pool = pool
	p.lastPing = time.Now()
	slog.Info("store: postgres reconnected")
	return pool, nil
}

func (p *Postgres) Select(ctx context.Context, q *Query) ([]Row, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return nil, &OpError{Op: "select", Table: q.Table, Err: err}
	}
	sql, args := buildSelect(q)
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapPgErr("select", q.Table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, wrapPgErr("select", q.Table, err)
	}
	out := make([]Row, 0, len(maps))
	for _, m := range maps {
		out = append(out, Row(m))
	}
	return out, nil
}

func (p *Postgres) Count(ctx context.Context, q *Query) (int64, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return 0, &OpError{Op: "count", Table: q.Table, Err: err}
	}
	sql, args := buildCount(q)
	var n int64
	if err := pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, wrapPgErr("count", q.Table, err)
	}
	return n, nil
}

func (p *Postgres) Insert(ctx context.Context, table string, values Row) (int64, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return 0, &OpError{Op: "insert", Table: table, Err: err}
	}
	sql, args := buildInsert(table, values)
	var id int64
	if err := pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, wrapPgErr("insert", table, err)
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, q *Query, values Row) (int64, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return 0, &OpError{Op: "update", Table: q.Table, Err: err}
	}
	sql, args := buildUpdate(q, values)
	tag, err := pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, wrapPgErr("update", q.Table, err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Delete(ctx context.Context, q *Query) (int64, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return 0, &OpError{Op: "delete", Table: q.Table, Err: err}
	}
	sql, args := buildDelete(q)
	tag, err := pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, wrapPgErr("delete", q.Table, err)
	}
	return tag.RowsAffected(), nil
}

// Exec runs DDL for migrations.
func (p *Postgres) Exec(ctx context.Context, sql string) error {
	pool, err := p.conn(ctx)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, sql)
	return err
}

func (p *Postgres) Ping(ctx context.Context) error {
	pool, err := p.conn(ctx)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}

func wrapPgErr(op, table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &OpError{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)}
	}
	return &OpError{Op: op, Table: table, Err: err}
}

// ========================================
// SQL builders
// ========================================

// params numbers placeholders ($1, $2, ...) across one statement.
type params struct {
	args []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return fmt.Sprintf("$%d", len(p.args))
}

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func whereClause(q *Query, p *params) string {
	if len(q.Conds) == 0 {
		return ""
	}
	parts := make([]string, 0, len(q.Conds))
	for _, c := range q.Conds {
		col := ident(q.Table, c.Col)
		switch c.Op {
		case OpIsNull, OpNotNull:
			parts = append(parts, col+" "+string(c.Op))
		case OpIn:
			vals, _ := c.Val.([]any)
			if len(vals) == 0 {
				parts = append(parts, "FALSE")
				continue
			}
			holders := make([]string, 0, len(vals))
			for _, v := range vals {
				holders = append(holders, p.add(v))
			}
			parts = append(parts, col+" IN ("+strings.Join(holders, ", ")+")")
		default:
			parts = append(parts, col+" "+string(c.Op)+" "+p.add(c.Val))
		}
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

func buildSelect(q *Query) (string, []any) {
	var p params
	cols := []string{ident(q.Table) + ".*"}
	var joins strings.Builder
	for _, j := range q.Joins {
		for _, c := range j.Columns {
			cols = append(cols, ident(j.Table, c.Name)+" AS "+ident(c.alias()))
		}
		fmt.Fprintf(&joins, " LEFT JOIN %s ON %s = %s",
			ident(j.Table), ident(j.Table, j.Foreign), ident(q.Table, j.Local))
	}

	sql := "SELECT " + strings.Join(cols, ", ") + " FROM " + ident(q.Table) + joins.String()
	sql += whereClause(q, &p)
	if len(q.Orders) > 0 {
		orders := make([]string, 0, len(q.Orders))
		for _, o := range q.Orders {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			orders = append(orders, ident(q.Table, o.Col)+" "+dir)
		}
		sql += " ORDER BY " + strings.Join(orders, ", ")
	}
	if q.Limit > 0 {
		sql += " LIMIT " + p.add(q.Limit)
	}
	if q.Offset > 0 {
		sql += " OFFSET " + p.add(q.Offset)
	}
	return sql, p.args
}

func buildCount(q *Query) (string, []any) {
	var p params
	sql := "SELECT COUNT(*) FROM " + ident(q.Table) + whereClause(q, &p)
	return sql, p.args
}

func sortedKeys(values Row) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildInsert(table string, values Row) (string, []any) {
	var p params
	keys := sortedKeys(values)
	cols := make([]string, 0, len(keys))
	holders := make([]string, 0, len(keys))
	for _, k := range keys {
		cols = append(cols, ident(k))
		holders = append(holders, p.add(values[k]))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		ident(table), strings.Join(cols, ", "), strings.Join(holders, ", "), ident("id"))
	return sql, p.args
}

func buildUpdate(q *Query, values Row) (string, []any) {
	var p params
	keys := sortedKeys(values)
	sets := make([]string, 0, len(keys))
	for _, k := range keys {
		sets = append(sets, ident(k)+" = "+p.add(values[k]))
	}
	sql := "UPDATE " + ident(q.Table) + " SET " + strings.Join(sets, ", ")
	sql += whereClause(q, &p)
	return sql, p.args
}

func buildDelete(q *Query) (string, []any) {
	var p params
	sql := "DELETE FROM " + ident(q.Table) + whereClause(q, &p)
	return sql, p.args
}
