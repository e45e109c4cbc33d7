package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Index declares a unique index for the Memory backend. Rows with a NULL in
// any indexed column never conflict, as in Postgres.
type Index struct {
	Table   string
	Columns []string
}

type memTable struct {
	seq  int64
	rows []Row
}

// Memory is an in-process Store. It enforces unique indexes and is safe for
// concurrent use, which makes it suitable for development runs and tests.
type Memory struct {
	mu      sync.Mutex
	tables  map[string]*memTable
	indexes map[string][][]string
	writes  int64
}

func NewMemory(indexes ...Index) *Memory {
	m := &Memory{
		tables:  make(map[string]*memTable),
		indexes: make(map[string][][]string),
	}
	for _, idx := range indexes {
		m.indexes[idx.Table] = append(m.indexes[idx.Table], idx.Columns)
	}
	return m
}

// Writes returns the number of rows inserted, updated or deleted so far.
func (m *Memory) Writes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) table(name string) *memTable {
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{}
		m.tables[name] = t
	}
	return t
}

func (m *Memory) Select(ctx context.Context, q *Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, &OpError{Op: "select", Table: q.Table, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Row
	for _, r := range m.table(q.Table).rows {
		if !matches(r, q.Conds) {
			continue
		}
		row := copyRow(r)
		for _, j := range q.Joins {
			joined := m.findJoined(j, r[j.Local])
			for _, c := range j.Columns {
				if joined == nil {
					row[c.alias()] = nil
					continue
				}
				row[c.alias()] = joined[c.Name]
			}
		}
		out = append(out, row)
	}

	if len(q.Orders) > 0 {
		sort.SliceStable(out, func(a, b int) bool {
			for _, o := range q.Orders {
				c := compare(out[a][o.Col], out[b][o.Col])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) findJoined(j Join, local any) Row {
	if local == nil {
		return nil
	}
	for _, r := range m.table(j.Table).rows {
		if compare(r[j.Foreign], local) == 0 && r[j.Foreign] != nil {
			return r
		}
	}
	return nil
}

func (m *Memory) Count(ctx context.Context, q *Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &OpError{Op: "count", Table: q.Table, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, r := range m.table(q.Table).rows {
		if matches(r, q.Conds) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Insert(ctx context.Context, table string, values Row) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &OpError{Op: "insert", Table: table, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	row := copyRow(values)
	if err := m.checkUnique(table, row, -1); err != nil {
		return 0, &OpError{Op: "insert", Table: table, Err: err}
	}
	t.seq++
	row["id"] = t.seq
	t.rows = append(t.rows, row)
	m.writes++
	return t.seq, nil
}

func (m *Memory) Update(ctx context.Context, q *Query, values Row) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &OpError{Op: "update", Table: q.Table, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(q.Table)
	var targets []int
	for i, r := range t.rows {
		if matches(r, q.Conds) {
			targets = append(targets, i)
		}
	}
	for _, i := range targets {
		next := copyRow(t.rows[i])
		for k, v := range values {
			next[k] = normalize(v)
		}
		if err := m.checkUnique(q.Table, next, i); err != nil {
			return 0, &OpError{Op: "update", Table: q.Table, Err: err}
		}
	}
	for _, i := range targets {
		for k, v := range values {
			t.rows[i][k] = normalize(v)
		}
	}
	m.writes += int64(len(targets))
	return int64(len(targets)), nil
}

func (m *Memory) Delete(ctx context.Context, q *Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &OpError{Op: "delete", Table: q.Table, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(q.Table)
	kept := t.rows[:0]
	var n int64
	for _, r := range t.rows {
		if matches(r, q.Conds) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.rows = kept
	m.writes += n
	return n, nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() {}

// checkUnique validates row against every unique index, skipping the row at
// position self.
func (m *Memory) checkUnique(table string, row Row, self int) error {
	for _, cols := range m.indexes[table] {
		if !allSet(row, cols) {
			continue
		}
		for i, other := range m.table(table).rows {
			if i == self {
				continue
			}
			same := true
			for _, c := range cols {
				if compare(row[c], other[c]) != 0 {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("%w: %s%v", ErrDuplicateKey, table, cols)
			}
		}
	}
	return nil
}

func allSet(row Row, cols []string) bool {
	for _, c := range cols {
		if row[c] == nil {
			return false
		}
	}
	return true
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = normalize(v)
	}
	return out
}

// normalize folds integer kinds to int64 and dereferences pointers so that
// stored values compare uniformly.
func normalize(v any) any {
	switch x := v.(type) {
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	}
	if n, ok := toInt64(v); ok {
		return n
	}
	return v
}

func matches(r Row, conds []Cond) bool {
	for _, c := range conds {
		v := r[c.Col]
		switch c.Op {
		case OpIsNull:
			if v != nil {
				return false
			}
		case OpNotNull:
			if v == nil {
				return false
			}
		case OpIn:
			vals, _ := c.Val.([]any)
			found := false
			for _, want := range vals {
				if v != nil && compare(v, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if v == nil || c.Val == nil {
				return false
			}
			cmp := compare(v, c.Val)
			ok := false
			switch c.Op {
			case OpEq:
				ok = cmp == 0
			case OpNe:
				ok = cmp != 0
			case OpLt:
				ok = cmp < 0
			case OpLte:
				ok = cmp <= 0
			case OpGt:
				ok = cmp > 0
			case OpGte:
				ok = cmp >= 0
			}
			if !ok {
				return false
			}
		}
	}
	return true
}

// compare orders two stored values; NULL sorts first and values of
// different kinds compare unequal.
func compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 1
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		y, ok := b.(string)
		if !ok {
			return 1
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 1
		}
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 1
		}
		return x.Compare(y)
	}
	return 1
}
