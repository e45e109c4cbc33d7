package store

// Op is a comparison operator in a filter condition.
type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "<>"
	OpLt      Op = "<"
	OpLte     Op = "<="
	OpGt      Op = ">"
	OpGte     Op = ">="
	OpIn      Op = "IN"
	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// Cond filters on a column of the query's main table.
type Cond struct {
	Col string
	Op  Op
	Val any
}

// Column selects a joined column, optionally renamed.
type Column struct {
	Name  string
	Alias string
}

func (c Column) alias() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// Col selects name from a joined table under its own name.
func Col(name string) Column { return Column{Name: name} }

// As selects name from a joined table as alias.
func As(name, alias string) Column { return Column{Name: name, Alias: alias} }

// Join is a LEFT JOIN of Table on Table.Foreign = main.Local.
type Join struct {
	Table   string
	Local   string
	Foreign string
	Columns []Column
}

// Order sorts by a main-table column.
type Order struct {
	Col  string
	Desc bool
}

// Query is a fluent description of a filtered, sorted, paginated read, and
// the row selector for Update/Delete (which ignore joins, order and paging).
type Query struct {
	Table  string
	Conds  []Cond
	Joins  []Join
	Orders []Order
	Limit  int
	Offset int
}

// From starts a query on table.
func From(table string) *Query {
	return &Query{Table: table}
}

func (q *Query) Where(col string, op Op, val any) *Query {
	q.Conds = append(q.Conds, Cond{Col: col, Op: op, Val: val})
	return q
}

func (q *Query) Eq(col string, val any) *Query { return q.Where(col, OpEq, val) }

func (q *Query) Lt(col string, val any) *Query { return q.Where(col, OpLt, val) }

func (q *Query) IsNull(col string) *Query { return q.Where(col, OpIsNull, nil) }

func (q *Query) NotNull(col string) *Query { return q.Where(col, OpNotNull, nil) }

// In matches any of vals. An empty list matches nothing.
func (q *Query) In(col string, vals ...any) *Query {
	return q.Where(col, OpIn, vals)
}

// LeftJoin adds the columns of table where table.foreign = main.local.
func (q *Query) LeftJoin(table, local, foreign string, cols ...Column) *Query {
	q.Joins = append(q.Joins, Join{Table: table, Local: local, Foreign: foreign, Columns: cols})
	return q
}

func (q *Query) OrderBy(col string, desc bool) *Query {
	q.Orders = append(q.Orders, Order{Col: col, Desc: desc})
	return q
}

// Take limits the result to n rows.
func (q *Query) Take(n int) *Query {
	q.Limit = n
	return q
}

// Skip drops the first n rows.
func (q *Query) Skip(n int) *Query {
	q.Offset = n
	return q
}
