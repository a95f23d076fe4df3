package database

import (
	"fmt"
	"strings"
)

type FilterOp string

const (
	OpEq     FilterOp = "eq"
	OpNe     FilterOp = "ne"
	OpGt     FilterOp = "gt"
	OpGte    FilterOp = "gte"
	OpLt     FilterOp = "lt"
	OpLte    FilterOp = "lte"
	OpIn     FilterOp = "in"
	OpIsNull FilterOp = "is_null"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

type Sort struct {
	Field string
	Order SortOrder
}

// QueryBuilder assembles parameterised SELECT statements. Field and table
// names are trusted; only values are bound as arguments.
type QueryBuilder struct {
	table   string
	selects []string
	filters []*Filter
	sorts   []*Sort
	limit   int
	offset  int
}

func NewQuery(table string) *QueryBuilder {
	return &QueryBuilder{
		table:   table,
		selects: []string{"*"},
	}
}

func (q *QueryBuilder) Select(fields ...string) *QueryBuilder {
	q.selects = fields
	return q
}

func (q *QueryBuilder) Filter(field string, op FilterOp, value any) *QueryBuilder {
	q.filters = append(q.filters, &Filter{Field: field, Op: op, Value: value})
	return q
}

func (q *QueryBuilder) Where(field string, value any) *QueryBuilder {
	return q.Filter(field, OpEq, value)
}

func (q *QueryBuilder) Sort(field string, order SortOrder) *QueryBuilder {
	q.sorts = append(q.sorts, &Sort{Field: field, Order: order})
	return q
}

func (q *QueryBuilder) OrderBy(field string) *QueryBuilder {
	return q.Sort(field, SortAsc)
}

func (q *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return q.Sort(field, SortDesc)
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

func (q *QueryBuilder) Build() (string, []any) {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(q.selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(q.table)

	args := q.writeWhere(&sb)

	if len(q.sorts) > 0 {
		sb.WriteString(" ORDER BY ")
		sortClauses := make([]string, 0, len(q.sorts))
		for _, s := range q.sorts {
			sortClauses = append(sortClauses, fmt.Sprintf("%s %s", s.Field, s.Order))
		}
		sb.WriteString(strings.Join(sortClauses, ", "))
	}

	if q.limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.limit))
	}

	if q.offset > 0 {
		if q.limit <= 0 {
			// SQLite requires LIMIT before OFFSET
			sb.WriteString(" LIMIT -1")
		}
		sb.WriteString(fmt.Sprintf(" OFFSET %d", q.offset))
	}

	return sb.String(), args
}

func (q *QueryBuilder) BuildCount() (string, []any) {
	var sb strings.Builder

	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(q.table)

	args := q.writeWhere(&sb)

	return sb.String(), args
}

func (q *QueryBuilder) writeWhere(sb *strings.Builder) []any {
	if len(q.filters) == 0 {
		return nil
	}

	var args []any
	conditions := make([]string, 0, len(q.filters))
	for _, f := range q.filters {
		cond, fargs := buildFilter(f)
		conditions = append(conditions, cond)
		args = append(args, fargs...)
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(conditions, " AND "))
	return args
}

func buildFilter(f *Filter) (string, []any) {
	switch f.Op {
	case OpEq:
		return fmt.Sprintf("%s = ?", f.Field), []any{f.Value}
	case OpNe:
		return fmt.Sprintf("%s != ?", f.Field), []any{f.Value}
	case OpGt:
		return fmt.Sprintf("%s > ?", f.Field), []any{f.Value}
	case OpGte:
		return fmt.Sprintf("%s >= ?", f.Field), []any{f.Value}
	case OpLt:
		return fmt.Sprintf("%s < ?", f.Field), []any{f.Value}
	case OpLte:
		return fmt.Sprintf("%s <= ?", f.Field), []any{f.Value}
	case OpIn:
		values, ok := f.Value.([]any)
		if !ok || len(values) == 0 {
			return fmt.Sprintf("%s = ?", f.Field), []any{f.Value}
		}
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = "?"
		}
		return fmt.Sprintf("%s IN (%s)", f.Field, strings.Join(placeholders, ", ")), values
	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", f.Field), nil
	default:
		return fmt.Sprintf("%s = ?", f.Field), []any{f.Value}
	}
}
