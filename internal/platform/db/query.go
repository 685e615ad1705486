package db

import (
	"fmt"
	"strings"
)

// SearchQuery accumulates AND-ed filters for a list endpoint and renders the
// matching count and page queries with positional arguments.
type SearchQuery struct {
	from    string
	cols    string
	where   []string
	args    []interface{}
	orderBy string
}

// NewSearchQuery starts a query over from, which may include joins.
func NewSearchQuery(from, cols string) *SearchQuery {
	return &SearchQuery{from: from, cols: cols}
}

// Add appends a clause. Each "?" in clause is replaced by the next
// positional parameter.
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	var b strings.Builder
	n := 0
	for _, r := range clause {
		if r == '?' && n < len(args) {
			q.args = append(q.args, args[n])
			fmt.Fprintf(&b, "$%d", len(q.args))
			n++
			continue
		}
		b.WriteRune(r)
	}
	q.where = append(q.where, b.String())
}

// Eq adds column = value.
func (q *SearchQuery) Eq(column string, value interface{}) {
	q.Add(column+" = ?", value)
}

// Contains adds a case-insensitive substring match.
func (q *SearchQuery) Contains(column, value string) {
	q.Add(column+" ILIKE ?", "%"+escapeLike(value)+"%")
}

func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *SearchQuery) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

// Where returns the WHERE clause, empty when no filter was added, and its
// arguments.
func (q *SearchQuery) Where() (string, []interface{}) {
	return q.whereSQL(), q.args
}

func (q *SearchQuery) CountSQL() string {
	return "SELECT COUNT(*) FROM " + q.from + q.whereSQL()
}

func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

func (q *SearchQuery) DataSQL() string {
	sql := "SELECT " + q.cols + " FROM " + q.from + q.whereSQL()
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(q.args)+1, len(q.args)+2)
}

func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
