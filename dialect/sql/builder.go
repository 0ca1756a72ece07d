package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/strata/dialect"
)

// Builder is the base query builder for the sql dsl. It collects the
// statement text and its arguments, and renders dialect-specific
// placeholders and identifier quoting.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// Quote quotes the given identifier with the dialect quote character.
func (b *Builder) Quote(ident string) string {
	quote := "`"
	if b.postgres() {
		quote = `"`
	}
	return quote + ident + quote
}

// Ident appends the given string as an identifier. Dotted identifiers
// (table.column) are quoted per part. Strings that are not plain
// identifiers, like "*" or function calls, are written as-is.
func (b *Builder) Ident(s string) *Builder {
	switch {
	case s == "*" || strings.ContainsAny(s, "()' "):
		b.WriteString(s)
	case strings.Contains(s, "."):
		parts := strings.Split(s, ".")
		for i, p := range parts {
			if i > 0 {
				b.WriteByte('.')
			}
			if p == "*" {
				b.WriteString(p)
			} else {
				b.WriteString(b.Quote(p))
			}
		}
	default:
		b.WriteString(b.Quote(s))
	}
	return b
}

// IdentComma calls Ident on all arguments and adds a comma between them.
func (b *Builder) IdentComma(s ...string) *Builder {
	for i := range s {
		if i > 0 {
			b.Comma()
		}
		b.Ident(s[i])
	}
	return b
}

// WriteString appends the given string to the query.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteByte appends the given byte to the query.
func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Arg appends the given argument and writes its placeholder.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.postgres() {
		b.sb.WriteString("$")
		b.sb.WriteString(strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteString("?")
	}
	return b
}

// Args appends a list of arguments, comma separated.
func (b *Builder) Args(vs ...any) *Builder {
	for i := range vs {
		if i > 0 {
			b.Comma()
		}
		b.Arg(vs[i])
	}
	return b
}

// Comma adds a comma to the query.
func (b *Builder) Comma() *Builder {
	return b.WriteString(", ")
}

// Pad adds a space to the query.
func (b *Builder) Pad() *Builder {
	return b.WriteByte(' ')
}

// Nested appends the given function output wrapped in parentheses.
func (b *Builder) Nested(f func(*Builder)) *Builder {
	b.WriteByte('(')
	f(b)
	b.WriteByte(')')
	return b
}

// SetDialect sets the builder dialect. Used for dialect-aware quoting and
// placeholders.
func (b *Builder) SetDialect(dialect string) {
	b.dialect = dialect
}

// Dialect returns the dialect of the builder.
func (b *Builder) Dialect() string {
	return b.dialect
}

func (b *Builder) postgres() bool {
	return b.dialect == dialect.Postgres
}

// String returns the accumulated statement text.
func (b *Builder) String() string {
	return b.sb.String()
}

// DialectBuilder prefixes all root builders with the dialect name.
type DialectBuilder struct {
	dialect string
}

// Dialect creates a new DialectBuilder with the given dialect name.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{name}
}

// Select creates a Selector for the configured dialect.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	s := Select(columns...)
	s.SetDialect(d.dialect)
	return s
}

// Insert creates an InsertBuilder for the configured dialect.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	i := Insert(table)
	i.SetDialect(d.dialect)
	return i
}

// Update creates an UpdateBuilder for the configured dialect.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	u := Update(table)
	u.SetDialect(d.dialect)
	return u
}

// Delete creates a DeleteBuilder for the configured dialect.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	dl := Delete(table)
	dl.SetDialect(d.dialect)
	return dl
}

// Table creates a SelectTable for the configured dialect.
func (d *DialectBuilder) Table(name string) *SelectTable {
	return Table(name)
}

// SelectTable is a table selection with an optional alias.
type SelectTable struct {
	name  string
	alias string
}

// Table returns a new table helper for the given table name.
func Table(name string) *SelectTable {
	return &SelectTable{name: name}
}

// As adds an alias to the table and returns it.
func (t *SelectTable) As(alias string) *SelectTable {
	t.alias = alias
	return t
}

// Name returns the table name.
func (t *SelectTable) Name() string { return t.name }

// Alias returns the table alias, or its name when no alias was set.
func (t *SelectTable) Alias() string {
	if t.alias != "" {
		return t.alias
	}
	return t.name
}

// C returns the table-qualified reference for the given column.
func (t *SelectTable) C(column string) string {
	return t.Alias() + "." + column
}

func (t *SelectTable) render(b *Builder) {
	b.Ident(t.name)
	if t.alias != "" {
		b.WriteString(" AS ")
		b.Ident(t.alias)
	}
}

// Predicate is a where predicate. Its rendering is deferred until the
// containing statement builds its query, so placeholder numbering stays
// consistent across composed predicates.
type Predicate struct {
	fns []func(*Builder)
}

// P creates a new predicate from the given render functions.
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

func (p *Predicate) render(b *Builder) {
	for _, f := range p.fns {
		f(b)
	}
}

// True returns a predicate that matches every row. AND over no operands
// reduces to it.
func True() *Predicate {
	return P(func(b *Builder) {
		b.WriteString("TRUE")
	})
}

// False returns a predicate that matches no row. OR over no operands
// reduces to it.
func False() *Predicate {
	return P(func(b *Builder) {
		b.WriteString("FALSE")
	})
}

// And combines all given predicates with AND between them. No operands
// render TRUE, never an empty group.
func And(preds ...*Predicate) *Predicate {
	if len(preds) == 0 {
		return True()
	}
	return P(func(b *Builder) {
		b.Nested(func(b *Builder) {
			for i, p := range preds {
				if i > 0 {
					b.WriteString(" AND ")
				}
				p.render(b)
			}
		})
	})
}

// Or combines all given predicates with OR between them. No operands
// render FALSE, never an empty group.
func Or(preds ...*Predicate) *Predicate {
	if len(preds) == 0 {
		return False()
	}
	return P(func(b *Builder) {
		b.Nested(func(b *Builder) {
			for i, p := range preds {
				if i > 0 {
					b.WriteString(" OR ")
				}
				p.render(b)
			}
		})
	})
}

// Not wraps the given predicate with NOT.
func Not(p *Predicate) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("NOT ")
		b.Nested(func(b *Builder) {
			p.render(b)
		})
	})
}

// EQ returns a column = value predicate. A nil value renders IS NULL.
func EQ(col string, v any) *Predicate {
	if v == nil {
		return IsNull(col)
	}
	return op(col, " = ", v)
}

// NEQ returns a column <> value predicate. A nil value renders IS NOT NULL.
func NEQ(col string, v any) *Predicate {
	if v == nil {
		return NotNull(col)
	}
	return op(col, " <> ", v)
}

// GT returns a column > value predicate.
func GT(col string, v any) *Predicate { return op(col, " > ", v) }

// GTE returns a column >= value predicate.
func GTE(col string, v any) *Predicate { return op(col, " >= ", v) }

// LT returns a column < value predicate.
func LT(col string, v any) *Predicate { return op(col, " < ", v) }

// LTE returns a column <= value predicate.
func LTE(col string, v any) *Predicate { return op(col, " <= ", v) }

func op(col, operator string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(operator).Arg(v)
	})
}

// ColumnsEQ returns a column = column predicate, used for join conditions.
func ColumnsEQ(col1, col2 string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col1).WriteString(" = ").Ident(col2)
	})
}

// In returns a column IN (values...) predicate. An empty value list renders
// FALSE, matching no rows.
func In(col string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("FALSE")
			return
		}
		b.Ident(col).WriteString(" IN ")
		b.Nested(func(b *Builder) {
			b.Args(vs...)
		})
	})
}

// NotIn returns a column NOT IN (values...) predicate. An empty value list
// renders TRUE, matching every row.
func NotIn(col string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("TRUE")
			return
		}
		b.Ident(col).WriteString(" NOT IN ")
		b.Nested(func(b *Builder) {
			b.Args(vs...)
		})
	})
}

// Between returns a column BETWEEN low AND high predicate.
func Between(col string, low, high any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" BETWEEN ").Arg(low).WriteString(" AND ").Arg(high)
	})
}

// NotBetween returns a column NOT BETWEEN low AND high predicate.
func NotBetween(col string, low, high any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" NOT BETWEEN ").Arg(low).WriteString(" AND ").Arg(high)
	})
}

// IsNull returns a column IS NULL predicate.
func IsNull(col string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" IS NULL")
	})
}

// NotNull returns a column IS NOT NULL predicate.
func NotNull(col string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" IS NOT NULL")
	})
}

// Like returns a column LIKE pattern predicate.
func Like(col, pattern string) *Predicate {
	return op(col, " LIKE ", pattern)
}

// NotLike returns a column NOT LIKE pattern predicate.
func NotLike(col, pattern string) *Predicate {
	return op(col, " NOT LIKE ", pattern)
}

// Contains returns a LIKE predicate matching the substring anywhere in the
// column value.
func Contains(col, sub string) *Predicate {
	return Like(col, "%"+sub+"%")
}

// NotContains is the negation of Contains.
func NotContains(col, sub string) *Predicate {
	return NotLike(col, "%"+sub+"%")
}

// HasPrefix returns a LIKE predicate matching a column prefix.
func HasPrefix(col, prefix string) *Predicate {
	return Like(col, prefix+"%")
}

// NotHasPrefix is the negation of HasPrefix.
func NotHasPrefix(col, prefix string) *Predicate {
	return NotLike(col, prefix+"%")
}

// HasSuffix returns a LIKE predicate matching a column suffix.
func HasSuffix(col, suffix string) *Predicate {
	return Like(col, "%"+suffix)
}

// NotHasSuffix is the negation of HasSuffix.
func NotHasSuffix(col, suffix string) *Predicate {
	return NotLike(col, "%"+suffix)
}

// Desc marks the given order column as descending.
func Desc(col string) string {
	return col + " DESC"
}

// As renders the given expression with an alias. Used for select columns.
func As(col, alias string) string {
	return col + " AS " + alias
}

type (
	// Selector builds a SELECT statement.
	Selector struct {
		Builder
		from     *SelectTable
		columns  []string
		joins    []joinClause
		where    *Predicate
		order    []string
		group    []string
		distinct bool
		limit    *int
		offset   *int
	}

	joinClause struct {
		kind  string
		table *SelectTable
		on    *Predicate
	}
)

// Select returns a new selector for the given columns.
func Select(columns ...string) *Selector {
	return (&Selector{}).Select(columns...)
}

// Select changes the columns selection of the selector.
func (s *Selector) Select(columns ...string) *Selector {
	s.columns = columns
	return s
}

// AppendSelect appends additional columns to the selection.
func (s *Selector) AppendSelect(columns ...string) *Selector {
	s.columns = append(s.columns, columns...)
	return s
}

// SelectedColumns returns the current column selection.
func (s *Selector) SelectedColumns() []string {
	return append([]string(nil), s.columns...)
}

// From sets the source table of the selection.
func (s *Selector) From(t *SelectTable) *Selector {
	s.from = t
	return s
}

// FromTable returns the selector source table.
func (s *Selector) FromTable() *SelectTable {
	return s.from
}

// Distinct marks the selection as distinct.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// Where sets or appends (with AND) the given predicate.
func (s *Selector) Where(p *Predicate) *Selector {
	if p == nil {
		return s
	}
	if s.where != nil {
		s.where = And(s.where, p)
	} else {
		s.where = p
	}
	return s
}

// P returns the predicate of the selector.
func (s *Selector) P() *Predicate {
	return s.where
}

// Join appends an INNER JOIN to the statement, joined with On.
func (s *Selector) Join(t *SelectTable) *Selector {
	return s.join("JOIN", t)
}

// LeftJoin appends a LEFT JOIN to the statement, joined with On.
func (s *Selector) LeftJoin(t *SelectTable) *Selector {
	return s.join("LEFT JOIN", t)
}

func (s *Selector) join(kind string, t *SelectTable) *Selector {
	s.joins = append(s.joins, joinClause{kind: kind, table: t})
	return s
}

// On sets the join condition of the last join to col1 = col2.
func (s *Selector) On(col1, col2 string) *Selector {
	return s.OnP(ColumnsEQ(col1, col2))
}

// OnP sets the join condition of the last join to the given predicate.
func (s *Selector) OnP(p *Predicate) *Selector {
	if len(s.joins) > 0 {
		j := &s.joins[len(s.joins)-1]
		if j.on != nil {
			j.on = And(j.on, p)
		} else {
			j.on = p
		}
	}
	return s
}

// JoinedTable reports whether the given table name or alias was already
// joined to the statement.
func (s *Selector) JoinedTable(name string) bool {
	for _, j := range s.joins {
		if j.table.Name() == name || j.table.Alias() == name {
			return true
		}
	}
	return false
}

// OrderBy appends order columns to the statement. Use Desc to mark an
// entry descending.
func (s *Selector) OrderBy(columns ...string) *Selector {
	s.order = append(s.order, columns...)
	return s
}

// GroupBy appends group columns to the statement.
func (s *Selector) GroupBy(columns ...string) *Selector {
	s.group = append(s.group, columns...)
	return s
}

// Limit adds a LIMIT clause to the statement.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset adds an OFFSET clause to the statement.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// C returns the source-table-qualified reference for the given column.
func (s *Selector) C(column string) string {
	if s.from != nil {
		return s.from.C(column)
	}
	return column
}

// Query returns statement text and arguments.
func (s *Selector) Query() (string, []any) {
	b := &Builder{dialect: s.dialect}
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.WriteString("*")
	} else {
		for i, c := range s.columns {
			if i > 0 {
				b.Comma()
			}
			s.renderColumn(b, c)
		}
	}
	b.WriteString(" FROM ")
	s.from.render(b)
	for _, j := range s.joins {
		b.Pad().WriteString(j.kind).Pad()
		j.table.render(b)
		if j.on != nil {
			b.WriteString(" ON ")
			j.on.render(b)
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.render(b)
	}
	if len(s.group) > 0 {
		b.WriteString(" GROUP BY ")
		b.IdentComma(s.group...)
	}
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, c := range s.order {
			if i > 0 {
				b.Comma()
			}
			s.renderOrder(b, c)
		}
	}
	if s.limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(*s.offset))
	}
	return b.String(), b.args
}

// renderColumn writes one select-list entry, handling "expr AS alias".
func (s *Selector) renderColumn(b *Builder, c string) {
	if expr, alias, ok := strings.Cut(c, " AS "); ok {
		b.Ident(expr).WriteString(" AS ").Ident(alias)
		return
	}
	b.Ident(c)
}

// renderOrder writes one order-list entry, handling the " DESC" suffix.
func (s *Selector) renderOrder(b *Builder, c string) {
	if col, ok := strings.CutSuffix(c, " DESC"); ok {
		b.Ident(col).WriteString(" DESC")
		return
	}
	b.Ident(c)
}

// InsertBuilder builds an INSERT statement.
type InsertBuilder struct {
	Builder
	table     string
	columns   []string
	values    [][]any
	returning []string
	defaults  bool
}

// Insert creates a builder for the INSERT statement.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Columns sets the columns of the insert statement.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = columns
	return i
}

// Values appends one row of values to the statement.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Default sets the default values clause, for rows with no provided values.
func (i *InsertBuilder) Default() *InsertBuilder {
	i.defaults = true
	return i
}

// Returning adds a RETURNING clause to the insert statement.
// Supported by PostgreSQL and SQLite.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// SupportsReturning reports whether the active dialect can return the
// inserted row natively.
func (i *InsertBuilder) SupportsReturning() bool {
	return i.dialect == dialect.Postgres || i.dialect == dialect.SQLite
}

// Query returns statement text and arguments.
func (i *InsertBuilder) Query() (string, []any) {
	b := &Builder{dialect: i.dialect}
	b.WriteString("INSERT INTO ")
	b.Ident(i.table)
	if i.defaults && len(i.columns) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		b.WriteByte(' ')
		b.Nested(func(b *Builder) {
			b.IdentComma(i.columns...)
		})
		b.WriteString(" VALUES ")
		for j, row := range i.values {
			if j > 0 {
				b.Comma()
			}
			b.Nested(func(b *Builder) {
				b.Args(row...)
			})
		}
	}
	if len(i.returning) > 0 && i.SupportsReturning() {
		b.WriteString(" RETURNING ")
		b.IdentComma(i.returning...)
	}
	return b.String(), b.args
}

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	Builder
	table   string
	columns []string
	values  []any
	where   *Predicate
}

// Update creates a builder for the UPDATE statement.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set sets a column to the given value.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, v)
	return u
}

// Where sets or appends (with AND) the given predicate.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if p == nil {
		return u
	}
	if u.where != nil {
		u.where = And(u.where, p)
	} else {
		u.where = p
	}
	return u
}

// Empty reports whether the update has no assignments.
func (u *UpdateBuilder) Empty() bool {
	return len(u.columns) == 0
}

// Query returns statement text and arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	b := &Builder{dialect: u.dialect}
	b.WriteString("UPDATE ")
	b.Ident(u.table)
	b.WriteString(" SET ")
	for j, c := range u.columns {
		if j > 0 {
			b.Comma()
		}
		b.Ident(c).WriteString(" = ")
		if u.values[j] == nil {
			b.WriteString("NULL")
		} else {
			b.Arg(u.values[j])
		}
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.render(b)
	}
	return b.String(), b.args
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	Builder
	table string
	where *Predicate
}

// Delete creates a builder for the DELETE statement.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where sets or appends (with AND) the given predicate.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if p == nil {
		return d
	}
	if d.where != nil {
		d.where = And(d.where, p)
	} else {
		d.where = p
	}
	return d
}

// Query returns statement text and arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	b := &Builder{dialect: d.dialect}
	b.WriteString("DELETE FROM ")
	b.Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.render(b)
	}
	return b.String(), b.args
}
