// Package query compiles structured filter expressions and dot-notation
// column selections into joined SQL statements, and reconstructs nested
// result objects from the flat joined rows.
package query

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/syssam/strata/coltype"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema"
)

// Filter is a nested filter expression: field name to scalar (implicit
// equality), operator object, or - for relation fields - a nested filter;
// plus optional $and / $or arrays at any level.
type Filter = map[string]any

// Compiler resolves filters and selections against one schema. It holds no
// per-query state and is safe for concurrent use.
type Compiler struct {
	schema  *schema.Schema
	types   *coltype.Registry
	dialect string
}

// NewCompiler returns a compiler for the given schema, type registry and
// dialect.
func NewCompiler(s *schema.Schema, types *coltype.Registry, dialect string) *Compiler {
	return &Compiler{schema: s, types: types, dialect: dialect}
}

// CompileFilter translates the filter expression into WHERE and JOIN
// clauses on the selector. tableAlias is the alias the base table is
// joined under; pass the table name when it is unaliased.
func (c *Compiler) CompileFilter(s *sql.Selector, table string, f Filter, tableAlias string) error {
	if len(f) == 0 {
		return nil
	}
	if tableAlias == "" {
		tableAlias = table
	}
	p, err := c.predicate(s, table, f, tableAlias)
	if err != nil {
		return err
	}
	s.Where(p)
	return nil
}

// predicate compiles one filter level into a single predicate, adding any
// relation joins to the selector as a side effect. Keys are visited in
// sorted order so the generated SQL is deterministic.
func (c *Compiler) predicate(s *sql.Selector, table string, f Filter, alias string) (*sql.Predicate, error) {
	var preds []*sql.Predicate
	for _, key := range sortedKeys(f) {
		value := f[key]
		switch {
		case key == "$and":
			entries, err := filterList(key, value)
			if err != nil {
				return nil, err
			}
			group := make([]*sql.Predicate, 0, len(entries))
			for _, entry := range entries {
				p, err := c.predicate(s, table, entry, alias)
				if err != nil {
					return nil, err
				}
				group = append(group, p)
			}
			preds = append(preds, sql.And(group...))
		case key == "$or":
			entries, err := filterList(key, value)
			if err != nil {
				return nil, err
			}
			group := make([]*sql.Predicate, 0, len(entries))
			for _, entry := range entries {
				p, err := c.predicate(s, table, entry, alias)
				if err != nil {
					return nil, err
				}
				group = append(group, p)
			}
			preds = append(preds, sql.Or(group...))
		case c.schema.HasColumn(table, key):
			col, _ := c.schema.Column(table, key)
			p, err := c.fieldPredicate(alias+"."+key, col, value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		case c.schema.HasRelation(table, key):
			rel, _ := c.schema.Relation(table, key)
			p, err := c.relationPredicate(s, table, alias, rel, value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		default:
			return nil, schema.NewUnknownFieldError(table, key)
		}
	}
	switch len(preds) {
	case 0:
		// An empty sub-filter constrains nothing.
		return sql.True(), nil
	case 1:
		return preds[0], nil
	default:
		return sql.And(preds...), nil
	}
}

// fieldPredicate compiles a scalar, array or operator-object value for one
// column reference.
func (c *Compiler) fieldPredicate(ref string, col *schema.Column, value any) (*sql.Predicate, error) {
	switch v := value.(type) {
	case nil:
		return sql.IsNull(ref), nil
	case map[string]any:
		return c.operatorPredicate(ref, col, v)
	case []any:
		vs, err := c.inputs(col, v)
		if err != nil {
			return nil, err
		}
		return sql.In(ref, vs...), nil
	default:
		in, err := c.input(col, v)
		if err != nil {
			return nil, err
		}
		return sql.EQ(ref, in), nil
	}
}

// operatorPredicate compiles an operator object: one predicate per present
// operator key, ANDed together.
func (c *Compiler) operatorPredicate(ref string, col *schema.Column, ops map[string]any) (*sql.Predicate, error) {
	var preds []*sql.Predicate
	for _, op := range sortedKeys(ops) {
		v := ops[op]
		p, err := c.operator(ref, col, op, v)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return sql.And(preds...), nil
}

func (c *Compiler) operator(ref string, col *schema.Column, op string, v any) (*sql.Predicate, error) {
	switch op {
	case "$eq", "$neq", "$gt", "$gte", "$lt", "$lte":
		in, err := c.input(col, v)
		if err != nil {
			return nil, err
		}
		switch op {
		case "$eq":
			return sql.EQ(ref, in), nil
		case "$neq":
			return sql.NEQ(ref, in), nil
		case "$gt":
			return sql.GT(ref, in), nil
		case "$gte":
			return sql.GTE(ref, in), nil
		case "$lt":
			return sql.LT(ref, in), nil
		default:
			return sql.LTE(ref, in), nil
		}
	case "$in", "$nin":
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("strata: operator %q on %q: expected array, got %T", op, ref, v)
		}
		vs, err := c.inputs(col, list)
		if err != nil {
			return nil, err
		}
		if op == "$in" {
			return sql.In(ref, vs...), nil
		}
		return sql.NotIn(ref, vs...), nil
	case "$between", "$nbetween":
		list, ok := v.([]any)
		if !ok || len(list) != 2 {
			return nil, fmt.Errorf("strata: operator %q on %q: expected [low, high], got %v", op, ref, v)
		}
		vs, err := c.inputs(col, list)
		if err != nil {
			return nil, err
		}
		if op == "$between" {
			return sql.Between(ref, vs[0], vs[1]), nil
		}
		return sql.NotBetween(ref, vs[0], vs[1]), nil
	case "$null":
		if truthy(v) {
			return sql.IsNull(ref), nil
		}
		return sql.NotNull(ref), nil
	case "$nnull":
		if truthy(v) {
			return sql.NotNull(ref), nil
		}
		return sql.IsNull(ref), nil
	case "$contains":
		return sql.Contains(ref, fmt.Sprint(v)), nil
	case "$ncontains":
		return sql.NotContains(ref, fmt.Sprint(v)), nil
	case "$startsWith":
		return sql.HasPrefix(ref, fmt.Sprint(v)), nil
	case "$nstartsWith":
		return sql.NotHasPrefix(ref, fmt.Sprint(v)), nil
	case "$endsWith":
		return sql.HasSuffix(ref, fmt.Sprint(v)), nil
	case "$nendsWith":
		return sql.NotHasSuffix(ref, fmt.Sprint(v)), nil
	case "$like":
		return sql.Like(ref, fmt.Sprint(v)), nil
	case "$nlike":
		return sql.NotLike(ref, fmt.Sprint(v)), nil
	default:
		return nil, NewUnsupportedOperatorError(op, ref)
	}
}

// relationPredicate compiles a filter value under a relation field. Simple
// values stay on the near side of the relation where possible; complex
// nested filters INNER JOIN the related table and recurse.
func (c *Compiler) relationPredicate(s *sql.Selector, table, alias string, rel *schema.Relation, value any) (*sql.Predicate, error) {
	simple := simpleFilter(value)
	switch rel.Kind {
	case schema.BelongsTo:
		if simple {
			// The foreign key lives on the owning table; no join needed.
			fk, err := c.schema.ForeignKeyColumn(rel)
			if err != nil {
				return nil, err
			}
			return c.fieldPredicate(alias+"."+rel.Name, fk, value)
		}
		nested, err := nestedFilter(rel.Name, value)
		if err != nil {
			return nil, err
		}
		ref, err := c.schema.ReferencedColumn(rel)
		if err != nil {
			return nil, err
		}
		relAlias := joinAlias(alias, rel.Name)
		s.Join(sql.Table(rel.Table).As(relAlias)).
			On(relAlias+"."+ref.Name, alias+"."+rel.Name)
		return c.predicate(s, rel.Table, nested, relAlias)
	case schema.HasOne, schema.HasMany:
		basePK, err := c.schema.PrimaryKey(table)
		if err != nil {
			return nil, err
		}
		relPK, err := c.schema.PrimaryKey(rel.Table)
		if err != nil {
			return nil, err
		}
		relAlias := joinAlias(alias, rel.Name)
		s.Join(sql.Table(rel.Table).As(relAlias)).
			On(relAlias+"."+rel.ForeignKey, alias+"."+basePK.Name)
		if simple {
			return c.fieldPredicate(relAlias+"."+relPK.Name, relPK, value)
		}
		nested, err := nestedFilter(rel.Name, value)
		if err != nil {
			return nil, err
		}
		return c.predicate(s, rel.Table, nested, relAlias)
	case schema.ManyToMany:
		basePK, err := c.schema.PrimaryKey(table)
		if err != nil {
			return nil, err
		}
		relPK, err := c.schema.PrimaryKey(rel.Table)
		if err != nil {
			return nil, err
		}
		relAlias := joinAlias(alias, rel.Name)
		juncAlias := relAlias + "_via"
		s.Join(sql.Table(rel.Through.Table).As(juncAlias)).
			On(juncAlias+"."+rel.Through.SourceFK, alias+"."+basePK.Name)
		s.Join(sql.Table(rel.Table).As(relAlias)).
			On(relAlias+"."+relPK.Name, juncAlias+"."+rel.Through.TargetFK)
		if simple {
			return c.fieldPredicate(relAlias+"."+relPK.Name, relPK, value)
		}
		nested, err := nestedFilter(rel.Name, value)
		if err != nil {
			return nil, err
		}
		return c.predicate(s, rel.Table, nested, relAlias)
	}
	return nil, fmt.Errorf("strata: relation %q: unhandled kind %v", rel.Name, rel.Kind)
}

// input runs a filter operand through the column-type input transform.
func (c *Compiler) input(col *schema.Column, v any) (any, error) {
	return c.types.Input(c.dialect, col, v)
}

func (c *Compiler) inputs(col *schema.Column, vs []any) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		in, err := c.input(col, v)
		if err != nil {
			return nil, err
		}
		out[i] = in
	}
	return out, nil
}

// simpleFilter reports whether the value can be applied directly to a
// foreign-key column: a scalar, an array, or an operator-only object.
func simpleFilter(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return true
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func nestedFilter(relation string, value any) (Filter, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("strata: relation %q: expected nested filter, got %T", relation, value)
	}
	return m, nil
}

func filterList(key string, value any) ([]Filter, error) {
	list, ok := value.([]any)
	if !ok {
		// Allow a pre-typed list as well; callers building filters in Go
		// often already hold []Filter.
		if typed, ok := value.([]Filter); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("strata: %s: expected array of filters, got %T", key, value)
	}
	out := make([]Filter, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("strata: %s: entry %d: expected filter object, got %T", key, i, entry)
		}
		out[i] = m
	}
	return out, nil
}

// joinAlias returns the deterministic alias for a relation join, derived
// from the parent alias and relation name.
func joinAlias(parent, relation string) string {
	h := fnv.New32a()
	h.Write([]byte(parent + "." + relation))
	return fmt.Sprintf("t%08x", h.Sum32())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truthy(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case nil:
		return false
	default:
		return true
	}
}
