package query

import (
	"strings"

	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema"
)

// Node is one relation node of the selection tree: the leaf fields
// requested on the related table (empty or "*" meaning all) and its nested
// relation nodes. Trees are built per query and discarded afterwards.
type Node struct {
	Fields map[string]struct{}
	Nested map[string]*Node
}

func newNode() *Node {
	return &Node{
		Fields: make(map[string]struct{}),
		Nested: make(map[string]*Node),
	}
}

// allFields reports whether the node requests every field of its table.
func (n *Node) allFields() bool {
	if len(n.Fields) == 0 {
		return true
	}
	_, ok := n.Fields["*"]
	return ok
}

func (n *Node) clone() *Node {
	c := newNode()
	for f := range n.Fields {
		c.Fields[f] = struct{}{}
	}
	for name, child := range n.Nested {
		c.Nested[name] = child.clone()
	}
	return c
}

// Selection is the parsed form of a column-selection path list.
type Selection struct {
	// Base holds explicitly requested base columns.
	Base map[string]struct{}
	// BaseAll records a bare "*" path: every base column.
	BaseAll bool
	// RelWildcard records a "*" in relation position; it implies base
	// column inclusion in the reconstructed output.
	RelWildcard bool
	// Tree maps relation names (or "*" before expansion) to their nodes.
	Tree map[string]*Node
}

// ParseColumnPaths parses dot-notation selection paths into a relation
// tree plus the set of requested base columns. A nil or empty path list
// selects all base columns.
func ParseColumnPaths(paths []string) *Selection {
	sel := &Selection{
		Base: make(map[string]struct{}),
		Tree: make(map[string]*Node),
	}
	if len(paths) == 0 {
		sel.BaseAll = true
		return sel
	}
	for _, path := range paths {
		segments := strings.Split(path, ".")
		if len(segments) == 1 {
			if path == "*" {
				sel.BaseAll = true
			} else {
				sel.Base[path] = struct{}{}
			}
			continue
		}
		if segments[0] == "*" {
			sel.RelWildcard = true
		}
		node, ok := sel.Tree[segments[0]]
		if !ok {
			node = newNode()
			sel.Tree[segments[0]] = node
		}
		for _, seg := range segments[1 : len(segments)-1] {
			child, ok := node.Nested[seg]
			if !ok {
				child = newNode()
				node.Nested[seg] = child
			}
			node = child
		}
		node.Fields[segments[len(segments)-1]] = struct{}{}
	}
	return sel
}

// ExpandWildcards resolves every "*" relation key in the tree to the
// actual relations of the current table, recursively. A relation whose
// target table already appears in visited - an ancestor on the current
// branch - is skipped, which is what bounds the recursion on cyclic
// schemas. Revisiting a table via a different branch stays allowed.
func (c *Compiler) ExpandWildcards(tree map[string]*Node, table string, visited map[string]bool) (map[string]*Node, error) {
	if len(tree) == 0 {
		return tree, nil
	}
	next := make(map[string]bool, len(visited)+1)
	for t := range visited {
		next[t] = true
	}
	next[table] = true

	out := make(map[string]*Node, len(tree))
	if wild, ok := tree["*"]; ok {
		for _, rel := range c.schema.Relations(table) {
			if next[rel.Table] {
				continue
			}
			out[rel.Name] = wild.clone()
		}
	}
	for name, node := range tree {
		if name == "*" {
			continue
		}
		if existing, ok := out[name]; ok {
			// An explicit path refines the wildcard expansion.
			merged := existing
			for f := range node.Fields {
				merged.Fields[f] = struct{}{}
			}
			for n, child := range node.Nested {
				merged.Nested[n] = child
			}
		} else {
			out[name] = node.clone()
		}
	}
	for name, node := range out {
		rel, err := c.schema.Relation(table, name)
		if err != nil {
			return nil, err
		}
		expanded, err := c.ExpandWildcards(node.Nested, rel.Table, next)
		if err != nil {
			return nil, err
		}
		node.Nested = expanded
	}
	return out, nil
}

// Plan carries everything reconstruction needs after the statement runs.
type Plan struct {
	Table string
	Sel   *Selection
	// baseColumns is the resolved set of base columns in the SELECT list.
	baseColumns []string
	// fkRelations holds belongs-to relation names selected as scalar
	// foreign keys because the relation itself was not expanded.
	fkRelations []string
	pkName      string
}

// BuildSelection expands wildcards, validates the requested fields, and
// emits the SELECT list and LEFT JOINs for the whole relation tree onto
// the selector. The base table is selected under its own name.
func (c *Compiler) BuildSelection(s *sql.Selector, table string, sel *Selection) (*Plan, error) {
	pk, err := c.schema.PrimaryKey(table)
	if err != nil {
		return nil, err
	}
	tree, err := c.ExpandWildcards(sel.Tree, table, map[string]bool{})
	if err != nil {
		return nil, err
	}
	sel.Tree = tree

	base := sql.Table(table)
	s.From(base)

	// The base primary key is always selected; reconstruction groups the
	// flat rows by it.
	s.AppendSelect(sql.As(base.C(pk.Name), pk.Name))
	var baseColumns []string
	if sel.BaseAll || sel.RelWildcard {
		for _, col := range c.schema.Columns(table) {
			baseColumns = append(baseColumns, col.Name)
		}
	} else {
		for _, name := range sortedKeys(sel.Base) {
			if !c.schema.HasColumn(table, name) {
				if c.schema.HasRelation(table, name) {
					// A bare relation path selects the whole relation.
					if _, ok := sel.Tree[name]; !ok {
						node := newNode()
						expanded, err := c.ExpandWildcards(map[string]*Node{name: node}, table, map[string]bool{})
						if err != nil {
							return nil, err
						}
						sel.Tree[name] = expanded[name]
					}
					continue
				}
				return nil, schema.NewUnknownFieldError(table, name)
			}
			baseColumns = append(baseColumns, name)
		}
	}
	for _, name := range baseColumns {
		if name == pk.Name {
			continue // already selected
		}
		s.AppendSelect(sql.As(base.C(name), name))
	}
	// A belongs-to relation that is not expanded still surfaces as a
	// scalar foreign key when the whole base row was requested.
	var fkRelations []string
	if sel.BaseAll || sel.RelWildcard {
		for _, rel := range c.schema.Relations(table) {
			if rel.Kind != schema.BelongsTo {
				continue
			}
			if _, ok := sel.Tree[rel.Name]; ok {
				continue
			}
			fkRelations = append(fkRelations, rel.Name)
			s.AppendSelect(sql.As(base.C(rel.Name), rel.Name))
		}
	}
	if err := c.buildJoins(s, table, table, table, sel.Tree); err != nil {
		return nil, err
	}
	return &Plan{
		Table:       table,
		Sel:         sel,
		baseColumns: baseColumns,
		fkRelations: fkRelations,
		pkName:      pk.Name,
	}, nil
}

// buildJoins adds one LEFT JOIN per relation node (two for many-to-many,
// whose junction rides along), selects the related primary key plus the
// requested leaf fields under prefixed aliases, and recurses.
func (c *Compiler) buildJoins(s *sql.Selector, root, table, prefix string, tree map[string]*Node) error {
	parentPK, err := c.schema.PrimaryKey(table)
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(tree) {
		node := tree[name]
		rel, err := c.schema.Relation(table, name)
		if err != nil {
			return err
		}
		// Immediate back-references to the root table are skipped; the
		// caller already holds those rows.
		if rel.Table == root {
			continue
		}
		alias := prefix + "_" + name
		relPK, err := c.schema.PrimaryKey(rel.Table)
		if err != nil {
			return err
		}
		related := sql.Table(rel.Table).As(alias)
		switch rel.Kind {
		case schema.BelongsTo:
			ref, err := c.schema.ReferencedColumn(rel)
			if err != nil {
				return err
			}
			s.LeftJoin(related).On(alias+"."+ref.Name, prefix+"."+rel.Name)
		case schema.HasOne, schema.HasMany:
			s.LeftJoin(related).On(alias+"."+rel.ForeignKey, prefix+"."+parentPK.Name)
		case schema.ManyToMany:
			juncAlias := alias + "_via"
			s.LeftJoin(sql.Table(rel.Through.Table).As(juncAlias)).
				On(juncAlias+"."+rel.Through.SourceFK, prefix+"."+parentPK.Name)
			s.LeftJoin(related).
				On(alias+"."+relPK.Name, juncAlias+"."+rel.Through.TargetFK)
		}
		// Related primary key is always selected for grouping.
		s.AppendSelect(sql.As(alias+"."+relPK.Name, alias+"_"+relPK.Name))
		for _, field := range c.nodeFields(rel.Table, node) {
			if field == relPK.Name {
				continue
			}
			if !c.schema.HasColumn(rel.Table, field) {
				if c.schema.HasRelation(rel.Table, field) {
					continue // covered by a nested node, or a virtual field
				}
				return schema.NewUnknownFieldError(rel.Table, field)
			}
			s.AppendSelect(sql.As(alias+"."+field, alias+"_"+field))
		}
		if err := c.buildJoins(s, root, rel.Table, alias, node.Nested); err != nil {
			return err
		}
	}
	return nil
}

// nodeFields resolves the leaf fields to select for a node: the actual
// columns of the table when the node requests all fields.
func (c *Compiler) nodeFields(table string, node *Node) []string {
	if node.allFields() {
		cols := c.schema.Columns(table)
		out := make([]string, len(cols))
		for i, col := range cols {
			out[i] = col.Name
		}
		return out
	}
	return sortedKeys(node.Fields)
}
