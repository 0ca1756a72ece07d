package query

import (
	"github.com/syssam/strata/schema"
)

// rowGroup is a run of flat rows sharing one primary-key value.
type rowGroup struct {
	key  any
	rows []map[string]any
}

// groupRows partitions rows by the value under pkKey, preserving the
// order keys first appear in. Rows with a NULL key are dropped; they are
// join padding, not entities.
func groupRows(rows []map[string]any, pkKey string) []rowGroup {
	var groups []rowGroup
	index := make(map[any]int)
	for _, row := range rows {
		key := row[pkKey]
		if key == nil {
			continue
		}
		if i, ok := index[key]; ok {
			groups[i].rows = append(groups[i].rows, row)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, rowGroup{key: key, rows: []map[string]any{row}})
	}
	return groups
}

// Reconstruct folds the flat rows a selection produced back into nested
// objects: one object per distinct base primary key, single-valued
// relations as objects or nil, many-valued relations as deduplicated
// slices. Row order decides object order.
func (c *Compiler) Reconstruct(rows []map[string]any, plan *Plan) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for _, group := range groupRows(rows, plan.pkName) {
		obj, err := c.baseObject(group, plan)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (c *Compiler) baseObject(group rowGroup, plan *Plan) (map[string]any, error) {
	first := group.rows[0]
	obj := make(map[string]any)
	pk, err := c.schema.PrimaryKey(plan.Table)
	if err != nil {
		return nil, err
	}
	if obj[pk.Name], err = c.types.Output(c.dialect, pk, first[pk.Name]); err != nil {
		return nil, err
	}
	for _, name := range plan.baseColumns {
		if name == pk.Name {
			continue
		}
		col, err := c.schema.Column(plan.Table, name)
		if err != nil {
			return nil, err
		}
		if obj[name], err = c.types.Output(c.dialect, col, first[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range plan.fkRelations {
		rel, err := c.schema.Relation(plan.Table, name)
		if err != nil {
			return nil, err
		}
		fk, err := c.schema.ForeignKeyColumn(rel)
		if err != nil {
			return nil, err
		}
		if obj[name], err = c.types.Output(c.dialect, fk, first[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(plan.Sel.Tree) {
		v, ok, err := c.nest(group.rows, plan.Table, plan.Table, plan.Table, name, plan.Sel.Tree[name])
		if err != nil {
			return nil, err
		}
		if ok {
			obj[name] = v
		}
	}
	return obj, nil
}

// nest materializes one relation of the parent rows. Single-valued kinds
// yield an object or nil; many-valued kinds yield a slice deduplicated by
// the related primary key, empty when nothing matched. Relations back to
// the root table were never joined and report ok=false.
func (c *Compiler) nest(rows []map[string]any, root, table, prefix, name string, node *Node) (any, bool, error) {
	rel, err := c.schema.Relation(table, name)
	if err != nil {
		return nil, false, err
	}
	if rel.Table == root {
		return nil, false, nil
	}
	relPK, err := c.schema.PrimaryKey(rel.Table)
	if err != nil {
		return nil, false, err
	}
	alias := prefix + "_" + name
	groups := groupRows(rows, alias+"_"+relPK.Name)

	switch rel.Kind {
	case schema.BelongsTo, schema.HasOne:
		if len(groups) == 0 {
			return nil, true, nil
		}
		obj, err := c.relatedObject(groups[0], root, rel, relPK, alias, node)
		return obj, true, err
	default:
		objs := make([]map[string]any, 0, len(groups))
		for _, g := range groups {
			obj, err := c.relatedObject(g, root, rel, relPK, alias, node)
			if err != nil {
				return nil, false, err
			}
			objs = append(objs, obj)
		}
		return objs, true, nil
	}
}

func (c *Compiler) relatedObject(group rowGroup, root string, rel *schema.Relation, relPK *schema.Column, alias string, node *Node) (map[string]any, error) {
	first := group.rows[0]
	obj := make(map[string]any)
	var err error
	if obj[relPK.Name], err = c.types.Output(c.dialect, relPK, first[alias+"_"+relPK.Name]); err != nil {
		return nil, err
	}
	for _, field := range c.nodeFields(rel.Table, node) {
		if field == relPK.Name || !c.schema.HasColumn(rel.Table, field) {
			continue
		}
		col, err := c.schema.Column(rel.Table, field)
		if err != nil {
			return nil, err
		}
		if obj[field], err = c.types.Output(c.dialect, col, first[alias+"_"+field]); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(node.Nested) {
		v, ok, err := c.nest(group.rows, root, rel.Table, alias, name, node.Nested[name])
		if err != nil {
			return nil, err
		}
		if ok {
			obj[name] = v
		}
	}
	return obj, nil
}
