// Package mutate sequences nested multi-table writes: a single payload may
// carry scalar columns, belongs-to parents, has-one/has-many children and
// many-to-many links, and every top-level call runs inside one transaction.
package mutate

import (
	"context"
	"fmt"
	"sort"

	"github.com/syssam/strata/coltype"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// Orchestrator partitions write payloads and issues the coordinated
// statements. It holds no per-call state and is safe for concurrent use.
// It does not add its own concurrency control: concurrent calls
// upserting the same belongs-to target by primary key can race outside
// serializable isolation.
type Orchestrator struct {
	schema    *schema.Schema
	types     *coltype.Registry
	compiler  *query.Compiler
	drv       dialect.Driver
	dialect   string
	inherited dialect.Tx
}

// New returns an orchestrator writing through the given driver.
func New(drv dialect.Driver, s *schema.Schema, types *coltype.Registry) *Orchestrator {
	d := drv.Dialect()
	return &Orchestrator{
		schema:   s,
		types:    types,
		compiler: query.NewCompiler(s, types, d),
		drv:      drv,
		dialect:  d,
	}
}

// WithTx returns an orchestrator that issues every statement on the given
// transaction and leaves commit and rollback to its owner.
func (o *Orchestrator) WithTx(tx dialect.Tx) *Orchestrator {
	c := *o
	c.inherited = tx
	return &c
}

func (o *Orchestrator) begin(ctx context.Context) (dialect.Tx, error) {
	if o.inherited != nil {
		return dialect.NopTx(o.inherited), nil
	}
	return o.drv.Tx(ctx)
}

// rollback rolls the transaction back and returns the original error,
// attaching any rollback failure.
func rollback(tx dialect.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		err = fmt.Errorf("%w: %v", err, &RollbackError{Err: rerr})
	}
	return err
}

// Create inserts a record with its nested relation payloads and returns
// the persisted base row.
func (o *Orchestrator) Create(ctx context.Context, table string, data map[string]any) (map[string]any, error) {
	tx, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := o.create(ctx, tx, table, data)
	if err != nil {
		return nil, rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies the payload to every record matching the filter and
// returns the number of matched records.
func (o *Orchestrator) Update(ctx context.Context, table string, f query.Filter, data map[string]any) (int, error) {
	tx, err := o.begin(ctx)
	if err != nil {
		return 0, err
	}
	n, err := o.update(ctx, tx, table, f, data)
	if err != nil {
		return 0, rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// UpdateOne updates the record with the given primary key and returns the
// persisted row. It fails with a NotFoundError when no record matched.
func (o *Orchestrator) UpdateOne(ctx context.Context, table string, pk any, data map[string]any) (map[string]any, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return nil, err
	}
	tx, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}
	n, err := o.update(ctx, tx, table, query.Filter{pkCol.Name: pk}, data)
	if err != nil {
		return nil, rollback(tx, err)
	}
	if n == 0 {
		return nil, rollback(tx, NewNotFoundError(table))
	}
	rec, err := o.fetch(ctx, tx, table, pk)
	if err != nil {
		return nil, rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Remove deletes every record matching the filter and returns the number
// of deleted records.
func (o *Orchestrator) Remove(ctx context.Context, table string, f query.Filter) (int, error) {
	tx, err := o.begin(ctx)
	if err != nil {
		return 0, err
	}
	n, err := o.remove(ctx, tx, table, f)
	if err != nil {
		return 0, rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// RemoveOne deletes the record with the given primary key and returns the
// row as it was before deletion.
func (o *Orchestrator) RemoveOne(ctx context.Context, table string, pk any) (map[string]any, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return nil, err
	}
	tx, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := o.fetch(ctx, tx, table, pk)
	if err != nil {
		return nil, rollback(tx, err)
	}
	if _, err := o.remove(ctx, tx, table, query.Filter{pkCol.Name: pk}); err != nil {
		return nil, rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// create runs the partition / resolve-parents / write-self / fan-out
// sequence for one record on the given transaction.
func (o *Orchestrator) create(ctx context.Context, tx dialect.Tx, table string, data map[string]any) (map[string]any, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return nil, err
	}
	scalars, rels, err := o.partition(table, data)
	if err != nil {
		return nil, err
	}
	if err := o.resolveParents(ctx, tx, table, scalars, rels); err != nil {
		return nil, err
	}
	rec, err := o.insert(ctx, tx, table, scalars)
	if err != nil {
		return nil, err
	}
	parentPK := rec[pkCol.Name]
	for _, name := range sortedKeys(rels) {
		rel, err := o.schema.Relation(table, name)
		if err != nil {
			return nil, err
		}
		if err := o.createChildren(ctx, tx, rel, parentPK, rels[name]); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (o *Orchestrator) update(ctx context.Context, tx dialect.Tx, table string, f query.Filter, data map[string]any) (int, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return 0, err
	}
	pks, err := o.matchingKeys(ctx, tx, table, f)
	if err != nil {
		return 0, err
	}
	if len(pks) == 0 {
		return 0, nil
	}
	scalars, rels, err := o.partition(table, data)
	if err != nil {
		return 0, err
	}
	if err := o.resolveParents(ctx, tx, table, scalars, rels); err != nil {
		return 0, err
	}
	if len(scalars) > 0 {
		upd := sql.Dialect(o.dialect).Update(table)
		for _, name := range sortedKeys(scalars) {
			v, err := o.inputValue(table, name, scalars[name])
			if err != nil {
				return 0, err
			}
			upd.Set(name, v)
		}
		upd.Where(sql.In(pkCol.Name, pks...))
		q, args := upd.Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return 0, err
		}
	}
	for _, pk := range pks {
		for _, name := range sortedKeys(rels) {
			rel, err := o.schema.Relation(table, name)
			if err != nil {
				return 0, err
			}
			if err := o.updateChildren(ctx, tx, rel, pk, rels[name]); err != nil {
				return 0, err
			}
		}
	}
	return len(pks), nil
}

func (o *Orchestrator) remove(ctx context.Context, tx dialect.Tx, table string, f query.Filter) (int, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return 0, err
	}
	pks, err := o.matchingKeys(ctx, tx, table, f)
	if err != nil {
		return 0, err
	}
	if len(pks) == 0 {
		return 0, nil
	}
	// Junction rows are removed explicitly; not every backend that runs
	// this code has foreign-key cascades enabled.
	for _, rel := range o.schema.Relations(table) {
		if rel.Kind != schema.ManyToMany {
			continue
		}
		del := sql.Dialect(o.dialect).Delete(rel.Through.Table).
			Where(sql.In(rel.Through.SourceFK, pks...))
		q, args := del.Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return 0, err
		}
	}
	del := sql.Dialect(o.dialect).Delete(table).Where(sql.In(pkCol.Name, pks...))
	q, args := del.Query()
	if err := tx.Exec(ctx, q, args, nil); err != nil {
		return 0, err
	}
	return len(pks), nil
}

// partition splits a payload into scalar column values and raw relation
// payloads. Unknown keys fail the whole call.
func (o *Orchestrator) partition(table string, data map[string]any) (scalars, rels map[string]any, err error) {
	scalars = make(map[string]any)
	rels = make(map[string]any)
	for key, v := range data {
		switch {
		case o.schema.HasRelation(table, key):
			rels[key] = v
		case o.schema.HasColumn(table, key):
			scalars[key] = v
		default:
			return nil, nil, schema.NewUnknownFieldError(table, key)
		}
	}
	return scalars, rels, nil
}

// resolveParents upserts every belongs-to payload and assigns the
// resulting primary key into the scalar set. The foreign key lives on this
// side, so parents must exist before the own-table write.
func (o *Orchestrator) resolveParents(ctx context.Context, tx dialect.Tx, table string, scalars, rels map[string]any) error {
	for _, name := range sortedKeys(rels) {
		rel, err := o.schema.Relation(table, name)
		if err != nil {
			return err
		}
		if rel.Kind != schema.BelongsTo {
			continue
		}
		payload := rels[name]
		delete(rels, name)
		m, ok := payload.(map[string]any)
		if !ok || len(m) == 0 {
			// A scalar payload is the foreign key itself; nil clears it.
			scalars[name] = payload
			continue
		}
		pk, err := o.upsert(ctx, tx, rel.Table, m)
		if err != nil {
			return err
		}
		scalars[name] = pk
	}
	return nil
}

// upsert writes one record identified by the primary key in its payload:
// update when present, insert otherwise. It returns the record's primary
// key.
func (o *Orchestrator) upsert(ctx context.Context, tx dialect.Tx, table string, payload map[string]any) (any, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return nil, err
	}
	if pk, ok := payload[pkCol.Name]; ok && pk != nil {
		data := make(map[string]any, len(payload)-1)
		for k, v := range payload {
			if k != pkCol.Name {
				data[k] = v
			}
		}
		if len(data) > 0 {
			if _, err := o.update(ctx, tx, table, query.Filter{pkCol.Name: pk}, data); err != nil {
				return nil, err
			}
		}
		return pk, nil
	}
	rec, err := o.create(ctx, tx, table, payload)
	if err != nil {
		return nil, err
	}
	pk, ok := rec[pkCol.Name]
	if !ok || pk == nil {
		return nil, schema.NewMissingPrimaryKeyError(table, "inserted row has no primary key")
	}
	return pk, nil
}

// createChildren fans a relation payload out after the parent insert.
// Owned object payloads are always inserted as new rows, even when they
// carry a primary key; a bare primary key re-parents an existing record.
func (o *Orchestrator) createChildren(ctx context.Context, tx dialect.Tx, rel *schema.Relation, parentPK, payload any) error {
	children := childPayloads(payload)
	switch rel.Kind {
	case schema.HasOne, schema.HasMany:
		for _, child := range children {
			m, ok := child.(map[string]any)
			if !ok {
				if err := o.attachChild(ctx, tx, rel, parentPK, child); err != nil {
					return err
				}
				continue
			}
			if _, err := o.create(ctx, tx, rel.Table, stampForeignKey(m, rel.ForeignKey, parentPK)); err != nil {
				return err
			}
		}
	case schema.ManyToMany:
		for _, child := range children {
			childPK, err := o.childKey(ctx, tx, rel, child)
			if err != nil {
				return err
			}
			if err := o.linkJunction(ctx, tx, rel, parentPK, childPK); err != nil {
				return err
			}
		}
	}
	return nil
}

// updateChildren fans a relation payload out on update. Owned children are
// upserted with the foreign key re-stamped; many-to-many link sets are
// fully replaced, never merged.
func (o *Orchestrator) updateChildren(ctx context.Context, tx dialect.Tx, rel *schema.Relation, parentPK, payload any) error {
	children := childPayloads(payload)
	switch rel.Kind {
	case schema.HasOne, schema.HasMany:
		for _, child := range children {
			if err := o.attachChild(ctx, tx, rel, parentPK, child); err != nil {
				return err
			}
		}
	case schema.ManyToMany:
		del := sql.Dialect(o.dialect).Delete(rel.Through.Table).
			Where(sql.EQ(rel.Through.SourceFK, parentPK))
		q, args := del.Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return err
		}
		for _, child := range children {
			childPK, err := o.childKey(ctx, tx, rel, child)
			if err != nil {
				return err
			}
			if err := o.linkJunction(ctx, tx, rel, parentPK, childPK); err != nil {
				return err
			}
		}
	}
	return nil
}

// attachChild writes one owned child with the parent foreign key stamped.
// Object payloads are upserted; a bare primary key re-parents an existing
// record.
func (o *Orchestrator) attachChild(ctx context.Context, tx dialect.Tx, rel *schema.Relation, parentPK, child any) error {
	m, ok := child.(map[string]any)
	if !ok {
		pkCol, err := o.schema.PrimaryKey(rel.Table)
		if err != nil {
			return err
		}
		_, err = o.update(ctx, tx, rel.Table, query.Filter{pkCol.Name: child},
			map[string]any{rel.ForeignKey: parentPK})
		return err
	}
	_, err := o.upsert(ctx, tx, rel.Table, stampForeignKey(m, rel.ForeignKey, parentPK))
	return err
}

// stampForeignKey copies a child payload with the parent key written over
// its foreign key field.
func stampForeignKey(m map[string]any, fk string, parentPK any) map[string]any {
	stamped := make(map[string]any, len(m)+1)
	for k, v := range m {
		stamped[k] = v
	}
	stamped[fk] = parentPK
	return stamped
}

// childKey resolves a many-to-many child payload to its primary key,
// upserting object payloads and passing scalar keys through.
func (o *Orchestrator) childKey(ctx context.Context, tx dialect.Tx, rel *schema.Relation, child any) (any, error) {
	if m, ok := child.(map[string]any); ok {
		return o.upsert(ctx, tx, rel.Table, m)
	}
	return child, nil
}

func (o *Orchestrator) linkJunction(ctx context.Context, tx dialect.Tx, rel *schema.Relation, parentPK, childPK any) error {
	ins := sql.Dialect(o.dialect).Insert(rel.Through.Table).
		Columns(rel.Through.SourceFK, rel.Through.TargetFK).
		Values(parentPK, childPK)
	q, args := ins.Query()
	return tx.Exec(ctx, q, args, nil)
}

// insert writes the scalar columns and returns the persisted row: via
// RETURNING where the backend supports it, otherwise by re-fetching the
// generated key.
func (o *Orchestrator) insert(ctx context.Context, tx dialect.Tx, table string, scalars map[string]any) (map[string]any, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return nil, err
	}
	// Application-generated keys (uuid) are stamped before the insert.
	if _, ok := scalars[pkCol.Name]; !ok && !pkCol.Increments {
		if v, ok := o.types.GeneratedDefault(pkCol); ok {
			scalars[pkCol.Name] = v
		}
	}
	ins := sql.Dialect(o.dialect).Insert(table)
	cols := sortedKeys(scalars)
	if len(cols) == 0 {
		ins.Default()
	} else {
		values := make([]any, len(cols))
		for i, name := range cols {
			v, err := o.inputValue(table, name, scalars[name])
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		ins.Columns(cols...).Values(values...)
	}
	ins.Returning(o.recordColumns(table)...)
	q, args := ins.Query()
	if ins.SupportsReturning() {
		var rows sql.Rows
		if err := tx.Query(ctx, q, args, &rows); err != nil {
			return nil, err
		}
		recs, err := sql.ScanMaps(&rows)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, schema.NewMissingPrimaryKeyError(table, "insert returned no row")
		}
		return o.outputRecord(table, recs[0])
	}
	var res sql.Result
	if err := tx.Exec(ctx, q, args, &res); err != nil {
		return nil, err
	}
	pk, ok := scalars[pkCol.Name]
	if !ok || pk == nil {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, schema.NewMissingPrimaryKeyError(table, "generated key unavailable: "+err.Error())
		}
		pk = id
	}
	return o.fetch(ctx, tx, table, pk)
}

// fetch reads one row by primary key, without relations.
func (o *Orchestrator) fetch(ctx context.Context, cn dialect.ExecQuerier, table string, pk any) (map[string]any, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return nil, err
	}
	in, err := o.types.Input(o.dialect, pkCol, pk)
	if err != nil {
		return nil, err
	}
	s := sql.Dialect(o.dialect).Select(o.recordColumns(table)...).
		From(sql.Table(table)).
		Where(sql.EQ(pkCol.Name, in))
	q, args := s.Query()
	var rows sql.Rows
	if err := cn.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	recs, err := sql.ScanMaps(&rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, NewNotFoundError(table)
	}
	return o.outputRecord(table, recs[0])
}

// matchingKeys resolves a filter to the distinct primary keys it matches.
func (o *Orchestrator) matchingKeys(ctx context.Context, cn dialect.ExecQuerier, table string, f query.Filter) ([]any, error) {
	pkCol, err := o.schema.PrimaryKey(table)
	if err != nil {
		return nil, err
	}
	s := sql.Dialect(o.dialect).
		Select(sql.As(table+"."+pkCol.Name, pkCol.Name)).
		From(sql.Table(table)).
		Distinct()
	if err := o.compiler.CompileFilter(s, table, f, ""); err != nil {
		return nil, err
	}
	q, args := s.Query()
	var rows sql.Rows
	if err := cn.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	recs, err := sql.ScanMaps(&rows)
	if err != nil {
		return nil, err
	}
	pks := make([]any, len(recs))
	for i, rec := range recs {
		pks[i] = rec[pkCol.Name]
	}
	return pks, nil
}

// recordColumns returns the flat column set of a record: declared columns
// plus the derived belongs-to foreign keys.
func (o *Orchestrator) recordColumns(table string) []string {
	var cols []string
	for _, col := range o.schema.Columns(table) {
		cols = append(cols, col.Name)
	}
	for _, rel := range o.schema.Relations(table) {
		if rel.Kind == schema.BelongsTo {
			cols = append(cols, rel.Name)
		}
	}
	return cols
}

// inputValue runs one scalar through the column-type input transform,
// resolving derived belongs-to foreign-key columns.
func (o *Orchestrator) inputValue(table, name string, v any) (any, error) {
	col, err := o.column(table, name)
	if err != nil {
		return nil, err
	}
	return o.types.Input(o.dialect, col, v)
}

// outputRecord runs every raw value of a fetched row through the
// column-type output transform.
func (o *Orchestrator) outputRecord(table string, row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for name, v := range row {
		col, err := o.column(table, name)
		if err != nil {
			return nil, err
		}
		decoded, err := o.types.Output(o.dialect, col, v)
		if err != nil {
			return nil, err
		}
		out[name] = decoded
	}
	return out, nil
}

func (o *Orchestrator) column(table, name string) (*schema.Column, error) {
	if o.schema.HasColumn(table, name) {
		return o.schema.Column(table, name)
	}
	if o.schema.HasRelation(table, name) {
		rel, err := o.schema.Relation(table, name)
		if err != nil {
			return nil, err
		}
		if rel.Kind == schema.BelongsTo {
			return o.schema.ForeignKeyColumn(rel)
		}
	}
	return nil, schema.NewUnknownFieldError(table, name)
}

// childPayloads normalizes a relation payload to a list of entries: nil is
// empty, an object is a singleton, and arrays pass through element-wise.
func childPayloads(payload any) []any {
	switch v := payload.(type) {
	case nil:
		return nil
	case map[string]any:
		return []any{v}
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []any:
		return v
	default:
		// Bare primary key.
		return []any{v}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
