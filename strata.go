// Package strata is a schema-driven data access layer for SQL databases.
// Collections, columns and relations are declared once; the client
// compiles map-shaped filters and dot-notation selections into joined
// queries, writes nested payloads across tables in one transaction, and
// converges the live database structure with the declaration.
package strata

import (
	"context"
	"log/slog"
	"strings"

	"github.com/syssam/strata/coltype"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/migrate"
	"github.com/syssam/strata/mutate"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// Filter is a map-shaped query filter. See query.Filter.
type Filter = query.Filter

// Client is the entry point. It bundles the schema, the column type
// registry and a driver, and exposes query, mutation and migration
// operations over them.
type Client struct {
	drv      dialect.Driver
	exec     dialect.ExecQuerier
	schema   *schema.Schema
	types    *coltype.Registry
	compiler *query.Compiler
	mutator  *mutate.Orchestrator
	log      *slog.Logger
	debug    bool
}

// Option configures a Client.
type Option func(*Client)

// WithTypes replaces the built-in column type registry.
func WithTypes(r *coltype.Registry) Option {
	return func(c *Client) { c.types = r }
}

// WithLogger sets the logger used by the client and its migrator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Debug wraps the driver so every statement is logged before execution.
func Debug() Option {
	return func(c *Client) { c.debug = true }
}

// NewClient returns a client on top of an existing driver.
func NewClient(drv dialect.Driver, s *schema.Schema, opts ...Option) *Client {
	c := &Client{
		drv:    drv,
		schema: s,
		types:  coltype.NewRegistry(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.debug {
		c.drv = dialect.Debug(c.drv, c.log)
	}
	c.exec = c.drv
	c.compiler = query.NewCompiler(s, c.types, drv.Dialect())
	c.mutator = mutate.New(c.drv, s, c.types)
	return c
}

// Open opens a database connection for the given dialect and returns a
// client on top of it.
func Open(dialectName, source string, s *schema.Schema, opts ...Option) (*Client, error) {
	drv, err := sql.Open(dialectName, source)
	if err != nil {
		return nil, err
	}
	return NewClient(drv, s, opts...), nil
}

// Schema returns the declared schema the client operates on.
func (c *Client) Schema() *schema.Schema {
	return c.schema
}

// Close closes the underlying driver.
func (c *Client) Close() error {
	return c.drv.Close()
}

// querySpec collects the per-call query options.
type querySpec struct {
	filter  Filter
	columns []string
	order   []string
	limit   int
	offset  int
	limited bool
	skipped bool
}

// QueryOption configures a single Find or FindOne call.
type QueryOption func(*querySpec)

// Where filters the result set. Nested maps address relations, $and / $or
// combine subfilters, and operator maps ($gt, $in, $contains, ...) refine
// single columns.
func Where(f Filter) QueryOption {
	return func(q *querySpec) { q.filter = f }
}

// Select restricts the returned fields to the given dot-notation paths.
// A path addressing a relation expands it into a nested object or list;
// "*" selects all columns at its position.
func Select(paths ...string) QueryOption {
	return func(q *querySpec) { q.columns = append(q.columns, paths...) }
}

// OrderBy sorts the result by base columns, in the given precedence. A
// "-" prefix sorts descending.
func OrderBy(fields ...string) QueryOption {
	return func(q *querySpec) { q.order = append(q.order, fields...) }
}

// Limit caps the number of returned records.
func Limit(n int) QueryOption {
	return func(q *querySpec) { q.limit, q.limited = n, true }
}

// Offset skips the first n records.
func Offset(n int) QueryOption {
	return func(q *querySpec) { q.offset, q.skipped = n, true }
}

// Find returns the records of the collection matching the given options,
// with selected relations reconstructed as nested objects and lists.
func (c *Client) Find(ctx context.Context, collection string, opts ...QueryOption) ([]map[string]any, error) {
	var q querySpec
	for _, opt := range opts {
		opt(&q)
	}
	sel := sql.Dialect(c.drv.Dialect()).Select()
	plan, err := c.compiler.BuildSelection(sel, collection, query.ParseColumnPaths(q.columns))
	if err != nil {
		return nil, err
	}
	if err := c.compiler.CompileFilter(sel, collection, q.filter, ""); err != nil {
		return nil, err
	}
	for _, field := range q.order {
		name, desc := strings.CutPrefix(field, "-")
		if !c.schema.HasColumn(collection, name) {
			return nil, schema.NewUnknownFieldError(collection, name)
		}
		ref := sel.C(name)
		if desc {
			ref = sql.Desc(ref)
		}
		sel.OrderBy(ref)
	}
	if q.limited {
		sel.Limit(q.limit)
	}
	if q.skipped {
		sel.Offset(q.offset)
	}
	stmt, args := sel.Query()
	var rows sql.Rows
	if err := c.exec.Query(ctx, stmt, args, &rows); err != nil {
		return nil, err
	}
	recs, err := sql.ScanMaps(&rows)
	if err != nil {
		return nil, err
	}
	return c.compiler.Reconstruct(recs, plan)
}

// FindOne returns the record with the given primary key, or ErrNotFound.
// Selection options apply; filter, order and pagination options are
// replaced by the key lookup.
func (c *Client) FindOne(ctx context.Context, collection string, pk any, opts ...QueryOption) (map[string]any, error) {
	pkCol, err := c.schema.PrimaryKey(collection)
	if err != nil {
		return nil, err
	}
	opts = append(opts, Where(Filter{pkCol.Name: pk}), Limit(1))
	recs, err := c.Find(ctx, collection, opts...)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, mutate.NewNotFoundError(collection)
	}
	return recs[0], nil
}

// Create inserts the payload into the collection. Nested relation
// payloads are written to their own tables inside the same transaction:
// belongs-to parents first, owned children and junction links after the
// base row. It returns the stored base record.
func (c *Client) Create(ctx context.Context, collection string, data map[string]any) (map[string]any, error) {
	return c.mutator.Create(ctx, collection, data)
}

// Update applies the payload to every record matching the filter and
// returns how many matched. Nested relation payloads follow the same
// rules as Create; many-to-many payloads replace the full link set.
func (c *Client) Update(ctx context.Context, collection string, f Filter, data map[string]any) (int, error) {
	return c.mutator.Update(ctx, collection, f, data)
}

// UpdateOne applies the payload to the record with the given primary key
// and returns the stored record, or ErrNotFound.
func (c *Client) UpdateOne(ctx context.Context, collection string, pk any, data map[string]any) (map[string]any, error) {
	return c.mutator.UpdateOne(ctx, collection, pk, data)
}

// Remove deletes every record matching the filter, along with their
// junction rows, and returns how many were deleted.
func (c *Client) Remove(ctx context.Context, collection string, f Filter) (int, error) {
	return c.mutator.Remove(ctx, collection, f)
}

// RemoveOne deletes the record with the given primary key and returns it
// as it was stored, or ErrNotFound.
func (c *Client) RemoveOne(ctx context.Context, collection string, pk any) (map[string]any, error) {
	return c.mutator.RemoveOne(ctx, collection, pk)
}

// migrator returns a migrator bound to the client's driver and logger.
func (c *Client) migrator() *migrate.Migrator {
	return migrate.New(c.drv, c.schema, c.types, migrate.WithLogger(c.log))
}

// Plan returns the schema operations needed to converge the connected
// database with the declaration, without applying them.
func (c *Client) Plan(ctx context.Context) ([]migrate.Operation, error) {
	return c.migrator().Plan(ctx)
}

// Migrate applies every pending schema operation and returns what was
// applied.
func (c *Client) Migrate(ctx context.Context) ([]migrate.Operation, error) {
	return c.migrator().Migrate(ctx)
}

// Tx is a client bound to one transaction. Reads and writes issued
// through it share the transaction; mutations no longer open their own.
type Tx struct {
	Client
	tx dialect.Tx
}

// Tx starts a transaction and returns a client bound to it.
func (c *Client) Tx(ctx context.Context) (*Tx, error) {
	tx, err := c.drv.Tx(ctx)
	if err != nil {
		return nil, err
	}
	t := &Tx{Client: *c, tx: tx}
	t.exec = tx
	t.mutator = c.mutator.WithTx(tx)
	return t, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
