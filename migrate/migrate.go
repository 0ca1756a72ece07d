// Package migrate converges live database structure with the declared
// schema. The differ is intentionally minimal: it creates missing tables,
// adds missing columns and aligns nullability, and touches nothing else.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syssam/strata/coltype"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema"
)

// Migrator plans and applies schema operations against one database.
type Migrator struct {
	drv     dialect.Driver
	schema  *schema.Schema
	types   *coltype.Registry
	dialect string
	log     *slog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger used while applying operations.
func WithLogger(l *slog.Logger) Option {
	return func(m *Migrator) { m.log = l }
}

// New returns a migrator for the given driver and schema.
func New(drv dialect.Driver, s *schema.Schema, types *coltype.Registry, opts ...Option) *Migrator {
	m := &Migrator{
		drv:     drv,
		schema:  s,
		types:   types,
		dialect: drv.Dialect(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Plan diffs the declared schema against the live database and returns the
// operations needed to converge, in application order. It performs no
// writes.
func (m *Migrator) Plan(ctx context.Context) ([]Operation, error) {
	var ops []Operation
	for _, table := range m.schema.Tables() {
		exists, err := m.HasTable(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			ops = append(ops, &CreateTable{Table: table})
			continue
		}
		live, err := m.ColumnInfo(ctx, table)
		if err != nil {
			return nil, err
		}
		cols, err := m.tableColumns(table)
		if err != nil {
			return nil, err
		}
		for _, col := range cols {
			info, ok := live[col.Name]
			switch {
			case !ok:
				ops = append(ops, &AddColumn{Table: table, Column: col})
			case info.Nullable != col.Nullable:
				// sqlite cannot alter nullability in place; leave the
				// drift out of the plan rather than promise an apply
				// that never happens.
				if m.dialect == dialect.SQLite {
					continue
				}
				ops = append(ops, &AlterColumn{Table: table, Column: col})
			}
		}
	}
	return ops, nil
}

// Migrate plans and applies every pending operation, returning what was
// applied.
func (m *Migrator) Migrate(ctx context.Context) ([]Operation, error) {
	ops, err := m.Plan(ctx)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		m.log.LogAttrs(ctx, slog.LevelInfo, "migrate: applying",
			slog.String("operation", op.String()))
		if err := m.apply(ctx, op); err != nil {
			return nil, fmt.Errorf("strata: migrate: %s: %w", op, err)
		}
	}
	return ops, nil
}

func (m *Migrator) apply(ctx context.Context, op Operation) error {
	switch op := op.(type) {
	case *CreateTable:
		return m.createTable(ctx, op.Table)
	case *AddColumn:
		return m.addColumn(ctx, op.Table, op.Column)
	case *AlterColumn:
		return m.alterColumn(ctx, op.Table, op.Column)
	default:
		return NewUnsupportedOperationError(fmt.Sprintf("%T", op))
	}
}

// tableColumns resolves the full column set of a declared table: its own
// columns plus the foreign-key columns its belongs-to relations
// materialize. Resolution needs the whole schema; a dangling relation
// target is a configuration error.
func (m *Migrator) tableColumns(table string) ([]*schema.Column, error) {
	cols := append([]*schema.Column(nil), m.schema.Columns(table)...)
	for _, rel := range m.schema.Relations(table) {
		if rel.Kind != schema.BelongsTo {
			continue
		}
		fk, err := m.schema.ForeignKeyColumn(rel)
		if err != nil {
			return nil, err
		}
		cols = append(cols, fk)
	}
	return cols, nil
}

func (m *Migrator) createTable(ctx context.Context, table string) error {
	cols, err := m.tableColumns(table)
	if err != nil {
		return err
	}
	for _, col := range cols {
		if err := m.types.BeforeCreate(ctx, m.drv, table, col); err != nil {
			return err
		}
	}
	var defs []string
	for _, col := range cols {
		def, err := m.columnDDL(table, col)
		if err != nil {
			return err
		}
		defs = append(defs, def)
	}
	for _, rel := range m.schema.Relations(table) {
		if rel.Kind != schema.BelongsTo {
			continue
		}
		ref, err := m.schema.ReferencedColumn(rel)
		if err != nil {
			return err
		}
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s",
			m.ident(rel.Name), m.ident(rel.Table), m.ident(ref.Name), rel.OnDelete, rel.OnUpdate))
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", m.ident(table), strings.Join(defs, ", "))
	if err := m.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
		return err
	}
	for _, col := range cols {
		if err := m.types.AfterCreate(ctx, m.drv, table, col); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) addColumn(ctx context.Context, table string, col *schema.Column) error {
	if err := m.types.BeforeCreate(ctx, m.drv, table, col); err != nil {
		return err
	}
	def, err := m.columnDDL(table, col)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", m.ident(table), def)
	if err := m.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
		return err
	}
	return m.types.AfterCreate(ctx, m.drv, table, col)
}

func (m *Migrator) alterColumn(ctx context.Context, table string, col *schema.Column) error {
	ddl, err := m.types.DDL(m.dialect, table, col)
	if err != nil {
		return err
	}
	var stmt string
	switch m.dialect {
	case dialect.Postgres:
		action := "SET NOT NULL"
		if col.Nullable {
			action = "DROP NOT NULL"
		}
		stmt = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s",
			m.ident(table), m.ident(col.Name), action)
	case dialect.MySQL:
		null := " NOT NULL"
		if col.Nullable {
			null = " NULL"
		}
		stmt = fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s%s",
			m.ident(table), m.ident(col.Name), ddl, null)
	default:
		return NewUnsupportedOperationError(fmt.Sprintf("alter column on %s", m.dialect))
	}
	return m.drv.Exec(ctx, stmt, []any{}, nil)
}

// columnDDL renders one column definition: the type fragment from the
// registry plus the uniformly applied constraints.
func (m *Migrator) columnDDL(table string, col *schema.Column) (string, error) {
	ddl, err := m.types.DDL(m.dialect, table, col)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(m.ident(col.Name))
	b.WriteByte(' ')
	b.WriteString(ddl)
	if col.Primary {
		b.WriteString(" PRIMARY KEY")
	}
	if col.Increments && m.dialect == dialect.MySQL {
		b.WriteString(" AUTO_INCREMENT")
	}
	if col.Unique && !col.Primary {
		b.WriteString(" UNIQUE")
	}
	if !col.Nullable && !col.Primary {
		b.WriteString(" NOT NULL")
	}
	if col.HasDefault {
		b.WriteString(" DEFAULT ")
		b.WriteString(defaultLiteral(col.Default))
	}
	return b.String(), nil
}

func defaultLiteral(v any) string {
	switch v := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case nil:
		return "NULL"
	default:
		return fmt.Sprint(v)
	}
}

func (m *Migrator) ident(s string) string {
	if m.dialect == dialect.Postgres {
		return `"` + s + `"`
	}
	return "`" + s + "`"
}
