package migrate

import (
	"context"
	"fmt"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
)

// ColumnInfo is the live state of one column as reported by the backend.
// Nullability is the only attribute the differ compares.
type ColumnInfo struct {
	Name     string
	Nullable bool
}

// HasTable reports whether the table exists in the connected database.
func (m *Migrator) HasTable(ctx context.Context, table string) (bool, error) {
	var (
		q    string
		args []any
	)
	switch m.dialect {
	case dialect.Postgres:
		q = "SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
		args = []any{table}
	case dialect.MySQL:
		q = "SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
		args = []any{table}
	default:
		q = "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?"
		args = []any{table}
	}
	var rows sql.Rows
	if err := m.drv.Query(ctx, q, args, &rows); err != nil {
		return false, err
	}
	recs, err := sql.ScanMaps(&rows)
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// ColumnInfo introspects the live columns of the table.
func (m *Migrator) ColumnInfo(ctx context.Context, table string) (map[string]ColumnInfo, error) {
	switch m.dialect {
	case dialect.Postgres:
		return m.infoColumns(ctx,
			"SELECT column_name, is_nullable FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1",
			[]any{table})
	case dialect.MySQL:
		return m.infoColumns(ctx,
			"SELECT column_name, is_nullable FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?",
			[]any{table})
	default:
		return m.pragmaColumns(ctx, table)
	}
}

// infoColumns reads information_schema rows, shared by postgres and mysql.
func (m *Migrator) infoColumns(ctx context.Context, q string, args []any) (map[string]ColumnInfo, error) {
	var rows sql.Rows
	if err := m.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	recs, err := sql.ScanMaps(&rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ColumnInfo, len(recs))
	for _, rec := range recs {
		name := fmt.Sprint(rec["column_name"])
		out[name] = ColumnInfo{
			Name:     name,
			Nullable: fmt.Sprint(rec["is_nullable"]) == "YES",
		}
	}
	return out, nil
}

// pragmaColumns reads sqlite's table_info pragma.
func (m *Migrator) pragmaColumns(ctx context.Context, table string) (map[string]ColumnInfo, error) {
	var rows sql.Rows
	q := fmt.Sprintf("PRAGMA table_info(`%s`)", table)
	if err := m.drv.Query(ctx, q, []any{}, &rows); err != nil {
		return nil, err
	}
	recs, err := sql.ScanMaps(&rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ColumnInfo, len(recs))
	for _, rec := range recs {
		name := fmt.Sprint(rec["name"])
		out[name] = ColumnInfo{
			Name:     name,
			Nullable: fmt.Sprint(rec["notnull"]) == "0",
		}
	}
	return out, nil
}
