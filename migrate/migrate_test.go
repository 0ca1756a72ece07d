package migrate

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/coltype"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(
		schema.NewCollection("users",
			schema.C("id", schema.TypeIncrements),
			schema.C("email", schema.TypeString).AsUnique().Required(),
			schema.C("status", schema.TypeString),
		),
		schema.NewCollection("posts",
			schema.C("id", schema.TypeIncrements),
			schema.C("title", schema.TypeString).Required(),
			schema.RefersTo("author", "users"),
		),
	)
	require.NoError(t, err)
	return s
}

func mockMigrator(t *testing.T, dialectName string, s *schema.Schema) (*Migrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sql.OpenDB(dialectName, db), s, coltype.NewRegistry()), mock
}

func expectNoTable(mock sqlmock.Sqlmock, table string) {
	mock.ExpectQuery("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?").
		WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
}

func expectTable(mock sqlmock.Sqlmock, table string) {
	mock.ExpectQuery("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?").
		WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow(table))
}

func expectPragma(mock sqlmock.Sqlmock, table string, cols ...[2]any) {
	rows := sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"})
	for i, c := range cols {
		rows.AddRow(i, c[0], "text", c[1], nil, 0)
	}
	mock.ExpectQuery("PRAGMA table_info(`" + table + "`)").WillReturnRows(rows)
}

func TestPlanEmptyDatabase(t *testing.T) {
	m, mock := mockMigrator(t, dialect.SQLite, testSchema(t))
	expectNoTable(mock, "users")
	expectNoTable(mock, "posts")

	ops, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "create table users", ops[0].String())
	assert.Equal(t, "create table posts", ops[1].String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanConverged(t *testing.T) {
	m, mock := mockMigrator(t, dialect.SQLite, testSchema(t))
	expectTable(mock, "users")
	expectPragma(mock, "users", [2]any{"id", 1}, [2]any{"email", 1}, [2]any{"status", 0})
	expectTable(mock, "posts")
	expectPragma(mock, "posts", [2]any{"id", 1}, [2]any{"title", 1}, [2]any{"author", 0})

	ops, err := m.Plan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ops)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanDetectsDrift(t *testing.T) {
	m, mock := mockMigrator(t, dialect.Postgres, testSchema(t))
	hasTable := "SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	columns := "SELECT column_name, is_nullable FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1"
	// email lost its NOT NULL, status is missing entirely.
	mock.ExpectQuery(hasTable).WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(columns).WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "is_nullable"}).
			AddRow("id", "NO").
			AddRow("email", "YES"))
	mock.ExpectQuery(hasTable).WithArgs("posts").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(columns).WithArgs("posts").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "is_nullable"}).
			AddRow("id", "NO").
			AddRow("title", "NO").
			AddRow("author", "YES"))

	ops, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "alter column users.email", ops[0].String())
	assert.Equal(t, "add column users.status", ops[1].String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTables(t *testing.T) {
	m, mock := mockMigrator(t, dialect.SQLite, testSchema(t))
	expectNoTable(mock, "users")
	expectNoTable(mock, "posts")
	mock.ExpectExec("CREATE TABLE `users` (`id` integer PRIMARY KEY, `email` varchar(255) UNIQUE NOT NULL, `status` varchar(255))").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE `posts` (`id` integer PRIMARY KEY, `title` varchar(255) NOT NULL, `author` integer, FOREIGN KEY (`author`) REFERENCES `users` (`id`) ON DELETE CASCADE ON UPDATE CASCADE)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ops, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.Len(t, ops, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTablesPostgres(t *testing.T) {
	m, mock := mockMigrator(t, dialect.Postgres, testSchema(t))
	hasTable := "SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	mock.ExpectQuery(hasTable).WithArgs("users").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectQuery(hasTable).WithArgs("posts").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(`CREATE TABLE "users" ("id" bigserial PRIMARY KEY, "email" varchar(255) UNIQUE NOT NULL, "status" varchar(255))`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE "posts" ("id" bigserial PRIMARY KEY, "title" varchar(255) NOT NULL, "author" bigint, FOREIGN KEY ("author") REFERENCES "users" ("id") ON DELETE CASCADE ON UPDATE CASCADE)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := m.Migrate(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAltersAndAddsMySQL(t *testing.T) {
	s, err := schema.New(
		schema.NewCollection("users",
			schema.C("id", schema.TypeIncrements),
			schema.C("email", schema.TypeString).AsUnique().Required(),
			schema.C("status", schema.TypeString),
		),
	)
	require.NoError(t, err)
	m, mock := mockMigrator(t, dialect.MySQL, s)
	mock.ExpectQuery("SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("SELECT column_name, is_nullable FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "is_nullable"}).
			AddRow("id", "NO").
			AddRow("email", "YES"))
	mock.ExpectExec("ALTER TABLE `users` MODIFY COLUMN `email` varchar(255) NOT NULL").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE `users` ADD COLUMN `status` varchar(255)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ops, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.Len(t, ops, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanSQLiteIgnoresNullabilityDrift(t *testing.T) {
	s, err := schema.New(
		schema.NewCollection("users",
			schema.C("id", schema.TypeIncrements),
			schema.C("email", schema.TypeString).Required(),
			schema.C("status", schema.TypeString),
		),
	)
	require.NoError(t, err)
	m, mock := mockMigrator(t, dialect.SQLite, s)
	// email lost its NOT NULL, status is missing. sqlite cannot rewrite
	// nullability in place, so only the add shows up and a Migrate run
	// leaves nothing pending.
	expectTable(mock, "users")
	expectPragma(mock, "users", [2]any{"id", 1}, [2]any{"email", 0})

	ops, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "add column users.status", ops[0].String())
	require.NoError(t, mock.ExpectationsWereMet())
}

type dropTable struct{ table string }

func (*dropTable) isOperation()      {}
func (op *dropTable) String() string { return "drop table " + op.table }

func TestApplyRejectsUnknownOperation(t *testing.T) {
	m, _ := mockMigrator(t, dialect.SQLite, testSchema(t))
	err := m.apply(context.Background(), &dropTable{table: "users"})
	require.Error(t, err)
	assert.True(t, IsUnsupportedOperation(err))
}

func TestMigrateRendersDefaults(t *testing.T) {
	s, err := schema.New(
		schema.NewCollection("settings",
			schema.C("id", schema.TypeIncrements),
			schema.C("label", schema.TypeString).WithDefault("none"),
			schema.C("active", schema.TypeBool).WithDefault(true),
		),
	)
	require.NoError(t, err)
	m, mock := mockMigrator(t, dialect.SQLite, s)
	expectNoTable(mock, "settings")
	mock.ExpectExec("CREATE TABLE `settings` (`id` integer PRIMARY KEY, `label` varchar(255) DEFAULT 'none', `active` integer DEFAULT TRUE)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = m.Migrate(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
