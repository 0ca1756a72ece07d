package mutate

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/coltype"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(
		schema.NewCollection("users",
			schema.C("id", schema.TypeIncrements),
			schema.C("email", schema.TypeString).AsUnique().Required(),
			schema.C("status", schema.TypeString),
			schema.OwnsMany("posts", "posts").FK("author"),
			schema.Links("roles", "roles"),
		),
		schema.NewCollection("posts",
			schema.C("id", schema.TypeIncrements),
			schema.C("title", schema.TypeString).Required(),
			schema.RefersTo("author", "users"),
			schema.OwnsMany("comments", "comments").FK("post_id"),
		),
		schema.NewCollection("comments",
			schema.C("id", schema.TypeIncrements),
			schema.C("body", schema.TypeText).Required(),
			schema.RefersTo("post_id", "posts"),
		),
		schema.NewCollection("roles",
			schema.C("id", schema.TypeIncrements),
			schema.C("name", schema.TypeString).AsUnique().Required(),
		),
		schema.NewCollection("user_roles",
			schema.C("id", schema.TypeIncrements),
			schema.RefersTo("user_id", "users"),
			schema.RefersTo("role_id", "roles"),
		),
	)
	require.NoError(t, err)
	return s
}

func mockOrchestrator(t *testing.T, dialectName string) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sql.OpenDB(dialectName, db), testSchema(t), coltype.NewRegistry()), mock
}

func TestCreateFlat(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO `users` (`email`, `status`) VALUES (?, ?) RETURNING `id`, `email`, `status`").
		WithArgs("a@x.io", "active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "status"}).AddRow(1, "a@x.io", "active"))
	mock.ExpectCommit()

	rec, err := o.Create(context.Background(), "users", map[string]any{
		"email":  "a@x.io",
		"status": "active",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec["id"])
	assert.Equal(t, "a@x.io", rec["email"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNested(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	// The belongs-to parent is written first; its key becomes the post's
	// foreign key.
	mock.ExpectQuery("INSERT INTO `users` (`email`) VALUES (?) RETURNING `id`, `email`, `status`").
		WithArgs("a@x.io").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "status"}).AddRow(1, "a@x.io", nil))
	mock.ExpectQuery("INSERT INTO `posts` (`author`, `title`) VALUES (?, ?) RETURNING `id`, `title`, `author`").
		WithArgs(int64(1), "hi").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author"}).AddRow(7, "hi", 1))
	// Owned children are written after the base row, with the parent key
	// stamped into their foreign key.
	mock.ExpectQuery("INSERT INTO `comments` (`body`, `post_id`) VALUES (?, ?) RETURNING `id`, `body`, `post_id`").
		WithArgs("nice", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body", "post_id"}).AddRow(100, "nice", 7))
	mock.ExpectCommit()

	rec, err := o.Create(context.Background(), "posts", map[string]any{
		"title":    "hi",
		"author":   map[string]any{"email": "a@x.io"},
		"comments": []any{map[string]any{"body": "nice"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsChildCarryingKey(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO `posts` (`title`) VALUES (?) RETURNING `id`, `title`, `author`").
		WithArgs("hi").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author"}).AddRow(7, "hi", nil))
	// On create, a child object keeps its supplied key but is still
	// inserted as a new row, never turned into an update of another row.
	mock.ExpectQuery("INSERT INTO `comments` (`body`, `id`, `post_id`) VALUES (?, ?, ?) RETURNING `id`, `body`, `post_id`").
		WithArgs("imported", 42, int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "body", "post_id"}).AddRow(42, "imported", 7))
	mock.ExpectCommit()

	_, err := o.Create(context.Background(), "posts", map[string]any{
		"title":    "hi",
		"comments": []any{map[string]any{"id": 42, "body": "imported"}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyToMany(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO `users` (`email`) VALUES (?) RETURNING `id`, `email`, `status`").
		WithArgs("a@x.io").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "status"}).AddRow(1, "a@x.io", nil))
	mock.ExpectQuery("INSERT INTO `roles` (`name`) VALUES (?) RETURNING `id`, `name`").
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(5, "admin"))
	mock.ExpectExec("INSERT INTO `user_roles` (`user_id`, `role_id`) VALUES (?, ?)").
		WithArgs(int64(1), int64(5)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// A bare key links an existing role without touching its row.
	mock.ExpectExec("INSERT INTO `user_roles` (`user_id`, `role_id`) VALUES (?, ?)").
		WithArgs(int64(1), 6).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	_, err := o.Create(context.Background(), "users", map[string]any{
		"email": "a@x.io",
		"roles": []any{map[string]any{"name": "admin"}, 6},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReplacesManyToMany(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT `users`.`id` AS `id` FROM `users` WHERE `users`.`id` = ?").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	// Replace-all: every existing junction row goes, then the supplied set
	// is written back.
	mock.ExpectExec("DELETE FROM `user_roles` WHERE `user_id` = ?").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT DISTINCT `roles`.`id` AS `id` FROM `roles` WHERE `roles`.`id` = ?").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec("UPDATE `roles` SET `name` = ? WHERE `id` IN (?)").
		WithArgs("super-admin", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `user_roles` (`user_id`, `role_id`) VALUES (?, ?)").
		WithArgs(int64(1), 5).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	n, err := o.Update(context.Background(), "users", query.Filter{"id": 1}, map[string]any{
		"roles": []any{map[string]any{"id": 5, "name": "super-admin"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScalars(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT `users`.`id` AS `id` FROM `users` WHERE `users`.`status` = ?").
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectExec("UPDATE `users` SET `status` = ? WHERE `id` IN (?, ?)").
		WithArgs("active", int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := o.Update(context.Background(), "users", query.Filter{"status": "pending"}, map[string]any{
		"status": "active",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOneNotFound(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT `users`.`id` AS `id` FROM `users` WHERE `users`.`id` = ?").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := o.UpdateOne(context.Background(), "users", 99, map[string]any{"status": "active"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveOne(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id`, `email`, `status` FROM `users` WHERE `id` = ?").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "status"}).AddRow(3, "c@x.io", nil))
	mock.ExpectQuery("SELECT DISTINCT `users`.`id` AS `id` FROM `users` WHERE `users`.`id` = ?").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec("DELETE FROM `user_roles` WHERE `user_id` IN (?)").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM `users` WHERE `id` IN (?)").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := o.RemoveOne(context.Background(), "users", 3)
	require.NoError(t, err)
	assert.Equal(t, "c@x.io", rec["email"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRollsBackOnChildFailure(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO `posts` (`title`) VALUES (?) RETURNING `id`, `title`, `author`").
		WithArgs("hi").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author"}).AddRow(7, "hi", nil))
	mock.ExpectQuery("INSERT INTO `comments` (`body`, `post_id`) VALUES (?, ?) RETURNING `id`, `body`, `post_id`").
		WithArgs("nice", int64(7)).
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err := o.Create(context.Background(), "posts", map[string]any{
		"title":    "hi",
		"comments": []any{map[string]any{"body": "nice"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithoutReturning(t *testing.T) {
	// MySQL has no RETURNING; the generated key is read back and the row
	// re-fetched inside the same transaction.
	o, mock := mockOrchestrator(t, dialect.MySQL)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users` (`email`) VALUES (?)").
		WithArgs("a@x.io").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectQuery("SELECT `id`, `email`, `status` FROM `users` WHERE `id` = ?").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "status"}).AddRow(42, "a@x.io", nil))
	mock.ExpectCommit()

	rec, err := o.Create(context.Background(), "users", map[string]any{"email": "a@x.io"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInheritedTransaction(t *testing.T) {
	o, mock := mockOrchestrator(t, dialect.SQLite)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO `users` (`email`) VALUES (?) RETURNING `id`, `email`, `status`").
		WithArgs("a@x.io").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "status"}).AddRow(1, "a@x.io", nil))
	mock.ExpectCommit()

	tx, err := o.drv.Tx(context.Background())
	require.NoError(t, err)
	// The nested call must not commit the caller's transaction.
	_, err = o.WithTx(tx).Create(context.Background(), "users", map[string]any{"email": "a@x.io"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
