package mutate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	err := NewNotFoundError("users")
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "strata: users: record not found")

	wrapped := fmt.Errorf("lookup: %w", err)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.False(t, IsNotFound(nil))
}

func TestUniqueConstraintClassification(t *testing.T) {
	pgErr := &pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "users_email_key"`}
	assert.True(t, IsUniqueConstraintError(pgErr))
	assert.True(t, IsConstraintError(pgErr))
	assert.False(t, IsForeignKeyConstraintError(pgErr))

	myErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@x.io' for key 'users.email'"}
	assert.True(t, IsUniqueConstraintError(myErr))

	liteErr := errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)")
	assert.True(t, IsUniqueConstraintError(liteErr))

	assert.False(t, IsUniqueConstraintError(errors.New("syntax error")))
}

func TestForeignKeyConstraintClassification(t *testing.T) {
	pgErr := &pq.Error{Code: "23503", Message: `insert or update on table "posts" violates foreign key constraint`}
	assert.True(t, IsForeignKeyConstraintError(pgErr))
	assert.False(t, IsUniqueConstraintError(pgErr))

	myParent := &mysql.MySQLError{Number: 1451, Message: "Cannot delete or update a parent row"}
	myChild := &mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"}
	assert.True(t, IsForeignKeyConstraintError(myParent))
	assert.True(t, IsForeignKeyConstraintError(myChild))

	liteErr := errors.New("constraint failed: FOREIGN KEY constraint failed (787)")
	assert.True(t, IsForeignKeyConstraintError(liteErr))

	// Classification survives wrapping.
	wrapped := fmt.Errorf("create posts: %w", pgErr)
	assert.True(t, IsConstraintError(wrapped))
}

func TestRollbackErrorChain(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("%w: %v", cause, &RollbackError{Err: errors.New("connection gone")})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "rollback failed")
}
