package strata

import (
	"github.com/syssam/strata/migrate"
	"github.com/syssam/strata/mutate"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// The error taxonomy lives in the subpackages that produce each error.
// The root package re-exports the whole surface so callers holding only a
// Client can match errors without importing the internals.

// Sentinel errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = mutate.ErrNotFound

	// ErrUnknownCollection is returned when an operation references a
	// collection absent from the schema.
	ErrUnknownCollection = schema.ErrUnknownCollection

	// ErrUnknownField is returned when a filter, selection or payload
	// references a field that is neither a column nor a relation.
	ErrUnknownField = schema.ErrUnknownField

	// ErrUnknownRelation is returned when a payload or selection references
	// a relation absent from the schema.
	ErrUnknownRelation = schema.ErrUnknownRelation

	// ErrUnsupportedOperator is returned when a filter uses an operator key
	// that is not in the operator registry.
	ErrUnsupportedOperator = query.ErrUnsupportedOperator

	// ErrMissingPrimaryKey is returned when a collection declares no primary
	// column, or an inserted row's primary key cannot be determined.
	ErrMissingPrimaryKey = schema.ErrMissingPrimaryKey

	// ErrUnsupportedOperation is returned when the migration applier
	// encounters a schema operation it does not implement.
	ErrUnsupportedOperation = migrate.ErrUnsupportedOperation
)

// Typed errors.
type (
	NotFoundError             = mutate.NotFoundError
	RollbackError             = mutate.RollbackError
	UnknownCollectionError    = schema.UnknownCollectionError
	UnknownFieldError         = schema.UnknownFieldError
	UnknownRelationError      = schema.UnknownRelationError
	MissingPrimaryKeyError    = schema.MissingPrimaryKeyError
	UnsupportedOperatorError  = query.UnsupportedOperatorError
	UnsupportedOperationError = migrate.UnsupportedOperationError
	ValidationError           = schema.ValidationError
	ValidationErrors          = schema.ValidationErrors
)

// Predicate helpers.
var (
	IsNotFound             = mutate.IsNotFound
	IsUnknownCollection    = schema.IsUnknownCollection
	IsUnknownField         = schema.IsUnknownField
	IsUnknownRelation      = schema.IsUnknownRelation
	IsUnsupportedOperator  = query.IsUnsupportedOperator
	IsMissingPrimaryKey    = schema.IsMissingPrimaryKey
	IsUnsupportedOperation = migrate.IsUnsupportedOperation

	// Constraint classification inspects driver-specific error codes and
	// falls back to message matching.
	IsConstraintError           = mutate.IsConstraintError
	IsUniqueConstraintError     = mutate.IsUniqueConstraintError
	IsForeignKeyConstraintError = mutate.IsForeignKeyConstraintError
)
