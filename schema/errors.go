package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors for schema name resolution. The root strata package
// re-exports them; matching works through errors.Is either way.
var (
	// ErrUnknownCollection is returned when an operation references a
	// collection absent from the schema.
	ErrUnknownCollection = errors.New("strata: unknown collection")

	// ErrUnknownField is returned when a filter or selection references a
	// field that is neither a column nor a relation.
	ErrUnknownField = errors.New("strata: unknown field")

	// ErrUnknownRelation is returned when a payload or selection references
	// a relation absent from the schema.
	ErrUnknownRelation = errors.New("strata: unknown relation")

	// ErrMissingPrimaryKey is returned when a collection declares no primary
	// column, or an inserted row's primary key cannot be determined.
	ErrMissingPrimaryKey = errors.New("strata: missing primary key")
)

// UnknownCollectionError reports a reference to a collection that is not
// part of the schema.
type UnknownCollectionError struct {
	Collection string
}

func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("strata: unknown collection %q", e.Collection)
}

// Is reports whether the target matches ErrUnknownCollection.
func (e *UnknownCollectionError) Is(err error) bool {
	return err == ErrUnknownCollection
}

// NewUnknownCollectionError returns a new UnknownCollectionError.
func NewUnknownCollectionError(collection string) *UnknownCollectionError {
	return &UnknownCollectionError{Collection: collection}
}

// IsUnknownCollection returns true if the error is an UnknownCollectionError.
func IsUnknownCollection(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownCollectionError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownCollection)
}

// UnknownFieldError reports a filter or selection field that is neither a
// column nor a relation on its collection.
type UnknownFieldError struct {
	Collection string
	Field      string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("strata: unknown field %q on collection %q", e.Field, e.Collection)
}

// Is reports whether the target matches ErrUnknownField.
func (e *UnknownFieldError) Is(err error) bool {
	return err == ErrUnknownField
}

// NewUnknownFieldError returns a new UnknownFieldError.
func NewUnknownFieldError(collection, field string) *UnknownFieldError {
	return &UnknownFieldError{Collection: collection, Field: field}
}

// IsUnknownField returns true if the error is an UnknownFieldError.
func IsUnknownField(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownFieldError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownField)
}

// UnknownRelationError reports a reference to a relation that does not
// exist on its collection.
type UnknownRelationError struct {
	Collection string
	Relation   string
}

func (e *UnknownRelationError) Error() string {
	return fmt.Sprintf("strata: unknown relation %q on collection %q", e.Relation, e.Collection)
}

// Is reports whether the target matches ErrUnknownRelation.
func (e *UnknownRelationError) Is(err error) bool {
	return err == ErrUnknownRelation
}

// NewUnknownRelationError returns a new UnknownRelationError.
func NewUnknownRelationError(collection, relation string) *UnknownRelationError {
	return &UnknownRelationError{Collection: collection, Relation: relation}
}

// IsUnknownRelation returns true if the error is an UnknownRelationError.
func IsUnknownRelation(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownRelationError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownRelation)
}

// MissingPrimaryKeyError reports a collection without a primary column, or
// an insert whose generated key could not be read back.
type MissingPrimaryKeyError struct {
	Collection string
	Reason     string
}

func (e *MissingPrimaryKeyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("strata: collection %q: missing primary key: %s", e.Collection, e.Reason)
	}
	return fmt.Sprintf("strata: collection %q: missing primary key", e.Collection)
}

// Is reports whether the target matches ErrMissingPrimaryKey.
func (e *MissingPrimaryKeyError) Is(err error) bool {
	return err == ErrMissingPrimaryKey
}

// NewMissingPrimaryKeyError returns a new MissingPrimaryKeyError.
func NewMissingPrimaryKeyError(collection, reason string) *MissingPrimaryKeyError {
	return &MissingPrimaryKeyError{Collection: collection, Reason: reason}
}

// IsMissingPrimaryKey returns true if the error is a MissingPrimaryKeyError.
func IsMissingPrimaryKey(err error) bool {
	if err == nil {
		return false
	}
	var e *MissingPrimaryKeyError
	return errors.As(err, &e) || errors.Is(err, ErrMissingPrimaryKey)
}
