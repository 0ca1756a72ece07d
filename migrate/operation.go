package migrate

import (
	"fmt"

	"github.com/syssam/strata/schema"
)

// Operation is one schema change produced by the differ and consumed by
// the applier. The set of implementations is closed; the applier matches
// exhaustively and treats anything else as a version mismatch.
type Operation interface {
	fmt.Stringer
	isOperation()
}

// CreateTable creates a declared table that does not exist yet, with all
// of its columns and constraints.
type CreateTable struct {
	Table string
}

func (o *CreateTable) isOperation() {}

func (o *CreateTable) String() string {
	return fmt.Sprintf("create table %s", o.Table)
}

// AddColumn adds a declared column missing from the live table.
type AddColumn struct {
	Table  string
	Column *schema.Column
}

func (o *AddColumn) isOperation() {}

func (o *AddColumn) String() string {
	return fmt.Sprintf("add column %s.%s", o.Table, o.Column.Name)
}

// AlterColumn changes the nullability of a live column to match its
// declaration. Nullability is the only attribute the differ tracks.
type AlterColumn struct {
	Table  string
	Column *schema.Column
}

func (o *AlterColumn) isOperation() {}

func (o *AlterColumn) String() string {
	return fmt.Sprintf("alter column %s.%s", o.Table, o.Column.Name)
}
