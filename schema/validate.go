package schema

import (
	"fmt"
	"strings"
)

// ValidationError reports a single schema consistency violation.
type ValidationError struct {
	Table   string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("strata: schema: %s.%s: %s", e.Table, e.Field, e.Message)
	}
	return fmt.Sprintf("strata: schema: %s: %s", e.Table, e.Message)
}

// ValidationErrors aggregates every violation found in one validation pass.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// validate checks schema-wide invariants: exactly one primary column per
// collection, every relation target present, junction tables complete, and
// no column shadowed by a virtual relation name.
func (s *Schema) validate() error {
	var errs []*ValidationError
	fail := func(table, field, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Table:   table,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}
	for _, name := range s.order {
		c := s.collections[name]
		var primaries int
		seen := make(map[string]bool, len(c.Columns))
		for _, col := range c.Columns {
			if col.Primary {
				primaries++
			}
			if seen[col.Name] {
				fail(name, col.Name, "duplicate column")
			}
			seen[col.Name] = true
		}
		switch primaries {
		case 1:
		case 0:
			fail(name, "", "no primary column declared")
		default:
			fail(name, "", "%d primary columns declared, want exactly 1", primaries)
		}
		for _, rel := range c.Relations {
			if rel.Kind != BelongsTo && seen[rel.Name] {
				// Virtual relation fields never materialize as columns;
				// a column of the same name would be unreachable.
				fail(name, rel.Name, "%s relation shadows a declared column", rel.Kind)
			}
			if rel.Kind == BelongsTo && seen[rel.Name] {
				fail(name, rel.Name, "belongs-to foreign key column is derived, not declared")
			}
			if !s.HasCollection(rel.Table) {
				fail(name, rel.Name, "relation target %q is not a collection", rel.Table)
				continue
			}
			if rel.Kind == ManyToMany {
				through := rel.Through
				jc, ok := s.collections[through.Table]
				if !ok {
					fail(name, rel.Name, "junction table %q is not a collection", through.Table)
					continue
				}
				for _, fk := range []string{through.SourceFK, through.TargetFK} {
					if !collectionHasField(jc, fk) {
						fail(name, rel.Name, "junction table %q has no field %q", through.Table, fk)
					}
				}
			}
		}
	}
	if len(errs) > 0 {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}

// collectionHasField reports whether the collection holds the name as a
// column or as a belongs-to relation (which materializes a column).
func collectionHasField(c *Collection, name string) bool {
	for _, col := range c.Columns {
		if col.Name == name {
			return true
		}
	}
	for _, rel := range c.Relations {
		if rel.Kind == BelongsTo && rel.Name == name {
			return true
		}
	}
	return false
}
