// Package coltype implements the column-type registry: for every declared
// column type it knows the dialect-specific DDL fragment, optional DDL
// hooks that run around table creation, and the input/output value
// transforms applied on the way to and from the driver.
package coltype

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/schema"
)

// Definition describes one column type. Any nil hook or transform is
// treated as absent (identity for transforms).
type Definition struct {
	// DDL returns the SQL type fragment, e.g. "varchar(255)".
	DDL func(dialect, table string, c *schema.Column) string
	// BeforeCreate runs before the CREATE TABLE or ALTER statement that
	// introduces a column of this type, for types needing auxiliary DDL.
	BeforeCreate func(ctx context.Context, drv dialect.Driver, table string, c *schema.Column) error
	// AfterCreate runs after the introducing statement.
	AfterCreate func(ctx context.Context, drv dialect.Driver, table string, c *schema.Column) error
	// Input transforms a client value before it is bound as a statement
	// argument.
	Input func(dialect string, v any) (any, error)
	// Output transforms a raw driver value before it is handed back to the
	// caller.
	Output func(dialect string, v any) (any, error)
	// DefaultInput produces a value for a column the client did not supply.
	// Used for generated keys (uuid).
	DefaultInput func() any
}

// Registry maps column types to their definitions.
type Registry struct {
	types map[schema.Type]*Definition
}

// Register adds or replaces the definition of a type.
func (r *Registry) Register(t schema.Type, def *Definition) {
	r.types[t] = def
}

// UnknownTypeError reports a column type with no registry entry.
type UnknownTypeError struct {
	Type schema.Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("strata: coltype: unknown column type %q", e.Type)
}

func (r *Registry) definition(t schema.Type) (*Definition, error) {
	def, ok := r.types[t]
	if !ok {
		return nil, &UnknownTypeError{Type: t}
	}
	return def, nil
}

// DDL returns the SQL type fragment for the column in the given dialect.
func (r *Registry) DDL(dialectName, table string, c *schema.Column) (string, error) {
	def, err := r.definition(c.Type)
	if err != nil {
		return "", err
	}
	return def.DDL(dialectName, table, c), nil
}

// BeforeCreate runs the type's before-create hook, if any.
func (r *Registry) BeforeCreate(ctx context.Context, drv dialect.Driver, table string, c *schema.Column) error {
	def, err := r.definition(c.Type)
	if err != nil {
		return err
	}
	if def.BeforeCreate == nil {
		return nil
	}
	return def.BeforeCreate(ctx, drv, table, c)
}

// AfterCreate runs the type's after-create hook, if any.
func (r *Registry) AfterCreate(ctx context.Context, drv dialect.Driver, table string, c *schema.Column) error {
	def, err := r.definition(c.Type)
	if err != nil {
		return err
	}
	if def.AfterCreate == nil {
		return nil
	}
	return def.AfterCreate(ctx, drv, table, c)
}

// Input transforms a client value for the column before binding it.
func (r *Registry) Input(dialectName string, c *schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	def, err := r.definition(c.Type)
	if err != nil {
		return nil, err
	}
	if def.Input == nil {
		return v, nil
	}
	return def.Input(dialectName, v)
}

// Output transforms a raw driver value for the column before returning it.
func (r *Registry) Output(dialectName string, c *schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	def, err := r.definition(c.Type)
	if err != nil {
		return nil, err
	}
	if def.Output == nil {
		return v, nil
	}
	return def.Output(dialectName, v)
}

// GeneratedDefault returns a generated value for a column the client did
// not supply, and whether the type generates one.
func (r *Registry) GeneratedDefault(c *schema.Column) (any, bool) {
	def, ok := r.types[c.Type]
	if !ok || def.DefaultInput == nil {
		return nil, false
	}
	return def.DefaultInput(), true
}

// EnumTypeName returns the name of the auxiliary postgres enum type
// created for the column.
func EnumTypeName(table string, c *schema.Column) string {
	return table + "_" + c.Name + "_enum"
}

// NewRegistry returns a registry populated with the built-in types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[schema.Type]*Definition)}
	r.Register(schema.TypeString, &Definition{
		DDL: func(d, _ string, c *schema.Column) string {
			length := c.Length
			if length == 0 {
				length = 255
			}
			return fmt.Sprintf("varchar(%d)", length)
		},
	})
	r.Register(schema.TypeText, &Definition{
		DDL: ddl("text", "text", "text"),
	})
	r.Register(schema.TypeInt, &Definition{
		DDL: ddl("integer", "int", "integer"),
	})
	r.Register(schema.TypeBigInt, &Definition{
		DDL: ddl("bigint", "bigint", "integer"),
	})
	r.Register(schema.TypeFloat, &Definition{
		DDL: ddl("double precision", "double", "real"),
	})
	r.Register(schema.TypeDecimal, &Definition{
		DDL: func(d, _ string, c *schema.Column) string {
			precision, scale := c.Precision, c.Scale
			if precision == 0 {
				precision, scale = 8, 2
			}
			return fmt.Sprintf("decimal(%d,%d)", precision, scale)
		},
	})
	r.Register(schema.TypeBool, &Definition{
		DDL:    ddl("boolean", "tinyint(1)", "integer"),
		Input:  boolInput,
		Output: boolOutput,
	})
	r.Register(schema.TypeDate, &Definition{
		DDL:    ddl("date", "date", "text"),
		Output: timeOutput("2006-01-02"),
	})
	r.Register(schema.TypeDateTime, &Definition{
		DDL:    ddl("timestamp", "datetime", "text"),
		Output: timeOutput(time.DateTime),
	})
	r.Register(schema.TypeTime, &Definition{
		DDL: ddl("time", "time", "text"),
	})
	r.Register(schema.TypeTimestamp, &Definition{
		DDL:    ddl("timestamp", "timestamp", "text"),
		Output: timeOutput(time.DateTime),
	})
	r.Register(schema.TypeJSON, &Definition{
		DDL:    ddl("jsonb", "json", "text"),
		Input:  jsonInput,
		Output: jsonOutput,
	})
	r.Register(schema.TypeUUID, &Definition{
		DDL:    ddl("uuid", "char(36)", "text"),
		Input:  uuidInput,
		Output: uuidOutput,
		DefaultInput: func() any {
			return uuid.NewString()
		},
	})
	r.Register(schema.TypeEnum, &Definition{
		DDL: func(d, table string, c *schema.Column) string {
			switch d {
			case dialect.Postgres:
				return EnumTypeName(table, c)
			case dialect.MySQL:
				out := "enum("
				for i, o := range c.Options {
					if i > 0 {
						out += ", "
					}
					out += enumLiteral(o)
				}
				return out + ")"
			default:
				return "text"
			}
		},
		BeforeCreate: func(ctx context.Context, drv dialect.Driver, table string, c *schema.Column) error {
			if drv.Dialect() != dialect.Postgres {
				return nil
			}
			// Auxiliary enum types are created once and shared by every
			// migration touching the column.
			name := EnumTypeName(table, c)
			var rows sql.Rows
			if err := drv.Query(ctx, "SELECT 1 FROM pg_type WHERE typname = $1", []any{name}, &rows); err != nil {
				return err
			}
			exists := rows.Next()
			if err := rows.Close(); err != nil {
				return err
			}
			if exists {
				return nil
			}
			stmt := "CREATE TYPE " + name + " AS ENUM ("
			for i, o := range c.Options {
				if i > 0 {
					stmt += ", "
				}
				stmt += enumLiteral(o)
			}
			stmt += ")"
			return drv.Exec(ctx, stmt, []any{}, nil)
		},
	})
	r.Register(schema.TypeIncrements, &Definition{
		DDL: ddl("bigserial", "bigint", "integer"),
	})
	return r
}

// enumLiteral quotes one enum option for DDL, doubling embedded quotes.
func enumLiteral(o string) string {
	return "'" + strings.ReplaceAll(o, "'", "''") + "'"
}

// ddl returns a DDL func that picks a fixed fragment per dialect.
func ddl(pg, my, lite string) func(string, string, *schema.Column) string {
	return func(d, _ string, _ *schema.Column) string {
		switch d {
		case dialect.Postgres:
			return pg
		case dialect.MySQL:
			return my
		default:
			return lite
		}
	}
}

func boolInput(d string, v any) (any, error) {
	if d != dialect.SQLite {
		return v, nil
	}
	// modernc.org/sqlite stores booleans as integers.
	switch v := v.(type) {
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return v, nil
	}
}

func boolOutput(_ string, v any) (any, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case string:
		return v == "1" || v == "true" || v == "t", nil
	default:
		return v, nil
	}
}

func jsonInput(_ string, v any) (any, error) {
	switch v.(type) {
	case string, []byte:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("strata: coltype: marshal json value: %w", err)
	}
	return string(data), nil
}

func jsonOutput(_ string, v any) (any, error) {
	var data []byte
	switch v := v.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return v, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("strata: coltype: unmarshal json value: %w", err)
	}
	return out, nil
}

func uuidInput(_ string, v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v.String(), nil
	case [16]byte:
		return uuid.UUID(v).String(), nil
	default:
		return v, nil
	}
}

func uuidOutput(_ string, v any) (any, error) {
	switch v := v.(type) {
	case []byte:
		if u, err := uuid.ParseBytes(v); err == nil {
			return u.String(), nil
		}
		return string(v), nil
	case [16]byte:
		return uuid.UUID(v).String(), nil
	default:
		return v, nil
	}
}

// timeOutput normalizes driver time values: time.Time passes through,
// string encodings (sqlite) are parsed with the given layout.
func timeOutput(layout string) func(string, any) (any, error) {
	return func(_ string, v any) (any, error) {
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			for _, l := range []string{layout, time.RFC3339, time.RFC3339Nano} {
				if t, err := time.Parse(l, v); err == nil {
					return t, nil
				}
			}
			return v, nil
		default:
			return v, nil
		}
	}
}
