// Package schema defines the declarative description of collections,
// columns and relations the rest of strata operates on: filters and
// selections are resolved against it, mutations are partitioned by it, and
// migrations converge a live database towards it.
package schema

import (
	"sort"

	"github.com/go-openapi/inflect"
)

// Type is the enumerated data-type tag of a column.
type Type string

// Column data types.
const (
	TypeString     Type = "string"
	TypeText       Type = "text"
	TypeInt        Type = "integer"
	TypeBigInt     Type = "bigInteger"
	TypeFloat      Type = "float"
	TypeDecimal    Type = "decimal"
	TypeBool       Type = "boolean"
	TypeDate       Type = "date"
	TypeDateTime   Type = "datetime"
	TypeTime       Type = "time"
	TypeTimestamp  Type = "timestamp"
	TypeJSON       Type = "json"
	TypeUUID       Type = "uuid"
	TypeEnum       Type = "enum"
	TypeIncrements Type = "increments"
)

// Column is the definition of a single table column. Columns are authored
// once at schema-definition time, normalized by New, and immutable
// thereafter.
type Column struct {
	Name       string
	Type       Type
	Nullable   bool
	Unique     bool
	Primary    bool
	Increments bool
	Default    any
	HasDefault bool
	Length     int      // string types
	Precision  int      // decimal types
	Scale      int      // decimal types
	Options    []string // enum types
}

// C returns a new column definition. Columns are nullable unless Required,
// Primary or Increments is applied.
func C(name string, t Type) *Column {
	return &Column{Name: name, Type: t, Nullable: true}
}

// Required marks the column NOT NULL.
func (c *Column) Required() *Column {
	c.Nullable = false
	return c
}

// AsUnique adds a unique constraint to the column.
func (c *Column) AsUnique() *Column {
	c.Unique = true
	return c
}

// AsPrimary marks the column as the collection primary key. Primary
// columns are never nullable.
func (c *Column) AsPrimary() *Column {
	c.Primary = true
	c.Nullable = false
	return c
}

// AutoIncrement marks the column as auto-incrementing. Implies primary.
func (c *Column) AutoIncrement() *Column {
	c.Increments = true
	return c.AsPrimary()
}

// WithDefault sets the column default value.
func (c *Column) WithDefault(v any) *Column {
	c.Default = v
	c.HasDefault = true
	return c
}

// MaxLen sets the length attribute of string columns.
func (c *Column) MaxLen(n int) *Column {
	c.Length = n
	return c
}

// WithPrecision sets precision and scale of decimal columns.
func (c *Column) WithPrecision(precision, scale int) *Column {
	c.Precision = precision
	c.Scale = scale
	return c
}

// WithOptions sets the allowed values of enum columns.
func (c *Column) WithOptions(options ...string) *Column {
	c.Options = options
	return c
}

// RelationKind discriminates the relation variants. It is a closed set;
// switches over it are expected to be exhaustive.
type RelationKind uint8

// Relation kinds.
const (
	HasOne RelationKind = iota
	HasMany
	BelongsTo
	ManyToMany
)

// String returns the wire name of the relation kind.
func (k RelationKind) String() string {
	switch k {
	case HasOne:
		return "has-one"
	case HasMany:
		return "has-many"
	case BelongsTo:
		return "belongs-to"
	case ManyToMany:
		return "many-to-many"
	}
	return "unknown"
}

// Through describes the junction table of a many-to-many relation.
type Through struct {
	Table    string
	SourceFK string
	TargetFK string
}

// Relation is the definition of a relation field.
//
// For HasOne and HasMany, ForeignKey names the column on the related table
// that points back at this collection. For BelongsTo, the relation field
// name itself is a real column on the owning table and ForeignKey names
// the referenced column on the target (its primary key when empty). For
// ManyToMany the link goes through a junction table.
//
// BelongsTo fields materialize as columns; all other relation fields are
// virtual and never appear as columns on their own table.
type Relation struct {
	Name       string
	Kind       RelationKind
	Table      string // target collection
	ForeignKey string
	OnDelete   string // belongs-to referential action, CASCADE by default
	OnUpdate   string // belongs-to referential action, CASCADE by default
	Through    *Through
}

// OwnsOne returns a has-one relation definition. The related table holds
// the foreign key.
func OwnsOne(name, table string) *Relation {
	return &Relation{Name: name, Kind: HasOne, Table: table}
}

// OwnsMany returns a has-many relation definition. The related table holds
// the foreign key.
func OwnsMany(name, table string) *Relation {
	return &Relation{Name: name, Kind: HasMany, Table: table}
}

// RefersTo returns a belongs-to relation definition. The owning table
// holds a foreign key column named after the relation itself.
func RefersTo(name, table string) *Relation {
	return &Relation{Name: name, Kind: BelongsTo, Table: table}
}

// Links returns a many-to-many relation definition resolved through a
// junction table.
func Links(name, table string) *Relation {
	return &Relation{Name: name, Kind: ManyToMany, Table: table, Through: &Through{}}
}

// FK overrides the derived foreign-key column name.
func (r *Relation) FK(name string) *Relation {
	r.ForeignKey = name
	return r
}

// Via sets the junction table of a many-to-many relation. Empty FK names
// are derived from the table names during normalization.
func (r *Relation) Via(table, sourceFK, targetFK string) *Relation {
	r.Through = &Through{Table: table, SourceFK: sourceFK, TargetFK: targetFK}
	return r
}

// OnDeleteAction overrides the ON DELETE referential action of a
// belongs-to relation.
func (r *Relation) OnDeleteAction(action string) *Relation {
	r.OnDelete = action
	return r
}

// OnUpdateAction overrides the ON UPDATE referential action of a
// belongs-to relation.
func (r *Relation) OnUpdateAction(action string) *Relation {
	r.OnUpdate = action
	return r
}

// Collection is a named, ordered set of columns and relations.
type Collection struct {
	Name      string
	Columns   []*Column
	Relations []*Relation
}

// NewCollection returns a collection holding the given fields in order.
func NewCollection(name string, fields ...any) *Collection {
	c := &Collection{Name: name}
	for _, f := range fields {
		switch f := f.(type) {
		case *Column:
			c.Columns = append(c.Columns, f)
		case *Relation:
			c.Relations = append(c.Relations, f)
		}
	}
	return c
}

// lookups is the per-collection index built once at schema construction.
// It is valid for the lifetime of one immutable Schema value.
type lookups struct {
	columns   map[string]*Column
	relations map[string]*Relation
	primary   *Column
}

// Schema is an immutable set of collections with precomputed lookup
// indexes. Construct with New; a Schema value is safe for concurrent use.
type Schema struct {
	collections map[string]*Collection
	order       []string
	index       map[string]*lookups
}

// New normalizes and validates the given collections and returns a Schema.
func New(collections ...*Collection) (*Schema, error) {
	s := &Schema{
		collections: make(map[string]*Collection, len(collections)),
		index:       make(map[string]*lookups, len(collections)),
	}
	for _, c := range collections {
		s.collections[c.Name] = c
		s.order = append(s.order, c.Name)
	}
	s.normalize()
	if err := s.validate(); err != nil {
		return nil, err
	}
	for name, c := range s.collections {
		l := &lookups{
			columns:   make(map[string]*Column, len(c.Columns)),
			relations: make(map[string]*Relation, len(c.Relations)),
		}
		for _, col := range c.Columns {
			l.columns[col.Name] = col
			if col.Primary {
				l.primary = col
			}
		}
		for _, rel := range c.Relations {
			l.relations[rel.Name] = rel
		}
		s.index[name] = l
	}
	return s, nil
}

// normalize applies defaults: CASCADE referential actions on belongs-to,
// referenced-column and junction foreign-key names derived from table
// names, and increments columns promoted to non-nullable primary keys.
func (s *Schema) normalize() {
	for _, name := range s.order {
		c := s.collections[name]
		for _, col := range c.Columns {
			if col.Type == TypeIncrements {
				col.Increments = true
				col.Primary = true
				col.Nullable = false
			}
		}
		for _, rel := range c.Relations {
			switch rel.Kind {
			case BelongsTo:
				if rel.OnDelete == "" {
					rel.OnDelete = "CASCADE"
				}
				if rel.OnUpdate == "" {
					rel.OnUpdate = "CASCADE"
				}
			case HasOne, HasMany:
				if rel.ForeignKey == "" {
					rel.ForeignKey = ForeignKeyName(name)
				}
			case ManyToMany:
				if rel.Through == nil {
					rel.Through = &Through{}
				}
				if rel.Through.Table == "" {
					rel.Through.Table = JunctionTableName(name, rel.Table)
				}
				if rel.Through.SourceFK == "" {
					rel.Through.SourceFK = ForeignKeyName(name)
				}
				if rel.Through.TargetFK == "" {
					rel.Through.TargetFK = ForeignKeyName(rel.Table)
				}
			}
		}
	}
}

// ForeignKeyName derives the conventional foreign-key column name for the
// given table, e.g. "users" -> "user_id".
func ForeignKeyName(table string) string {
	return inflect.Singularize(inflect.Underscore(table)) + "_id"
}

// JunctionTableName derives the conventional junction table name for a
// many-to-many relation between the two tables, e.g. "user_roles".
func JunctionTableName(source, target string) string {
	return inflect.Singularize(inflect.Underscore(source)) + "_" + inflect.Underscore(target)
}

// Tables returns the collection names in declaration order.
func (s *Schema) Tables() []string {
	return append([]string(nil), s.order...)
}

// SortedTables returns the collection names sorted lexically. Used where
// deterministic output matters more than declaration order.
func (s *Schema) SortedTables() []string {
	out := s.Tables()
	sort.Strings(out)
	return out
}

// Collection returns the named collection.
func (s *Schema) Collection(name string) (*Collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, NewUnknownCollectionError(name)
	}
	return c, nil
}

// HasCollection reports whether the named collection exists.
func (s *Schema) HasCollection(name string) bool {
	_, ok := s.collections[name]
	return ok
}

// Column returns the named column of the given collection.
func (s *Schema) Column(table, name string) (*Column, error) {
	l, ok := s.index[table]
	if !ok {
		return nil, NewUnknownCollectionError(table)
	}
	col, ok := l.columns[name]
	if !ok {
		return nil, NewUnknownFieldError(table, name)
	}
	return col, nil
}

// HasColumn reports whether the collection has the named column.
func (s *Schema) HasColumn(table, name string) bool {
	l, ok := s.index[table]
	if !ok {
		return false
	}
	_, ok = l.columns[name]
	return ok
}

// Relation returns the named relation of the given collection.
func (s *Schema) Relation(table, name string) (*Relation, error) {
	l, ok := s.index[table]
	if !ok {
		return nil, NewUnknownCollectionError(table)
	}
	rel, ok := l.relations[name]
	if !ok {
		return nil, NewUnknownRelationError(table, name)
	}
	return rel, nil
}

// HasRelation reports whether the collection has the named relation.
func (s *Schema) HasRelation(table, name string) bool {
	l, ok := s.index[table]
	if !ok {
		return false
	}
	_, ok = l.relations[name]
	return ok
}

// Relations returns the relations of the collection in declaration order.
func (s *Schema) Relations(table string) []*Relation {
	c, ok := s.collections[table]
	if !ok {
		return nil
	}
	return append([]*Relation(nil), c.Relations...)
}

// Columns returns the columns of the collection in declaration order.
func (s *Schema) Columns(table string) []*Column {
	c, ok := s.collections[table]
	if !ok {
		return nil
	}
	return append([]*Column(nil), c.Columns...)
}

// PrimaryKey returns the primary column of the collection.
func (s *Schema) PrimaryKey(table string) (*Column, error) {
	l, ok := s.index[table]
	if !ok {
		return nil, NewUnknownCollectionError(table)
	}
	if l.primary == nil {
		return nil, NewMissingPrimaryKeyError(table, "no primary column declared")
	}
	return l.primary, nil
}

// ReferencedColumn resolves the column a belongs-to or many-to-many
// relation points at on its target collection: the explicit ForeignKey
// when set, the target primary key otherwise.
func (s *Schema) ReferencedColumn(rel *Relation) (*Column, error) {
	if rel.ForeignKey != "" && rel.Kind == BelongsTo {
		return s.Column(rel.Table, rel.ForeignKey)
	}
	return s.PrimaryKey(rel.Table)
}

// ForeignKeyColumn derives the column definition a belongs-to relation
// materializes on its owning table. Its SQL type mirrors the referenced
// primary key type; increments degrade to the matching plain integer type.
func (s *Schema) ForeignKeyColumn(rel *Relation) (*Column, error) {
	ref, err := s.ReferencedColumn(rel)
	if err != nil {
		return nil, err
	}
	t := ref.Type
	if t == TypeIncrements {
		t = TypeBigInt
	}
	return &Column{
		Name:     rel.Name,
		Type:     t,
		Nullable: true,
		Length:   ref.Length,
	}, nil
}
