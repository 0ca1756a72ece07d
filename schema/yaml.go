package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Collections []yamlCollection `yaml:"collections"`
}

type yamlCollection struct {
	Name      string         `yaml:"name"`
	Columns   []yamlColumn   `yaml:"columns"`
	Relations []yamlRelation `yaml:"relations"`
}

type yamlColumn struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Nullable   *bool    `yaml:"nullable"`
	Unique     bool     `yaml:"unique"`
	Primary    bool     `yaml:"primary"`
	Increments bool     `yaml:"increments"`
	Default    *string  `yaml:"default"`
	Length     int      `yaml:"length"`
	Precision  int      `yaml:"precision"`
	Scale      int      `yaml:"scale"`
	Options    []string `yaml:"options"`
}

type yamlRelation struct {
	Name       string       `yaml:"name"`
	Type       string       `yaml:"type"`
	Table      string       `yaml:"table"`
	ForeignKey string       `yaml:"foreignKey"`
	OnDelete   string       `yaml:"onDelete"`
	OnUpdate   string       `yaml:"onUpdate"`
	Through    *yamlThrough `yaml:"through"`
}

type yamlThrough struct {
	Table    string `yaml:"table"`
	SourceFK string `yaml:"sourceFk"`
	TargetFK string `yaml:"targetFk"`
}

// LoadFile reads a YAML schema file and returns the normalized, validated
// Schema.
func LoadFile(filename string) (*Schema, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("strata: reading schema file: %w", err)
	}
	return Load(data)
}

// Load parses YAML schema bytes and returns the normalized, validated
// Schema.
func Load(data []byte) (*Schema, error) {
	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return nil, fmt.Errorf("strata: unmarshalling schema YAML: %w", err)
	}
	collections := make([]*Collection, 0, len(yf.Collections))
	for _, yc := range yf.Collections {
		c := &Collection{Name: yc.Name}
		for _, col := range yc.Columns {
			built, err := col.build(yc.Name)
			if err != nil {
				return nil, err
			}
			c.Columns = append(c.Columns, built)
		}
		for _, rel := range yc.Relations {
			built, err := rel.build(yc.Name)
			if err != nil {
				return nil, err
			}
			c.Relations = append(c.Relations, built)
		}
		collections = append(collections, c)
	}
	return New(collections...)
}

func (y yamlColumn) build(table string) (*Column, error) {
	t := Type(y.Type)
	switch t {
	case TypeString, TypeText, TypeInt, TypeBigInt, TypeFloat, TypeDecimal,
		TypeBool, TypeDate, TypeDateTime, TypeTime, TypeTimestamp,
		TypeJSON, TypeUUID, TypeEnum, TypeIncrements:
	default:
		return nil, fmt.Errorf("strata: collection %q: column %q: unknown type %q", table, y.Name, y.Type)
	}
	c := &Column{
		Name:       y.Name,
		Type:       t,
		Nullable:   true, // nullable unless specified
		Unique:     y.Unique,
		Primary:    y.Primary,
		Increments: y.Increments,
		Length:     y.Length,
		Precision:  y.Precision,
		Scale:      y.Scale,
		Options:    y.Options,
	}
	if y.Nullable != nil {
		c.Nullable = *y.Nullable
	}
	if y.Default != nil {
		c.Default = *y.Default
		c.HasDefault = true
	}
	if t == TypeIncrements || y.Increments {
		c.Increments = true
		c.Primary = true
	}
	if c.Primary {
		c.Nullable = false
	}
	return c, nil
}

func (y yamlRelation) build(table string) (*Relation, error) {
	r := &Relation{
		Name:       y.Name,
		Table:      y.Table,
		ForeignKey: y.ForeignKey,
		OnDelete:   y.OnDelete,
		OnUpdate:   y.OnUpdate,
	}
	switch y.Type {
	case "has-one":
		r.Kind = HasOne
	case "has-many":
		r.Kind = HasMany
	case "belongs-to":
		r.Kind = BelongsTo
	case "many-to-many":
		r.Kind = ManyToMany
		r.Through = &Through{}
		if y.Through != nil {
			r.Through.Table = y.Through.Table
			r.Through.SourceFK = y.Through.SourceFK
			r.Through.TargetFK = y.Through.TargetFK
		}
	default:
		return nil, fmt.Errorf("strata: collection %q: relation %q: unknown type %q", table, y.Name, y.Type)
	}
	return r, nil
}
