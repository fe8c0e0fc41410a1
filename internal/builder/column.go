package builder

import (
	"fmt"
	"strings"

	"github.com/tobsdb/nanoq/internal/parser"
	"github.com/tobsdb/nanoq/internal/props"
	"github.com/tobsdb/nanoq/internal/types"
)

type Column struct {
	Name          string
	Type          types.FieldType
	PrimaryKey    bool
	AutoIncrement bool
	Default       any
	Optional      bool
}

func (c *Column) String() string {
	parts := []string{c.Name, string(c.Type)}
	if c.PrimaryKey {
		parts = append(parts, "key(primary)")
	}
	if c.Optional {
		parts = append(parts, "optional(true)")
	}
	return strings.Join(parts, " ")
}

// Cast converts a value written to this column. A nil result with a nil
// error means the column stays empty.
func (c *Column) Cast(value any) (any, error) {
	if value == nil {
		if !c.Optional && !c.PrimaryKey {
			return nil, fmt.Errorf("Missing required column %s", c.Name)
		}
		return nil, nil
	}
	res, err := types.Cast(c.Type, value)
	if err != nil {
		return nil, fmt.Errorf("Invalid value for column %s: %s", c.Name, err.Error())
	}
	return res, nil
}

// CastInsert is Cast for a new row: a missing value takes the default.
func (c *Column) CastInsert(value any) (any, error) {
	if value == nil && c.Default != nil {
		return c.Default, nil
	}
	return c.Cast(value)
}

// columnFromParserData turns a parsed schema line into a column and, when the
// line asks for one, an index on it.
func columnFromParserData(data *parser.ParserData) (Column, *IndexConfig, error) {
	col := Column{Name: data.Name, Type: data.Builtin_type}

	if v, ok := data.Properties[props.FieldPropKey]; ok {
		is_pk, err := props.ParseKeyPropSafe(v)
		if err != nil {
			return col, nil, err
		}
		col.PrimaryKey = is_pk
	}

	if v, ok := data.Properties[props.FieldPropOptional]; ok {
		optional, err := props.ParseBoolPropSafe(props.FieldPropOptional, v)
		if err != nil {
			return col, nil, err
		}
		col.Optional = optional
	}

	if v, ok := data.Properties[props.FieldPropDefault]; ok {
		if v == props.DefaultAutoIncrement {
			col.AutoIncrement = true
		} else {
			def, err := props.ParseDefaultPropSafe(col.Type, v)
			if err != nil {
				return col, nil, err
			}
			col.Default = def
		}
	}

	var index *IndexConfig
	if v, ok := data.Properties[props.FieldPropIndex]; ok {
		indexed, err := props.ParseBoolPropSafe(props.FieldPropIndex, v)
		if err != nil {
			return col, nil, err
		}
		if indexed {
			index = &IndexConfig{Column: col.Name}
		}
	}
	if v, ok := data.Properties[props.FieldPropUnique]; ok {
		unique, err := props.ParseBoolPropSafe(props.FieldPropUnique, v)
		if err != nil {
			return col, nil, err
		}
		if unique {
			index = &IndexConfig{Column: col.Name, Unique: true}
		}
	}

	return col, index, nil
}

// column local rules:
// - primary key must be an indexable type
// - can't have key primary and optional true
// - only Int primary keys can auto increment
// - Array/Map/Any columns can't be indexed
func CheckColumnRules(col Column, index *IndexConfig) error {
	if !parser.IsValidName(col.Name) {
		return fmt.Errorf("Column name %q contains invalid characters", col.Name)
	}
	if !col.Type.IsValid() {
		return fmt.Errorf("Invalid column type: %s", col.Type)
	}

	if col.PrimaryKey {
		if !col.Type.Indexable() {
			return fmt.Errorf("column(%s) cannot be a primary key", &col)
		}
		if col.Optional {
			return fmt.Errorf("column(%s) cannot be optional", &col)
		}
	}

	if col.AutoIncrement {
		if !col.PrimaryKey || col.Type != types.FieldTypeInt {
			return fmt.Errorf("column(%s) cannot auto increment", &col)
		}
	}

	if col.Default != nil {
		if _, err := types.Cast(col.Type, col.Default); err != nil {
			return fmt.Errorf("column(%s) has an invalid default; %s", &col, err.Error())
		}
	}

	if index != nil {
		if col.PrimaryKey {
			return fmt.Errorf("column(%s) is already indexed", &col)
		}
		if !col.Type.Indexable() {
			return fmt.Errorf("column(%s) cannot be indexed", &col)
		}
	}

	return nil
}
