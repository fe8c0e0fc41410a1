package builder

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/tobsdb/nanoq/internal/parser"
	"github.com/tobsdb/nanoq/pkg"
)

// ParseSchema reads schema DSL text into table configs, in declaration order.
func ParseSchema(schema_data string) ([]TableConfig, error) {
	tables := []TableConfig{}
	seen := pkg.Map[string, bool]{}

	scanner := bufio.NewScanner(strings.NewReader(schema_data))
	line_idx := 0

	var current *TableConfig
	var has_pk bool

	for scanner.Scan() {
		line_idx++
		line := strings.TrimSpace(scanner.Text())

		// Ignore empty lines & comments
		if len(line) == 0 || strings.HasPrefix(line, "//") {
			continue
		}

		state, data, err := parser.LineParser(line)
		if err != nil {
			return nil, ParseLineError(line_idx, err.Error())
		}

		switch state {
		case parser.ParserStateTableStart:
			if current != nil {
				return nil, ParseLineError(line_idx, fmt.Sprintf("Table %s is not closed", current.Name))
			}
			if seen.Has(data.Name) {
				return nil, ParseLineError(line_idx, fmt.Sprintf("Duplicate table %s", data.Name))
			}
			seen.Set(data.Name, true)
			current = &TableConfig{Name: data.Name}
			has_pk = false
		case parser.ParserStateTableEnd:
			if current == nil {
				return nil, ParseLineError(line_idx, "Unexpected }")
			}
			if err := current.Validate(); err != nil {
				return nil, ParseLineError(line_idx, err.Error())
			}
			tables = append(tables, *current)
			current = nil
		case parser.ParserStateNewField:
			if current == nil {
				return nil, ParseLineError(line_idx, "Field declared outside of a table")
			}
			for _, col := range current.Columns {
				if col.Name == data.Name {
					return nil, ParseLineError(line_idx, fmt.Sprintf("Duplicate field %s", data.Name))
				}
			}

			col, index, err := columnFromParserData(data)
			if err != nil {
				return nil, ParseLineError(line_idx, err.Error())
			}
			if col.PrimaryKey && has_pk {
				return nil, ParseLineError(line_idx, "Table can't have multiple primary keys")
			}
			has_pk = has_pk || col.PrimaryKey

			if err := CheckColumnRules(col, index); err != nil {
				return nil, ParseLineError(line_idx, err.Error())
			}

			current.Columns = append(current.Columns, col)
			if index != nil {
				current.Indexes = append(current.Indexes, *index)
			}
		}
	}

	if current != nil {
		return nil, ParseLineError(line_idx, fmt.Sprintf("Table %s is not closed", current.Name))
	}
	return tables, scanner.Err()
}

func ParseLineError(line int, reason string) error {
	return fmt.Errorf("Error parsing line %d: %s", line, reason)
}
