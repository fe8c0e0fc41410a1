package props

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tobsdb/nanoq/internal/types"
)

func ParseBoolPropSafe(prop FieldProp, value string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("Invalid syntax: %s(%s)", prop, value)
	}
	return b, nil
}

func ParseKeyPropSafe(value string) (bool, error) {
	switch strings.TrimSpace(value) {
	case KeyPropPrimary:
		return true, nil
	}
	return false, fmt.Errorf("Invalid syntax: key(%s)", value)
}

// ParseDefaultPropSafe turns the literal inside default(...) into a value of
// the field's type. Strings may be wrapped in single or double quotes.
func ParseDefaultPropSafe(field_type types.FieldType, value string) (any, error) {
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			value = value[1 : len(value)-1]
		}
	}

	switch field_type {
	case types.FieldTypeArray, types.FieldTypeMap:
		return nil, fmt.Errorf("default(%s) is not allowed on type %s", value, field_type)
	}

	res, err := types.Cast(field_type, value)
	if err != nil {
		return nil, fmt.Errorf("default(%s) is not a valid prop; %s", value, err.Error())
	}
	return res, nil
}
