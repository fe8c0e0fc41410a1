package props

import "slices"

type FieldProp string

var VALID_BUILTIN_PROPS = []FieldProp{
	FieldPropOptional, FieldPropDefault, FieldPropKey,
	FieldPropIndex, FieldPropUnique,
}

const (
	FieldPropOptional FieldProp = "optional" // optional(true/false)
	FieldPropDefault  FieldProp = "default"  // default(value|autoincrement)
	FieldPropKey      FieldProp = "key"      // key(primary)
	FieldPropIndex    FieldProp = "index"    // index(true/false)
	FieldPropUnique   FieldProp = "unique"   // unique(true/false), implies index
)

func (p FieldProp) IsValid() bool {
	return slices.Contains(VALID_BUILTIN_PROPS, p)
}

const (
	KeyPropPrimary       string = "primary"
	DefaultAutoIncrement string = "autoincrement"
)
