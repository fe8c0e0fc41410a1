package types

import "slices"

var VALID_BUILTIN_TYPES = []FieldType{
	FieldTypeInt, FieldTypeFloat, FieldTypeString, FieldTypeBool,
	FieldTypeArray, FieldTypeMap, FieldTypeAny, FieldTypeUUID,
}

type FieldType string

const (
	FieldTypeInt    FieldType = "Int"
	FieldTypeFloat  FieldType = "Float"
	FieldTypeString FieldType = "String"
	FieldTypeBool   FieldType = "Bool"
	FieldTypeArray  FieldType = "Array"
	FieldTypeMap    FieldType = "Map"
	FieldTypeAny    FieldType = "Any"
	FieldTypeUUID   FieldType = "UUID"
)

func (t FieldType) IsValid() bool {
	return slices.Contains(VALID_BUILTIN_TYPES, t)
}

// Indexable reports whether values of this type can key a secondary index.
func (t FieldType) Indexable() bool {
	switch t {
	case FieldTypeInt, FieldTypeFloat, FieldTypeString, FieldTypeBool, FieldTypeUUID:
		return true
	}
	return false
}

// Kind is the normalised shape of a stored value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
)

// Kind of the values a column of this type holds. Any has no fixed kind.
func (t FieldType) Kind() (Kind, bool) {
	switch t {
	case FieldTypeInt, FieldTypeFloat:
		return KindNumber, true
	case FieldTypeString, FieldTypeUUID:
		return KindString, true
	case FieldTypeBool:
		return KindBool, true
	case FieldTypeArray:
		return KindArray, true
	case FieldTypeMap:
		return KindMap, true
	}
	return KindNull, false
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	}
	return "unknown"
}
