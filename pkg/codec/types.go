package codec

import (
	"fmt"
	"strings"
)

// DataType identifies a controller data type.
type DataType uint8

const (
	TypeUnknown DataType = iota
	TypeBool
	TypeByte
	TypeSInt
	TypeUSInt
	TypeInt
	TypeUInt
	TypeWord
	TypeDInt
	TypeUDInt
	TypeDWord
	TypeLInt
	TypeULInt
	TypeLWord
	TypeReal
	TypeLReal
	TypeString
	TypeTime
	TypeDate
	TypeDT
	TypeTOD
)

// DefaultStringLength is the buffer size of a STRING without an explicit
// length: 80 characters plus the terminator.
const DefaultStringLength = 81

var typeNames = map[DataType]string{
	TypeBool:   "BOOL",
	TypeByte:   "BYTE",
	TypeSInt:   "SINT",
	TypeUSInt:  "USINT",
	TypeInt:    "INT",
	TypeUInt:   "UINT",
	TypeWord:   "WORD",
	TypeDInt:   "DINT",
	TypeUDInt:  "UDINT",
	TypeDWord:  "DWORD",
	TypeLInt:   "LINT",
	TypeULInt:  "ULINT",
	TypeLWord:  "LWORD",
	TypeReal:   "REAL",
	TypeLReal:  "LREAL",
	TypeString: "STRING",
	TypeTime:   "TIME",
	TypeDate:   "DATE",
	TypeDT:     "DT",
	TypeTOD:    "TOD",
}

// String returns the controller name of the type.
func (t DataType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseDataType parses a type name such as "REAL" or "dint".
// DATE_AND_TIME and TIME_OF_DAY are accepted as aliases.
func ParseDataType(s string) (DataType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "DATE_AND_TIME":
		return TypeDT, nil
	case "TIME_OF_DAY":
		return TypeTOD, nil
	}
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown data type %q", s)
}

// Types returns all supported data types in declaration order.
func Types() []DataType {
	out := make([]DataType, 0, len(typeNames))
	for t := TypeBool; t <= TypeTOD; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is a supported type.
func (t DataType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Size returns the wire width in bytes. STRING reports DefaultStringLength.
func (t DataType) Size() int {
	switch t {
	case TypeBool, TypeByte, TypeSInt, TypeUSInt:
		return 1
	case TypeInt, TypeUInt, TypeWord:
		return 2
	case TypeDInt, TypeUDInt, TypeDWord, TypeReal, TypeTime, TypeDate, TypeDT, TypeTOD:
		return 4
	case TypeLInt, TypeULInt, TypeLWord, TypeLReal:
		return 8
	case TypeString:
		return DefaultStringLength
	default:
		return 0
	}
}

// IsSigned reports whether t is a signed integer type.
func (t DataType) IsSigned() bool {
	switch t {
	case TypeSInt, TypeInt, TypeDInt, TypeLInt:
		return true
	}
	return false
}

// IsUnsigned reports whether t is an unsigned integer type.
func (t DataType) IsUnsigned() bool {
	switch t {
	case TypeByte, TypeUSInt, TypeUInt, TypeWord, TypeUDInt, TypeDWord, TypeULInt, TypeLWord:
		return true
	}
	return false
}

// IsFloat reports whether t is REAL or LREAL.
func (t DataType) IsFloat() bool {
	return t == TypeReal || t == TypeLReal
}

// IsNumeric reports whether scaling applies to t.
func (t DataType) IsNumeric() bool {
	return t.IsSigned() || t.IsUnsigned() || t.IsFloat()
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(b []byte) error {
	parsed, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
