package codec

import (
	"errors"
	"fmt"
)

// ErrTypeConversion is matched by every *ConversionError.
var ErrTypeConversion = errors.New("type conversion failed")

// ConversionError describes a value that could not be converted.
type ConversionError struct {
	Type   DataType
	Value  any
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %v to %s: %s", e.Value, e.Type, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return ErrTypeConversion
}

func conversionErr(t DataType, v any, format string, args ...any) error {
	return &ConversionError{Type: t, Value: v, Reason: fmt.Sprintf(format, args...)}
}
