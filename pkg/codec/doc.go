// Package codec converts between the raw little-endian byte layouts used by
// the controller and normalized Go values.
//
// Supported data types and their wire widths:
//
//	BOOL           1 byte   bool
//	BYTE, USINT    1 byte   uint64
//	SINT           1 byte   int64
//	INT            2 bytes  int64
//	UINT, WORD     2 bytes  uint64
//	DINT           4 bytes  int64
//	UDINT, DWORD   4 bytes  uint64
//	LINT           8 bytes  int64
//	ULINT, LWORD   8 bytes  uint64
//	REAL           4 bytes  float64
//	LREAL          8 bytes  float64
//	STRING         n bytes  string (null terminated, default buffer 81 bytes)
//	TIME, TOD      4 bytes  time.Duration (milliseconds)
//	DATE, DT       4 bytes  time.Time (seconds since the Unix epoch, UTC)
//
// # Scaling
//
// Numeric values may carry a linear transform. Decoding computes
//
//	value = raw*factor + offset
//
// optionally rounded to a number of decimal places, and always yields a
// float64. Encoding applies the inverse (value-offset)/factor before the
// result is rounded to the nearest integer for integer targets.
//
// Every conversion failure is a *ConversionError, which matches
// ErrTypeConversion with errors.Is.
package codec
