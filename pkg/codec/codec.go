package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const secondsPerDay = 24 * 60 * 60

var intRanges = map[DataType][2]int64{
	TypeSInt: {math.MinInt8, math.MaxInt8},
	TypeInt:  {math.MinInt16, math.MaxInt16},
	TypeDInt: {math.MinInt32, math.MaxInt32},
	TypeLInt: {math.MinInt64, math.MaxInt64},
}

var uintMax = map[DataType]uint64{
	TypeByte:  math.MaxUint8,
	TypeUSInt: math.MaxUint8,
	TypeUInt:  math.MaxUint16,
	TypeWord:  math.MaxUint16,
	TypeUDInt: math.MaxUint32,
	TypeDWord: math.MaxUint32,
	TypeULInt: math.MaxUint64,
	TypeLWord: math.MaxUint64,
}

// Decode converts raw controller bytes into a normalized value.
//
// Fixed-width types require exactly Size() bytes. STRING accepts any buffer
// and stops at the first null byte. Numeric types decode to int64, uint64 or
// float64; with a non-identity Scaling they always decode to float64.
func Decode(raw []byte, t DataType, opts ...Option) (any, error) {
	o := buildOptions(opts)

	if !t.Valid() {
		return nil, conversionErr(t, raw, "unsupported data type")
	}
	if t == TypeString {
		return decodeString(raw), nil
	}
	if len(raw) != t.Size() {
		return nil, conversionErr(t, raw, "expected %d bytes, got %d", t.Size(), len(raw))
	}

	le := binary.LittleEndian
	var v any
	switch t {
	case TypeBool:
		return raw[0] != 0, nil
	case TypeSInt:
		v = int64(int8(raw[0]))
	case TypeByte, TypeUSInt:
		v = uint64(raw[0])
	case TypeInt:
		v = int64(int16(le.Uint16(raw)))
	case TypeUInt, TypeWord:
		v = uint64(le.Uint16(raw))
	case TypeDInt:
		v = int64(int32(le.Uint32(raw)))
	case TypeUDInt, TypeDWord:
		v = uint64(le.Uint32(raw))
	case TypeLInt:
		v = int64(le.Uint64(raw))
	case TypeULInt, TypeLWord:
		v = le.Uint64(raw)
	case TypeReal:
		v = float64(math.Float32frombits(le.Uint32(raw)))
	case TypeLReal:
		v = math.Float64frombits(le.Uint64(raw))
	case TypeTime, TypeTOD:
		return time.Duration(le.Uint32(raw)) * time.Millisecond, nil
	case TypeDate, TypeDT:
		return time.Unix(int64(le.Uint32(raw)), 0).UTC(), nil
	}

	if o.Scaling != nil {
		if o.Scaling.Factor == 0 {
			return nil, conversionErr(t, raw, "scaling factor is zero")
		}
		return o.Scaling.Apply(asFloat(v)), nil
	}
	return v, nil
}

// Encode converts a value into raw controller bytes.
//
// Numeric inputs may be any Go integer or float type, bool, or a numeric
// string. Floats are rounded to the nearest integer for integer targets.
// Values outside the target range fail with a *ConversionError.
func Encode(v any, t DataType, opts ...Option) ([]byte, error) {
	o := buildOptions(opts)

	switch {
	case t == TypeBool:
		return encodeBool(v)
	case t.IsSigned():
		return encodeSigned(v, t, o)
	case t.IsUnsigned():
		return encodeUnsigned(v, t, o)
	case t.IsFloat():
		return encodeFloat(v, t, o)
	case t == TypeString:
		return encodeString(v, o)
	case t == TypeTime || t == TypeTOD:
		return encodeDuration(v, t)
	case t == TypeDate || t == TypeDT:
		return encodeTime(v, t)
	default:
		return nil, conversionErr(t, v, "unsupported data type")
	}
}

func decodeString(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToValidUTF8(string(raw), "")
}

func encodeBool(v any) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		var err error
		b, err = cast.ToBoolE(v)
		if err != nil {
			return nil, conversionErr(TypeBool, v, "not a boolean")
		}
	}
	if b {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

// scaledFloat converts v to float64 and applies the inverse transform.
func scaledFloat(v any, t DataType, n number, o Options) (float64, error) {
	f := n.float()
	if o.Scaling != nil {
		var err error
		f, err = o.Scaling.Reverse(f)
		if err != nil {
			return 0, conversionErr(t, v, "scaling factor is zero")
		}
	}
	return f, nil
}

func encodeSigned(v any, t DataType, o Options) ([]byte, error) {
	n, err := parseNumber(v, t)
	if err != nil {
		return nil, err
	}
	lo, hi := intRanges[t][0], intRanges[t][1]

	var i int64
	switch {
	case o.Scaling != nil || n.kind == kindFloat:
		f, err := scaledFloat(v, t, n, o)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, conversionErr(t, v, "value is not finite")
		}
		f = math.Round(f)
		if f < float64(lo) || f >= float64(hi)+1 {
			return nil, conversionErr(t, v, "out of range [%d, %d]", lo, hi)
		}
		i = int64(f)
	case n.kind == kindUint:
		if n.u > uint64(hi) {
			return nil, conversionErr(t, v, "out of range [%d, %d]", lo, hi)
		}
		i = int64(n.u)
	default:
		if n.i < lo || n.i > hi {
			return nil, conversionErr(t, v, "out of range [%d, %d]", lo, hi)
		}
		i = n.i
	}
	return putUint(t.Size(), uint64(i)), nil
}

func encodeUnsigned(v any, t DataType, o Options) ([]byte, error) {
	n, err := parseNumber(v, t)
	if err != nil {
		return nil, err
	}
	hi := uintMax[t]

	var u uint64
	switch {
	case o.Scaling != nil || n.kind == kindFloat:
		f, err := scaledFloat(v, t, n, o)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, conversionErr(t, v, "value is not finite")
		}
		f = math.Round(f)
		if f < 0 || f >= float64(hi)+1 {
			return nil, conversionErr(t, v, "out of range [0, %d]", hi)
		}
		u = uint64(f)
	case n.kind == kindInt:
		if n.i < 0 || uint64(n.i) > hi {
			return nil, conversionErr(t, v, "out of range [0, %d]", hi)
		}
		u = uint64(n.i)
	default:
		if n.u > hi {
			return nil, conversionErr(t, v, "out of range [0, %d]", hi)
		}
		u = n.u
	}
	return putUint(t.Size(), u), nil
}

func encodeFloat(v any, t DataType, o Options) ([]byte, error) {
	n, err := parseNumber(v, t)
	if err != nil {
		return nil, err
	}
	f, err := scaledFloat(v, t, n, o)
	if err != nil {
		return nil, err
	}
	if t == TypeLReal {
		return putUint(8, math.Float64bits(f)), nil
	}
	if !math.IsNaN(f) && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
		return nil, conversionErr(t, v, "out of REAL range")
	}
	return putUint(4, uint64(math.Float32bits(float32(f)))), nil
}

func encodeString(v any, o Options) ([]byte, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, conversionErr(TypeString, v, "not a string")
	}
	if strings.IndexByte(s, 0) >= 0 {
		return nil, conversionErr(TypeString, v, "contains a null byte")
	}
	if limit := o.StringLength - 1; len(s) > limit {
		return nil, conversionErr(TypeString, v, "longer than %d bytes", limit)
	}
	buf := make([]byte, o.StringLength)
	copy(buf, s)
	return buf, nil
}

func encodeDuration(v any, t DataType) ([]byte, error) {
	var d time.Duration
	switch x := v.(type) {
	case time.Duration:
		d = x
	case string:
		if n, err := parseNumber(x, t); err == nil {
			d = time.Duration(n.float() * float64(time.Millisecond))
			break
		}
		parsed, err := cast.ToDurationE(x)
		if err != nil {
			return nil, conversionErr(t, v, "not a duration")
		}
		d = parsed
	default:
		n, err := parseNumber(v, t)
		if err != nil {
			return nil, err
		}
		d = time.Duration(n.float() * float64(time.Millisecond))
	}

	if d < 0 {
		return nil, conversionErr(t, v, "negative duration")
	}
	if t == TypeTOD && d >= 24*time.Hour {
		return nil, conversionErr(t, v, "time of day exceeds 24h")
	}
	ms := d.Milliseconds()
	if ms > math.MaxUint32 {
		return nil, conversionErr(t, v, "duration exceeds %d ms", uint64(math.MaxUint32))
	}
	return putUint(4, uint64(ms)), nil
}

func encodeTime(v any, t DataType) ([]byte, error) {
	var tm time.Time
	switch x := v.(type) {
	case time.Time:
		tm = x
	case string:
		parsed, err := cast.ToTimeE(x)
		if err != nil {
			return nil, conversionErr(t, v, "not a timestamp")
		}
		tm = parsed
	default:
		n, err := parseNumber(v, t)
		if err != nil {
			return nil, err
		}
		tm = time.Unix(int64(n.float()), 0)
	}

	sec := tm.Unix()
	if sec < 0 || sec > math.MaxUint32 {
		return nil, conversionErr(t, v, "timestamp outside 1970..2106")
	}
	if t == TypeDate {
		sec -= sec % secondsPerDay
	}
	return putUint(4, uint64(sec)), nil
}

func putUint(size int, u uint64) []byte {
	buf := make([]byte, size)
	le := binary.LittleEndian
	switch size {
	case 1:
		buf[0] = byte(u)
	case 2:
		le.PutUint16(buf, uint16(u))
	case 4:
		le.PutUint32(buf, uint32(u))
	case 8:
		le.PutUint64(buf, u)
	}
	return buf
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}
