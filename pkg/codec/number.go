package codec

import (
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

type numberKind uint8

const (
	kindInt numberKind = iota
	kindUint
	kindFloat
)

// number is a parsed numeric input that keeps 64-bit integer precision.
type number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
}

func (n number) float() float64 {
	switch n.kind {
	case kindInt:
		return float64(n.i)
	case kindUint:
		return float64(n.u)
	default:
		return n.f
	}
}

func parseNumber(v any, t DataType) (number, error) {
	switch x := v.(type) {
	case int:
		return number{kind: kindInt, i: int64(x)}, nil
	case int8:
		return number{kind: kindInt, i: int64(x)}, nil
	case int16:
		return number{kind: kindInt, i: int64(x)}, nil
	case int32:
		return number{kind: kindInt, i: int64(x)}, nil
	case int64:
		return number{kind: kindInt, i: x}, nil
	case uint:
		return number{kind: kindUint, u: uint64(x)}, nil
	case uint8:
		return number{kind: kindUint, u: uint64(x)}, nil
	case uint16:
		return number{kind: kindUint, u: uint64(x)}, nil
	case uint32:
		return number{kind: kindUint, u: uint64(x)}, nil
	case uint64:
		return number{kind: kindUint, u: x}, nil
	case float32:
		return number{kind: kindFloat, f: float64(x)}, nil
	case float64:
		return number{kind: kindFloat, f: x}, nil
	case bool:
		if x {
			return number{kind: kindInt, i: 1}, nil
		}
		return number{kind: kindInt}, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return number{}, conversionErr(t, v, "empty string")
		}
		// Strings are decimal; cast would read "010" as octal.
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return number{kind: kindInt, i: i}, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return number{kind: kindUint, u: u}, nil
		}
		if !decimalFloat(s) {
			return number{}, conversionErr(t, v, "not a decimal number")
		}
		if f, err := cast.ToFloat64E(s); err == nil {
			return number{kind: kindFloat, f: f}, nil
		}
		return number{}, conversionErr(t, v, "not numeric")
	case nil:
		return number{}, conversionErr(t, v, "nil value")
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return number{}, conversionErr(t, v, "not numeric")
		}
		return number{kind: kindFloat, f: f}, nil
	}
}

// decimalFloat reports whether s is a plain decimal float such as "-1.5",
// "2e3" or "+.5". Hex, octal, binary, underscores, and Inf/NaN are refused.
func decimalFloat(s string) bool {
	s = strings.TrimLeft(s, "+-")
	if s == "" {
		return false
	}
	digits := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case r == '.':
		case r == 'e' || r == 'E':
			return digits && decimalExponent(s[i+1:])
		default:
			return false
		}
	}
	return digits
}

func decimalExponent(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "+"), "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
