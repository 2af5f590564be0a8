package codec

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FixedWidth(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		typ  DataType
		want any
	}{
		{"BoolFalse", []byte{0}, TypeBool, false},
		{"BoolTrue", []byte{1}, TypeBool, true},
		{"SInt", []byte{0xff}, TypeSInt, int64(-1)},
		{"Byte", []byte{0xff}, TypeByte, uint64(255)},
		{"Int", []byte{0x18, 0xfc}, TypeInt, int64(-1000)},
		{"UInt", []byte{0xe8, 0x03}, TypeUInt, uint64(1000)},
		{"Word", []byte{0xff, 0xff}, TypeWord, uint64(65535)},
		{"DInt", []byte{0x00, 0x00, 0x00, 0x80}, TypeDInt, int64(math.MinInt32)},
		{"UDInt", []byte{0x01, 0x00, 0x01, 0x00}, TypeUDInt, uint64(65537)},
		{"LInt", []byte{0xfe, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, TypeLInt, int64(-2)},
		{"Real", []byte{0x00, 0x00, 0xc0, 0x3f}, TypeReal, float64(1.5)},
		{"LReal", []byte{0, 0, 0, 0, 0, 0, 0x04, 0x40}, TypeLReal, float64(2.5)},
		{"Time", []byte{0xdc, 0x05, 0, 0}, TypeTime, 1500 * time.Millisecond},
		{"Date", []byte{0x80, 0x51, 0x01, 0x00}, TypeDate, time.Unix(86400, 0).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_String(t *testing.T) {
	raw := append([]byte("hello"), 0, 'x', 'y')
	got, err := Decode(raw, TypeString)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = Decode([]byte("no terminator"), TypeString)
	require.NoError(t, err)
	assert.Equal(t, "no terminator", got)
}

func TestDecode_WrongLength(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, TypeDInt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeConversion))

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, TypeDInt, convErr.Type)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte{1}, TypeUnknown)
	assert.ErrorIs(t, err, ErrTypeConversion)
}

func TestDecode_Scaling(t *testing.T) {
	raw, err := Encode(215, TypeInt)
	require.NoError(t, err)

	got, err := Decode(raw, TypeInt, WithScaling(0.1, 0), WithPrecision(1))
	require.NoError(t, err)
	assert.Equal(t, 21.5, got)

	got, err = Decode(raw, TypeInt, WithScaling(1, -15))
	require.NoError(t, err)
	assert.Equal(t, 200.0, got)
}

func TestDecode_ScalingWithoutPrecision(t *testing.T) {
	t.Run("factor only keeps fraction", func(t *testing.T) {
		got, err := Decode([]byte{235, 0}, TypeInt, WithTransform(Scaling{Factor: 0.1}))
		require.NoError(t, err)
		assert.InDelta(t, 23.5, got, 1e-9)
	})

	t.Run("explicit zero places rounds", func(t *testing.T) {
		got, err := Decode([]byte{235, 0}, TypeInt, WithTransform(Scaling{Factor: 0.1, Precision: Places(0)}))
		require.NoError(t, err)
		assert.Equal(t, 24.0, got)
	})

	t.Run("zero factor is rejected", func(t *testing.T) {
		_, err := Decode([]byte{235, 0}, TypeInt, WithTransform(Scaling{}))
		assert.ErrorIs(t, err, ErrTypeConversion)

		_, err = Decode([]byte{235, 0}, TypeInt, WithScaling(0, 5))
		assert.ErrorIs(t, err, ErrTypeConversion)
	})
}

func TestScaling_Equal(t *testing.T) {
	base := Scaling{Factor: 0.1, Offset: 2}
	assert.True(t, base.Equal(Scaling{Factor: 0.1, Offset: 2}))
	assert.False(t, base.Equal(Scaling{Factor: 0.1, Offset: 2, Precision: Places(0)}))
	assert.True(t, Scaling{Factor: 1, Precision: Places(2)}.Equal(Scaling{Factor: 1, Precision: Places(2)}))
	assert.False(t, Scaling{Factor: 1, Precision: Places(2)}.Equal(Scaling{Factor: 1, Precision: Places(3)}))
	assert.True(t, NoScaling.IsIdentity())
	assert.False(t, Scaling{Factor: 1, Precision: Places(0)}.IsIdentity())
}

func TestDecode_IdentityScalingKeepsIntegers(t *testing.T) {
	got, err := Decode([]byte{7, 0}, TypeInt, WithScaling(1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		typ   DataType
		value any
	}{
		{TypeBool, true},
		{TypeBool, false},
		{TypeSInt, int64(math.MinInt8)},
		{TypeUSInt, uint64(200)},
		{TypeInt, int64(math.MaxInt16)},
		{TypeUInt, uint64(math.MaxUint16)},
		{TypeDInt, int64(-123456)},
		{TypeUDInt, uint64(math.MaxUint32)},
		{TypeDWord, uint64(0xdeadbeef)},
		{TypeLInt, int64(math.MinInt64)},
		{TypeULInt, uint64(math.MaxUint64)},
		{TypeLWord, uint64(1 << 40)},
		{TypeReal, float64(-0.25)},
		{TypeLReal, 3.141592653589793},
		{TypeString, "hello plc"},
		{TypeString, ""},
		{TypeTime, 90 * time.Second},
		{TypeTOD, 8*time.Hour + 30*time.Minute},
		{TypeDate, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{TypeDT, time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			raw, err := Encode(tt.value, tt.typ)
			require.NoError(t, err)
			if tt.typ != TypeString {
				assert.Len(t, raw, tt.typ.Size())
			}

			got, err := Decode(raw, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestEncode_ScaledRoundTrip(t *testing.T) {
	opts := []Option{WithScaling(0.1, 0), WithPrecision(1)}

	raw, err := Encode(21.5, TypeInt, opts...)
	require.NoError(t, err)
	assert.Equal(t, []byte{215, 0}, raw)

	got, err := Decode(raw, TypeInt, opts...)
	require.NoError(t, err)
	assert.Equal(t, 21.5, got)
}

func TestEncode_ZeroFactor(t *testing.T) {
	_, err := Encode(10, TypeInt, WithScaling(0, 5))
	assert.ErrorIs(t, err, ErrTypeConversion)
}

func TestEncode_OutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   DataType
	}{
		{"IntTooLarge", 40000, TypeInt},
		{"IntTooSmall", -40000, TypeInt},
		{"NegativeUnsigned", -1, TypeUInt},
		{"ByteOverflow", 256, TypeByte},
		{"FloatIntoSInt", 200.0, TypeSInt},
		{"UintIntoLInt", uint64(math.MaxUint64), TypeLInt},
		{"RealOverflow", math.MaxFloat64, TypeReal},
		{"NegativeTime", -time.Second, TypeTime},
		{"TODPastMidnight", 25 * time.Hour, TypeTOD},
		{"DateBeforeEpoch", time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), TypeDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.value, tt.typ)
			require.Error(t, err)

			var convErr *ConversionError
			require.True(t, errors.As(err, &convErr))
			assert.Equal(t, tt.typ, convErr.Type)
		})
	}
}

func TestEncode_NumericStrings(t *testing.T) {
	raw, err := Encode("42", TypeDInt)
	require.NoError(t, err)
	assert.Equal(t, []byte{42, 0, 0, 0}, raw)

	raw, err = Encode(" 1.5 ", TypeReal)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xc0, 0x3f}, raw)

	_, err = Encode("warm", TypeInt)
	assert.ErrorIs(t, err, ErrTypeConversion)

	t.Run("leading zeros are decimal", func(t *testing.T) {
		raw, err := Encode("010", TypeInt)
		require.NoError(t, err)
		assert.Equal(t, []byte{10, 0}, raw)

		raw, err = Encode("-007", TypeDInt)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xf9, 0xff, 0xff, 0xff}, raw)
	})

	t.Run("prefixed radix is refused", func(t *testing.T) {
		for _, in := range []string{"0x10", "0b101", "0o17", "1_000", "Inf"} {
			_, err := Encode(in, TypeDInt)
			assert.ErrorIs(t, err, ErrTypeConversion, in)
		}
	})

	t.Run("exponent form", func(t *testing.T) {
		raw, err := Encode("1e2", TypeInt)
		require.NoError(t, err)
		assert.Equal(t, []byte{100, 0}, raw)
	})
}

func TestEncode_FloatRoundsToNearest(t *testing.T) {
	raw, err := Encode(2.6, TypeInt)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0}, raw)

	raw, err = Encode(-2.6, TypeInt)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfd, 0xff}, raw)
}

func TestEncode_Bool(t *testing.T) {
	raw, err := Encode("true", TypeBool)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, raw)

	raw, err = Encode(0, TypeBool)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, raw)

	_, err = Encode("maybe", TypeBool)
	assert.ErrorIs(t, err, ErrTypeConversion)
}

func TestEncode_String(t *testing.T) {
	raw, err := Encode("abc", TypeString)
	require.NoError(t, err)
	assert.Len(t, raw, DefaultStringLength)
	assert.Equal(t, []byte("abc\x00"), raw[:4])

	raw, err = Encode("abc", TypeString, WithStringLength(8))
	require.NoError(t, err)
	assert.Len(t, raw, 8)

	_, err = Encode(strings.Repeat("x", DefaultStringLength), TypeString)
	assert.ErrorIs(t, err, ErrTypeConversion)

	_, err = Encode(strings.Repeat("x", DefaultStringLength-1), TypeString)
	assert.NoError(t, err)

	_, err = Encode("a\x00b", TypeString)
	assert.ErrorIs(t, err, ErrTypeConversion)
}

func TestEncode_TimeFromMilliseconds(t *testing.T) {
	raw, err := Encode(1500, TypeTime)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xdc, 0x05, 0, 0}, raw)

	raw, err = Encode("250ms", TypeTime)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfa, 0, 0, 0}, raw)
}

func TestEncode_DateTruncatesToDay(t *testing.T) {
	raw, err := Encode(time.Date(2024, 3, 1, 17, 5, 0, 0, time.UTC), TypeDate)
	require.NoError(t, err)

	got, err := Decode(raw, TypeDate)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseDataType(t *testing.T) {
	for _, typ := range Types() {
		parsed, err := ParseDataType(strings.ToLower(typ.String()))
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	parsed, err := ParseDataType("DATE_AND_TIME")
	require.NoError(t, err)
	assert.Equal(t, TypeDT, parsed)

	_, err = ParseDataType("STRUCT")
	assert.Error(t, err)
}

func TestDataTypeClassification(t *testing.T) {
	assert.True(t, TypeInt.IsSigned())
	assert.True(t, TypeWord.IsUnsigned())
	assert.True(t, TypeReal.IsFloat())
	assert.True(t, TypeLWord.IsNumeric())
	assert.False(t, TypeString.IsNumeric())
	assert.False(t, TypeBool.IsNumeric())
	assert.Equal(t, 8, TypeLReal.Size())
}

func TestSizeOf(t *testing.T) {
	assert.Equal(t, 4, SizeOf(TypeReal, WithStringLength(20)))
	assert.Equal(t, DefaultStringLength, SizeOf(TypeString))
	assert.Equal(t, 21, SizeOf(TypeString, WithStringLength(21)))
}
