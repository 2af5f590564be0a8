package codec

import "math"

// Scaling is a linear transform applied to numeric values. Decoded values
// are rounded only when Precision is set.
type Scaling struct {
	Factor    float64 `json:"factor" yaml:"factor"`
	Offset    float64 `json:"offset" yaml:"offset"`
	Precision *int    `json:"precision,omitempty" yaml:"precision,omitempty"`
}

// NoScaling is the identity transform.
var NoScaling = Scaling{Factor: 1}

// Places returns a Precision of n decimal places.
func Places(n int) *int {
	return &n
}

// IsIdentity reports whether the transform leaves values unchanged.
func (s Scaling) IsIdentity() bool {
	return s.Factor == 1 && s.Offset == 0 && s.Precision == nil
}

// Equal reports whether both transforms produce the same values.
func (s Scaling) Equal(o Scaling) bool {
	if s.Factor != o.Factor || s.Offset != o.Offset {
		return false
	}
	if s.Precision == nil || o.Precision == nil {
		return s.Precision == nil && o.Precision == nil
	}
	return *s.Precision == *o.Precision
}

// Apply converts a raw numeric value into engineering units.
func (s Scaling) Apply(raw float64) float64 {
	v := raw*s.Factor + s.Offset
	if s.Precision != nil && *s.Precision >= 0 {
		v = roundTo(v, *s.Precision)
	}
	return v
}

// Reverse converts an engineering value back into raw units.
func (s Scaling) Reverse(v float64) (float64, error) {
	if s.Factor == 0 {
		return 0, &ConversionError{Value: v, Reason: "scaling factor is zero"}
	}
	return (v - s.Offset) / s.Factor, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Options carries per-call conversion settings.
type Options struct {
	Scaling      *Scaling
	StringLength int
}

// Option configures a single Decode or Encode call.
type Option func(*Options)

// WithScaling applies factor and offset without rounding.
func WithScaling(factor, offset float64) Option {
	return func(o *Options) {
		s := Scaling{Factor: factor, Offset: offset}
		if o.Scaling != nil {
			s.Precision = o.Scaling.Precision
		}
		o.Scaling = &s
	}
}

// WithPrecision rounds decoded numeric values to the given decimal places.
func WithPrecision(places int) Option {
	return func(o *Options) {
		s := NoScaling
		if o.Scaling != nil {
			s = *o.Scaling
		}
		s.Precision = Places(places)
		o.Scaling = &s
	}
}

// WithTransform applies a complete Scaling.
func WithTransform(s Scaling) Option {
	return func(o *Options) {
		o.Scaling = &s
	}
}

// WithStringLength sets the STRING buffer size including the terminator.
func WithStringLength(n int) Option {
	return func(o *Options) {
		o.StringLength = n
	}
}

func buildOptions(opts []Option) Options {
	o := Options{StringLength: DefaultStringLength}
	for _, opt := range opts {
		opt(&o)
	}
	if o.StringLength <= 0 {
		o.StringLength = DefaultStringLength
	}
	if o.Scaling != nil && o.Scaling.IsIdentity() {
		o.Scaling = nil
	}
	return o
}

// SizeOf returns the raw size of t under opts. Only STRING depends on the
// options.
func SizeOf(t DataType, opts ...Option) int {
	if t != TypeString {
		return t.Size()
	}
	return buildOptions(opts).StringLength
}
