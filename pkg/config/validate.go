package config

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/adshub/adshub-go/pkg/codec"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("amsnetid", func(fl validator.FieldLevel) bool {
		return ValidNetID(fl.Field().String())
	})
	_ = v.RegisterValidation("plctype", func(fl validator.FieldLevel) bool {
		_, err := codec.ParseDataType(fl.Field().String())
		return err == nil
	})
	return v
}

// ValidNetID reports whether s is an AMS Net ID: six dot separated
// numbers in 0..255.
func ValidNetID(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := strconv.ParseUint(p, 10, 8); err != nil {
			return false
		}
	}
	return true
}
