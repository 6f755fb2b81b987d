package handler

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator adapts go-playground/validator to echo.Validator. Field names in
// errors are the json names.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// bcrypt reads at most 72 bytes; max= counts runes
	if err := v.RegisterValidation("maxbytes", maxBytes); err != nil {
		panic(err)
	}
	return &Validator{validate: v}
}

func maxBytes(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= n
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// rules maps "field.tag" or plain "tag" to a client message.
type rules map[string]string

// message picks the message for the first failed rule, or fallback.
func (r rules) message(err error, fallback string) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return fallback
	}
	fe := ve[0]
	if m, ok := r[fe.Field()+"."+fe.Tag()]; ok {
		return m
	}
	if m, ok := r[fe.Tag()]; ok {
		return m
	}
	return fallback
}
