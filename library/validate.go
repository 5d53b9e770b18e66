package library

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	return validate
}

// ValidationError is a client-side rejection raised before any request is sent.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation error"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, f+" "+e.Fields[f])
	}
	return "validation error: " + strings.Join(parts, ", ")
}

// Validate checks a request payload against its struct tags.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[strings.ToLower(fe.Field())] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s%s", fe.Param(), unit(fe.Kind()))
	case "max":
		return fmt.Sprintf("must be at most %s%s", fe.Param(), unit(fe.Kind()))
	case "len":
		return fmt.Sprintf("must be exactly %s%s", fe.Param(), unit(fe.Kind()))
	case "gte":
		return "must be >= " + fe.Param()
	case "eqfield":
		return "must match " + strings.ToLower(fe.Param())
	case "numeric":
		return "must be numeric"
	default:
		return "failed " + fe.Tag()
	}
}

// unit names what a length bound counts; numbers are bounded by value.
func unit(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return " characters"
	case reflect.Slice, reflect.Array, reflect.Map:
		return " items"
	default:
		return ""
	}
}
