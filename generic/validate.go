package generic

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STRUCT VALIDATION - go-playground/validator with engine-specific tags
// =============================================================================

var (
	validateOnce sync.Once
	validate     *validator.Validate

	postalCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9 -]{1,8}[A-Z0-9]$`)
)

// Validator returns the shared validator instance.
//
// The "postalcode" tag accepts 3-10 chars of upper-case letters, digits and
// inner spaces or dashes. Decimal fields are checked with CheckDecimals.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("postalcode", func(fl validator.FieldLevel) bool {
			return postalCodePattern.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// ValidateStruct runs struct tags and converts failures to *ValidationError.
func ValidateStruct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fieldPath(fe),
			Message: describe(fe),
		})
	}
	return out
}

// DecimalCheck describes one bound on a decimal field.
type DecimalCheck struct {
	Field    string
	Value    decimal.Decimal
	Positive bool             // > 0 instead of >= 0
	Max      *decimal.Decimal // inclusive upper bound
}

// CheckDecimals appends a FieldError for every failed check to base, which
// may be nil or a *ValidationError. It returns nil when nothing failed.
func CheckDecimals(base error, checks ...DecimalCheck) error {
	var out *ValidationError
	if base != nil && !errors.As(base, &out) {
		return base
	}
	for _, c := range checks {
		switch {
		case c.Positive && !c.Value.IsPositive():
			out = appendField(out, c.Field, "must be greater than zero")
		case c.Value.IsNegative():
			out = appendField(out, c.Field, "must not be negative")
		case c.Max != nil && c.Value.GreaterThan(*c.Max):
			out = appendField(out, c.Field, "must be at most "+c.Max.String())
		}
	}
	if out == nil || len(out.Fields) == 0 {
		return nil
	}
	return out
}

// WithFieldError adds one field problem to err, which may be nil or a
// *ValidationError. Other errors are returned unchanged.
func WithFieldError(err error, field, message string) error {
	var out *ValidationError
	if err != nil && !errors.As(err, &out) {
		return err
	}
	return appendField(out, field, message)
}

func appendField(e *ValidationError, field, msg string) *ValidationError {
	if e == nil {
		e = &ValidationError{}
	}
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
	return e
}

// IsValidPostalCode reports whether a normalized code is well formed.
func IsValidPostalCode(code string) bool {
	return postalCodePattern.MatchString(code)
}

// fieldPath drops the top-level struct name: "Spec.postal_codes[1]" -> "postal_codes[1]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s item(s) or characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s item(s) or characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "alpha", "uppercase":
		return "must be upper-case letters"
	case "postalcode":
		return fmt.Sprintf("invalid postal code %q", fe.Value())
	case "gte", "gt", "lte", "lt":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
