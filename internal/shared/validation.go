package shared

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationErrors is a field-keyed bag of human readable messages. Keys are
// input field names (doctor_id) or synthetic keys prefixed with '#' naming a
// sub-record (#clinic_accrual).
type ValidationErrors map[string]string

// Add records msg for field, keeping the first message per field.
func (v ValidationErrors) Add(field, msg string) {
	if _, ok := v[field]; ok {
		return
	}
	v[field] = msg
}

// Merge copies every entry of other not yet present.
func (v ValidationErrors) Merge(other ValidationErrors) {
	for field, msg := range other {
		v.Add(field, msg)
	}
}

// Any reports whether the bag holds at least one message.
func (v ValidationErrors) Any() bool {
	return len(v) > 0
}

// Err returns the bag as an error, or nil when empty.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func (v ValidationErrors) Error() string {
	return "validation failed: " + v.Summary()
}

// Summary joins every message as "field: msg" in field order.
func (v ValidationErrors) Summary() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v[field])
	}
	return strings.Join(parts, "; ")
}

// AsValidationErrors extracts a bag from err.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var bag ValidationErrors
	if errors.As(err, &bag) {
		return bag, true
	}
	return nil, false
}

// NewValidator builds a validator reporting fields by their json names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs struct tag validation and converts failures into a bag.
// Errors other than validation failures are returned unchanged.
func ValidateStruct(v *validator.Validate, s any) (ValidationErrors, error) {
	bag := ValidationErrors{}
	if err := v.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, err
		}
		for _, fe := range fieldErrs {
			bag.Add(fe.Field(), describe(fe))
		}
	}
	return bag, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "datetime":
		return "must be a date formatted as " + fe.Param()
	case "dive":
		return "contains an invalid value"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
