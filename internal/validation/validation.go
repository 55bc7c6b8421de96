// Package validation turns request validation failures into field-level
// messages that handlers render as 400 responses.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is matched by every validation Error.
var ErrInvalid = errors.New("validation failed")

// Error reports invalid input. Cause, when set, narrows the failure for
// status mapping, for example an oversized upload.
type Error struct {
	Fields map[string]string
	Cause  error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return ErrInvalid.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// Is matches ErrInvalid and the cause.
func (e *Error) Is(target error) bool {
	return target == ErrInvalid || (e.Cause != nil && errors.Is(e.Cause, target))
}

// Field builds an Error for a single field.
func Field(field, message string) *Error {
	return &Error{Fields: map[string]string{field: message}}
}

// Fieldf builds an Error for a single field with a formatted message.
func Fieldf(field, format string, args ...any) *Error {
	return Field(field, fmt.Sprintf(format, args...))
}

// Wrap builds an Error for field carrying cause.
func Wrap(cause error, field, message string) *Error {
	e := Field(field, message)
	e.Cause = cause
	return e
}

// Collector accumulates field messages.
type Collector map[string]string

// Add records message for field unless one is already present.
func (c Collector) Add(field, message string) {
	if _, ok := c[field]; !ok {
		c[field] = message
	}
}

// Err returns an Error when any field was recorded.
func (c Collector) Err() error {
	if len(c) == 0 {
		return nil
	}
	return &Error{Fields: c}
}

var (
	once     sync.Once
	instance *validator.Validate
)

func validate() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
	})
	return instance
}

// Struct validates v using its validate tags and reports failures by JSON
// field name.
func Struct(v any) error {
	err := validate().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}
	c := Collector{}
	for _, fe := range fieldErrs {
		c.Add(fe.Field(), message(fe))
	}
	return c.Err()
}

// Email reports whether s is a syntactically valid address.
func Email(s string) bool {
	return validate().Var(s, "required,email") == nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "uuid", "uuid4":
		return "must be a valid id"
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}
