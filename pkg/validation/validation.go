// Package validation checks struct tags with go-playground/validator and
// reports failures as CodeValidation domain errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "sumbandila/pkg/domain-errors"
)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// fieldName reports fields by their mapstructure key, so messages name the
// setting a user actually writes in YAML or the environment.
func fieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return strings.ToLower(f.Name)
	}
	return name
}

// Validate checks req and returns a CodeValidation error naming every
// failing field, in declaration order.
func Validate(req any) error {
	err := defaultValidator.Struct(req)
	if err == nil {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, ErrorMessage(err))
}

// ErrorMessage renders a validator error as "a is required; b must be ...".
func ErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "invalid value"
	}
	msgs := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := path(fe)
	switch fe.ActualTag() {
	case "required":
		return field + " is required"
	case "notblank":
		return field + " must not be blank"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// path drops the root struct from the namespace: Config.credential.algorithm
// becomes credential.algorithm.
func path(fe validator.FieldError) string {
	_, rest, found := strings.Cut(fe.Namespace(), ".")
	if !found || rest == "" {
		return fe.Field()
	}
	return rest
}
