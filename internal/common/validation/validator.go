// Package validation wraps go-playground/validator and reports failures as
// validation AppErrors carrying one message per field.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"signflow/internal/common/errors"
)

// Validator validates tagged structs
type Validator struct {
	validator *validator.Validate
}

// New creates a validator that names fields after their json tags
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validator: v}
}

// Struct validates s. Field keys are dotted json paths without the root
// type, e.g. "signer.email".
func (v *Validator) Struct(s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.ValidationError(err.Error())
	}

	appErr := errors.ValidationError("validation failed")
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fieldPath(fe)
		msg := formatFieldError(field, fe)
		appErr.WithField(field, msg)
		messages = append(messages, msg)
	}
	if len(messages) == 1 {
		appErr.Message = messages[0]
	}
	return appErr
}

// Var validates a single value against tag
func (v *Validator) Var(field string, value interface{}, tag string) error {
	err := v.validator.Var(value, tag)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return errors.ValidationError(err.Error()).WithField(field, "invalid")
	}
	msg := formatFieldError(field, fieldErrs[0])
	return errors.ValidationError(msg).WithField(field, msg)
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func formatFieldError(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
