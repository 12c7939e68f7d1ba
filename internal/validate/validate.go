package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var v = validator.New()

func init() {
	v.RegisterValidation("uuid_required", func(fl validator.FieldLevel) bool {
		if id, ok := fl.Field().Interface().(uuid.UUID); ok {
			return id != uuid.Nil
		}
		return false
	})
}

// Struct validates the tagged fields of a request struct and returns a
// single human-readable error naming every failed field.
func Struct(data any) error {
	err := v.Struct(data)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	failed := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		failed = append(failed, fmt.Sprintf("%s (%s)", fieldErr.StructNamespace(), fieldErr.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(failed, ", "))
}
