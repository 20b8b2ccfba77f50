package validation

import (
	"fmt"
	"reflect"
	"strings"
)

// Validator validates structs
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	// Simple validation implementation
	// In production, use a library like github.com/go-playground/validator

	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "oneof":
			if len(parts) < 2 || field.Kind() != reflect.String {
				continue
			}
			value := field.String()
			valid := false
			for _, option := range strings.Fields(parts[1]) {
				if value == option {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("must be one of: %s", parts[1])
			}

		case "max":
			if len(parts) < 2 || field.Kind() != reflect.String {
				continue
			}
			var max int
			fmt.Sscanf(parts[1], "%d", &max)
			if max > 0 && len(field.String()) > max {
				return fmt.Errorf("maximum length is %d", max)
			}
		}
	}

	return nil
}
