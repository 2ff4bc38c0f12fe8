package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var fieldValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate runs every per-field rule and, when the schema enables type
// checking, verifies each value against its declared type with a
// best-effort in-place cast for castable kinds. All failures are collected;
// validation fails atomically with the full list.
func Validate(e *Entity) error {
	if e.partial {
		return nil
	}

	var failures []FieldError
	for _, d := range e.schema.fields {
		if d.Computed {
			continue
		}
		v, present := e.values[d.Name]
		if d.Kind == KindM2M && !present {
			// unloaded collections are not validated
			continue
		}

		if fn := e.schema.rules[d.Name]; fn != nil {
			if err := fn(v); err != nil {
				failures = append(failures, FieldError{Field: d.Name, Message: err.Error()})
			}
		}
		if d.Rule != "" && v != nil {
			if err := fieldValidator.Var(v, d.Rule); err != nil {
				failures = append(failures, FieldError{Field: d.Name, Message: fmt.Sprintf("value does not satisfy rule %q", d.Rule)})
			}
		}

		if e.schema.typeChecking && present && v != nil && d.Kind == KindScalar {
			coerced, ok := coerceToType(v, d)
			if !ok {
				failures = append(failures, FieldError{
					Field:   d.Name,
					Message: fmt.Sprintf("value %v cannot be cast to the declared type", v),
				})
				continue
			}
			e.values[d.Name] = coerced
		}
	}

	if len(failures) > 0 {
		return &ValidationError{Entity: e.schema.Name(), Fields: failures}
	}
	return nil
}
