package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	errors "github.com/frahmantamala/fleet-portal/internal"
)

type ValidatorFunc func(string) *errors.ValidationError

type FieldValidator struct {
	FieldName  string
	Value      string
	Validators []ValidatorFunc
}

// ValidationBuilder collects every failing rule across fields so a client
// sees all problems at once.
type ValidationBuilder struct {
	fields []*FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{fields: make([]*FieldValidator, 0)}
}

func (v *ValidationBuilder) Field(name, value string) *FieldValidator {
	fv := &FieldValidator{FieldName: name, Value: value}
	v.fields = append(v.fields, fv)
	return fv
}

func (fv *FieldValidator) fail(message string, code errors.ErrorCode) *errors.ValidationError {
	return &errors.ValidationError{Field: fv.FieldName, Message: message, Code: string(code)}
}

func (fv *FieldValidator) Required() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value string) *errors.ValidationError {
		if value == "" {
			return fv.fail(fmt.Sprintf("%s is required", fv.FieldName), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

// NotBlank rejects values made only of whitespace.
func (fv *FieldValidator) NotBlank() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value string) *errors.ValidationError {
		if value != "" && strings.TrimSpace(value) == "" {
			return fv.fail(fmt.Sprintf("%s must not be blank", fv.FieldName), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MinLength(min int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value string) *errors.ValidationError {
		if value != "" && utf8.RuneCountInString(value) < min {
			return fv.fail(fmt.Sprintf("%s must be at least %d characters", fv.FieldName, min), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxLength(max int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value string) *errors.ValidationError {
		if utf8.RuneCountInString(value) > max {
			return fv.fail(fmt.Sprintf("%s must not exceed %d characters", fv.FieldName, max), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

// Differs fails when the value equals other, e.g. a new password that
// repeats the old one.
func (fv *FieldValidator) Differs(other, otherName string) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value string) *errors.ValidationError {
		if value != "" && value == other {
			return fv.fail(fmt.Sprintf("%s must differ from %s", fv.FieldName, otherName), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Custom(validator ValidatorFunc) *FieldValidator {
	fv.Validators = append(fv.Validators, validator)
	return fv
}

func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			if err := validator(field.Value); err != nil {
				validationErrors = append(validationErrors, *err)
				// one message per field is enough
				break
			}
		}
	}

	if len(validationErrors) > 0 {
		return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
			WithDetails(errors.ValidationErrors{Errors: validationErrors})
	}

	return nil
}
