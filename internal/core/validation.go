package core

import (
	"bloodledger/pkg/domain"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// validate checks the `validate` tags of operation inputs after they are
// normalized. Messages name fields by their `label` tag.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if label := f.Tag.Get("label"); label != "" {
			return label
		}
		return f.Name
	})
	if err := v.RegisterValidation("bloodtype", func(fl validator.FieldLevel) bool {
		return domain.BloodType(fl.Field().String()).Valid()
	}); err != nil {
		panic(err)
	}
	return v
}

// validateInput checks every tagged field of in.
func validateInput(in any) error {
	return validationError(validate.Struct(in))
}

// validatePartial checks only the named fields of in, for patches.
func validatePartial(in any, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return validationError(validate.StructPartial(in, fields...))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate input: %w", err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return domain.Errorf(domain.KindInvalidArgument, "%s is required", fe.Field())
	case "gt":
		return domain.Errorf(domain.KindInvalidArgument, "%s must be positive", fe.Field())
	default:
		return domain.Errorf(domain.KindInvalidArgument, "invalid %s %q", fe.Field(), fmt.Sprint(fe.Value()))
	}
}
