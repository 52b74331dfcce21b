package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom tag name function to use JSON tags instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Amounts are decimals; numeric tags (gt, gte, ...) compare their float value
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		d, ok := v.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
}

// Error is returned when input is rejected locally, before any request is
// sent or any state is touched.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsValidationError reports whether err is, or wraps, a validation Error
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// Validate validates a struct and returns formatted error messages
func Validate(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// formatValidationErrors converts validator errors to user-friendly messages
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return &Error{Message: err.Error()}
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		messages = append(messages, formatFieldError(fieldError))
	}

	return &Error{
		Field:   validationErrors[0].Field(),
		Message: strings.Join(messages, ", "),
	}
}

// formatFieldError formats a single field validation error
func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters long", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters long", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "printascii":
		return fmt.Sprintf("%s must contain only printable characters", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ValidateID checks a game or player identifier
func ValidateID(id, fieldName string) error {
	err := validate.Var(id, "required,printascii,max=128")
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		// Var reports an empty field name; prefix the caller's
		return &Error{Field: fieldName, Message: fieldName + formatFieldError(validationErrors[0])}
	}
	return &Error{Field: fieldName, Message: fmt.Sprintf("%s is invalid", fieldName)}
}

// ValidatePositiveAmount checks that a money amount is strictly positive
func ValidatePositiveAmount(amount decimal.Decimal, fieldName string) error {
	if !amount.IsPositive() {
		return &Error{Field: fieldName, Message: fmt.Sprintf("%s must be greater than 0", fieldName)}
	}
	return nil
}

// ValidateCashOut checks a cash-out against the money still on the table
func ValidateCashOut(amount, available decimal.Decimal) error {
	if err := ValidatePositiveAmount(amount, "amount"); err != nil {
		return err
	}
	if amount.GreaterThan(available) {
		return &Error{
			Field:   "amount",
			Message: fmt.Sprintf("amount %s exceeds available cash-out %s", amount, available),
		}
	}
	return nil
}
