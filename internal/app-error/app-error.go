package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code int, message string, err error) error {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

const (
	VALIDATION_ERROR = "validation error"
	INTERNAL_ERROR   = "something went wrong, please try again later"
)

var (
	usernamePattern      = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	communityNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// NewValidator reports field errors with their json names instead of the Go field names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("communityname", func(fl validator.FieldLevel) bool {
		return communityNamePattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func HandlerValidatorError(validationError validator.ValidationErrors) map[string]string {
	details := map[string]string{}

	for _, fieldError := range validationError {
		field := fieldError.Field()
		label := strings.ReplaceAll(field, "_", " ")
		if len(label) > 0 {
			label = strings.ToUpper(label[:1]) + label[1:]
		}
		switch fieldError.Tag() {
		case "required":
			details[field] = label + " is required"
		case "email":
			details[field] = "invalid email format"
		case "min":
			details[field] = fmt.Sprintf("%s must be at least %s characters", label, fieldError.Param())
		case "max":
			details[field] = fmt.Sprintf("%s must be %s characters or less", label, fieldError.Param())
		case "oneof":
			details[field] = fmt.Sprintf("%s must be one of: %s", label, fieldError.Param())
		case "eqfield":
			details[field] = fmt.Sprintf("%s does not match %s", label, strings.ToLower(fieldError.Param()))
		case "username":
			details[field] = label + " may only contain letters, numbers and underscores"
		case "communityname":
			details[field] = label + " may only contain letters, numbers, underscores and dashes"
		case "notblank":
			details[field] = label + " is required"
		default:
			details[field] = label + " is invalid"
		}
	}
	return details
}

// ValidationResponse turns a validator error into the fail envelope with per-field details.
// Non-validator errors are reported as a plain bad request.
func ValidationResponse[T any](err error, code int) schema.Response[T] {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return schema.Response[T]{
			Status: schema.STATUS_FAIL,
			Code:   http.StatusBadRequest,
			Error: schema.Error{
				Message: "fail to process your request, send correct data and try again",
			},
		}
	}
	return schema.Response[T]{
		Status: schema.STATUS_FAIL,
		Code:   code,
		Error: schema.Error{
			Message: VALIDATION_ERROR,
			Details: HandlerValidatorError(validationErrors),
		},
	}
}

// Response builds the fail envelope for err. AppErrors keep their own code and message,
// everything else is reported as an internal error with the given message.
func Response[T any](err error, message string) schema.Response[T] {
	var appError *AppError
	if errors.As(err, &appError) {
		return schema.Response[T]{
			Status: schema.STATUS_FAIL,
			Code:   appError.Code,
			Error: schema.Error{
				Message: appError.Message,
			},
		}
	}
	if message == "" {
		message = INTERNAL_ERROR
	}
	return schema.Response[T]{
		Status: schema.STATUS_FAIL,
		Code:   http.StatusInternalServerError,
		Error: schema.Error{
			Message: message,
		},
	}
}

// Fail is a shortcut for a fail envelope with an explicit code.
func Fail[T any](code int, message string) schema.Response[T] {
	return schema.Response[T]{
		Status: schema.STATUS_FAIL,
		Code:   code,
		Error: schema.Error{
			Message: message,
		},
	}
}
