package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError is one failed rule. Field is the JSON name of the field and
// Path its dotted location below the validated struct.
type ValidationError struct {
	Field string `json:"field"`
	Path  string `json:"path"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// Message renders the failure as a sentence for API clients.
func (e ValidationError) Message() string {
	field := strings.ToLower(strings.ReplaceAll(e.Field, "_", " "))
	if field == "" {
		field = "field"
	}

	switch e.Tag {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(strings.Fields(e.Param), ", "))
	case "max_bytes":
		return fmt.Sprintf("%s must be at most %s bytes", field, e.Param)
	case "password_strength":
		return field + " must contain at least one lowercase letter, one uppercase letter, and one number"
	}
	if e.Param != "" {
		return fmt.Sprintf("%s failed validation: %s=%s", field, e.Tag, e.Param)
	}
	return fmt.Sprintf("%s failed validation: %s", field, e.Tag)
}

// ValidationErrors collects every failed rule of a struct.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, err := range v {
		parts[i] = err.Path + " failed on " + err.Tag
		if err.Param != "" {
			parts[i] += "=" + err.Param
		}
	}
	return strings.Join(parts, "; ")
}

// Messages joins the client-facing message of each failure.
func (v ValidationErrors) Messages() string {
	messages := make([]string, len(v))
	for i, err := range v {
		messages[i] = err.Message()
	}
	return strings.Join(messages, "; ")
}

// ValidateStruct runs the `validate` tags of s. Rule failures come back as
// ValidationErrors; anything else (such as a non-struct argument) is returned as is.
func ValidateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	failures := make(ValidationErrors, 0, len(ve))
	for _, fe := range ve {
		path := fe.Namespace()
		if dot := strings.Index(path, "."); dot >= 0 {
			path = path[dot+1:]
		}
		failures = append(failures, ValidationError{
			Field: fe.Field(),
			Path:  path,
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return failures
}

// RegisterValidation adds a custom rule to the shared validator.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

// PasswordStrength reports whether value mixes lower case, upper case and digits.
func PasswordStrength(value string) bool {
	var lower, upper, digit bool
	for _, r := range value {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
		_ = validate.RegisterValidation("password_strength", func(fl validator.FieldLevel) bool {
			return PasswordStrength(fl.Field().String())
		})
		_ = validate.RegisterValidation("max_bytes", func(fl validator.FieldLevel) bool {
			limit, err := strconv.Atoi(fl.Param())
			if err != nil {
				return false
			}
			return len(fl.Field().String()) <= limit
		})
	})
	return validate
}
