package http

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// ValidationError is one rejected field in a 400 body.
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

var validate = newValidator()

// newValidator reports fields by their wire name (json, query or param tag).
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return ""
	})
	return v
}

// ReadAndValidateRequest binds the body, path and query into req, fills
// `default` tags, then validates. A nil result means req is usable.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	return ValidateStruct(c.Request().Context(), req)
}

// ValidateStruct validates an already populated request.
func ValidateStruct(ctx context.Context, req interface{}) []ValidationError {
	if err := validate.StructCtx(ctx, req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var fes validator.ValidationErrors
	if errors.As(err, &fes) {
		out := make([]ValidationError, len(fes))
		for i, fe := range fes {
			out[i] = fieldError(fe)
		}
		return out
	}
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_MALFORMED", Message: msg}}
}

// ruleText maps a validator tag to its message suffix. %s is the rule parameter.
var ruleText = map[string]string{
	"required": "is required",
	"uuid":     "must be a valid uuid",
	"numeric":  "must contain only digits",
	"oneof":    "must be one of: %s",
	"gt":       "must be greater than %s",
	"gte":      "must be at least %s",
	"lt":       "must be less than %s",
	"lte":      "must be at most %s",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"len":      "must have length %s",
}

func fieldError(fe validator.FieldError) ValidationError {
	tag, param := fe.Tag(), fe.Param()
	ve := ValidationError{
		Code:  "ERR_" + strings.ToUpper(tag),
		Field: fe.Field(),
	}

	text, ok := ruleText[tag]
	if !ok {
		text = "failed rule " + tag
	}
	if tag == "oneof" {
		options := strings.Fields(param)
		ve.Params = map[string]interface{}{"options": options}
		param = strings.Join(options, ", ")
	} else if param != "" {
		ve.Params = map[string]interface{}{paramName(tag): param}
	}
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, param)
	}
	if (tag == "min" || tag == "max" || tag == "len") && fe.Kind() == reflect.String {
		text += " characters"
	}
	ve.Message = ve.Field + " " + text
	return ve
}

func paramName(tag string) string {
	switch tag {
	case "min", "gte":
		return "min"
	case "max", "lte":
		return "max"
	default:
		return "value"
	}
}
