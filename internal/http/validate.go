package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Issue is one field level validation failure reported under details.issues.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return &requestValidator{validate: v}
}

// Struct returns nil or the list of issues found in payload.
func (v *requestValidator) Struct(payload interface{}) []Issue {
	err := v.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return []Issue{{Code: "invalid", Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		issues = append(issues, formatIssue(fieldErr))
	}
	return issues
}

func formatIssue(err validator.FieldError) Issue {
	path := err.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	issue := Issue{Path: path, Code: err.Tag()}
	switch err.Tag() {
	case "required":
		issue.Message = fmt.Sprintf("%s is required", path)
	case "min":
		if err.Kind() == reflect.Slice {
			issue.Message = fmt.Sprintf("%s must contain at least %s item(s)", path, err.Param())
		} else {
			issue.Message = fmt.Sprintf("%s must be at least %s characters", path, err.Param())
		}
	case "max":
		issue.Message = fmt.Sprintf("%s must be at most %s characters", path, err.Param())
	default:
		issue.Message = fmt.Sprintf("%s failed validation for %s", path, err.Tag())
	}
	return issue
}

// unknownKeys lists query parameters outside allowed.
func unknownKeys(values map[string][]string, allowed ...string) []Issue {
	var issues []Issue
	for key := range values {
		known := false
		for _, name := range allowed {
			if key == name {
				known = true
				break
			}
		}
		if !known {
			issues = append(issues, Issue{Path: key, Code: "unrecognized_keys", Message: fmt.Sprintf("unrecognized key %q", key)})
		}
	}
	return issues
}
