package model

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report field names as they appear on the wire.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		validate.RegisterStructValidation(examConfigStructLevel, ExamConfig{})
	})
	return validate
}

// examConfigStructLevel enforces the topic invariant: exactly one of
// GeneralTopic or a non-empty CodingLanguages scope must be set.
func examConfigStructLevel(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(ExamConfig)
	hasLanguages := strings.TrimSpace(cfg.CodingLanguages) != ""
	if cfg.GeneralTopic == hasLanguages {
		sl.ReportError(cfg.CodingLanguages, "coding_languages", "CodingLanguages", "topicscope", "")
	}
}

// ValidateConfig checks an exam configuration before it is saved.
func ValidateConfig(cfg ExamConfig) error {
	return configValidator().Struct(cfg)
}

// ValidationErrors flattens validator errors into a field -> message map
// suitable for a JSON error response. Returns nil for non-validation errors.
func ValidationErrors(err error) map[string]string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "this field is required"
		case "oneof":
			out[field] = "must be one of: " + fe.Param()
		case "gt":
			out[field] = "must be greater than " + fe.Param()
		case "lte":
			out[field] = "must be at most " + fe.Param()
		case "max":
			out[field] = "too long (max " + fe.Param() + " characters)"
		case "topicscope":
			out[field] = "set either general_topic or a non-empty coding_languages scope, not both"
		default:
			out[field] = "invalid value"
		}
	}
	return out
}
