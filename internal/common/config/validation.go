package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Validate checks config against its `validate` struct tags.
func Validate(config interface{}) error {
	return validator.New().Struct(config)
}

// LogValidationErrors writes one error line per field rejected by Validate.
func LogValidationErrors(err error) {
	if err == nil {
		return
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		log.WithError(err).Error("Invalid configuration")
		return
	}
	for _, fieldErr := range fieldErrors {
		logger := log.WithField("field", fieldPath(fieldErr.Namespace()))
		switch fieldErr.Tag() {
		case "required":
			logger.Error("Configuration value is required")
		case "oneof":
			logger.Errorf("Configuration value %v is not one of [%s]", fieldErr.Value(), fieldErr.Param())
		default:
			logger.Errorf("Configuration value %v fails %s=%s", fieldErr.Value(), fieldErr.Tag(), fieldErr.Param())
		}
	}
}

// fieldPath drops the root struct name, e.g. Configuration.Queue.Name becomes Queue.Name.
func fieldPath(namespace string) string {
	_, path, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return path
}
