package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/sqlmesh/core"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "runner.timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidRegistryDrivers returns the supported registry backends
func ValidRegistryDrivers() []string { return []string{"sqlite", "memory"} }

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string { return []string{"debug", "info", "warn", "error"} }

// ValidLogEncodings returns the list of valid log encodings
func ValidLogEncodings() []string { return []string{"console", "json"} }

// ValidLogBackends returns the list of valid logger backends
func ValidLogBackends() []string { return []string{"zap", "slog"} }

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRegistry()...)
	errors = append(errors, c.validateRunner()...)

	if c.Collector.BufferSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "collector.buffer_size",
			Value:   c.Collector.BufferSize,
			Message: "must be non-negative",
		})
	}

	errors = append(errors, c.validateLogging()...)

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errors = append(errors, ValidationError{
			Field:   "metrics.namespace",
			Value:   c.Metrics.Namespace,
			Message: "must be set when metrics are enabled",
		})
	}

	return errors
}

func (c *Config) validateRegistry() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidRegistryDrivers(), c.Registry.Driver) {
		errors = append(errors, ValidationError{
			Field:   "registry.driver",
			Value:   c.Registry.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRegistryDrivers(), ", ")),
		})
	}
	if c.Registry.Driver == "sqlite" && c.Registry.Path == "" {
		errors = append(errors, ValidationError{
			Field:   "registry.path",
			Value:   c.Registry.Path,
			Message: "is required for the sqlite registry",
		})
	}

	return errors
}

func (c *Config) validateRunner() []ValidationError {
	var errors []ValidationError

	if !core.ParseDBType(c.Runner.DefaultDBType).Supported() {
		errors = append(errors, ValidationError{
			Field:   "runner.default_db_type",
			Value:   c.Runner.DefaultDBType,
			Message: "must be one of: mysql, postgresql, sqlite",
		})
	}
	if c.Runner.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "runner.timeout",
			Value:   c.Runner.Timeout,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.Encoding != "" && !slices.Contains(ValidLogEncodings(), c.Logging.Encoding) {
		errors = append(errors, ValidationError{
			Field:   "logging.encoding",
			Value:   c.Logging.Encoding,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogEncodings(), ", ")),
		})
	}
	if !slices.Contains(ValidLogBackends(), c.Logging.Backend) {
		errors = append(errors, ValidationError{
			Field:   "logging.backend",
			Value:   c.Logging.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogBackends(), ", ")),
		})
	}

	return errors
}
