// Package errs defines the error taxonomy shared by the deployment pipeline.
// Configuration and validation problems are blocking and carry enough
// node/field context to fix the template or bindings without a verbose rerun.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a class of blocking configuration error.
type Code string

const (
	CodeTemplateNotFound  Code = "TEMPLATE_NOT_FOUND"
	CodeUnknownDependency Code = "UNKNOWN_DEPENDENCY"
	CodeDependencyCycle   Code = "DEPENDENCY_CYCLE"
	CodeMissingVariable   Code = "MISSING_VARIABLE"
	CodeInvalidTemplate   Code = "INVALID_TEMPLATE"
)

// ConfigurationError is a blocking error in template metadata or bindings.
type ConfigurationError struct {
	Code    Code
	Message string
	Detail  string
}

func (e *ConfigurationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

func NewConfigurationError(code Code, message, detail string) *ConfigurationError {
	return &ConfigurationError{Code: code, Message: message, Detail: detail}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// MissingVariable is one unbound placeholder token found during pre-validation.
type MissingVariable struct {
	Token      string
	TemplateID string
}

func (m MissingVariable) String() string {
	return fmt.Sprintf("template %s: variable %q is not bound", m.TemplateID, m.Token)
}

// CycleError reports a dependency cycle with the actual path so operators can
// fix the metadata instead of hunting for it.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: dependency cycle: %s", CodeDependencyCycle, strings.Join(e.Path, " -> "))
}

// PlatformKind classifies remote platform failures so callers can pick a
// retry policy without inspecting the raw transport error.
type PlatformKind string

const (
	KindAuth        PlatformKind = "auth"
	KindInvalid     PlatformKind = "invalid"
	KindNotFound    PlatformKind = "not_found"
	KindRateLimited PlatformKind = "rate_limited"
	KindTransient   PlatformKind = "transient"
	KindServer      PlatformKind = "server"
)

// PlatformError is a normalized remote platform failure.
type PlatformError struct {
	Kind       PlatformKind
	StatusCode int
	Message    string
	Err        error
}

func (e *PlatformError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("platform error [%s] status %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("platform error [%s]: %s", e.Kind, e.Message)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying with backoff.
func (e *PlatformError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTransient, KindServer:
		return true
	default:
		return false
	}
}

// AsPlatform extracts a PlatformError from an error chain.
func AsPlatform(err error) (*PlatformError, bool) {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
