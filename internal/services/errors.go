package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// ServiceError carries the stage context attached by Wrap.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Marker, detail)
}

func (e *ServiceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the user-facing summary of a stage failure.
type ErrorDetails struct {
	Kind    string
	Message string
}

// Details extracts the classification and a readable message from err.
// Errors not produced by Wrap are reported with their full text.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		parts := make([]string, 0, 3)
		for _, part := range []string{svcErr.Operation, svcErr.Message} {
			if part != "" {
				parts = append(parts, part)
			}
		}
		if svcErr.Cause != nil {
			parts = append(parts, strings.TrimSpace(svcErr.Cause.Error()))
		}
		message := strings.Join(parts, ": ")
		if message == "" {
			message = buildDetail(svcErr.Stage, "", "")
		}
		return ErrorDetails{Kind: Kind(err), Message: message}
	}
	return ErrorDetails{Kind: Kind(err), Message: strings.TrimSpace(err.Error())}
}

// Kind names the marker carried by err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	default:
		return "transient"
	}
}

// IsRetryable reports whether a caller may reasonably retry the failed work
// without changing inputs or configuration.
func IsRetryable(err error) bool {
	switch Kind(err) {
	case "validation", "configuration", "not_found":
		return false
	default:
		return err != nil
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
