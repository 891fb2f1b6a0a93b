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
	ErrConflict      = errors.New("conflict")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureHint maps a stage error to the short operator-facing hint recorded
// alongside the failure.
func FailureHint(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "input rejected; fix the document or registry entry before retrying"
	case errors.Is(err, ErrConfiguration):
		return "configuration problem; check config.toml"
	case errors.Is(err, ErrNotFound):
		return "referenced record is missing"
	case errors.Is(err, ErrTimeout):
		return "operation timed out; will retry"
	case errors.Is(err, ErrConflict):
		return "lost a race to another worker; will retry"
	case errors.Is(err, ErrExternalTool):
		return "external tool failed; check provider status and credentials"
	default:
		return "transient failure; will retry"
	}
}

// IsRetryable reports whether a failure should be offered to the recovery
// sweeper. Validation and configuration errors never heal on their own.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrConfiguration)
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
