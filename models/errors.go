package models

import (
	"errors"
	"fmt"
)

// Error codes used across the harvest run.
const (
	ErrCodeInvalidRange    = "INVALID_RANGE"
	ErrCodeNavTimeout      = "NAVIGATION_TIMEOUT"
	ErrCodeNavigation      = "NAVIGATION_FAILED"
	ErrCodeExtractionEmpty = "EXTRACTION_EMPTY"
	ErrCodeAgentCrash      = "AGENT_CRASH"
	ErrCodeSinkWrite       = "SINK_WRITE_FAILED"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
)

// HarvestError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type HarvestError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

// NewHarvestError creates a new HarvestError.
func NewHarvestError(code, message string, err error) *HarvestError {
	return &HarvestError{Code: code, Message: message, Err: err}
}

// ErrorCode extracts the harvest error code from an error chain.
// Returns "" for nil and for errors without a code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}
