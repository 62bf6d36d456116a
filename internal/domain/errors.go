package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateJob      = errors.New("duplicate job")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTimeoutExceeded   = errors.New("max processing time exceeded")
	ErrServiceDisabled   = errors.New("transcription service disabled")
	ErrInvalidInput      = errors.New("invalid input")
)

// ProviderError carries the status code reported by the transcription provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider error: status %d: %s", e.StatusCode, e.Message)
}

// Terminal reports whether the provider no longer knows the job.
func (e *ProviderError) Terminal() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *ProviderError) Transient() bool {
	return !e.Terminal()
}

// IsTerminalProviderError reports whether err wraps a 404 from the provider.
func IsTerminalProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Terminal()
}

// TriggerError wraps a failed downstream workflow launch.
type TriggerError struct {
	MediaPackageID string
	JobID          string
	Err            error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("trigger workflow for media package %s (job %s): %v", e.MediaPackageID, e.JobID, e.Err)
}

func (e *TriggerError) Unwrap() error { return e.Err }

// StoreError wraps a failed persistence operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
