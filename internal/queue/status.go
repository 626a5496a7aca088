package queue

import (
	"context"
	"errors"

	"github.com/kvosk/msq/internal/mega"
)

// TaskState is the lifecycle position of a task. Transitions move strictly
// forward; Cancelled and Failed are reachable from any non-terminal state.
type TaskState string

const (
	StateCreated     TaskState = "created"
	StateQueued      TaskState = "queued"
	StateDownloading TaskState = "downloading"
	StateUploading   TaskState = "uploading"
	StateCompleted   TaskState = "completed"
	StateCancelled   TaskState = "cancelled"
	StateFailed      TaskState = "failed"
)

// Terminal reports whether no further transitions may happen.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

func canTransition(from, to TaskState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled || to == StateFailed {
		return true
	}
	switch from {
	case StateCreated:
		return to == StateQueued
	case StateQueued:
		return to == StateDownloading
	case StateDownloading:
		return to == StateUploading
	case StateUploading:
		return to == StateCompleted
	}
	return false
}

// Error codes attached to terminal tasks and history rows.
const (
	ErrCodeInvalidLink  = "invalid_link"
	ErrCodeAPIError     = "api_error"
	ErrCodeNetworkError = "network_error"
	ErrCodeMacMismatch  = "mac_mismatch"
	ErrCodeNoFiles      = "no_files_found"
	ErrCodeCancelled    = "cancelled"
	ErrCodeInternal     = "internal_error"
)

// errorKind attributes a run failure to one error code. Cancellation is
// checked first so a cancel racing a transfer never reads as a network
// failure.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *mega.APIError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCancelled
	case errors.Is(err, mega.ErrInvalidLink):
		return ErrCodeInvalidLink
	case errors.Is(err, mega.ErrMacMismatch):
		return ErrCodeMacMismatch
	case errors.Is(err, mega.ErrNoFilesFound):
		return ErrCodeNoFiles
	case errors.Is(err, mega.ErrNetwork):
		return ErrCodeNetworkError
	case errors.As(err, &apiErr):
		return ErrCodeAPIError
	default:
		return ErrCodeInternal
	}
}
