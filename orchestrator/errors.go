package orchestrator

import (
	"errors"
	"fmt"
)

// Common errors returned by the orchestrator client.
// These can be used with errors.Is() for error type checking.
var (
	// ErrUnavailable is returned when the control plane cannot be reached
	// or rejects authentication.
	ErrUnavailable = errors.New("orchestrator unavailable")

	// ErrContainerNotFound is returned when no container matches the
	// requested name exactly.
	ErrContainerNotFound = errors.New("container not found")

	// ErrStackNotFound is returned when a stack lookup by ID or name fails.
	ErrStackNotFound = errors.New("stack not found")

	// ErrPathNotFound is returned when an archive path does not exist
	// inside the container.
	ErrPathNotFound = errors.New("path not found in container")

	// ErrDuplicateStack is returned when a stack with the requested name
	// already exists on the control plane.
	ErrDuplicateStack = errors.New("stack name already in use")

	// ErrExecFailed is returned when a command executed inside a container
	// could not be created or started.
	ErrExecFailed = errors.New("container exec failed")

	// ErrTransferFailed is returned when an archive upload is rejected.
	ErrTransferFailed = errors.New("archive transfer failed")
)

// APIError carries a structured control-plane error response.
type APIError struct {
	StatusCode int    // HTTP status returned by the control plane
	Body       string // Raw response body, often terse
	Op         string // Operation that failed (list-containers, create-stack, ...)
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("orchestrator %s failed: status=%d body=%q", e.Op, e.StatusCode, e.Body)
}

// ExecError reports a failed in-container command with its captured output.
type ExecError struct {
	Container string
	Command   string
	Output    string
	Err       error
}

// Error implements the error interface for ExecError.
func (e *ExecError) Error() string {
	return fmt.Sprintf("exec %q in container %q failed: %v", e.Command, e.Container, e.Err)
}

// Unwrap implements error unwrapping for ExecError.
func (e *ExecError) Unwrap() error {
	return e.Err
}
