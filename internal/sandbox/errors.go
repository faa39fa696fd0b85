package sandbox

import "errors"

// Sentinel errors for sandbox operations.
var (
	// ErrNotFound indicates the provider reports the sandbox does not exist.
	// This is the only error class that justifies clearing a stored sandbox
	// record; everything else is treated as recoverable.
	ErrNotFound = errors.New("sandbox not found")

	// ErrNotRunning indicates the sandbox exists but is stopped.
	ErrNotRunning = errors.New("sandbox not running")

	// ErrExecFailed indicates command execution failed inside the sandbox.
	ErrExecFailed = errors.New("command execution failed")

	// ErrTimeout indicates a provider operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidTemplate indicates the template reference is unknown.
	ErrInvalidTemplate = errors.New("invalid sandbox template")
)
