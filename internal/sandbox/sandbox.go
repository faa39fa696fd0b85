// Package sandbox provides an abstraction over remote sandbox execution
// environments. It supports multiple backends: the hosted sandbox platform
// (remote), local Docker containers (docker), and a mock for tests.
package sandbox

import (
	"context"
	"time"
)

// DefaultWorkdir is the project working directory inside every sandbox.
const DefaultWorkdir = "/home/user/app"

// DefaultDevPort is the port the project's development server listens on.
const DefaultDevPort = 3000

// Provider abstracts the remote sandbox platform. Every call may fail
// transiently; callers must treat handles as invalid the moment the provider
// reports not-found or not-running, and re-resolve through the registry.
type Provider interface {
	// Create provisions a new sandbox from a template reference.
	// The sandbox is started and ready for Exec on return.
	Create(ctx context.Context, templateRef string) (*Handle, error)

	// FindByID looks up an existing sandbox. Returns ErrNotFound if the
	// provider reports the sandbox no longer exists.
	FindByID(ctx context.Context, id string) (*Handle, error)

	// Start starts a stopped sandbox.
	Start(ctx context.Context, id string) error

	// Stop stops a running sandbox without destroying it.
	Stop(ctx context.Context, id string) error

	// Delete permanently removes a sandbox and its resources.
	Delete(ctx context.Context, id string) error

	// Exec runs a non-interactive command in the sandbox.
	Exec(ctx context.Context, h *Handle, cmd string, opts ExecOptions) (*ExecResult, error)

	// ReadFile reads a file from the sandbox filesystem.
	ReadFile(ctx context.Context, h *Handle, path string) ([]byte, error)

	// WriteFile writes a single file, creating parent directories as needed.
	WriteFile(ctx context.Context, h *Handle, path string, data []byte) error

	// WriteFiles writes a batch of files in one provider call.
	WriteFiles(ctx context.Context, h *Handle, entries []FileWrite) error

	// ListFiles returns a recursive listing rooted at dir.
	ListFiles(ctx context.Context, h *Handle, dir string) ([]FileEntry, error)

	// PreviewURL returns the public URL for a port exposed by the sandbox.
	PreviewURL(ctx context.Context, h *Handle, port int) (string, error)
}

// Handle identifies a live sandbox for the duration of one logical
// operation. Handles are never persisted; the registry re-acquires them
// from the provider on every resolve.
type Handle struct {
	ID         string            // Provider-assigned sandbox ID
	TemplateID string            // Template the sandbox was created from
	Status     Status            // Status at acquisition time
	Workdir    string            // Project working directory inside the sandbox
	CreatedAt  time.Time         // When the sandbox was created
	ExpiresAt  *time.Time        // Provider-side expiry (nil if unbounded)
	Metadata   map[string]string // Provider-specific metadata
}

// Status represents the provider-reported state of a sandbox.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusUnknown Status = "unknown"
)

// ExecOptions configures non-interactive command execution.
type ExecOptions struct {
	Workdir    string            // Working directory (DefaultWorkdir when empty)
	Env        map[string]string // Additional environment variables
	Timeout    time.Duration     // Command timeout (provider default when zero)
	Background bool              // Detach and return immediately; output goes to LogFile
	LogFile    string            // Capture path for background commands
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// FileWrite is one entry in a bulk file upload.
type FileWrite struct {
	Path string
	Data []byte
}

// FileEntry describes one file in a sandbox directory listing.
type FileEntry struct {
	Path  string // Path relative to the listing root
	Size  int64
	IsDir bool
}
