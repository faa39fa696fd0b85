// Package mock provides a mock implementation of sandbox.Provider for testing.
package mock

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/vesselworks/drydock/internal/sandbox"
)

// Provider is a mock sandbox provider for testing. The default behavior
// keeps an in-memory fleet of sandboxes with per-sandbox filesystems;
// individual calls can be overridden per test via the XxxFunc fields.
type Provider struct {
	mu        sync.RWMutex
	sandboxes map[string]*instance
	nextID    int

	// Configurable behaviors for testing
	CreateFunc     func(ctx context.Context, templateRef string) (*sandbox.Handle, error)
	FindByIDFunc   func(ctx context.Context, id string) (*sandbox.Handle, error)
	StartFunc      func(ctx context.Context, id string) error
	StopFunc       func(ctx context.Context, id string) error
	DeleteFunc     func(ctx context.Context, id string) error
	ExecFunc       func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error)
	ReadFileFunc   func(ctx context.Context, h *sandbox.Handle, p string) ([]byte, error)
	WriteFileFunc  func(ctx context.Context, h *sandbox.Handle, p string, data []byte) error
	WriteFilesFunc func(ctx context.Context, h *sandbox.Handle, entries []sandbox.FileWrite) error
	ListFilesFunc  func(ctx context.Context, h *sandbox.Handle, dir string) ([]sandbox.FileEntry, error)
	PreviewFunc    func(ctx context.Context, h *sandbox.Handle, port int) (string, error)

	// Call counters for asserting retry bounds.
	ListFilesCalls int
	StartCalls     int
	ExecCalls      int
	CreateCalls    int
}

type instance struct {
	handle *sandbox.Handle
	files  map[string][]byte
}

// NewProvider creates a new mock provider with default behavior.
func NewProvider() *Provider {
	return &Provider{sandboxes: make(map[string]*instance)}
}

// Create creates a mock sandbox.
func (p *Provider) Create(ctx context.Context, templateRef string) (*sandbox.Handle, error) {
	p.mu.Lock()
	p.CreateCalls++
	p.mu.Unlock()
	if p.CreateFunc != nil {
		return p.CreateFunc(ctx, templateRef)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	h := &sandbox.Handle{
		ID:         fmt.Sprintf("mock-sb-%d", p.nextID),
		TemplateID: templateRef,
		Status:     sandbox.StatusRunning,
		Workdir:    sandbox.DefaultWorkdir,
		CreatedAt:  time.Now(),
		Metadata:   map[string]string{"mock": "true"},
	}
	p.sandboxes[h.ID] = &instance{handle: h, files: make(map[string][]byte)}
	return h, nil
}

// FindByID looks up a mock sandbox.
func (p *Provider) FindByID(ctx context.Context, id string) (*sandbox.Handle, error) {
	if p.FindByIDFunc != nil {
		return p.FindByIDFunc(ctx, id)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.sandboxes[id]
	if !ok {
		return nil, sandbox.ErrNotFound
	}
	return inst.handle, nil
}

// Start marks a mock sandbox running.
func (p *Provider) Start(ctx context.Context, id string) error {
	p.mu.Lock()
	p.StartCalls++
	p.mu.Unlock()
	if p.StartFunc != nil {
		return p.StartFunc(ctx, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.sandboxes[id]
	if !ok {
		return sandbox.ErrNotFound
	}
	inst.handle.Status = sandbox.StatusRunning
	return nil
}

// Stop marks a mock sandbox stopped.
func (p *Provider) Stop(ctx context.Context, id string) error {
	if p.StopFunc != nil {
		return p.StopFunc(ctx, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.sandboxes[id]
	if !ok {
		return sandbox.ErrNotFound
	}
	inst.handle.Status = sandbox.StatusStopped
	return nil
}

// Delete removes a mock sandbox.
func (p *Provider) Delete(ctx context.Context, id string) error {
	if p.DeleteFunc != nil {
		return p.DeleteFunc(ctx, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sandboxes[id]; !ok {
		return sandbox.ErrNotFound
	}
	delete(p.sandboxes, id)
	return nil
}

// Exec simulates command execution. The default behavior succeeds with
// empty output.
func (p *Provider) Exec(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	p.mu.Lock()
	p.ExecCalls++
	p.mu.Unlock()
	if p.ExecFunc != nil {
		return p.ExecFunc(ctx, h, cmd, opts)
	}
	return &sandbox.ExecResult{ExitCode: 0}, nil
}

// ReadFile reads from the mock filesystem.
func (p *Provider) ReadFile(ctx context.Context, h *sandbox.Handle, fp string) ([]byte, error) {
	if p.ReadFileFunc != nil {
		return p.ReadFileFunc(ctx, h, fp)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.sandboxes[h.ID]
	if !ok {
		return nil, sandbox.ErrNotFound
	}
	data, ok := inst.files[fp]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", fp)
	}
	return data, nil
}

// WriteFile writes to the mock filesystem.
func (p *Provider) WriteFile(ctx context.Context, h *sandbox.Handle, fp string, data []byte) error {
	if p.WriteFileFunc != nil {
		return p.WriteFileFunc(ctx, h, fp, data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.sandboxes[h.ID]
	if !ok {
		return sandbox.ErrNotFound
	}
	inst.files[fp] = append([]byte(nil), data...)
	return nil
}

// WriteFiles writes a batch to the mock filesystem.
func (p *Provider) WriteFiles(ctx context.Context, h *sandbox.Handle, entries []sandbox.FileWrite) error {
	if p.WriteFilesFunc != nil {
		return p.WriteFilesFunc(ctx, h, entries)
	}

	for _, e := range entries {
		if err := p.WriteFile(ctx, h, e.Path, e.Data); err != nil {
			return err
		}
	}
	return nil
}

// ListFiles lists the mock filesystem under dir.
func (p *Provider) ListFiles(ctx context.Context, h *sandbox.Handle, dir string) ([]sandbox.FileEntry, error) {
	p.mu.Lock()
	p.ListFilesCalls++
	p.mu.Unlock()
	if p.ListFilesFunc != nil {
		return p.ListFilesFunc(ctx, h, dir)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.sandboxes[h.ID]
	if !ok {
		return nil, sandbox.ErrNotFound
	}
	var entries []sandbox.FileEntry
	for fp, data := range inst.files {
		if dir != "" && dir != "/" && !strings.HasPrefix(fp, strings.TrimSuffix(dir, "/")+"/") {
			continue
		}
		rel := fp
		if dir != "" && dir != "/" {
			rel = strings.TrimPrefix(fp, strings.TrimSuffix(dir, "/")+"/")
		}
		entries = append(entries, sandbox.FileEntry{Path: path.Clean(rel), Size: int64(len(data))})
	}
	return entries, nil
}

// PreviewURL returns a deterministic mock URL.
func (p *Provider) PreviewURL(ctx context.Context, h *sandbox.Handle, port int) (string, error) {
	if p.PreviewFunc != nil {
		return p.PreviewFunc(ctx, h, port)
	}
	return fmt.Sprintf("https://%d-%s.mock.local", port, h.ID), nil
}
