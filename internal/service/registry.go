// Package service implements the drydock core: sandbox registry, fragment
// store, restoration engine, recovery coordinator, dev-server supervisor,
// and deployment pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/model"
	"github.com/vesselworks/drydock/internal/sandbox"
	"github.com/vesselworks/drydock/internal/store"
)

// Resolved is a live sandbox plus the metadata callers need to operate on
// it. The handle is valid for one logical operation only.
type Resolved struct {
	Handle     *sandbox.Handle
	PreviewURL string
	Files      []sandbox.FileEntry
}

// RegistryOptions tunes the registry.
type RegistryOptions struct {
	// PreviewPort is the dev-server port exposed through the preview URL.
	PreviewPort int
	// PreviewDomain builds the deterministic fallback preview URL.
	PreviewDomain string
	// RecoverySettle is the fixed wait after restarting a stopped sandbox
	// before the single listing retry.
	RecoverySettle time.Duration
}

// RegistryService maps stable project identities to possibly-stale remote
// sandbox handles.
type RegistryService struct {
	store    *store.Store
	provider sandbox.Provider
	clock    Clock
	opts     RegistryOptions
	logger   *zap.Logger
}

// NewRegistryService creates a registry over the given store and provider.
func NewRegistryService(s *store.Store, p sandbox.Provider, clock Clock, opts RegistryOptions, logger *zap.Logger) *RegistryService {
	if opts.PreviewPort == 0 {
		opts.PreviewPort = sandbox.DefaultDevPort
	}
	if opts.RecoverySettle == 0 {
		opts.RecoverySettle = 5 * time.Second
	}
	return &RegistryService{store: s, provider: p, clock: clock, opts: opts, logger: logger}
}

// Resolve validates the project's stored sandbox reference against the
// provider and returns a live handle with a fresh file listing, or nil when
// the project has no usable sandbox right now.
//
// Only a genuine provider not-found clears the stored record; any other
// failure preserves it so a later attempt can recover, because the remote
// sandbox is assumed to be long-lived.
func (s *RegistryService) Resolve(ctx context.Context, projectID string) (*Resolved, error) {
	rec, err := s.store.GetSandboxRecord(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve sandbox for %s: %w", projectID, err)
	}

	handle, err := s.provider.FindByID(ctx, rec.SandboxID)
	if err != nil {
		if errors.Is(err, sandbox.ErrNotFound) {
			s.cleanupStaleRecord(ctx, projectID, rec.SandboxID)
			return nil, nil
		}
		// Transient or ambiguous: keep the record, skip this attempt.
		s.logger.Warn("sandbox lookup failed, keeping record",
			zap.String("project_id", projectID),
			zap.String("sandbox_id", rec.SandboxID),
			zap.Error(err))
		return nil, nil
	}

	previewURL := s.refreshPreviewURL(ctx, projectID, rec, handle)

	files, err := s.ListFilesWithRecovery(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("list sandbox files for %s: %w", projectID, err)
	}

	return &Resolved{Handle: handle, PreviewURL: previewURL, Files: files}, nil
}

// cleanupStaleRecord clears a sandbox record whose remote resource is
// confirmed gone. This is the only path that deletes a record
// automatically.
func (s *RegistryService) cleanupStaleRecord(ctx context.Context, projectID, sandboxID string) {
	s.logger.Info("clearing stale sandbox record",
		zap.String("project_id", projectID),
		zap.String("sandbox_id", sandboxID))
	if err := s.store.DeleteSandboxRecord(ctx, projectID); err != nil {
		s.logger.Error("stale record cleanup failed",
			zap.String("project_id", projectID),
			zap.Error(err))
	}
}

// refreshPreviewURL asks the provider for the current preview URL,
// falling back to the last known URL and then to the deterministic
// routing pattern. The refreshed URL is persisted best-effort.
func (s *RegistryService) refreshPreviewURL(ctx context.Context, projectID string, rec *model.SandboxRecord, h *sandbox.Handle) string {
	u, err := s.provider.PreviewURL(ctx, h, s.opts.PreviewPort)
	if err != nil || u == "" {
		if rec.PreviewURL != "" {
			return rec.PreviewURL
		}
		return fmt.Sprintf("https://%d-%s.%s", s.opts.PreviewPort, h.ID, s.opts.PreviewDomain)
	}
	if u != rec.PreviewURL {
		if err := s.store.UpdateSandboxPreviewURL(ctx, projectID, u); err != nil {
			s.logger.Warn("preview url update failed",
				zap.String("project_id", projectID), zap.Error(err))
		}
	}
	return u
}

// stoppedVocabulary matches provider error messages that indicate the
// sandbox is stopped or unreachable rather than broken.
var stoppedVocabulary = []string{
	"not running",
	"stopped",
	"unreachable",
	"sandbox not found",
	"connection refused",
	"connection reset",
}

func looksStopped(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, v := range stoppedVocabulary {
		if strings.Contains(msg, v) {
			return true
		}
	}
	return false
}

// ListFilesWithRecovery lists the sandbox working tree, performing exactly
// one recovery cycle (start, settle, retry) when the first attempt fails
// with a stopped/unreachable error. Any other error class, or a second
// failure, propagates untouched.
func (s *RegistryService) ListFilesWithRecovery(ctx context.Context, h *sandbox.Handle) ([]sandbox.FileEntry, error) {
	files, err := s.provider.ListFiles(ctx, h, h.Workdir)
	if err == nil {
		return files, nil
	}
	if !looksStopped(err) {
		return nil, err
	}

	s.logger.Info("sandbox appears stopped, attempting one recovery cycle",
		zap.String("sandbox_id", h.ID), zap.Error(err))

	if startErr := s.provider.Start(ctx, h.ID); startErr != nil {
		s.logger.Warn("sandbox restart failed",
			zap.String("sandbox_id", h.ID), zap.Error(startErr))
	}
	if sleepErr := s.clock.Sleep(ctx, s.opts.RecoverySettle); sleepErr != nil {
		return nil, sleepErr
	}
	// Best-effort: a restart can reassign the routed URL.
	if u, perr := s.provider.PreviewURL(ctx, h, s.opts.PreviewPort); perr == nil && u != "" {
		s.logger.Debug("preview url refreshed after restart",
			zap.String("sandbox_id", h.ID))
	}

	return s.provider.ListFiles(ctx, h, h.Workdir)
}

// Teardown is the explicit administrative cleanup path: it deletes the
// remote sandbox (tolerating an already-gone resource) and clears the
// record.
func (s *RegistryService) Teardown(ctx context.Context, projectID string) error {
	rec, err := s.store.GetSandboxRecord(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("teardown %s: %w", projectID, err)
	}

	if err := s.provider.Delete(ctx, rec.SandboxID); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
		return fmt.Errorf("delete sandbox %s: %w", rec.SandboxID, err)
	}
	if err := s.store.DeleteSandboxRecord(ctx, projectID); err != nil {
		return fmt.Errorf("clear record for %s: %w", projectID, err)
	}
	s.logger.Info("sandbox torn down",
		zap.String("project_id", projectID),
		zap.String("sandbox_id", rec.SandboxID))
	return nil
}
