package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/model"
	"github.com/vesselworks/drydock/internal/sandbox"
	"github.com/vesselworks/drydock/internal/store"
)

// Mode selects how much restoration a provisioning attempt performs, and
// whether a restoration failure is fatal. The mode is fixed for the whole
// call; there are no mid-call transitions.
type Mode string

const (
	// ModeFullRestore provisions, restores, and starts the dev server.
	// A restoration failure is swallowed: a provisioned sandbox is still
	// valuable even without content.
	ModeFullRestore Mode = "full_restore"

	// ModeFilesOnly is like ModeFullRestore but a restoration failure is
	// fatal — for callers that cannot accept an empty sandbox.
	ModeFilesOnly Mode = "files_only"

	// ModeMinimalSandbox skips restoration entirely for callers that want
	// a clean environment.
	ModeMinimalSandbox Mode = "minimal_sandbox"

	// ModeEmergencyFallback skips restoration and accepts degraded state;
	// last resort after repeated provisioning failures.
	ModeEmergencyFallback Mode = "emergency_fallback"
)

// ParseMode validates a caller-supplied mode string, defaulting to
// ModeFullRestore.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeFullRestore, nil
	case ModeFullRestore, ModeFilesOnly, ModeMinimalSandbox, ModeEmergencyFallback:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown recovery mode %q", s)
}

func (m Mode) restores() bool {
	return m == ModeFullRestore || m == ModeFilesOnly
}

// RecoveryService provisions new sandboxes and reconciles them with the
// snapshot store when a project's previous sandbox is gone.
type RecoveryService struct {
	store     *store.Store
	provider  sandbox.Provider
	registry  *RegistryService
	fragments *FragmentService
	restorer  *RestoreService
	devserver *DevServerService
	template  string
	logger    *zap.Logger
}

// NewRecoveryService creates a recovery coordinator. template is the
// provider template new sandboxes are created from.
func NewRecoveryService(s *store.Store, p sandbox.Provider, reg *RegistryService, frags *FragmentService, restorer *RestoreService, dev *DevServerService, template string, logger *zap.Logger) *RecoveryService {
	return &RecoveryService{
		store:     s,
		provider:  p,
		registry:  reg,
		fragments: frags,
		restorer:  restorer,
		devserver: dev,
		template:  template,
		logger:    logger,
	}
}

// Provision creates a fresh sandbox for the project, restores content per
// the mode, starts the dev server, and returns the usable sandbox. Every
// mode terminates in either a usable sandbox or a propagated error.
func (s *RecoveryService) Provision(ctx context.Context, projectID string, mode Mode) (*Resolved, error) {
	if _, err := s.store.EnsureProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("provision %s: %w", projectID, err)
	}

	h, err := s.provider.Create(ctx, s.template)
	if err != nil {
		return nil, fmt.Errorf("provision %s: %w", projectID, err)
	}
	s.logger.Info("sandbox provisioned",
		zap.String("project_id", projectID),
		zap.String("sandbox_id", h.ID),
		zap.String("mode", string(mode)))

	rec := &model.SandboxRecord{
		ProjectID: projectID,
		SandboxID: h.ID,
		ExpiresAt: h.ExpiresAt,
	}
	if err := s.store.UpsertSandboxRecord(ctx, rec); err != nil {
		// Without a record the sandbox is unreachable by any later call;
		// reclaim it rather than orphan it.
		if derr := s.provider.Delete(ctx, h.ID); derr != nil {
			s.logger.Warn("orphaned sandbox cleanup failed",
				zap.String("sandbox_id", h.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("record sandbox for %s: %w", projectID, err)
	}

	if mode.restores() {
		if err := s.restoreLatest(ctx, h, projectID); err != nil {
			if mode == ModeFilesOnly {
				return nil, fmt.Errorf("restore for %s: %w", projectID, err)
			}
			s.logger.Warn("restoration failed, returning empty sandbox",
				zap.String("project_id", projectID),
				zap.String("sandbox_id", h.ID),
				zap.Error(err))
		}
	}

	if mode != ModeEmergencyFallback {
		if err := s.devserver.EnsureDevServer(ctx, h, projectID); err != nil {
			// Readiness problems are downgraded inside the supervisor;
			// an error here means the launch command itself failed.
			s.logger.Warn("dev server start failed",
				zap.String("project_id", projectID), zap.Error(err))
		}
	}

	previewURL := s.registry.refreshPreviewURL(ctx, projectID, rec, h)
	files, err := s.registry.ListFilesWithRecovery(ctx, h)
	if err != nil {
		s.logger.Warn("post-provision listing failed",
			zap.String("project_id", projectID), zap.Error(err))
		files = nil
	}

	return &Resolved{Handle: h, PreviewURL: previewURL, Files: files}, nil
}

func (s *RecoveryService) restoreLatest(ctx context.Context, h *sandbox.Handle, projectID string) error {
	frag, err := s.fragments.Latest(ctx, projectID)
	if err != nil {
		return err
	}
	if frag == nil {
		s.logger.Info("no fragments to restore", zap.String("project_id", projectID))
		return nil
	}
	_, err = s.restorer.Restore(ctx, h, frag.ID, projectID)
	return err
}

// EnsureSandbox is the caller-facing entry point: resolve the existing
// sandbox, and when the project has none usable, provision one in the
// requested mode.
func (s *RecoveryService) EnsureSandbox(ctx context.Context, projectID string, mode Mode) (*Resolved, error) {
	resolved, err := s.registry.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		return resolved, nil
	}
	return s.Provision(ctx, projectID, mode)
}
