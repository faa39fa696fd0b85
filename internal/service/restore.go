package service

import (
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/model"
	"github.com/vesselworks/drydock/internal/sandbox"
	"github.com/vesselworks/drydock/internal/store"
)

// CheckoutSentinel is the restore count reported when the whole tree was
// restored through a version-control checkout instead of per-file uploads.
const CheckoutSentinel = 1

// RestoreService materializes a fragment's file state into a sandbox,
// preferring an atomic version-control checkout over direct upload when a
// trustworthy commit reference exists.
type RestoreService struct {
	store    *store.Store
	provider sandbox.Provider
	logger   *zap.Logger
}

// NewRestoreService creates a restoration engine.
func NewRestoreService(s *store.Store, p sandbox.Provider, logger *zap.Logger) *RestoreService {
	return &RestoreService{store: s, provider: p, logger: logger}
}

// Restore brings the sandbox working tree to the fragment's state and
// returns the number of files restored (CheckoutSentinel for a wholesale
// checkout). The checkout and upload paths are mutually exclusive per call.
func (s *RestoreService) Restore(ctx context.Context, h *sandbox.Handle, fragmentID, projectID string) (int, error) {
	frag, err := s.store.GetFragment(ctx, fragmentID)
	if err != nil {
		return 0, fmt.Errorf("restore fragment %s: %w", fragmentID, err)
	}

	// Autofix fragments were never committed; a checkout would silently
	// discard the fix.
	if !frag.Autofix() {
		if hash := s.commitHashFor(ctx, projectID, frag); hash != "" {
			err := s.checkout(ctx, h, hash)
			if err == nil {
				s.logger.Info("fragment restored via checkout",
					zap.String("project_id", projectID),
					zap.String("fragment_id", fragmentID),
					zap.String("commit", hash))
				return CheckoutSentinel, nil
			}
			s.logger.Warn("checkout restore failed, falling back to upload",
				zap.String("project_id", projectID),
				zap.String("commit", hash),
				zap.Error(err))
		}
	}

	count, err := s.upload(ctx, h, frag)
	if err != nil {
		return count, fmt.Errorf("restore fragment %s: %w", fragmentID, err)
	}
	s.logger.Info("fragment restored via upload",
		zap.String("project_id", projectID),
		zap.String("fragment_id", fragmentID),
		zap.Int("files", count))
	return count, nil
}

// commitHashFor finds the commit to check out: the newest trail entry keyed
// to the fragment, else the newest whose title matches the fragment's
// exactly, else the project's last known commit hash.
func (s *RestoreService) commitHashFor(ctx context.Context, projectID string, frag *model.Fragment) string {
	ref, err := s.store.LatestCommitRefByFragment(ctx, projectID, frag.ID)
	if err == nil {
		return ref.CommitHash
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("commit ref lookup failed",
			zap.String("project_id", projectID), zap.Error(err))
		return ""
	}

	ref, err = s.store.LatestCommitRefByTitle(ctx, projectID, frag.Title)
	if err == nil {
		return ref.CommitHash
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("commit ref lookup failed",
			zap.String("project_id", projectID), zap.Error(err))
		return ""
	}

	rec, err := s.store.GetSandboxRecord(ctx, projectID)
	if err != nil {
		return ""
	}
	return rec.GitCommitHash
}

// checkout resets the sandbox working tree to the given commit.
func (s *RestoreService) checkout(ctx context.Context, h *sandbox.Handle, hash string) error {
	cmd := fmt.Sprintf("git fetch --all --quiet || true; git reset --hard %s && git clean -fd", hash)
	result, err := s.provider.Exec(ctx, h, cmd, sandbox.ExecOptions{})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: git reset exited %d: %s", sandbox.ErrExecFailed, result.ExitCode, result.Stderr)
	}
	return nil
}

// upload writes the fragment's full tree into the sandbox workdir, bulk
// first, then file by file when the bulk call fails. Individual failures
// are logged, not fatal: partial restoration beats none.
func (s *RestoreService) upload(ctx context.Context, h *sandbox.Handle, frag *model.Fragment) (int, error) {
	entries := make([]sandbox.FileWrite, 0, len(frag.Files))
	for p, content := range frag.Files {
		entries = append(entries, sandbox.FileWrite{
			Path: path.Join(h.Workdir, p),
			Data: []byte(content),
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}

	bulkErr := s.provider.WriteFiles(ctx, h, entries)
	if bulkErr == nil {
		return len(entries), nil
	}
	s.logger.Warn("bulk upload failed, writing files individually",
		zap.String("sandbox_id", h.ID),
		zap.Int("files", len(entries)),
		zap.Error(bulkErr))

	written := 0
	for _, e := range entries {
		if err := s.provider.WriteFile(ctx, h, e.Path, e.Data); err != nil {
			s.logger.Warn("file restore failed",
				zap.String("path", e.Path), zap.Error(err))
			continue
		}
		written++
	}
	if written == 0 {
		return 0, fmt.Errorf("no files could be restored to sandbox %s", h.ID)
	}
	return written, nil
}
