package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/model"
	"github.com/vesselworks/drydock/internal/store"
)

// FragmentService owns the snapshot store: working and finalized fragments
// plus the durable commit trail.
type FragmentService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewFragmentService creates a fragment service.
func NewFragmentService(s *store.Store, logger *zap.Logger) *FragmentService {
	return &FragmentService{store: s, logger: logger}
}

// CreateOrUpdateWorking folds changed files into the project's working
// fragment. An in-progress active fragment is mutated in place; a finalized
// one is never rewritten — a new working fragment is seeded from its files
// with the changes overlaid. With no active fragment a fresh one is created.
//
// Fragment bookkeeping is secondary to the file operation that triggered
// it, so persistence failures are logged and swallowed: the method always
// returns the best-known fragment ID, possibly empty.
func (s *FragmentService) CreateOrUpdateWorking(ctx context.Context, projectID string, changed map[string]string, activeFragmentID string) string {
	id, err := s.createOrUpdateWorking(ctx, projectID, changed, activeFragmentID)
	if err != nil {
		s.logger.Error("working fragment update failed",
			zap.String("project_id", projectID),
			zap.String("active_fragment_id", activeFragmentID),
			zap.Error(err))
		return activeFragmentID
	}
	return id
}

func (s *FragmentService) createOrUpdateWorking(ctx context.Context, projectID string, changed map[string]string, activeFragmentID string) (string, error) {
	if _, err := s.store.EnsureProject(ctx, projectID); err != nil {
		return "", err
	}

	if activeFragmentID != "" {
		frag, err := s.store.GetFragment(ctx, activeFragmentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		if frag != nil {
			if frag.Working() {
				if frag.Files == nil {
					frag.Files = model.FileMap{}
				}
				for p, content := range changed {
					frag.Files[p] = content
				}
				if err := s.store.UpdateFragment(ctx, frag); err != nil {
					return "", err
				}
				if err := s.store.SetActiveFragment(ctx, projectID, frag.ID); err != nil {
					return "", err
				}
				return frag.ID, nil
			}
			// Finalized: copy-on-write into a new working fragment.
			files := model.FileMap{}
			for p, content := range frag.Files {
				files[p] = content
			}
			for p, content := range changed {
				files[p] = content
			}
			next := &model.Fragment{
				ProjectID: projectID,
				Title:     model.WorkingTitlePrefix + frag.BareTitle(),
				Files:     files,
			}
			if err := s.store.CreateFragment(ctx, next); err != nil {
				return "", err
			}
			if err := s.store.SetActiveFragment(ctx, projectID, next.ID); err != nil {
				return "", err
			}
			return next.ID, nil
		}
	}

	files := model.FileMap{}
	for p, content := range changed {
		files[p] = content
	}
	frag := &model.Fragment{
		ProjectID: projectID,
		Title:     model.WorkingTitlePrefix + "untitled",
		Files:     files,
	}
	if err := s.store.CreateFragment(ctx, frag); err != nil {
		return "", err
	}
	if err := s.store.SetActiveFragment(ctx, projectID, frag.ID); err != nil {
		return "", err
	}
	return frag.ID, nil
}

// Finalize marks a fragment finalized under the given title and records it
// as the project's active fragment. Repeating the call with the same title
// is a no-op.
func (s *FragmentService) Finalize(ctx context.Context, fragmentID, title string) (string, error) {
	frag, err := s.store.GetFragment(ctx, fragmentID)
	if err != nil {
		return "", fmt.Errorf("finalize fragment %s: %w", fragmentID, err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = frag.BareTitle()
	}

	if !frag.Working() && frag.Title == title {
		// Already finalized under this title.
		return frag.ID, nil
	}
	if !frag.Working() {
		return "", fmt.Errorf("fragment %s is finalized as %q and immutable", fragmentID, frag.Title)
	}

	frag.Title = title
	if err := s.store.UpdateFragment(ctx, frag); err != nil {
		return "", fmt.Errorf("finalize fragment %s: %w", fragmentID, err)
	}
	if err := s.store.SetActiveFragment(ctx, frag.ProjectID, frag.ID); err != nil {
		return "", fmt.Errorf("finalize fragment %s: %w", fragmentID, err)
	}
	return frag.ID, nil
}

// RecordCommit appends an entry to the commit trail after a successful
// version-control push. fragmentID keys the entry to the snapshot it
// captured; it may be empty for callers that only know the title.
func (s *FragmentService) RecordCommit(ctx context.Context, projectID, fragmentID, hash, branch, title, message string) error {
	if err := s.store.CreateCommitRef(ctx, &model.CommitRef{
		ProjectID:  projectID,
		FragmentID: fragmentID,
		CommitHash: hash,
		Branch:     branch,
		Title:      title,
		Message:    message,
	}); err != nil {
		return fmt.Errorf("record commit for %s: %w", projectID, err)
	}
	if err := s.store.UpdateSandboxCommit(ctx, projectID, branch, hash); err != nil {
		// The trail entry is in place; the record column is a cache.
		s.logger.Warn("sandbox record commit update failed",
			zap.String("project_id", projectID), zap.Error(err))
	}
	return nil
}

// List returns the project's fragments, most recently updated first.
func (s *FragmentService) List(ctx context.Context, projectID string) ([]*model.Fragment, error) {
	return s.store.ListFragments(ctx, projectID)
}

// Latest returns the default restoration target, or nil when the project
// has no fragments.
func (s *FragmentService) Latest(ctx context.Context, projectID string) (*model.Fragment, error) {
	frag, err := s.store.LatestFragment(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return frag, nil
}
