// Package store provides typed persistence for projects, sandbox records,
// fragments, and the commit trail.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vesselworks/drydock/internal/database"
	"github.com/vesselworks/drydock/internal/model"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the database with entity-level operations. Mutations are
// single targeted updates, not read-modify-write transactions spanning
// remote calls; concurrent access to the same project accepts a small risk
// of lost updates.
type Store struct {
	db *database.DB
}

// New creates a store over an open database.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

func wrapErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- Projects ---

// EnsureProject creates the project row if it does not exist and returns it.
func (s *Store) EnsureProject(ctx context.Context, projectID string) (*model.Project, error) {
	p := &model.Project{ID: projectID}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(p).Error
	if err != nil {
		return nil, wrapErr("ensure project", err)
	}
	return s.GetProject(ctx, projectID)
}

// GetProject returns a project by ID.
func (s *Store) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	if err := s.db.WithContext(ctx).First(&p, "id = ?", projectID).Error; err != nil {
		return nil, wrapErr("get project", err)
	}
	return &p, nil
}

// SetActiveFragment points the project at its active fragment.
func (s *Store) SetActiveFragment(ctx context.Context, projectID, fragmentID string) error {
	err := s.db.WithContext(ctx).Model(&model.Project{}).
		Where("id = ?", projectID).
		Update("active_fragment_id", fragmentID).Error
	if err != nil {
		return wrapErr("set active fragment", err)
	}
	return nil
}

// --- Sandbox records ---

// GetSandboxRecord returns the sandbox record for a project.
func (s *Store) GetSandboxRecord(ctx context.Context, projectID string) (*model.SandboxRecord, error) {
	var rec model.SandboxRecord
	if err := s.db.WithContext(ctx).First(&rec, "project_id = ?", projectID).Error; err != nil {
		return nil, wrapErr("get sandbox record", err)
	}
	return &rec, nil
}

// UpsertSandboxRecord creates or replaces the project's sandbox record.
func (s *Store) UpsertSandboxRecord(ctx context.Context, rec *model.SandboxRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return wrapErr("upsert sandbox record", err)
	}
	return nil
}

// UpdateSandboxPreviewURL refreshes the stored preview URL.
func (s *Store) UpdateSandboxPreviewURL(ctx context.Context, projectID, url string) error {
	err := s.db.WithContext(ctx).Model(&model.SandboxRecord{}).
		Where("project_id = ?", projectID).
		Update("preview_url", url).Error
	if err != nil {
		return wrapErr("update preview url", err)
	}
	return nil
}

// UpdateSandboxCommit records the last known commit for the project.
func (s *Store) UpdateSandboxCommit(ctx context.Context, projectID, branch, hash string) error {
	err := s.db.WithContext(ctx).Model(&model.SandboxRecord{}).
		Where("project_id = ?", projectID).
		Updates(map[string]any{"git_branch": branch, "git_commit_hash": hash}).Error
	if err != nil {
		return wrapErr("update sandbox commit", err)
	}
	return nil
}

// DeleteSandboxRecord removes the project's sandbox record. This is the
// explicit cleanup path; nothing else deletes records.
func (s *Store) DeleteSandboxRecord(ctx context.Context, projectID string) error {
	err := s.db.WithContext(ctx).
		Delete(&model.SandboxRecord{}, "project_id = ?", projectID).Error
	if err != nil {
		return wrapErr("delete sandbox record", err)
	}
	return nil
}

// --- Fragments ---

// GetFragment returns a fragment by ID.
func (s *Store) GetFragment(ctx context.Context, fragmentID string) (*model.Fragment, error) {
	var f model.Fragment
	if err := s.db.WithContext(ctx).First(&f, "id = ?", fragmentID).Error; err != nil {
		return nil, wrapErr("get fragment", err)
	}
	return &f, nil
}

// CreateFragment inserts a new fragment.
func (s *Store) CreateFragment(ctx context.Context, f *model.Fragment) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return wrapErr("create fragment", err)
	}
	return nil
}

// UpdateFragment saves a mutated fragment. Only working fragments are ever
// passed here; finalized fragments are immutable.
func (s *Store) UpdateFragment(ctx context.Context, f *model.Fragment) error {
	if err := s.db.WithContext(ctx).Save(f).Error; err != nil {
		return wrapErr("update fragment", err)
	}
	return nil
}

// ListFragments returns a project's fragments, most recently updated first.
func (s *Store) ListFragments(ctx context.Context, projectID string) ([]*model.Fragment, error) {
	var frags []*model.Fragment
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("updated_at DESC").
		Find(&frags).Error
	if err != nil {
		return nil, wrapErr("list fragments", err)
	}
	return frags, nil
}

// LatestFragment returns the most recently updated fragment for a project,
// or ErrNotFound when the project has none.
func (s *Store) LatestFragment(ctx context.Context, projectID string) (*model.Fragment, error) {
	var f model.Fragment
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("updated_at DESC").
		First(&f).Error
	if err != nil {
		return nil, wrapErr("latest fragment", err)
	}
	return &f, nil
}

// --- Commit refs ---

// CreateCommitRef appends an entry to the commit trail.
func (s *Store) CreateCommitRef(ctx context.Context, c *model.CommitRef) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return wrapErr("create commit ref", err)
	}
	return nil
}

// LatestCommitRefByFragment returns the newest commit ref keyed to the
// fragment.
func (s *Store) LatestCommitRefByFragment(ctx context.Context, projectID, fragmentID string) (*model.CommitRef, error) {
	var c model.CommitRef
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND fragment_id = ?", projectID, fragmentID).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, wrapErr("latest commit ref", err)
	}
	return &c, nil
}

// LatestCommitRefByTitle returns the newest commit ref with an exact title
// match, for trail entries recorded without a fragment key. Under duplicate
// titles the newest wins.
func (s *Store) LatestCommitRefByTitle(ctx context.Context, projectID, title string) (*model.CommitRef, error) {
	var c model.CommitRef
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND title = ?", projectID, title).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, wrapErr("latest commit ref", err)
	}
	return &c, nil
}
