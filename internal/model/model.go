// Package model defines the persistent entities. All tables are owned by
// the store package and migrated on startup.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Title markers. A working fragment may be mutated in place; any other
// fragment is finalized and immutable. Autofix fragments are produced by an
// automated error-fix pass whose content was never committed, so they must
// never be restored via a version-control checkout.
const (
	WorkingTitlePrefix = "[wip] "
	AutofixTitlePrefix = "[autofix] "
)

// Project is the stable identity that outlives any sandbox. It carries the
// active fragment pointer used as the default restoration target.
type Project struct {
	ID               string `gorm:"primaryKey"`
	ActiveFragmentID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SandboxRecord maps a project to its possibly-stale remote sandbox. At most
// one live record exists per project. It is cleared only by the registry's
// stale-reference cleanup or an explicit administrative teardown — never on
// a transient provider error, because the remote sandbox is assumed to be
// long-lived and recoverable.
type SandboxRecord struct {
	ProjectID     string `gorm:"primaryKey"`
	SandboxID     string `gorm:"index"`
	PreviewURL    string
	ExpiresAt     *time.Time
	GitRepoURL    string
	GitBranch     string
	GitCommitHash string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Fragment is a named, complete snapshot of a project's file tree. Files
// holds the whole working tree keyed by workdir-relative path, not a diff.
type Fragment struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"index"`
	Title     string
	Files     FileMap `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns a UUID if the caller did not.
func (f *Fragment) BeforeCreate(_ *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Working reports whether the fragment is mutable (in progress).
func (f *Fragment) Working() bool {
	return strings.HasPrefix(f.Title, WorkingTitlePrefix)
}

// Autofix reports whether the fragment originated from an automated
// error-fix pass.
func (f *Fragment) Autofix() bool {
	return strings.HasPrefix(f.Title, AutofixTitlePrefix)
}

// BareTitle returns the title with any working marker stripped.
func (f *Fragment) BareTitle() string {
	return strings.TrimPrefix(f.Title, WorkingTitlePrefix)
}

// CommitRef is one entry in the durable version-control trail. It enables
// atomic restoration via a checkout instead of re-uploading every file.
// FragmentID is the correlation key; Title remains as a fallback for trail
// entries recorded without one, matched exactly against the fragment title.
type CommitRef struct {
	ID         string `gorm:"primaryKey"`
	ProjectID  string `gorm:"index"`
	FragmentID string `gorm:"index"`
	CommitHash string
	Branch     string
	Title      string `gorm:"index"`
	Message    string
	CreatedAt  time.Time
}

// BeforeCreate assigns a UUID if the caller did not.
func (c *CommitRef) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// FileMap stores a full file tree as a JSON column.
type FileMap map[string]string

// Value implements driver.Valuer.
func (m FileMap) Value() (driver.Value, error) {
	if m == nil {
		m = FileMap{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal file map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *FileMap) Scan(value any) error {
	if value == nil {
		*m = FileMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported file map column type %T", value)
	}
	if len(b) == 0 {
		*m = FileMap{}
		return nil
	}
	return json.Unmarshal(b, m)
}
