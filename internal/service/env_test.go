package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/database"
	"github.com/vesselworks/drydock/internal/model"
	"github.com/vesselworks/drydock/internal/sandbox"
	"github.com/vesselworks/drydock/internal/sandbox/mock"
	"github.com/vesselworks/drydock/internal/store"
)

// fakeClock advances instantly on Sleep so polling loops run without real
// waits.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

// testEnv wires the service layer over a temp-file database and the mock
// provider.
type testEnv struct {
	db        *database.DB
	store     *store.Store
	provider  *mock.Provider
	clock     *fakeClock
	registry  *RegistryService
	fragments *FragmentService
	restorer  *RestoreService
	devserver *DevServerService
	recovery  *RecoveryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	st := store.New(db)
	provider := mock.NewProvider()
	clock := newFakeClock()

	registry := NewRegistryService(st, provider, clock, RegistryOptions{
		PreviewPort:    sandbox.DefaultDevPort,
		PreviewDomain:  "test.local",
		RecoverySettle: 5 * time.Second,
	}, logger)
	fragments := NewFragmentService(st, logger)
	restorer := NewRestoreService(st, provider, logger)
	devserver := NewDevServerService(provider, clock, 60*time.Second, logger)
	recovery := NewRecoveryService(st, provider, registry, fragments, restorer, devserver, "node-vite", logger)

	return &testEnv{
		db:        db,
		store:     st,
		provider:  provider,
		clock:     clock,
		registry:  registry,
		fragments: fragments,
		restorer:  restorer,
		devserver: devserver,
		recovery:  recovery,
	}
}

// createSandbox provisions a mock sandbox with a matching record.
func (env *testEnv) createSandbox(t *testing.T, projectID string) *sandbox.Handle {
	t.Helper()
	ctx := context.Background()

	h, err := env.provider.Create(ctx, "node-vite")
	if err != nil {
		t.Fatalf("Failed to create mock sandbox: %v", err)
	}
	if _, err := env.store.EnsureProject(ctx, projectID); err != nil {
		t.Fatalf("Failed to ensure project: %v", err)
	}
	if err := env.store.UpsertSandboxRecord(ctx, &model.SandboxRecord{
		ProjectID: projectID,
		SandboxID: h.ID,
	}); err != nil {
		t.Fatalf("Failed to upsert sandbox record: %v", err)
	}
	return h
}

// createFragment stores a fragment directly.
func (env *testEnv) createFragment(t *testing.T, projectID, title string, files map[string]string) *model.Fragment {
	t.Helper()

	frag := &model.Fragment{
		ProjectID: projectID,
		Title:     title,
		Files:     model.FileMap(files),
	}
	if err := env.store.CreateFragment(context.Background(), frag); err != nil {
		t.Fatalf("Failed to create fragment: %v", err)
	}
	return frag
}
