package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/sandbox"
)

const (
	// devServerLogFile captures the dev server's output inside the sandbox.
	devServerLogFile = "/tmp/drydock-devserver.log"

	// readyPollInterval is how often the supervisor re-reads the log while
	// waiting for readiness.
	readyPollInterval = 2 * time.Second
)

// readyPhrases are the known "server ready" markers across the toolchains
// the templates ship (vite, next, CRA, generic node servers).
var readyPhrases = []string{
	"ready in",
	"Local:",
	"compiled successfully",
	"listening on",
	"started server on",
}

// staleCachePaths are build caches cleared before launch so a sandbox
// rehydrated from a template image never serves stale assets.
var staleCachePaths = []string{
	"node_modules/.vite",
	".next/cache",
	".parcel-cache",
}

// DevServerService supervises the development server inside each sandbox
// as a named, idempotent session keyed by project ID. Sessions are runtime
// state only and are recreated after every (re)provision.
type DevServerService struct {
	provider     sandbox.Provider
	clock        Clock
	readyTimeout time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*devSession
}

type devSession struct {
	sandboxID string
	startedAt time.Time
}

// NewDevServerService creates a supervisor. readyTimeout bounds the total
// readiness wait per launch.
func NewDevServerService(p sandbox.Provider, clock Clock, readyTimeout time.Duration, logger *zap.Logger) *DevServerService {
	if readyTimeout <= 0 {
		readyTimeout = 60 * time.Second
	}
	return &DevServerService{
		provider:     p,
		clock:        clock,
		readyTimeout: readyTimeout,
		logger:       logger,
		sessions:     make(map[string]*devSession),
	}
}

// EnsureDevServer starts the project's dev server if no session exists yet.
// Calling it again for the same project is a no-op. Failure to observe
// readiness within the bound is a warning, not an error: the server may
// become ready shortly after.
func (s *DevServerService) EnsureDevServer(ctx context.Context, h *sandbox.Handle, projectID string) error {
	s.mu.Lock()
	if sess, ok := s.sessions[projectID]; ok && sess.sandboxID == h.ID {
		s.mu.Unlock()
		return nil
	}
	// A session pointing at a previous sandbox is stale; replace it.
	s.sessions[projectID] = &devSession{sandboxID: h.ID, startedAt: s.clock.Now()}
	s.mu.Unlock()

	if err := s.launch(ctx, h); err != nil {
		s.mu.Lock()
		delete(s.sessions, projectID)
		s.mu.Unlock()
		return fmt.Errorf("start dev server for %s: %w", projectID, err)
	}

	if ready := s.awaitReady(ctx, h); !ready {
		s.logger.Warn("dev server readiness not observed within bound",
			zap.String("project_id", projectID),
			zap.String("sandbox_id", h.ID),
			zap.Duration("timeout", s.readyTimeout))
	}
	return nil
}

func (s *DevServerService) launch(ctx context.Context, h *sandbox.Handle) error {
	clearCmd := "rm -rf " + strings.Join(staleCachePaths, " ")
	if _, err := s.provider.Exec(ctx, h, clearCmd, sandbox.ExecOptions{}); err != nil {
		s.logger.Warn("stale cache cleanup failed",
			zap.String("sandbox_id", h.ID), zap.Error(err))
	}

	_, err := s.provider.Exec(ctx, h, "npm run dev", sandbox.ExecOptions{
		Background: true,
		LogFile:    devServerLogFile,
		Env:        map[string]string{"HOST": "0.0.0.0"},
	})
	return err
}

// awaitReady polls the captured log for a readiness phrase under a bounded
// deadline: a waiting -> ready | timed_out state machine over the injected
// clock.
func (s *DevServerService) awaitReady(ctx context.Context, h *sandbox.Handle) bool {
	deadline := s.clock.Now().Add(s.readyTimeout)
	for {
		out, err := s.provider.ReadFile(ctx, h, devServerLogFile)
		if err == nil && containsReadyPhrase(string(out)) {
			s.logger.Info("dev server ready", zap.String("sandbox_id", h.ID))
			return true
		}
		if !s.clock.Now().Before(deadline) {
			return false
		}
		if err := s.clock.Sleep(ctx, readyPollInterval); err != nil {
			return false
		}
	}
}

func containsReadyPhrase(out string) bool {
	for _, phrase := range readyPhrases {
		if strings.Contains(out, phrase) {
			return true
		}
	}
	return false
}

// StopDevServer kills the dev server and forgets the session. Stopping a
// project with no session succeeds.
func (s *DevServerService) StopDevServer(ctx context.Context, h *sandbox.Handle, projectID string) error {
	s.mu.Lock()
	_, existed := s.sessions[projectID]
	delete(s.sessions, projectID)
	s.mu.Unlock()

	if !existed {
		return nil
	}

	if _, err := s.provider.Exec(ctx, h, "pkill -f 'npm run dev' || true", sandbox.ExecOptions{}); err != nil {
		s.logger.Warn("dev server stop command failed",
			zap.String("project_id", projectID), zap.Error(err))
	}
	return nil
}

// SessionOutput reads the captured dev server log for streaming to
// callers.
func (s *DevServerService) SessionOutput(ctx context.Context, h *sandbox.Handle) (string, error) {
	out, err := s.provider.ReadFile(ctx, h, devServerLogFile)
	if err != nil {
		return "", fmt.Errorf("read dev server log: %w", err)
	}
	return string(out), nil
}

// HasSession reports whether a session exists for the project (test and
// handler support).
func (s *DevServerService) HasSession(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[projectID]
	return ok
}
