package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vesselworks/drydock/internal/model"
	"github.com/vesselworks/drydock/internal/sandbox"
)

func TestRestoreViaCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	frag := env.createFragment(t, "p1", "checkout flow", map[string]string{
		"a.js": "1",
		"b.js": "2",
	})
	if err := env.fragments.RecordCommit(ctx, "p1", frag.ID, "abc123", "main", "checkout flow", ""); err != nil {
		t.Fatalf("RecordCommit failed: %v", err)
	}

	var execCmd string
	env.provider.ExecFunc = func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		execCmd = cmd
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}
	env.provider.WriteFilesFunc = func(ctx context.Context, h *sandbox.Handle, entries []sandbox.FileWrite) error {
		t.Fatal("Checkout restore must not upload files")
		return nil
	}

	count, err := env.restorer.Restore(ctx, h, frag.ID, "p1")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if count != CheckoutSentinel {
		t.Fatalf("Expected checkout sentinel %d, got %d", CheckoutSentinel, count)
	}
	if !strings.Contains(execCmd, "git reset --hard abc123") {
		t.Fatalf("Unexpected checkout command: %q", execCmd)
	}
}

func TestRestoreAutofixNeverChecksOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	frag := env.createFragment(t, "p1", model.AutofixTitlePrefix+"fix crash", map[string]string{
		"a.js": "fixed",
	})
	// A stale commit exists, but checking it out would discard the fix.
	if err := env.fragments.RecordCommit(ctx, "p1", frag.ID, "stale99", "main", model.AutofixTitlePrefix+"fix crash", ""); err != nil {
		t.Fatalf("RecordCommit failed: %v", err)
	}

	env.provider.ExecFunc = func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		if strings.Contains(cmd, "git reset") {
			t.Fatalf("Autofix fragment must not be restored via checkout: %q", cmd)
		}
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}

	count, err := env.restorer.Restore(ctx, h, frag.ID, "p1")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 uploaded file, got %d", count)
	}

	data, err := env.provider.ReadFile(ctx, h, h.Workdir+"/a.js")
	if err != nil {
		t.Fatalf("Failed to read restored file: %v", err)
	}
	if string(data) != "fixed" {
		t.Fatalf("Unexpected restored content: %q", data)
	}
}

func TestRestoreCheckoutFailureFallsBackToUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	frag := env.createFragment(t, "p1", "checkout flow", map[string]string{
		"a.js": "1",
		"b.js": "2",
	})
	if err := env.fragments.RecordCommit(ctx, "p1", frag.ID, "abc123", "main", "checkout flow", ""); err != nil {
		t.Fatalf("RecordCommit failed: %v", err)
	}

	env.provider.ExecFunc = func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{ExitCode: 128, Stderr: "fatal: bad object abc123"}, nil
	}

	count, err := env.restorer.Restore(ctx, h, frag.ID, "p1")
	if err != nil {
		t.Fatalf("Restore should fall back to upload: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 uploaded files, got %d", count)
	}
}

func TestRestoreFallsBackToTitleMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	frag := env.createFragment(t, "p1", "checkout flow", map[string]string{"a.js": "1"})
	// A trail entry recorded without a fragment key still correlates by
	// exact title.
	if err := env.fragments.RecordCommit(ctx, "p1", "", "abc123", "main", "checkout flow", ""); err != nil {
		t.Fatalf("RecordCommit failed: %v", err)
	}

	var execCmd string
	env.provider.ExecFunc = func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		execCmd = cmd
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}

	count, err := env.restorer.Restore(ctx, h, frag.ID, "p1")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if count != CheckoutSentinel {
		t.Fatalf("Expected checkout sentinel, got %d", count)
	}
	if !strings.Contains(execCmd, "abc123") {
		t.Fatalf("Expected title-matched checkout: %q", execCmd)
	}
}

func TestRestoreFragmentKeyWinsOverSharedTitle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	first := env.createFragment(t, "p1", "landing page", map[string]string{"a.js": "1"})
	second := env.createFragment(t, "p1", "landing page", map[string]string{"a.js": "2"})
	if err := env.fragments.RecordCommit(ctx, "p1", first.ID, "aaa111", "main", "landing page", ""); err != nil {
		t.Fatalf("RecordCommit failed: %v", err)
	}
	if err := env.fragments.RecordCommit(ctx, "p1", second.ID, "bbb222", "main", "landing page", ""); err != nil {
		t.Fatalf("RecordCommit failed: %v", err)
	}

	var execCmd string
	env.provider.ExecFunc = func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		execCmd = cmd
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}

	// Restoring the first fragment must pick its own commit, not the
	// newer one that happens to share the title.
	if _, err := env.restorer.Restore(ctx, h, first.ID, "p1"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !strings.Contains(execCmd, "aaa111") {
		t.Fatalf("Expected the fragment's own commit: %q", execCmd)
	}
}

func TestRestoreFallsBackToRecordCommitHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	if err := env.store.UpdateSandboxCommit(ctx, "p1", "main", "def456"); err != nil {
		t.Fatalf("Failed to set record commit: %v", err)
	}
	frag := env.createFragment(t, "p1", "untracked title", map[string]string{"a.js": "1"})

	var execCmd string
	env.provider.ExecFunc = func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		execCmd = cmd
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}

	count, err := env.restorer.Restore(ctx, h, frag.ID, "p1")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if count != CheckoutSentinel {
		t.Fatalf("Expected checkout sentinel, got %d", count)
	}
	if !strings.Contains(execCmd, "def456") {
		t.Fatalf("Expected checkout of the record's commit: %q", execCmd)
	}
}

func TestRestoreBulkFailureWritesIndividually(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	frag := env.createFragment(t, "p1", "no commits yet", map[string]string{
		"a.js": "1",
		"b.js": "2",
		"c.js": "3",
	})

	env.provider.WriteFilesFunc = func(ctx context.Context, h *sandbox.Handle, entries []sandbox.FileWrite) error {
		return errors.New("multipart too large")
	}

	count, err := env.restorer.Restore(ctx, h, frag.ID, "p1")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 files via individual writes, got %d", count)
	}
	if _, err := env.provider.ReadFile(ctx, h, h.Workdir+"/b.js"); err != nil {
		t.Fatalf("File missing after individual restore: %v", err)
	}
}

func TestRestoreFailsWhenNothingWritten(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	frag := env.createFragment(t, "p1", "no commits yet", map[string]string{"a.js": "1"})

	env.provider.WriteFilesFunc = func(ctx context.Context, h *sandbox.Handle, entries []sandbox.FileWrite) error {
		return errors.New("sandbox filesystem read-only")
	}
	env.provider.WriteFileFunc = func(ctx context.Context, h *sandbox.Handle, p string, data []byte) error {
		return errors.New("sandbox filesystem read-only")
	}

	if _, err := env.restorer.Restore(ctx, h, frag.ID, "p1"); err == nil {
		t.Fatal("Expected error when no file could be restored")
	}
}

func TestRestoreEmptyFragment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h := env.createSandbox(t, "p1")
	frag := env.createFragment(t, "p1", "no commits yet", map[string]string{})

	count, err := env.restorer.Restore(ctx, h, frag.ID, "p1")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected 0 files for an empty fragment, got %d", count)
	}
}
