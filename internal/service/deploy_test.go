package service

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/sandbox"
)

func newDeployService(env *testEnv) *DeployService {
	return NewDeployService(env.provider, env.clock, EndpointConfig{
		URL:    "https://uploads.deploy.example.com/v1/apps",
		APIKey: "sk-test-0123456789abcdef",
	}, zap.NewNop())
}

// deployExec scripts the in-sandbox commands the pipeline shells out to.
func deployExec(t *testing.T, responses map[string]*sandbox.ExecResult, trace *[]string) func(context.Context, *sandbox.Handle, string, sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	t.Helper()
	return func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		if trace != nil {
			*trace = append(*trace, cmd)
		}
		for prefix, result := range responses {
			if strings.HasPrefix(cmd, prefix) {
				return result, nil
			}
		}
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}
}

func TestDeployArchivePath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	h := env.createSandbox(t, "p1")

	var trace []string
	env.provider.ExecFunc = deployExec(t, map[string]*sandbox.ExecResult{
		"command -v tar": {ExitCode: 0},
		"npm run build":  {ExitCode: 0, Stdout: "vite build finished\n"},
		"test -d dist":   {ExitCode: 0},
		"curl":           {ExitCode: 0, Stdout: `{"success":true,"url":"https://myapp.apps.example.com"}`},
	}, &trace)

	result, err := newDeployService(env).Deploy(ctx, h, "p1", "myapp")
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	if result.Strategy != "archive" {
		t.Fatalf("Expected the archive strategy, got %q", result.Strategy)
	}
	if result.URL != "https://myapp.apps.example.com" {
		t.Fatalf("Unexpected URL: %q", result.URL)
	}
	if !strings.Contains(result.Logs, "vite build finished") {
		t.Fatalf("Build log missing from result: %q", result.Logs)
	}

	for _, cmd := range trace {
		if strings.Contains(cmd, "node /tmp") {
			t.Fatalf("Fallback script ran despite archive success: %q", cmd)
		}
	}
}

func TestDeployEndpointRejectionIsFinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	h := env.createSandbox(t, "p1")

	var trace []string
	env.provider.ExecFunc = deployExec(t, map[string]*sandbox.ExecResult{
		"command -v tar": {ExitCode: 0},
		"npm run build":  {ExitCode: 0},
		"test -d dist":   {ExitCode: 0},
		"curl":           {ExitCode: 0, Stdout: `{"success":false,"error":"quota exceeded"}`},
	}, &trace)

	result, err := newDeployService(env).Deploy(ctx, h, "p1", "myapp")
	if err != nil {
		t.Fatalf("A rejected deployment is a result, not an error: %v", err)
	}
	if result.Success {
		t.Fatal("Expected a failed result")
	}
	if result.Error != "quota exceeded" {
		t.Fatalf("Expected the endpoint's reason, got %q", result.Error)
	}

	// The endpoint spoke; the fallback must not get a second opinion.
	for _, cmd := range trace {
		if strings.HasPrefix(cmd, "command -v node") || strings.Contains(cmd, "node /tmp") {
			t.Fatalf("Fallback attempted after endpoint rejection: %q", cmd)
		}
	}
}

func TestDeployBuildFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	h := env.createSandbox(t, "p1")

	env.provider.ExecFunc = deployExec(t, map[string]*sandbox.ExecResult{
		"command -v tar": {ExitCode: 0},
		"npm run build":  {ExitCode: 1, Stderr: "Module not found: ./missing"},
	}, nil)

	result, err := newDeployService(env).Deploy(ctx, h, "p1", "myapp")
	if err != nil {
		t.Fatalf("A failed build is a result, not an error: %v", err)
	}
	if result.Success {
		t.Fatal("Expected a failed result")
	}
	if !strings.Contains(result.Logs, "Module not found") {
		t.Fatalf("Build error missing from logs: %q", result.Logs)
	}
}

func TestDeployUploadRetriesOnConnectionClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	h := env.createSandbox(t, "p1")

	curlCalls := 0
	env.provider.ExecFunc = func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		if strings.HasPrefix(cmd, "curl") {
			curlCalls++
			if curlCalls == 1 {
				return &sandbox.ExecResult{ExitCode: 56, Stderr: "curl: (56) connection closed by peer"}, nil
			}
			return &sandbox.ExecResult{ExitCode: 0, Stdout: `{"success":true,"url":"https://myapp.apps.example.com"}`}, nil
		}
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}

	start := env.clock.Now()
	result, err := newDeployService(env).Deploy(ctx, h, "p1", "myapp")
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected success after retry, got %+v", result)
	}
	if curlCalls != 2 {
		t.Fatalf("Expected 1 retry, got %d upload attempts", curlCalls)
	}
	// The backoff runs on the injected clock, never a real sleep.
	if got := env.clock.Now().Sub(start); got != uploadRetryBackoff {
		t.Fatalf("Expected one backoff of %v on the clock, got %v", uploadRetryBackoff, got)
	}
}

func TestDeployUploadNoRetryOnOtherFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	h := env.createSandbox(t, "p1")

	curlCalls := 0
	env.provider.ExecFunc = func(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
		if strings.HasPrefix(cmd, "curl") {
			curlCalls++
			return &sandbox.ExecResult{ExitCode: 22, Stderr: "curl: (22) The requested URL returned error: 500"}, nil
		}
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}

	if _, err := newDeployService(env).Deploy(ctx, h, "p1", "myapp"); err == nil {
		t.Fatal("Expected a transport error to propagate")
	}
	if curlCalls != 1 {
		t.Fatalf("Only the connection-closed signature retries, got %d attempts", curlCalls)
	}
}

func TestDeployScriptFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	h := env.createSandbox(t, "p1")

	env.provider.ExecFunc = deployExec(t, map[string]*sandbox.ExecResult{
		"command -v tar":  {ExitCode: 1},
		"command -v node": {ExitCode: 0},
		"node /tmp":       {ExitCode: 0, Stdout: "building...\n{\"success\":true,\"url\":\"https://myapp.apps.example.com\"}"},
	}, nil)

	result, err := newDeployService(env).Deploy(ctx, h, "p1", "myapp")
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	if result.Strategy != "script" {
		t.Fatalf("Expected the script fallback, got %q", result.Strategy)
	}

	// The script itself was uploaded into the sandbox.
	data, err := env.provider.ReadFile(ctx, h, "/tmp/drydock-deploy.mjs")
	if err != nil {
		t.Fatalf("Deploy script missing: %v", err)
	}
	if !strings.Contains(string(data), "npm run build") {
		t.Fatal("Deploy script does not run the build")
	}
}

func TestDeployNoStrategyAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	h := env.createSandbox(t, "p1")

	env.provider.ExecFunc = deployExec(t, map[string]*sandbox.ExecResult{
		"command -v": {ExitCode: 1},
	}, nil)

	if _, err := newDeployService(env).Deploy(ctx, h, "p1", "myapp"); err == nil {
		t.Fatal("Expected an error when no tooling is available")
	}
}
