package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/sandbox"
)

const (
	// buildTimeout bounds the in-sandbox production build.
	buildTimeout = 5 * time.Minute

	// uploadMaxAttempts bounds retries of the archive upload for the
	// transient connection-closed signature.
	uploadMaxAttempts = 3

	// uploadRetryBackoff is the wait between upload attempts.
	uploadRetryBackoff = 2 * time.Second

	// scriptMaxFiles bounds how many built files the fallback script will
	// enumerate and upload.
	scriptMaxFiles = 500
)

// buildOutputDirs are probed in order for the production build output.
var buildOutputDirs = []string{"dist", "build", "out", ".output/public", "public"}

// DeployResult is returned to the caller; Logs are already sanitized.
type DeployResult struct {
	Success  bool   `json:"success"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Logs     string `json:"logs"`
}

// EndpointConfig describes the deployment endpoint.
type EndpointConfig struct {
	// URL accepts an authenticated multipart/archive upload of
	// {projectId, appName, archive} and returns {success, url|error}.
	URL string
	// APIKey authenticates the upload.
	APIKey string
}

// deployStrategy is one way of publishing a built project. Available
// probes whether the strategy's tooling exists in the sandbox; Deploy runs
// the full build-and-publish flow.
type deployStrategy interface {
	Name() string
	Available(ctx context.Context, h *sandbox.Handle) bool
	Deploy(ctx context.Context, h *sandbox.Handle, projectID, appName string) (*DeployResult, error)
}

// DeployService publishes the built project via the fast archive path with
// a scripted in-sandbox fallback.
type DeployService struct {
	strategies []deployStrategy
	logger     *zap.Logger
}

// NewDeployService creates the pipeline with both strategies wired.
func NewDeployService(p sandbox.Provider, clock Clock, endpoint EndpointConfig, logger *zap.Logger) *DeployService {
	return &DeployService{
		strategies: []deployStrategy{
			&archiveStrategy{provider: p, clock: clock, endpoint: endpoint, logger: logger},
			&scriptStrategy{provider: p, endpoint: endpoint, logger: logger},
		},
		logger: logger,
	}
}

// Deploy selects the first available strategy and runs it. A strategy that
// runs but reports a deployment-logic failure (success:false from the
// endpoint) is final: the result propagates and no fallback is attempted.
func (s *DeployService) Deploy(ctx context.Context, h *sandbox.Handle, projectID, appName string) (*DeployResult, error) {
	if appName == "" {
		appName = projectID
	}

	for _, strat := range s.strategies {
		if !strat.Available(ctx, h) {
			s.logger.Info("deploy strategy unavailable",
				zap.String("strategy", strat.Name()),
				zap.String("sandbox_id", h.ID))
			continue
		}
		s.logger.Info("deploying",
			zap.String("strategy", strat.Name()),
			zap.String("project_id", projectID),
			zap.String("app", appName))
		result, err := strat.Deploy(ctx, h, projectID, appName)
		if err != nil {
			return nil, fmt.Errorf("deploy %s via %s: %w", projectID, strat.Name(), err)
		}
		result.Strategy = strat.Name()
		result.Logs = sanitizeLogs(result.Logs)
		return result, nil
	}
	return nil, fmt.Errorf("no deploy strategy available in sandbox %s", h.ID)
}

// --- Fast path: build, archive, upload ---

type archiveStrategy struct {
	provider sandbox.Provider
	clock    Clock
	endpoint EndpointConfig
	logger   *zap.Logger
}

func (a *archiveStrategy) Name() string { return "archive" }

// Available probes for the external tools the fast path shells out to.
func (a *archiveStrategy) Available(ctx context.Context, h *sandbox.Handle) bool {
	result, err := a.provider.Exec(ctx, h, "command -v tar && command -v curl", sandbox.ExecOptions{})
	return err == nil && result.ExitCode == 0
}

func (a *archiveStrategy) Deploy(ctx context.Context, h *sandbox.Handle, projectID, appName string) (*DeployResult, error) {
	var logs strings.Builder

	build, err := a.provider.Exec(ctx, h, "npm run build", sandbox.ExecOptions{Timeout: buildTimeout})
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	logs.WriteString(build.Stdout)
	logs.WriteString(build.Stderr)
	if build.ExitCode != 0 {
		return &DeployResult{Success: false, Error: "build failed", Logs: logs.String()}, nil
	}

	outDir, err := a.findOutputDir(ctx, h)
	if err != nil {
		return nil, err
	}

	archivePath := "/tmp/drydock-deploy.tar.gz"
	pack := fmt.Sprintf("tar -czf %s -C %s .", archivePath, outDir)
	if result, err := a.provider.Exec(ctx, h, pack, sandbox.ExecOptions{}); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	} else if result.ExitCode != 0 {
		return nil, fmt.Errorf("archive failed: %s", result.Stderr)
	}

	respBody, err := a.upload(ctx, h, archivePath, projectID, appName)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
		return nil, fmt.Errorf("parse deploy response: %w", err)
	}
	if !resp.Success {
		// A deployment-logic failure, not a transport failure. Final.
		return &DeployResult{Success: false, Error: resp.Error, Logs: logs.String()}, nil
	}
	return &DeployResult{Success: true, URL: resp.URL, Logs: logs.String()}, nil
}

func (a *archiveStrategy) findOutputDir(ctx context.Context, h *sandbox.Handle) (string, error) {
	for _, dir := range buildOutputDirs {
		result, err := a.provider.Exec(ctx, h, fmt.Sprintf("test -d %s", dir), sandbox.ExecOptions{})
		if err == nil && result.ExitCode == 0 {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no build output directory found (tried %s)", strings.Join(buildOutputDirs, ", "))
}

// upload performs the authenticated archive transfer from inside the
// sandbox, retrying only the transient connection-closed failure signature
// with a short backoff.
func (a *archiveStrategy) upload(ctx context.Context, h *sandbox.Handle, archivePath, projectID, appName string) (string, error) {
	cmd := fmt.Sprintf(
		`curl -sS --fail-with-body -X POST -H "X-API-Key: %s" -F "projectId=%s" -F "appName=%s" -F "archive=@%s" %s`,
		a.endpoint.APIKey, projectID, appName, archivePath, a.endpoint.URL,
	)

	var lastErr error
	for attempt := 1; attempt <= uploadMaxAttempts; attempt++ {
		result, err := a.provider.Exec(ctx, h, cmd, sandbox.ExecOptions{})
		if err != nil {
			return "", fmt.Errorf("upload: %w", err)
		}
		if result.ExitCode == 0 {
			return result.Stdout, nil
		}

		combined := result.Stdout + result.Stderr
		if !strings.Contains(combined, "connection closed") && !strings.Contains(combined, "Connection reset") {
			return "", fmt.Errorf("upload failed: %s", sanitizeLogs(combined))
		}
		lastErr = fmt.Errorf("upload attempt %d: connection closed", attempt)
		a.logger.Warn("transient upload failure, retrying",
			zap.Int("attempt", attempt), zap.String("sandbox_id", h.ID))
		if attempt < uploadMaxAttempts {
			if err := a.clock.Sleep(ctx, uploadRetryBackoff); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("upload failed after %d attempts: %w", uploadMaxAttempts, lastErr)
}

// --- Fallback path: self-contained in-sandbox script ---

type scriptStrategy struct {
	provider sandbox.Provider
	endpoint EndpointConfig
	logger   *zap.Logger
}

func (f *scriptStrategy) Name() string { return "script" }

// Available requires only the node runtime every template ships.
func (f *scriptStrategy) Available(ctx context.Context, h *sandbox.Handle) bool {
	result, err := f.provider.Exec(ctx, h, "command -v node", sandbox.ExecOptions{})
	return err == nil && result.ExitCode == 0
}

func (f *scriptStrategy) Deploy(ctx context.Context, h *sandbox.Handle, projectID, appName string) (*DeployResult, error) {
	scriptPath := "/tmp/drydock-deploy.mjs"
	script := f.renderScript(projectID, appName)
	if err := f.provider.WriteFile(ctx, h, scriptPath, []byte(script)); err != nil {
		return nil, fmt.Errorf("write deploy script: %w", err)
	}

	result, err := f.provider.Exec(ctx, h, "node "+scriptPath, sandbox.ExecOptions{Timeout: buildTimeout})
	if err != nil {
		return nil, fmt.Errorf("run deploy script: %w", err)
	}
	logs := result.Stdout + result.Stderr
	if result.ExitCode != 0 {
		return &DeployResult{Success: false, Error: "deploy script failed", Logs: logs}, nil
	}

	// The script prints the endpoint's JSON response as its last line.
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	var resp struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &resp); err != nil {
		return nil, fmt.Errorf("parse deploy script response: %w", err)
	}
	if !resp.Success {
		return &DeployResult{Success: false, Error: resp.Error, Logs: logs}, nil
	}
	return &DeployResult{Success: true, URL: resp.URL, Logs: logs}, nil
}

// renderScript generates the self-contained fallback: build, enumerate a
// bounded set of built files, base64-encode binary assets, and POST the
// payload using only the node runtime.
func (f *scriptStrategy) renderScript(projectID, appName string) string {
	return fmt.Sprintf(`import { execSync } from "node:child_process";
import { readdirSync, readFileSync, statSync, existsSync } from "node:fs";
import { join } from "node:path";

execSync("npm run build", { stdio: ["ignore", "inherit", "inherit"] });

const candidates = %s;
const outDir = candidates.find((d) => existsSync(d));
if (!outDir) throw new Error("no build output directory found");

const maxFiles = %d;
const files = [];
const walk = (dir) => {
  for (const name of readdirSync(dir)) {
    if (files.length >= maxFiles) return;
    const p = join(dir, name);
    if (statSync(p).isDirectory()) { walk(p); continue; }
    const data = readFileSync(p);
    const binary = data.includes(0);
    files.push({
      path: p.slice(outDir.length + 1),
      encoding: binary ? "base64" : "utf8",
      content: data.toString(binary ? "base64" : "utf8"),
    });
  }
};
walk(outDir);

const res = await fetch(%q, {
  method: "POST",
  headers: { "Content-Type": "application/json", "X-API-Key": %q },
  body: JSON.stringify({ projectId: %q, appName: %q, files }),
});
console.log(await res.text());
`, jsStringArray(buildOutputDirs), scriptMaxFiles, f.endpoint.URL, f.endpoint.APIKey, projectID, appName)
}

func jsStringArray(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
