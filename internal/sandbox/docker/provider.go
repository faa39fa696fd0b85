// Package docker implements sandbox.Provider on top of a local Docker
// daemon. It exists for development and CI, where the hosted platform is
// unavailable; each sandbox is one container kept alive with a sleep
// command, and the dev server port is published to an ephemeral host port.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/sandbox"
)

const (
	// containerPrefix names every container this provider manages.
	containerPrefix = "drydock-sb-"

	// managedLabel marks containers owned by drydock.
	managedLabel = "drydock.managed"
)

// Provider is a Docker-backed sandbox provider.
type Provider struct {
	client *client.Client
	image  string
	logger *zap.Logger
}

// New creates a provider for the local Docker daemon. image is the sandbox
// image used for every container.
func New(image string, logger *zap.Logger) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Provider{client: cli, image: image, logger: logger}, nil
}

func containerName(id string) string {
	return containerPrefix + id
}

// Create provisions and starts a sandbox container. templateRef overrides
// the configured image when non-empty.
func (p *Provider) Create(ctx context.Context, templateRef string) (*sandbox.Handle, error) {
	image := p.image
	if templateRef != "" {
		image = templateRef
	}

	devPort := nat.Port(fmt.Sprintf("%d/tcp", sandbox.DefaultDevPort))
	cfg := &containerTypes.Config{
		Image:      image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: sandbox.DefaultWorkdir,
		Labels: map[string]string{
			managedLabel: "true",
		},
		ExposedPorts: nat.PortSet{devPort: struct{}{}},
	}
	hostCfg := &containerTypes.HostConfig{
		PortBindings: nat.PortMap{
			devPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		},
	}

	id := fmt.Sprintf("%d", time.Now().UnixNano())
	resp, err := p.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(id))
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, containerTypes.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	if _, err := p.exec(ctx, resp.ID, "mkdir -p "+sandbox.DefaultWorkdir, sandbox.ExecOptions{Workdir: "/"}); err != nil {
		p.logger.Warn("workdir setup failed", zap.String("container", resp.ID), zap.Error(err))
	}

	p.logger.Info("docker sandbox created",
		zap.String("sandbox_id", id),
		zap.String("container", resp.ID[:12]),
		zap.String("image", image))

	return &sandbox.Handle{
		ID:         id,
		TemplateID: image,
		Status:     sandbox.StatusRunning,
		Workdir:    sandbox.DefaultWorkdir,
		CreatedAt:  time.Now(),
	}, nil
}

// FindByID inspects the sandbox container. A missing container maps to
// sandbox.ErrNotFound.
func (p *Provider) FindByID(ctx context.Context, id string) (*sandbox.Handle, error) {
	info, err := p.client.ContainerInspect(ctx, containerName(id))
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, sandbox.ErrNotFound
		}
		return nil, fmt.Errorf("inspect container: %w", err)
	}

	status := sandbox.StatusStopped
	if info.State != nil && info.State.Running {
		status = sandbox.StatusRunning
	}
	created, _ := time.Parse(time.RFC3339Nano, info.Created)
	return &sandbox.Handle{
		ID:         id,
		TemplateID: info.Config.Image,
		Status:     status,
		Workdir:    sandbox.DefaultWorkdir,
		CreatedAt:  created,
	}, nil
}

// Start starts a stopped sandbox container.
func (p *Provider) Start(ctx context.Context, id string) error {
	err := p.client.ContainerStart(ctx, containerName(id), containerTypes.StartOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return sandbox.ErrNotFound
		}
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

// Stop stops the sandbox container gracefully.
func (p *Provider) Stop(ctx context.Context, id string) error {
	timeout := 10
	err := p.client.ContainerStop(ctx, containerName(id), containerTypes.StopOptions{Timeout: &timeout})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return sandbox.ErrNotFound
		}
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// Delete force-removes the sandbox container. Removing an already-gone
// container succeeds.
func (p *Provider) Delete(ctx context.Context, id string) error {
	err := p.client.ContainerRemove(ctx, containerName(id), containerTypes.RemoveOptions{Force: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Exec runs a command inside the sandbox container.
func (p *Provider) Exec(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	if opts.Background {
		logFile := opts.LogFile
		if logFile == "" {
			logFile = "/tmp/drydock-bg.log"
		}
		cmd = fmt.Sprintf("nohup bash -lc %s > %s 2>&1 & disown", shellQuote(cmd), logFile)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return p.exec(ctx, containerName(h.ID), cmd, opts)
}

func (p *Provider) exec(ctx context.Context, container, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	workdir := opts.Workdir
	if workdir == "" {
		workdir = sandbox.DefaultWorkdir
	}
	var env []string
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	execCfg := containerTypes.ExecOptions{
		Cmd:          []string{"bash", "-lc", cmd},
		WorkingDir:   workdir,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := p.client.ContainerExecCreate(ctx, container, execCfg)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, sandbox.ErrNotFound
		}
		if cerrdefs.IsConflict(err) {
			return nil, sandbox.ErrNotRunning
		}
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := p.client.ContainerExecAttach(ctx, created.ID, containerTypes.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	// Docker multiplexes stdout/stderr over one stream with 8-byte frame
	// headers; demux without pulling in the stdcopy helper's log noise.
	stdout, stderr, err := demuxStream(attach.Reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("exec read: %w", err)
	}

	inspect, err := p.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}

	return &sandbox.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

// demuxStream splits Docker's multiplexed attach stream into stdout and
// stderr.
func demuxStream(r io.Reader) (string, string, error) {
	var stdout, stderr bytes.Buffer
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return stdout.String(), stderr.String(), nil
			}
			return stdout.String(), stderr.String(), err
		}
		size := int64(header[4])<<24 | int64(header[5])<<16 | int64(header[6])<<8 | int64(header[7])
		dst := &stdout
		if header[0] == 2 {
			dst = &stderr
		}
		if _, err := io.CopyN(dst, r, size); err != nil {
			return stdout.String(), stderr.String(), err
		}
	}
}

// ReadFile reads a file from the container.
func (p *Provider) ReadFile(ctx context.Context, h *sandbox.Handle, filePath string) ([]byte, error) {
	reader, _, err := p.client.CopyFromContainer(ctx, containerName(h.ID), filePath)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("no such file: %s", filePath)
		}
		return nil, fmt.Errorf("copy from container: %w", err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	if _, err := tr.Next(); err != nil {
		return nil, fmt.Errorf("read tar stream: %w", err)
	}
	return io.ReadAll(tr)
}

// WriteFile writes one file into the container.
func (p *Provider) WriteFile(ctx context.Context, h *sandbox.Handle, filePath string, data []byte) error {
	return p.WriteFiles(ctx, h, []sandbox.FileWrite{{Path: filePath, Data: data}})
}

// WriteFiles streams a tar archive of all entries into the container root.
func (p *Provider) WriteFiles(ctx context.Context, h *sandbox.Handle, entries []sandbox.FileWrite) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		name := strings.TrimPrefix(e.Path, "/")
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(e.Data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return fmt.Errorf("write tar entry: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}

	err := p.client.CopyToContainer(ctx, containerName(h.ID), "/", &buf, containerTypes.CopyToContainerOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return sandbox.ErrNotFound
		}
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

// ListFiles lists files recursively under dir via find.
func (p *Provider) ListFiles(ctx context.Context, h *sandbox.Handle, dir string) ([]sandbox.FileEntry, error) {
	cmd := fmt.Sprintf(`find %s -not -path '*/node_modules/*' -not -path '*/.git/*' -printf '%%y %%s %%P\n' 2>/dev/null`, shellQuote(dir))
	result, err := p.exec(ctx, containerName(h.ID), cmd, sandbox.ExecOptions{Workdir: "/"})
	if err != nil {
		return nil, err
	}

	var entries []sandbox.FileEntry
	for _, line := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 || parts[2] == "" {
			continue
		}
		size, _ := strconv.ParseInt(parts[1], 10, 64)
		entries = append(entries, sandbox.FileEntry{
			Path:  path.Clean(parts[2]),
			Size:  size,
			IsDir: parts[0] == "d",
		})
	}
	return entries, nil
}

// PreviewURL resolves the published host port for the dev server.
func (p *Provider) PreviewURL(ctx context.Context, h *sandbox.Handle, port int) (string, error) {
	info, err := p.client.ContainerInspect(ctx, containerName(h.ID))
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", sandbox.ErrNotFound
		}
		return "", fmt.Errorf("inspect container: %w", err)
	}

	wanted := nat.Port(fmt.Sprintf("%d/tcp", port))
	if info.NetworkSettings != nil {
		if bindings, ok := info.NetworkSettings.Ports[wanted]; ok && len(bindings) > 0 {
			return fmt.Sprintf("http://127.0.0.1:%s", bindings[0].HostPort), nil
		}
	}
	return "", fmt.Errorf("port %d not published for sandbox %s", port, h.ID)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
