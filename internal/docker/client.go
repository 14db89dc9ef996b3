package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"

	"github.com/m-wirth/kabine/internal/config"
)

const labelPrefix = "kabine."

// WorkspaceVolumePrefix names the per-user workspace volume.
const WorkspaceVolumePrefix = "kabine-ws-"

type Client struct {
	docker *client.Client
}

func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// EnsureImage makes sure the sandbox image is available locally, pulling
// it when missing.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	_, err := c.docker.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("image inspect: %w", err)
	}

	reader, err := c.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer reader.Close()

	// Drain the progress stream; the pull completes when it ends.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("image pull read: %w", err)
	}
	return nil
}

type CreateOpts struct {
	UserID   string
	Image    string
	Defaults config.Defaults
	Labels   map[string]string // additional labels
}

// workspaceMounts builds the mount set for one user's container: the
// per-user workspace volume plus a scratch tmpfs. Mounts are fixed at
// create time, so the volume has to be bound here and nowhere else.
func workspaceMounts(userID string) []mount.Mount {
	return []mount.Mount{
		{
			Type:   mount.TypeVolume,
			Source: WorkspaceVolumePrefix + userID,
			Target: "/workspace",
		},
		{
			Type:   mount.TypeTmpfs,
			Target: "/tmp",
			TmpfsOptions: &mount.TmpfsOptions{
				SizeBytes: 512 * units.MiB,
			},
		},
	}
}

// CreateContainer creates and starts a sandbox container for one user.
// The user's workspace volume is mounted at /workspace and survives
// container replacement.
func (c *Client) CreateContainer(ctx context.Context, opts CreateOpts) (string, error) {
	labels := map[string]string{
		labelPrefix + "user_id": opts.UserID,
		labelPrefix + "managed": "true",
	}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	resources := container.Resources{
		NanoCPUs:  int64(opts.Defaults.CPULimit * 1e9),
		Memory:    int64(opts.Defaults.MemLimitMB) * units.MiB,
		PidsLimit: int64Ptr(int64(opts.Defaults.PidsLimit)),
	}

	hostCfg := &container.HostConfig{
		Resources:      resources,
		AutoRemove:     false,
		ReadonlyRootfs: opts.Defaults.ReadonlyRootfs,
		SecurityOpt:    []string{"no-new-privileges"},
		Mounts:         workspaceMounts(opts.UserID),
	}

	if opts.Defaults.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(opts.Defaults.NetworkMode)
	}

	containerCfg := &container.Config{
		Image:      opts.Image,
		Labels:     labels,
		Tty:        false,
		WorkingDir: "/workspace",
		// Keep PID 1 alive; all work happens through execs.
		Cmd: []string{"sleep", "infinity"},
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "kabine-"+opts.UserID)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up on start failure.
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

// IsContainerRunning checks if a container is currently running.
func (c *Client) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.State.Running, nil
}

// ExecStatus is the outcome of an exec as reported by the runtime.
type ExecStatus struct {
	Running  bool
	ExitCode int
}

// CreateExec prepares a command execution inside the container and
// returns its exec id.
func (c *Client) CreateExec(ctx context.Context, containerID string, cmd []string) (string, error) {
	resp, err := c.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/workspace",
	})
	if err != nil {
		return "", fmt.Errorf("exec create: %w", err)
	}
	return resp.ID, nil
}

// AttachExec starts the exec and returns its combined multiplexed output
// stream. The caller owns the stream and must close it.
func (c *Client) AttachExec(ctx context.Context, execID string) (io.ReadCloser, error) {
	resp, err := c.docker.ContainerExecAttach(ctx, execID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	return &execStream{hr: resp}, nil
}

// InspectExec reports whether the exec is still running and its exit code.
func (c *Client) InspectExec(ctx context.Context, execID string) (ExecStatus, error) {
	resp, err := c.docker.ContainerExecInspect(ctx, execID)
	if err != nil {
		return ExecStatus{}, fmt.Errorf("exec inspect: %w", err)
	}
	return ExecStatus{Running: resp.Running, ExitCode: resp.ExitCode}, nil
}

// RemoveContainer force-removes a container. The user's workspace volume
// is left in place so a re-provisioned sandbox picks it back up.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// RemoveWorkspace deletes the user's workspace volume. Removing an
// absent volume is a no-op.
func (c *Client) RemoveWorkspace(ctx context.Context, userID string) error {
	err := c.docker.VolumeRemove(ctx, WorkspaceVolumePrefix+userID, true)
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("volume remove: %w", err)
	}
	return nil
}

// ContainerInfo holds basic info about a managed sandbox container.
type ContainerInfo struct {
	ContainerID string
	UserID      string
}

// ListSandboxContainers returns all containers with kabine labels.
func (c *Client) ListSandboxContainers(ctx context.Context) ([]ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	var result []ContainerInfo
	for _, ctr := range containers {
		userID := ctr.Labels[labelPrefix+"user_id"]
		if userID == "" {
			continue
		}
		result = append(result, ContainerInfo{
			ContainerID: ctr.ID,
			UserID:      userID,
		})
	}
	return result, nil
}

type execStream struct {
	hr types.HijackedResponse
}

func (s *execStream) Read(p []byte) (int, error) {
	return s.hr.Reader.Read(p)
}

func (s *execStream) Close() error {
	s.hr.Close()
	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
