package sandbox

import (
	"context"
	"io"
	"time"

	"github.com/m-wirth/kabine/internal/docker"
	"github.com/m-wirth/kabine/internal/store"
)

// Runtime abstracts the container-runtime operations the manager needs.
type Runtime interface {
	EnsureImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, opts docker.CreateOpts) (string, error)
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	RemoveContainer(ctx context.Context, containerID string) error
	RemoveWorkspace(ctx context.Context, userID string) error
	CreateExec(ctx context.Context, containerID string, cmd []string) (string, error)
	AttachExec(ctx context.Context, execID string) (io.ReadCloser, error)
	InspectExec(ctx context.Context, execID string) (docker.ExecStatus, error)
}

// ContainerStore abstracts the persistence operations for container
// records.
type ContainerStore interface {
	GetByUser(userID string) (*store.Container, error)
	Upsert(c *store.Container) error
	Touch(userID string, at time.Time) error
	MarkRemoved(userID string) error
	Delete(userID string) error
}
