package reaper

import (
	"context"

	"github.com/m-wirth/kabine/internal/docker"
	"github.com/m-wirth/kabine/internal/store"
)

// ReaperStore abstracts store operations needed by the reaper.
type ReaperStore interface {
	ListRunning() ([]*store.Container, error)
	List() ([]*store.Container, error)
	MarkRemoved(userID string) error
}

// ContainerManager abstracts the lifecycle-manager operations needed by
// the reaper.
type ContainerManager interface {
	Remove(ctx context.Context, userID string) error
}

// SessionRegistry reports session activity per user.
type SessionRegistry interface {
	HasActive(userID string) bool
}

// ReaperRuntime abstracts the runtime operations startup reconciliation
// needs: inspecting recorded containers and finding managed ones the
// store has no row for.
type ReaperRuntime interface {
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	ListSandboxContainers(ctx context.Context) ([]docker.ContainerInfo, error)
	RemoveContainer(ctx context.Context, containerID string) error
}
