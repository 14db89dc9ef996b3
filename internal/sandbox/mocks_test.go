package sandbox

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/m-wirth/kabine/internal/docker"
	"github.com/m-wirth/kabine/internal/store"
)

// MockRuntime mocks the Runtime interface.
type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) EnsureImage(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockRuntime) CreateContainer(ctx context.Context, opts docker.CreateOpts) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockRuntime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	args := m.Called(ctx, containerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockRuntime) RemoveWorkspace(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockRuntime) CreateExec(ctx context.Context, containerID string, cmd []string) (string, error) {
	args := m.Called(ctx, containerID, cmd)
	return args.String(0), args.Error(1)
}

func (m *MockRuntime) AttachExec(ctx context.Context, execID string) (io.ReadCloser, error) {
	args := m.Called(ctx, execID)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuntime) InspectExec(ctx context.Context, execID string) (docker.ExecStatus, error) {
	args := m.Called(ctx, execID)
	return args.Get(0).(docker.ExecStatus), args.Error(1)
}

// MockStore mocks the ContainerStore interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetByUser(userID string) (*store.Container, error) {
	args := m.Called(userID)
	if rec := args.Get(0); rec != nil {
		return rec.(*store.Container), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) Upsert(c *store.Container) error {
	args := m.Called(c)
	return args.Error(0)
}

func (m *MockStore) Touch(userID string, at time.Time) error {
	args := m.Called(userID, at)
	return args.Error(0)
}

func (m *MockStore) MarkRemoved(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStore) Delete(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}
