package reaper

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/m-wirth/kabine/internal/docker"
	"github.com/m-wirth/kabine/internal/store"
)

// MockReaperStore mocks the ReaperStore interface.
type MockReaperStore struct {
	mock.Mock
}

func (m *MockReaperStore) ListRunning() ([]*store.Container, error) {
	args := m.Called()
	if recs := args.Get(0); recs != nil {
		return recs.([]*store.Container), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperStore) List() ([]*store.Container, error) {
	args := m.Called()
	if recs := args.Get(0); recs != nil {
		return recs.([]*store.Container), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperStore) MarkRemoved(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

// MockManager mocks the ContainerManager interface.
type MockManager struct {
	mock.Mock
}

func (m *MockManager) Remove(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// MockRegistry mocks the SessionRegistry interface.
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) HasActive(userID string) bool {
	args := m.Called(userID)
	return args.Bool(0)
}

// MockRuntime mocks the ReaperRuntime interface.
type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	args := m.Called(ctx, containerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRuntime) ListSandboxContainers(ctx context.Context) ([]docker.ContainerInfo, error) {
	args := m.Called(ctx)
	if infos := args.Get(0); infos != nil {
		return infos.([]docker.ContainerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}
