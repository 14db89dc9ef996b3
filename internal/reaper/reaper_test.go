package reaper

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/m-wirth/kabine/internal/docker"
	"github.com/m-wirth/kabine/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestReaper() (*Reaper, *MockReaperStore, *MockManager, *MockRegistry, *MockRuntime) {
	st := &MockReaperStore{}
	mgr := &MockManager{}
	reg := &MockRegistry{}
	rt := &MockRuntime{}
	r := New(st, mgr, reg, rt, time.Minute, 30*time.Minute, testLogger())
	return r, st, mgr, reg, rt
}

func record(userID string, idleFor time.Duration) *store.Container {
	now := time.Now().UTC()
	return &store.Container{
		UserID:      userID,
		ContainerID: "ctr-" + userID,
		Image:       "kabine-runtime:base",
		State:       store.StateRunning,
		CreatedAt:   now.Add(-24 * time.Hour),
		LastActive:  now.Add(-idleFor),
	}
}

func TestSweepNothingRunning(t *testing.T) {
	r, st, mgr, _, _ := newTestReaper()

	st.On("ListRunning").Return([]*store.Container{}, nil)

	r.sweep(context.Background())

	st.AssertExpectations(t)
	mgr.AssertNotCalled(t, "Remove")
}

func TestSweepEvictsIdle(t *testing.T) {
	r, st, mgr, reg, _ := newTestReaper()

	st.On("ListRunning").Return([]*store.Container{
		record("idle-user", time.Hour),
		record("busy-user", time.Minute),
	}, nil)
	reg.On("HasActive", "idle-user").Return(false)
	reg.On("HasActive", "busy-user").Return(false)
	mgr.On("Remove", mock.Anything, "idle-user").Return(nil)

	r.sweep(context.Background())

	mgr.AssertCalled(t, "Remove", mock.Anything, "idle-user")
	mgr.AssertNotCalled(t, "Remove", mock.Anything, "busy-user")
}

func TestSweepNeverEvictsActiveSession(t *testing.T) {
	r, st, mgr, reg, _ := newTestReaper()

	// Arbitrarily stale timestamp; the active session still wins.
	st.On("ListRunning").Return([]*store.Container{
		record("alice", 365*24*time.Hour),
	}, nil)
	reg.On("HasActive", "alice").Return(true)

	r.sweep(context.Background())

	mgr.AssertNotCalled(t, "Remove")
}

func TestSweepContinuesPastFailure(t *testing.T) {
	r, st, mgr, reg, _ := newTestReaper()

	st.On("ListRunning").Return([]*store.Container{
		record("u1", time.Hour),
		record("u2", time.Hour),
	}, nil)
	reg.On("HasActive", mock.Anything).Return(false)
	mgr.On("Remove", mock.Anything, "u1").Return(assert.AnError)
	mgr.On("Remove", mock.Anything, "u2").Return(nil)

	require.NotPanics(t, func() {
		r.sweep(context.Background())
	})

	// The failure on u1 did not stop u2 from being evicted.
	mgr.AssertCalled(t, "Remove", mock.Anything, "u2")
}

func TestSweepListFailure(t *testing.T) {
	r, st, mgr, _, _ := newTestReaper()

	st.On("ListRunning").Return(nil, assert.AnError)

	require.NotPanics(t, func() {
		r.sweep(context.Background())
	})
	mgr.AssertNotCalled(t, "Remove")
}

func TestReconcileRetiresDeadContainers(t *testing.T) {
	r, st, _, _, rt := newTestReaper()

	st.On("ListRunning").Return([]*store.Container{
		record("dead", time.Minute),
		record("alive", time.Minute),
	}, nil)
	rt.On("IsContainerRunning", mock.Anything, "ctr-dead").Return(false, nil)
	rt.On("IsContainerRunning", mock.Anything, "ctr-alive").Return(true, nil)
	rt.On("ListSandboxContainers", mock.Anything).Return(nil, nil)
	st.On("MarkRemoved", "dead").Return(nil)

	r.reconcile(context.Background())

	st.AssertCalled(t, "MarkRemoved", "dead")
	st.AssertNotCalled(t, "MarkRemoved", "alive")
}

func TestReconcileInspectErrorSkips(t *testing.T) {
	r, st, _, _, rt := newTestReaper()

	st.On("ListRunning").Return([]*store.Container{
		record("flaky", time.Minute),
	}, nil)
	rt.On("IsContainerRunning", mock.Anything, "ctr-flaky").Return(false, assert.AnError)
	rt.On("ListSandboxContainers", mock.Anything).Return(nil, nil)

	r.reconcile(context.Background())

	st.AssertNotCalled(t, "MarkRemoved", "flaky")
}

func TestReconcileRemovesOrphanedContainers(t *testing.T) {
	r, st, _, _, rt := newTestReaper()

	st.On("ListRunning").Return([]*store.Container{
		record("alice", time.Minute),
	}, nil)
	rt.On("IsContainerRunning", mock.Anything, "ctr-alice").Return(true, nil)
	rt.On("ListSandboxContainers", mock.Anything).Return([]docker.ContainerInfo{
		{ContainerID: "ctr-alice", UserID: "alice"},
		{ContainerID: "ctr-ghost", UserID: "ghost"},
	}, nil)
	st.On("List").Return([]*store.Container{
		record("alice", time.Minute),
	}, nil)
	rt.On("RemoveContainer", mock.Anything, "ctr-ghost").Return(nil)

	r.reconcile(context.Background())

	// Only the container with no store row is removed.
	rt.AssertCalled(t, "RemoveContainer", mock.Anything, "ctr-ghost")
	rt.AssertNotCalled(t, "RemoveContainer", mock.Anything, "ctr-alice")
}

func TestReconcileKeepsContainersOfRetiredRecords(t *testing.T) {
	r, st, _, _, rt := newTestReaper()

	retired := record("bob", time.Minute)
	retired.State = store.StateRemoved

	st.On("ListRunning").Return([]*store.Container{}, nil)
	rt.On("ListSandboxContainers", mock.Anything).Return([]docker.ContainerInfo{
		{ContainerID: "ctr-bob", UserID: "bob"},
	}, nil)
	st.On("List").Return([]*store.Container{retired}, nil)

	r.reconcile(context.Background())

	// A row in any state keeps its container off the kill list.
	rt.AssertNotCalled(t, "RemoveContainer", mock.Anything, "ctr-bob")
}

func TestReconcileOrphanListFailure(t *testing.T) {
	r, st, _, _, rt := newTestReaper()

	st.On("ListRunning").Return([]*store.Container{}, nil)
	rt.On("ListSandboxContainers", mock.Anything).Return(nil, assert.AnError)

	require.NotPanics(t, func() {
		r.reconcile(context.Background())
	})
	rt.AssertNotCalled(t, "RemoveContainer")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r, st, _, _, rt := newTestReaper()
	r.interval = 10 * time.Millisecond

	st.On("ListRunning").Return([]*store.Container{}, nil)
	rt.On("ListSandboxContainers", mock.Anything).Return(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop on context cancel")
	}
}
