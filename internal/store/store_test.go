package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testContainer(userID string) *Container {
	now := time.Now().UTC()
	return &Container{
		UserID:      userID,
		ContainerID: "ctr-" + userID,
		Image:       "kabine-runtime:base",
		State:       StateRunning,
		CreatedAt:   now,
		LastActive:  now,
	}
}

func TestUpsertAndGetByUser(t *testing.T) {
	st := newTestStore(t)
	c := testContainer("alice")

	require.NoError(t, st.Upsert(c))

	got, err := st.GetByUser("alice")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, c.UserID, got.UserID)
	assert.Equal(t, c.ContainerID, got.ContainerID)
	assert.Equal(t, c.Image, got.Image)
	assert.Equal(t, StateRunning, got.State)
}

func TestGetByUserNotFound(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetByUser("nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertReplacesRow(t *testing.T) {
	st := newTestStore(t)

	old := testContainer("alice")
	require.NoError(t, st.Upsert(old))
	require.NoError(t, st.MarkRemoved("alice"))

	// Re-provisioning writes a brand-new record over the removed one.
	fresh := testContainer("alice")
	fresh.ContainerID = "ctr-alice-2"
	require.NoError(t, st.Upsert(fresh))

	got, err := st.GetByUser("alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ctr-alice-2", got.ContainerID)
	assert.Equal(t, StateRunning, got.State)

	// Still exactly one row for the user.
	all, err := st.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTouch(t *testing.T) {
	st := newTestStore(t)
	c := testContainer("alice")
	c.LastActive = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.Upsert(c))

	now := time.Now().UTC()
	require.NoError(t, st.Touch("alice", now))

	got, err := st.GetByUser("alice")
	require.NoError(t, err)
	assert.WithinDuration(t, now, got.LastActive, time.Second)
}

func TestTouchNotFound(t *testing.T) {
	st := newTestStore(t)
	err := st.Touch("ghost", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkRemoved(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Upsert(testContainer("alice")))

	require.NoError(t, st.MarkRemoved("alice"))

	got, err := st.GetByUser("alice")
	require.NoError(t, err)
	assert.Equal(t, StateRemoved, got.State)

	// Removing again (or a user that never existed) is a no-op.
	require.NoError(t, st.MarkRemoved("alice"))
	require.NoError(t, st.MarkRemoved("ghost"))
}

func TestListRunning(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Upsert(testContainer("a")))
	require.NoError(t, st.Upsert(testContainer("b")))
	require.NoError(t, st.Upsert(testContainer("c")))
	require.NoError(t, st.MarkRemoved("b"))

	running, err := st.ListRunning()
	require.NoError(t, err)
	assert.Len(t, running, 2)
	for _, c := range running {
		assert.Equal(t, StateRunning, c.State)
	}
}

func TestDelete(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Upsert(testContainer("alice")))
	require.NoError(t, st.Delete("alice"))

	got, err := st.GetByUser("alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting a missing row is fine.
	require.NoError(t, st.Delete("alice"))
}
