// Package sandbox owns the one-container-per-user lifecycle and the exec
// channel used to run commands inside a user's sandbox.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/m-wirth/kabine/internal/config"
	"github.com/m-wirth/kabine/internal/docker"
	"github.com/m-wirth/kabine/internal/store"
)

type Manager struct {
	cfg     *config.Config
	store   ContainerStore
	runtime Runtime
	logger  *slog.Logger

	// Coalesces concurrent GetOrCreate calls per user so two requests
	// for a never-provisioned user never race to create two containers.
	flight singleflight.Group
}

func NewManager(cfg *config.Config, st ContainerStore, rt Runtime, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		runtime: rt,
		logger:  logger,
	}
}

// GetOrCreate returns the user's running sandbox, provisioning one when
// none exists or the recorded container is no longer alive. Concurrent
// callers for the same user observe the same result.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (*store.Container, error) {
	v, err, _ := m.flight.Do(userID, func() (any, error) {
		return m.getOrCreate(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Container), nil
}

func (m *Manager) getOrCreate(ctx context.Context, userID string) (*store.Container, error) {
	rec, err := m.store.GetByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load container record: %w", err)
	}

	if rec != nil && rec.State == store.StateRunning {
		alive, err := m.runtime.IsContainerRunning(ctx, rec.ContainerID)
		if err != nil {
			return nil, fmt.Errorf("inspect container: %w", err)
		}
		if alive {
			now := time.Now().UTC()
			if err := m.store.Touch(userID, now); err != nil {
				m.logger.Warn("refresh activity failed", "user_id", userID, "error", err)
			}
			rec.LastActive = now
			return rec, nil
		}

		// The runtime handle died out from under us. Retire the record
		// and provision a fresh sandbox.
		m.logger.Warn("sandbox container gone, re-provisioning",
			"user_id", userID, "container", shortID(rec.ContainerID))
		if err := m.store.MarkRemoved(userID); err != nil {
			return nil, fmt.Errorf("retire stale record: %w", err)
		}
	}

	return m.provision(ctx, userID)
}

// provision always creates the container here, with the user's workspace
// volume bound at create time. Mounts are immutable after ContainerCreate,
// so a container built ahead of demand could never carry the right volume;
// prewarm keeps the image hot instead, which makes this path cheap.
func (m *Manager) provision(ctx context.Context, userID string) (*store.Container, error) {
	if err := m.runtime.EnsureImage(ctx, m.cfg.Image); err != nil {
		return nil, &ProvisionError{UserID: userID, Err: err}
	}
	containerID, err := m.runtime.CreateContainer(ctx, docker.CreateOpts{
		UserID:   userID,
		Image:    m.cfg.Image,
		Defaults: m.cfg.Defaults,
	})
	if err != nil {
		return nil, &ProvisionError{UserID: userID, Err: err}
	}

	now := time.Now().UTC()
	rec := &store.Container{
		UserID:      userID,
		ContainerID: containerID,
		Image:       m.cfg.Image,
		State:       store.StateRunning,
		CreatedAt:   now,
		LastActive:  now,
	}
	if err := m.store.Upsert(rec); err != nil {
		// Roll back so a retry starts clean instead of leaking the
		// container behind a missing record.
		m.runtime.RemoveContainer(ctx, containerID)
		return nil, fmt.Errorf("persist container record: %w", err)
	}

	m.logger.Info("sandbox provisioned",
		"user_id", userID, "container", shortID(containerID))
	return rec, nil
}

// Remove tears down the user's sandbox and marks the record removed.
// Removing an absent or already-removed sandbox is a no-op.
func (m *Manager) Remove(ctx context.Context, userID string) error {
	rec, err := m.store.GetByUser(userID)
	if err != nil {
		return fmt.Errorf("load container record: %w", err)
	}
	if rec == nil || rec.State == store.StateRemoved {
		return nil
	}

	if err := m.runtime.RemoveContainer(ctx, rec.ContainerID); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	if err := m.store.MarkRemoved(userID); err != nil {
		return fmt.Errorf("mark removed: %w", err)
	}

	m.logger.Info("sandbox removed", "user_id", userID, "container", shortID(rec.ContainerID))
	return nil
}

// Purge tears everything about the user down: container, workspace volume,
// and record. Unlike Remove, which keeps the workspace so a returning user
// finds their files, Purge is for users that are gone for good.
func (m *Manager) Purge(ctx context.Context, userID string) error {
	rec, err := m.store.GetByUser(userID)
	if err != nil {
		return fmt.Errorf("load container record: %w", err)
	}
	if rec != nil && rec.State == store.StateRunning {
		if err := m.runtime.RemoveContainer(ctx, rec.ContainerID); err != nil {
			return fmt.Errorf("remove container: %w", err)
		}
	}

	if err := m.runtime.RemoveWorkspace(ctx, userID); err != nil {
		return fmt.Errorf("remove workspace volume: %w", err)
	}
	if err := m.store.Delete(userID); err != nil {
		return fmt.Errorf("delete container record: %w", err)
	}

	m.logger.Info("sandbox purged", "user_id", userID)
	return nil
}

// TouchActivity refreshes the user's last-active timestamp. Session
// registration calls this so an open terminal or query stream counts as
// activity.
func (m *Manager) TouchActivity(userID string) {
	if err := m.store.Touch(userID, time.Now().UTC()); err != nil {
		m.logger.Warn("refresh activity failed", "user_id", userID, "error", err)
	}
}
