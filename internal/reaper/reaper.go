// Package reaper reclaims sandbox containers that have sat idle past a
// threshold with no active sessions.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

type Reaper struct {
	store     ReaperStore
	manager   ContainerManager
	sessions  SessionRegistry
	runtime   ReaperRuntime
	interval  time.Duration
	idleAfter time.Duration
	logger    *slog.Logger
}

func New(st ReaperStore, mgr ContainerManager, sessions SessionRegistry, rt ReaperRuntime,
	interval, idleAfter time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:     st,
		manager:   mgr,
		sessions:  sessions,
		runtime:   rt,
		interval:  interval,
		idleAfter: idleAfter,
		logger:    logger,
	}
}

// Run reconciles once, then sweeps on the interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval, "idle_after", r.idleAfter)

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep evicts every running record that is past the idle threshold and
// has no active session. An active session always wins over the
// timestamp: work in flight is activity, however stale last_active is.
// Individual removal failures are logged and skipped so one bad
// container cannot halt the sweep.
func (r *Reaper) sweep(ctx context.Context) {
	records, err := r.store.ListRunning()
	if err != nil {
		r.logger.Error("sweep: list running containers", "error", err)
		return
	}

	now := time.Now().UTC()
	evicted := 0
	for _, rec := range records {
		if r.sessions.HasActive(rec.UserID) {
			continue
		}
		if now.Sub(rec.LastActive) < r.idleAfter {
			continue
		}

		r.logger.Info("evicting idle sandbox",
			"user_id", rec.UserID, "idle", now.Sub(rec.LastActive).Round(time.Second))

		if err := r.manager.Remove(ctx, rec.UserID); err != nil {
			r.logger.Error("sweep: remove sandbox", "user_id", rec.UserID, "error", err)
			continue
		}
		evicted++
	}

	if evicted > 0 {
		r.logger.Info("sweep complete", "evicted", evicted)
	}
}

// reconcile retires records whose runtime container died while the
// process was down, then removes managed containers the store knows
// nothing about.
func (r *Reaper) reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")

	records, err := r.store.ListRunning()
	if err != nil {
		r.logger.Error("reconcile: list running containers", "error", err)
		return
	}

	for _, rec := range records {
		alive, err := r.runtime.IsContainerRunning(ctx, rec.ContainerID)
		if err != nil {
			r.logger.Warn("reconcile: inspect container",
				"user_id", rec.UserID, "error", err)
			continue
		}
		if !alive {
			r.logger.Warn("reconcile: container not running, retiring record",
				"user_id", rec.UserID)
			if err := r.store.MarkRemoved(rec.UserID); err != nil {
				r.logger.Error("reconcile: mark removed",
					"user_id", rec.UserID, "error", err)
			}
		}
	}

	r.removeOrphans(ctx)

	r.logger.Info("reconciliation complete")
}

// removeOrphans removes managed containers no store row references, e.g.
// a container that outlived its record after a crash mid-provision. A
// container is an orphan only when no row at all names it; rows in any
// state keep their container off the kill list.
func (r *Reaper) removeOrphans(ctx context.Context) {
	containers, err := r.runtime.ListSandboxContainers(ctx)
	if err != nil {
		r.logger.Error("reconcile: list sandbox containers", "error", err)
		return
	}
	if len(containers) == 0 {
		return
	}

	records, err := r.store.List()
	if err != nil {
		r.logger.Error("reconcile: list records", "error", err)
		return
	}
	known := make(map[string]struct{}, len(records))
	for _, rec := range records {
		known[rec.ContainerID] = struct{}{}
	}

	for _, ctr := range containers {
		if _, ok := known[ctr.ContainerID]; ok {
			continue
		}
		r.logger.Warn("reconcile: removing orphaned container",
			"user_id", ctr.UserID, "container", shortID(ctr.ContainerID))
		if err := r.runtime.RemoveContainer(ctx, ctr.ContainerID); err != nil {
			r.logger.Error("reconcile: remove orphaned container",
				"container", shortID(ctr.ContainerID), "error", err)
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
