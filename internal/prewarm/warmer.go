// Package prewarm keeps the sandbox image pulled ahead of demand, so
// provisioning a user's first container pays only create/start, never a
// registry pull. Containers themselves are always created at claim time:
// the per-user workspace volume is bound at ContainerCreate and cannot be
// attached to a pre-built container afterwards.
package prewarm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m-wirth/kabine/internal/config"
)

// Runtime is the container runtime surface the warmer needs.
type Runtime interface {
	EnsureImage(ctx context.Context, ref string) error
}

// Warmer pulls the configured image at startup and re-checks it on an
// interval, so a retagged or pruned image is restored before a user hits it.
type Warmer struct {
	cfg      *config.Config
	runtime  Runtime
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

func New(cfg *config.Config, rt Runtime, logger *slog.Logger) *Warmer {
	interval := time.Duration(cfg.Prewarm.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Warmer{
		cfg:      cfg,
		runtime:  rt,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background worker. Calling Start twice is a no-op.
func (w *Warmer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("starting image pre-warm", "image", w.cfg.Image, "interval", w.interval.String())
	go w.run(ctx)
}

// Stop signals the worker and waits for it to exit, so no image pull is
// left in flight when the daemon shuts down.
func (w *Warmer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.done
	w.logger.Info("image pre-warm stopped")
}

func (w *Warmer) run(ctx context.Context) {
	defer close(w.done)

	w.warm(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.warm(ctx)
		}
	}
}

func (w *Warmer) warm(ctx context.Context) {
	if err := w.runtime.EnsureImage(ctx, w.cfg.Image); err != nil {
		w.logger.Error("pre-warm: ensure image", "image", w.cfg.Image, "error", err)
	}
}
