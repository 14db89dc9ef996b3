package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-wirth/kabine/internal/config"
	"github.com/m-wirth/kabine/internal/docker"
	"github.com/m-wirth/kabine/internal/prewarm"
	"github.com/m-wirth/kabine/internal/reaper"
	"github.com/m-wirth/kabine/internal/registry"
	"github.com/m-wirth/kabine/internal/sandbox"
	"github.com/m-wirth/kabine/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "path to kabine.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	dc, err := docker.New()
	if err != nil {
		logger.Error("docker client", "error", err)
		os.Exit(1)
	}
	defer dc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dc.Ping(ctx); err != nil {
		logger.Error("docker ping failed — is Docker running?", "error", err)
		os.Exit(1)
	}
	logger.Info("docker connection OK")

	sessions := registry.New(logger)
	mgr := sandbox.NewManager(cfg, st, dc, logger)

	var warmer *prewarm.Warmer
	if cfg.Prewarm.Enabled {
		warmer = prewarm.New(cfg, dc, logger)
		warmer.Start(ctx)
	}

	rpr := reaper.New(st, mgr, sessions, dc,
		time.Duration(cfg.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.IdleThresholdSeconds)*time.Second,
		logger)
	go rpr.Run(ctx)

	logger.Info("kabine daemon ready", "image", cfg.Image, "db", cfg.DBPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	if warmer != nil {
		warmer.Stop()
	}
}
