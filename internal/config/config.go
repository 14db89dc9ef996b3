package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Defaults struct {
	CPULimit         float64 `yaml:"cpu_limit"`
	MemLimitMB       int     `yaml:"mem_limit_mb"`
	PidsLimit        int     `yaml:"pids_limit"`
	MaxExecTimeoutMs int     `yaml:"max_exec_timeout_ms"`
	NetworkMode      string  `yaml:"network_mode"`
	ReadonlyRootfs   bool    `yaml:"readonly_rootfs"`
}

type PrewarmConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

type Config struct {
	Image                string        `yaml:"image"`
	DBPath               string        `yaml:"db_path"`
	IdleThresholdSeconds int           `yaml:"idle_threshold_seconds"`
	SweepIntervalSeconds int           `yaml:"sweep_interval_seconds"`
	Defaults             Defaults      `yaml:"defaults"`
	Prewarm              PrewarmConfig `yaml:"prewarm"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Image:                "kabine-runtime:base",
		DBPath:               "./kabine.db",
		IdleThresholdSeconds: 1800,
		SweepIntervalSeconds: 30,
		Defaults: Defaults{
			CPULimit:         1.0,
			MemLimitMB:       1024,
			PidsLimit:        256,
			MaxExecTimeoutMs: 120000,
			NetworkMode:      "bridge",
			ReadonlyRootfs:   false,
		},
		Prewarm: PrewarmConfig{
			Enabled:         false,
			IntervalSeconds: 300,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KABINE_IMAGE"); v != "" {
		cfg.Image = v
	}
	if v := os.Getenv("KABINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("KABINE_IDLE_THRESHOLD_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IdleThresholdSeconds = n
		}
	}
	if v := os.Getenv("KABINE_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepIntervalSeconds = n
		}
	}
	if v := os.Getenv("KABINE_CPU_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Defaults.CPULimit = f
		}
	}
	if v := os.Getenv("KABINE_MEM_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.MemLimitMB = n
		}
	}
	if v := os.Getenv("KABINE_PIDS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.PidsLimit = n
		}
	}
	if v := os.Getenv("KABINE_MAX_EXEC_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.MaxExecTimeoutMs = n
		}
	}
	if v := os.Getenv("KABINE_NETWORK_MODE"); v != "" {
		cfg.Defaults.NetworkMode = v
	}
	if v := os.Getenv("KABINE_READONLY_ROOTFS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Defaults.ReadonlyRootfs = b
		}
	}
	if v := os.Getenv("KABINE_PREWARM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Prewarm.Enabled = b
		}
	}
	if v := os.Getenv("KABINE_PREWARM_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Prewarm.IntervalSeconds = n
		}
	}
}
