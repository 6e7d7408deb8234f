// Package config loads retrovued configuration from YAML with RETROVUE_*
// environment overrides. Structural keys need a restart; the log level
// hot-reloads via the file watcher in reload.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Service holds daemon-level settings.
type Service struct {
	LogLevel string `yaml:"log_level"`
	Listen   string `yaml:"listen"` // status + metrics HTTP
}

// Scheduling holds plan and grid settings shared by all channels.
type Scheduling struct {
	GridMinutes              int    `yaml:"grid_minutes"`
	ProgrammingDayStartLocal string `yaml:"programming_day_start_local"` // HH:MM
	Timezone                 string `yaml:"timezone"`
}

// Horizon holds the rolling-window extension policy.
type Horizon struct {
	MinExecutionHorizonMS      int64 `yaml:"min_execution_horizon_ms"`
	ProactiveExtendThresholdMS int64 `yaml:"proactive_extend_threshold_ms"`
	EPGHorizonDays             int   `yaml:"epg_horizon_days"`
	TickIntervalMS             int64 `yaml:"tick_interval_ms"`
}

// Channel holds boundary-commitment and engine RPC settings.
type Channel struct {
	StartupLatencyMS       int64 `yaml:"startup_latency_ms"`
	MinPrefeedLeadTimeMS   int64 `yaml:"min_prefeed_lead_time_ms"`
	SeekToleranceMS        int64 `yaml:"seek_tolerance_ms"`
	TeardownGraceTimeoutS  int   `yaml:"teardown_grace_timeout_s"`
	MaxStartupConvergenceS int   `yaml:"max_startup_convergence_s"`
	RPCTimeoutMS           int64 `yaml:"rpc_timeout_ms"`
}

// Evidence holds the spool and upstream transport settings.
type Evidence struct {
	SpoolDir        string `yaml:"spool_dir"`
	MaxSpoolBytes   int64  `yaml:"max_spool_bytes"` // 0 = unlimited
	FlushIntervalMS int64  `yaml:"flush_interval_ms"`
	FlushRecordsMax int    `yaml:"flush_records_max"`
	ReceiverTarget  string `yaml:"receiver_target"`
}

// ChannelDef declares one channel the daemon should run.
type ChannelDef struct {
	ID         string `yaml:"id"`
	PlanHandle string `yaml:"plan_handle"`
	Port       int    `yaml:"port"`
}

// Receiver holds the reconciliation receiver settings.
type Receiver struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	DBPath  string `yaml:"db_path"`
}

// Config is the full retrovued configuration.
type Config struct {
	Service    Service    `yaml:"service"`
	Scheduling Scheduling `yaml:"scheduling"`
	Horizon    Horizon    `yaml:"horizon"`
	Channel    Channel    `yaml:"channel"`
	Evidence   Evidence   `yaml:"evidence"`
	Receiver   Receiver   `yaml:"receiver"`

	Channels []ChannelDef `yaml:"channels"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: Service{
			LogLevel: "info",
			Listen:   ":8082",
		},
		Scheduling: Scheduling{
			GridMinutes:              30,
			ProgrammingDayStartLocal: "06:00",
			Timezone:                 "UTC",
		},
		Horizon: Horizon{
			MinExecutionHorizonMS:      4 * time.Hour.Milliseconds(),
			ProactiveExtendThresholdMS: 4 * time.Hour.Milliseconds(),
			EPGHorizonDays:             2,
			TickIntervalMS:             250,
		},
		Channel: Channel{
			StartupLatencyMS:       2000,
			MinPrefeedLeadTimeMS:   5000,
			SeekToleranceMS:        2000,
			TeardownGraceTimeoutS:  10,
			MaxStartupConvergenceS: 30,
			RPCTimeoutMS:           2000,
		},
		Evidence: Evidence{
			SpoolDir:        "/var/lib/retrovue/spool",
			MaxSpoolBytes:   0,
			FlushIntervalMS: 250,
			FlushRecordsMax: 50,
			ReceiverTarget:  "127.0.0.1:9090",
		},
		Receiver: Receiver{
			Enabled: true,
			Listen:  ":9090",
			DBPath:  "retrovue-reconcile.db",
		},
	}
}

// Load reads path (optional), overlays RETROVUE_* env vars, and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("RETROVUE_LOG_LEVEL", &cfg.Service.LogLevel)
	envStr("RETROVUE_LISTEN", &cfg.Service.Listen)
	envStr("RETROVUE_TIMEZONE", &cfg.Scheduling.Timezone)
	envStr("RETROVUE_PROGRAMMING_DAY_START_LOCAL", &cfg.Scheduling.ProgrammingDayStartLocal)
	envInt("RETROVUE_GRID_MINUTES", &cfg.Scheduling.GridMinutes)
	envInt64("RETROVUE_MIN_EXECUTION_HORIZON_MS", &cfg.Horizon.MinExecutionHorizonMS)
	envInt64("RETROVUE_PROACTIVE_EXTEND_THRESHOLD_MS", &cfg.Horizon.ProactiveExtendThresholdMS)
	envInt("RETROVUE_EPG_HORIZON_DAYS", &cfg.Horizon.EPGHorizonDays)
	envInt64("RETROVUE_STARTUP_LATENCY_MS", &cfg.Channel.StartupLatencyMS)
	envInt64("RETROVUE_MIN_PREFEED_LEAD_TIME_MS", &cfg.Channel.MinPrefeedLeadTimeMS)
	envInt64("RETROVUE_SEEK_TOLERANCE_MS", &cfg.Channel.SeekToleranceMS)
	envInt("RETROVUE_TEARDOWN_GRACE_TIMEOUT_S", &cfg.Channel.TeardownGraceTimeoutS)
	envInt("RETROVUE_MAX_STARTUP_CONVERGENCE_S", &cfg.Channel.MaxStartupConvergenceS)
	envInt64("RETROVUE_RPC_TIMEOUT_MS", &cfg.Channel.RPCTimeoutMS)
	envStr("RETROVUE_SPOOL_DIR", &cfg.Evidence.SpoolDir)
	envInt64("RETROVUE_MAX_SPOOL_BYTES", &cfg.Evidence.MaxSpoolBytes)
	envInt64("RETROVUE_FLUSH_INTERVAL_MS", &cfg.Evidence.FlushIntervalMS)
	envInt("RETROVUE_FLUSH_RECORDS_MAX", &cfg.Evidence.FlushRecordsMax)
	envStr("RETROVUE_RECEIVER_TARGET", &cfg.Evidence.ReceiverTarget)
	envStr("RETROVUE_RECEIVER_LISTEN", &cfg.Receiver.Listen)
	envStr("RETROVUE_RECEIVER_DB_PATH", &cfg.Receiver.DBPath)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Scheduling.GridMinutes <= 0 || 1440%c.Scheduling.GridMinutes != 0 {
		return fmt.Errorf("grid_minutes %d must be positive and divide 1440", c.Scheduling.GridMinutes)
	}
	if _, err := ParseDayStart(c.Scheduling.ProgrammingDayStartLocal); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Scheduling.Timezone, err)
	}
	if c.Horizon.MinExecutionHorizonMS <= 0 {
		return fmt.Errorf("min_execution_horizon_ms must be positive")
	}
	if c.Horizon.ProactiveExtendThresholdMS <= 0 {
		return fmt.Errorf("proactive_extend_threshold_ms must be positive")
	}
	if c.Horizon.EPGHorizonDays < 1 {
		return fmt.Errorf("epg_horizon_days must be at least 1")
	}
	if c.Channel.RPCTimeoutMS <= 0 {
		return fmt.Errorf("rpc_timeout_ms must be positive")
	}
	if c.Evidence.MaxSpoolBytes < 0 {
		return fmt.Errorf("max_spool_bytes must not be negative")
	}
	if c.Evidence.FlushRecordsMax <= 0 {
		return fmt.Errorf("flush_records_max must be positive")
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel with empty id")
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

// ParseDayStart converts "HH:MM" to minutes past local midnight.
func ParseDayStart(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("programming_day_start_local %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("programming_day_start_local %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("programming_day_start_local %q: bad minute", s)
	}
	return h*60 + m, nil
}
