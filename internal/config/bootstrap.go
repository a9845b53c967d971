// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the bootstrap client's YAML
// configuration file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerEntry is one trusted bootstrap server: its dial address and the
// Ed25519 public key (base64) the framed binder verifies its signatures
// against.
type ServerEntry struct {
	Address   string `yaml:"address"`
	PublicKey string `yaml:"public_key"`
}

// Timeouts holds every per-phase timeout in the session state machine.
type Timeouts struct {
	Connect    time.Duration `yaml:"connect"`
	ReadError  time.Duration `yaml:"read_error"`
	Read       time.Duration `yaml:"read"`
	Write      time.Duration `yaml:"write"`
	WriteError time.Duration `yaml:"write_error"`
}

// SizeCapsConfig mirrors wire.SizeCaps in YAML-friendly form. The payload
// caps accept human-readable sizes ("64mb", "1gb", parsed by
// ParseByteSize into the matching *Raw field); the count/length caps are
// plain integers, since a peer count or a string-length bound is not a
// byte quantity a human would write as "1gb".
type SizeCapsConfig struct {
	MaxLedgerDataSize        string `yaml:"max_ledger_data_size"`
	MaxLedgerDataSizeRaw     int64  `yaml:"-"`
	MaxAsyncPoolPartSize     string `yaml:"max_async_pool_part_size"`
	MaxAsyncPoolPartSizeRaw  int64  `yaml:"-"`
	MaxPosCyclePartSize      string `yaml:"max_pos_cycle_part_size"`
	MaxPosCyclePartSizeRaw   int64  `yaml:"-"`
	MaxPosCreditsPartSize    string `yaml:"max_pos_credits_part_size"`
	MaxPosCreditsPartSizeRaw int64  `yaml:"-"`
	MaxFinalStateChanges     int64  `yaml:"max_final_state_changes"`
	MaxLedgerChangesSize     string `yaml:"max_ledger_changes_size"`
	MaxLedgerChangesSizeRaw  int64  `yaml:"-"`
	MaxAsyncChangesSize      string `yaml:"max_async_changes_size"`
	MaxAsyncChangesSizeRaw   int64  `yaml:"-"`
	MaxRollChangesSize       string `yaml:"max_roll_changes_size"`
	MaxRollChangesSizeRaw    int64  `yaml:"-"`
	MaxPeerCount             int64  `yaml:"max_peer_count"`
	MaxPeerAddressLength     int64  `yaml:"max_peer_address_length"`
	MaxGraphSize             string `yaml:"max_graph_size"`
	MaxGraphSizeRaw          int64  `yaml:"-"`
	MaxErrorTextLength       int64  `yaml:"max_error_text_length"`
	MaxVersionLength         int64  `yaml:"max_version_length"`
	MaxLastKeyLength         int64  `yaml:"max_last_key_length"`
}

// parse fills every *Raw field by parsing its human-readable counterpart,
// leaving Raw at 0 (meaning "use the wire package default") for any empty
// string field.
func (c *SizeCapsConfig) parse() error {
	fields := []struct {
		name string
		src  string
		dst  *int64
	}{
		{"max_ledger_data_size", c.MaxLedgerDataSize, &c.MaxLedgerDataSizeRaw},
		{"max_async_pool_part_size", c.MaxAsyncPoolPartSize, &c.MaxAsyncPoolPartSizeRaw},
		{"max_pos_cycle_part_size", c.MaxPosCyclePartSize, &c.MaxPosCyclePartSizeRaw},
		{"max_pos_credits_part_size", c.MaxPosCreditsPartSize, &c.MaxPosCreditsPartSizeRaw},
		{"max_ledger_changes_size", c.MaxLedgerChangesSize, &c.MaxLedgerChangesSizeRaw},
		{"max_async_changes_size", c.MaxAsyncChangesSize, &c.MaxAsyncChangesSizeRaw},
		{"max_roll_changes_size", c.MaxRollChangesSize, &c.MaxRollChangesSizeRaw},
		{"max_graph_size", c.MaxGraphSize, &c.MaxGraphSizeRaw},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		parsed, err := ParseByteSize(f.src)
		if err != nil {
			return fmt.Errorf("size_caps.%s: %w", f.name, err)
		}
		*f.dst = parsed
	}
	return nil
}

// SnapshotConfig configures the optional S3-compatible snapshot fast path
// (C11). Zero value (empty bucket) disables it.
type SnapshotConfig struct {
	Bucket   string `yaml:"bucket"`
	Key      string `yaml:"key"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Enabled reports whether a snapshot fast path is configured.
func (s SnapshotConfig) Enabled() bool { return s.Bucket != "" && s.Key != "" }

// DiagnosticsConfig configures the local read-only status/events HTTP
// endpoint (C12). Empty ListenAddress disables it.
type DiagnosticsConfig struct {
	ListenAddress  string   `yaml:"listen_address"`
	EventLogPath   string   `yaml:"event_log_path"`
	RingCapacity   int      `yaml:"ring_capacity"`
	MaxEventLines  int      `yaml:"max_event_lines"`
	AllowedSources []string `yaml:"allowed_sources"` // IPs/CIDRs, deny-by-default
}

// Enabled reports whether the diagnostics HTTP server should be started.
func (d DiagnosticsConfig) Enabled() bool { return d.ListenAddress != "" }

// PreflightConfig configures the disk/memory headroom check (C10) that the
// CLI entry point runs once at startup, before the first episode.
type PreflightConfig struct {
	MinFreeBytes         int64   `yaml:"min_free_bytes"`
	MinFreeMemoryPercent float64 `yaml:"min_free_memory_percent"`
}

// SupervisorConfig configures the optional cron-scheduled staleness probe
// (C13) for long-running node hosts.
type SupervisorConfig struct {
	Schedule    string `yaml:"schedule"`
	MaxLagSlots uint64 `yaml:"max_lag_slots"`
}

// Enabled reports whether the staleness supervisor should be started.
func (s SupervisorConfig) Enabled() bool { return s.Schedule != "" }

// LoggingConfig configures C9's structured logger and per-session trace
// files.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	SessionDir string `yaml:"session_dir"`
}

// BootstrapConfig is the read-only-per-session configuration for one
// get_state episode (§3).
type BootstrapConfig struct {
	Servers []ServerEntry `yaml:"servers"`

	Timeouts    Timeouts      `yaml:"timeouts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	MaxPing     time.Duration `yaml:"max_ping"`

	RateLimitBytesPerSec    string `yaml:"rate_limit_bytes_per_sec"` // e.g. "2mb"; empty means unlimited
	RateLimitBytesPerSecRaw int64  `yaml:"-"`
	MaxMessageSize          string `yaml:"max_message_size"` // e.g. "100mb"
	MaxMessageSizeRaw       int64  `yaml:"-"`

	SizeCaps SizeCapsConfig `yaml:"size_caps"`

	EnableClockSynchronization bool `yaml:"enable_clock_synchronization"`

	DSCP string `yaml:"dscp"`

	Snapshot   SnapshotConfig    `yaml:"snapshot"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Preflight  PreflightConfig   `yaml:"preflight"`
	Supervisor SupervisorConfig  `yaml:"supervisor"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// LoadBootstrapConfig reads and validates path, applying defaults for
// every optional section.
func LoadBootstrapConfig(path string) (*BootstrapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bootstrap config: %w", err)
	}

	var cfg BootstrapConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing bootstrap config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating bootstrap config: %w", err)
	}

	return &cfg, nil
}

func (c *BootstrapConfig) validate() error {
	for i, s := range c.Servers {
		if s.Address == "" {
			return fmt.Errorf("servers[%d].address is required", i)
		}
		if s.PublicKey == "" {
			return fmt.Errorf("servers[%d].public_key is required", i)
		}
	}

	if c.Timeouts.Connect <= 0 {
		c.Timeouts.Connect = 10 * time.Second
	}
	if c.Timeouts.ReadError <= 0 {
		c.Timeouts.ReadError = 2 * time.Second
	}
	if c.Timeouts.Read <= 0 {
		c.Timeouts.Read = 30 * time.Second
	}
	if c.Timeouts.Write <= 0 {
		c.Timeouts.Write = 10 * time.Second
	}
	if c.Timeouts.WriteError <= 0 {
		c.Timeouts.WriteError = 2 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.MaxPing <= 0 {
		c.MaxPing = 700 * time.Millisecond
	}
	if c.MaxMessageSize == "" {
		c.MaxMessageSize = "100mb"
	}
	parsed, err := ParseByteSize(c.MaxMessageSize)
	if err != nil {
		return fmt.Errorf("max_message_size: %w", err)
	}
	c.MaxMessageSizeRaw = parsed
	if c.MaxMessageSizeRaw > 1<<32-1 {
		return fmt.Errorf("max_message_size %d does not fit in 32 bits", c.MaxMessageSizeRaw)
	}

	if c.RateLimitBytesPerSec != "" {
		parsed, err := ParseByteSize(c.RateLimitBytesPerSec)
		if err != nil {
			return fmt.Errorf("rate_limit_bytes_per_sec: %w", err)
		}
		c.RateLimitBytesPerSecRaw = parsed
	}

	if err := c.SizeCaps.parse(); err != nil {
		return err
	}

	if c.Diagnostics.RingCapacity <= 0 {
		c.Diagnostics.RingCapacity = 200
	}
	if c.Diagnostics.MaxEventLines <= 0 {
		c.Diagnostics.MaxEventLines = 10_000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// ParseByteSize converts human-readable strings like "256mb", "1gb" into
// bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
