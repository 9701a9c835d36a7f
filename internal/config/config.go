// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and validates the session core's YAML configuration:
// zone thresholds, governance policies, device inactivity ramps, tick
// cadence, and persistence backends. It follows the struct-of-structs
// FileConfig pattern and the collect-then-surface validation style used
// throughout the rest of the ambient stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk YAML shape for the session core.
type FileConfig struct {
	LogLevel   string           `yaml:"logLevel,omitempty"`
	Tick       TickConfig       `yaml:"tick,omitempty"`
	Device     DeviceConfig     `yaml:"device,omitempty"`
	Zones      ZonesConfig      `yaml:"zones"`
	Governance GovernanceConfig `yaml:"governance"`
	Transfer   TransferConfig   `yaml:"transfer,omitempty"`
	Session    SessionConfig    `yaml:"session,omitempty"`
	Persistence PersistenceConfig `yaml:"persistence,omitempty"`
}

// TickConfig controls the fixed clock the tick engine runs on.
type TickConfig struct {
	IntervalMs int `yaml:"intervalMs,omitempty"`
}

// DeviceConfig controls the registry's inactivity ramp (spec.md §4.1).
type DeviceConfig struct {
	InactiveMs  int `yaml:"inactiveMs,omitempty"`
	RemoveMs    int `yaml:"removeMs,omitempty"`
	RPMZeroMs   int `yaml:"rpmZeroMs,omitempty"`
}

// ZoneDefinitionConfig mirrors spec.md's ZoneDefinition entity.
type ZoneDefinitionConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Min   int    `yaml:"min"`
	Color string `yaml:"color"`
	Coins int    `yaml:"coins"`
}

// ZonesConfig is the base zone configuration plus the coin interval unit.
type ZonesConfig struct {
	CoinTimeUnitMs int                    `yaml:"coinTimeUnitMs,omitempty"`
	Definitions    []ZoneDefinitionConfig `yaml:"definitions"`
}

// PolicyConfig mirrors spec.md §4.8's flattened policy shape.
type PolicyConfig struct {
	ID                string                  `yaml:"id"`
	MinParticipants   int                     `yaml:"minParticipants"`
	BaseRequirement   map[string]string       `yaml:"baseRequirement"`
	GracePeriodSec    *int                    `yaml:"gracePeriodSeconds,omitempty"`
	Exemptions        []string                `yaml:"exemptions,omitempty"`
	Challenges        []ChallengeConfig       `yaml:"challenges,omitempty"`
}

// ChallengeConfig mirrors a challenge entry inside a policy.
type ChallengeConfig struct {
	MinIntervalSec int                `yaml:"minIntervalSeconds"`
	MaxIntervalSec int                `yaml:"maxIntervalSeconds"`
	SelectionType  string             `yaml:"selectionType"` // "random" | "cyclic"
	Selections     []SelectionConfig  `yaml:"selections"`
}

// SelectionConfig is one candidate challenge definition.
type SelectionConfig struct {
	Zone         string `yaml:"zone"`
	Rule         string `yaml:"rule"`
	TimeAllowed  int    `yaml:"timeAllowedSeconds"`
	Weight       int    `yaml:"weight"`
	Label        string `yaml:"label,omitempty"`
}

// GovernanceConfig configures the media-gating state machine.
type GovernanceConfig struct {
	GracePeriodSec int                     `yaml:"gracePeriodSeconds,omitempty"`
	GovernedLabels []string                `yaml:"governedLabels"`
	GovernedTypes  []string                `yaml:"governedTypes"`
	Policies       []PolicyConfig          `yaml:"policies"`
}

// TransferConfig controls the grace-period transfer window.
type TransferConfig struct {
	GracePeriodMs int `yaml:"gracePeriodMs,omitempty"`
}

// SessionConfig controls FitnessSession lifecycle thresholds.
type SessionConfig struct {
	PreSessionThreshold int `yaml:"preSessionThreshold,omitempty"`
	AutosaveMs          int `yaml:"autosaveMs,omitempty"`
	EmptySessionMs      int `yaml:"emptySessionMs,omitempty"`
	RemoveMs            int `yaml:"removeMs,omitempty"`
}

// PersistenceConfig selects and configures the snapshot backend.
type PersistenceConfig struct {
	Backend string `yaml:"backend,omitempty"` // "redis" | "badger" | "none"
	RedisAddr string `yaml:"redisAddr,omitempty"`
	BadgerDir string `yaml:"badgerDir,omitempty"`
	TTL       string `yaml:"ttl,omitempty"`
}

// Defaults returns a FileConfig with every documented default applied,
// mirroring spec.md's defaults (5s tick, 15s autosave, 60s transfer grace,
// 500ms hysteresis handled inside the governance engine itself).
func Defaults() FileConfig {
	return FileConfig{
		LogLevel: "info",
		Tick:     TickConfig{IntervalMs: 5000},
		Device: DeviceConfig{
			InactiveMs: 30_000,
			RemoveMs:   120_000,
			RPMZeroMs:  12_000,
		},
		Zones: ZonesConfig{
			CoinTimeUnitMs: 5000,
		},
		Transfer: TransferConfig{GracePeriodMs: 60_000},
		Session: SessionConfig{
			PreSessionThreshold: 3,
			AutosaveMs:          15_000,
			EmptySessionMs:      60_000,
			RemoveMs:            120_000,
		},
		Persistence: PersistenceConfig{Backend: "none", TTL: "24h"},
	}
}

// Load reads and parses a YAML file, applying Defaults() first so any
// field the file omits keeps its documented default.
func Load(path string) (FileConfig, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	ApplyEnvOverrides(&cfg)
	if errs := Validate(cfg); len(errs) > 0 {
		return cfg, fmt.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// ApplyEnvOverrides layers FITCORE_* environment variables on top of a
// loaded config, following the teacher's env-override convention.
func ApplyEnvOverrides(cfg *FileConfig) {
	if v := os.Getenv("FITCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FITCORE_TICK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tick.IntervalMs = n
		}
	}
	if v := os.Getenv("FITCORE_PERSISTENCE_BACKEND"); v != "" {
		cfg.Persistence.Backend = v
	}
	if v := os.Getenv("FITCORE_REDIS_ADDR"); v != "" {
		cfg.Persistence.RedisAddr = v
	}
}

// Validate collects every schema-level problem instead of failing fast on
// the first one, matching the teacher's strict-validation test style.
func Validate(cfg FileConfig) []string {
	var errs []string

	if cfg.Tick.IntervalMs <= 0 {
		errs = append(errs, "tick.intervalMs must be > 0")
	}
	if cfg.Device.InactiveMs <= 0 {
		errs = append(errs, "device.inactiveMs must be > 0")
	}
	if cfg.Device.RemoveMs <= cfg.Device.InactiveMs {
		errs = append(errs, "device.removeMs must be greater than device.inactiveMs")
	}
	if len(cfg.Zones.Definitions) == 0 {
		errs = append(errs, "zones.definitions must not be empty")
	}
	seen := map[string]bool{}
	for _, z := range cfg.Zones.Definitions {
		if z.ID == "" {
			errs = append(errs, "zones.definitions: zone id must not be empty")
			continue
		}
		if seen[z.ID] {
			errs = append(errs, fmt.Sprintf("zones.definitions: duplicate zone id %q", z.ID))
		}
		seen[z.ID] = true
	}
	for _, p := range cfg.Governance.Policies {
		if p.ID == "" {
			errs = append(errs, "governance.policies: policy id must not be empty")
		}
		if p.MinParticipants < 0 {
			errs = append(errs, fmt.Sprintf("governance.policies[%s]: minParticipants must be >= 0", p.ID))
		}
	}
	switch cfg.Persistence.Backend {
	case "", "none", "redis", "badger":
	default:
		errs = append(errs, fmt.Sprintf("persistence.backend: unknown backend %q", cfg.Persistence.Backend))
	}
	if cfg.Persistence.Backend == "redis" && cfg.Persistence.RedisAddr == "" {
		errs = append(errs, "persistence.redisAddr required when backend=redis")
	}
	if cfg.Persistence.Backend == "badger" && cfg.Persistence.BadgerDir == "" {
		errs = append(errs, "persistence.badgerDir required when backend=badger")
	}
	if cfg.Persistence.TTL != "" {
		if _, err := time.ParseDuration(cfg.Persistence.TTL); err != nil {
			errs = append(errs, fmt.Sprintf("persistence.ttl: invalid duration %q", cfg.Persistence.TTL))
		}
	}

	return errs
}
