// Package config loads engine configuration from an optional YAML file with
// environment overrides, and applies the protocol version presets.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Engine      EngineConfig      `koanf:"engine"`
	Guardrail   GuardrailConfig   `koanf:"guardrail"`
	Interpreter InterpreterConfig `koanf:"interpreter"`
	Session     SessionConfig     `koanf:"session"`
	Storage     StorageConfig     `koanf:"storage"`
}

type ServerConfig struct {
	Port   int    `koanf:"port"`
	APIKey string `koanf:"api_key"`
}

// EngineConfig carries the tunables that vary across protocol versions.
// Zero values are filled from the version preset.
type EngineConfig struct {
	// Version selects the preset: v2, v3, or v4.
	Version string `koanf:"version"`

	// ResponseTargetMs is the per-turn latency budget the version commits
	// to. Observability only.
	ResponseTargetMs int `koanf:"response_target_ms"`

	// LoopBoundOverride caps every digging loop when positive.
	LoopBoundOverride int `koanf:"loop_bound_override"`

	// InterpretReentryBound caps AI-driven re-entries per interpreted step.
	InterpretReentryBound int `koanf:"interpret_reentry_bound"`

	// UndoDepth is the history stack bound.
	UndoDepth int `koanf:"undo_depth"`
}

type GuardrailConfig struct {
	MinContentLen    int      `koanf:"min_content_len"`
	CrisisIndicators []string `koanf:"crisis_indicators"`
}

type InterpreterConfig struct {
	APIKey              string  `koanf:"api_key"`
	Model               string  `koanf:"model"`
	BaseURL             string  `koanf:"base_url"`
	TimeoutMs           int     `koanf:"timeout_ms"`
	MaxRetries          int     `koanf:"max_retries"`
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
}

type SessionConfig struct {
	LeaseTTLSeconds  int `koanf:"lease_ttl_seconds"`
	IdleTTLMinutes   int `koanf:"idle_ttl_minutes"`
	ReapIntervalSecs int `koanf:"reap_interval_seconds"`
}

type StorageConfig struct {
	Path string `koanf:"path"`
}

// preset is the per-version default set. v2 is the lenient original, v3
// tightened validation, v4 added the aggressive latency budget.
type preset struct {
	responseTargetMs    int
	interpretTimeoutMs  int
	confidenceThreshold float64
	reentryBound        int
	minContentLen       int
}

var presets = map[string]preset{
	"v2": {responseTargetMs: 1000, interpretTimeoutMs: 5000, confidenceThreshold: 0.4, reentryBound: 3, minContentLen: 3},
	"v3": {responseTargetMs: 800, interpretTimeoutMs: 4000, confidenceThreshold: 0.5, reentryBound: 3, minContentLen: 5},
	"v4": {responseTargetMs: 500, interpretTimeoutMs: 3000, confidenceThreshold: 0.6, reentryBound: 2, minContentLen: 5},
}

// Load reads configuration: YAML file (if path is non-empty and exists)
// first, then SHIFT_-prefixed environment variables on top, then defaults
// and the version preset for anything still unset.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// Keys are two levels deep (section.key) and key names themselves
	// contain underscores, so only the first underscore nests.
	if err := k.Load(env.Provider("SHIFT_", ".", func(s string) string {
		parts := strings.SplitN(strings.ToLower(strings.TrimPrefix(s, "SHIFT_")), "_", 2)
		return strings.Join(parts, ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := applyPreset(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Engine.Version == "" {
		cfg.Engine.Version = "v3"
	}
	if cfg.Engine.UndoDepth == 0 {
		cfg.Engine.UndoDepth = 10
	}
	if cfg.Interpreter.Model == "" {
		cfg.Interpreter.Model = "gpt-4o-mini"
	}
	if cfg.Interpreter.MaxRetries == 0 {
		cfg.Interpreter.MaxRetries = 1
	}
	if cfg.Session.LeaseTTLSeconds == 0 {
		cfg.Session.LeaseTTLSeconds = 30
	}
	if cfg.Session.IdleTTLMinutes == 0 {
		cfg.Session.IdleTTLMinutes = 30
	}
	if cfg.Session.ReapIntervalSecs == 0 {
		cfg.Session.ReapIntervalSecs = 60
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/sessions.db"
	}
}

// KnownVersion reports whether v names a shipped protocol version.
func KnownVersion(v string) bool {
	_, ok := presets[v]
	return ok
}

// applyPreset fills version-dependent tunables the operator left unset.
func applyPreset(cfg *Config) error {
	p, ok := presets[cfg.Engine.Version]
	if !ok {
		return fmt.Errorf("unknown engine version %q (want v2, v3, or v4)", cfg.Engine.Version)
	}
	if cfg.Engine.ResponseTargetMs == 0 {
		cfg.Engine.ResponseTargetMs = p.responseTargetMs
	}
	if cfg.Engine.InterpretReentryBound == 0 {
		cfg.Engine.InterpretReentryBound = p.reentryBound
	}
	if cfg.Interpreter.TimeoutMs == 0 {
		cfg.Interpreter.TimeoutMs = p.interpretTimeoutMs
	}
	if cfg.Interpreter.ConfidenceThreshold == 0 {
		cfg.Interpreter.ConfidenceThreshold = p.confidenceThreshold
	}
	if cfg.Guardrail.MinContentLen == 0 {
		cfg.Guardrail.MinContentLen = p.minContentLen
	}
	return nil
}
