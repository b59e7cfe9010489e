package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all duro configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Decay       DecayConfig       `yaml:"decay"`
	DebugGate   DebugGateConfig   `yaml:"debug_gate"`
	Waivers     WaiverConfig      `yaml:"waivers"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Audit       AuditConfig       `yaml:"audit"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DecayConfig parameterises the confidence decay curve.
// Facts older than StalenessHorizon since their last reinforcement lose
// confidence toward Floor with the given HalfLife.
type DecayConfig struct {
	StalenessHorizon time.Duration `yaml:"staleness_horizon"`
	HalfLife         time.Duration `yaml:"half_life"`
	Floor            float64       `yaml:"floor"`
	StaleThreshold   float64       `yaml:"stale_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	Workers          int           `yaml:"workers"`
	Interval         time.Duration `yaml:"interval"` // background run interval for serve; 0 disables
}

type DebugGateConfig struct {
	Lookback      time.Duration `yaml:"lookback"`
	MinReproSteps int           `yaml:"min_repro_steps"`
}

// WaiverConfig is the waiver policy. UnwaivableRules can only add to the
// built-in unwaivable set; it can never remove from it.
type WaiverConfig struct {
	Enabled         bool     `yaml:"enabled"`
	UnwaivableRules []string `yaml:"unwaivable_rules"`
	MinReasonLength int      `yaml:"min_reason_length"`
	WarnThreshold   int      `yaml:"warn_threshold"`
	FailThreshold   int      `yaml:"fail_threshold"`
	PeriodDays      int      `yaml:"period_days"`
}

type EnforcementConfig struct {
	RulesPath     string `yaml:"rules_path"`     // empty uses the embedded default rule set
	DefaultAction string `yaml:"default_action"` // allow or deny when no rule matches
	Watch         bool   `yaml:"watch"`          // hot-reload RulesPath in serve
}

type AuditConfig struct {
	SinkURL string        `yaml:"sink_url"` // optional webhook receiving audit entries
	Buffer  int           `yaml:"buffer"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Decay: DecayConfig{
			StalenessHorizon: 30 * 24 * time.Hour,
			HalfLife:         90 * 24 * time.Hour,
			Floor:            0.1,
			StaleThreshold:   0.3,
			Timeout:          2 * time.Minute,
			Workers:          4,
			Interval:         24 * time.Hour,
		},
		DebugGate: DebugGateConfig{
			Lookback:      48 * time.Hour,
			MinReproSteps: 2,
		},
		Waivers: WaiverConfig{
			Enabled:         true,
			MinReasonLength: 10,
			WarnThreshold:   5,
			FailThreshold:   10,
			PeriodDays:      7,
		},
		Enforcement: EnforcementConfig{
			DefaultAction: "allow",
			Watch:         true,
		},
		Audit: AuditConfig{
			Buffer:  256,
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults are returned. DURO_DB overrides the database path.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if p := os.Getenv("DURO_DB"); p != "" {
		cfg.Database.Path = p
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Decay.HalfLife <= 0 {
		return fmt.Errorf("decay.half_life must be positive")
	}
	if c.Decay.Floor < 0 || c.Decay.Floor > 1 {
		return fmt.Errorf("decay.floor must be within [0,1], got %v", c.Decay.Floor)
	}
	if c.Decay.StalenessHorizon < 0 {
		return fmt.Errorf("decay.staleness_horizon must not be negative")
	}
	if c.DebugGate.Lookback <= 0 {
		return fmt.Errorf("debug_gate.lookback must be positive")
	}
	if c.Waivers.MinReasonLength < 1 {
		return fmt.Errorf("waivers.min_reason_length must be at least 1")
	}
	if c.Waivers.FailThreshold > 0 && c.Waivers.WarnThreshold > c.Waivers.FailThreshold {
		return fmt.Errorf("waivers.warn_threshold (%d) exceeds fail_threshold (%d)",
			c.Waivers.WarnThreshold, c.Waivers.FailThreshold)
	}
	if c.Waivers.PeriodDays < 1 {
		return fmt.Errorf("waivers.period_days must be at least 1")
	}
	switch c.Enforcement.DefaultAction {
	case "allow", "deny":
	default:
		return fmt.Errorf("enforcement.default_action must be allow or deny, got %q", c.Enforcement.DefaultAction)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
