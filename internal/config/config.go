// Package config loads the declarative YAML configuration surface
// (§6: thresholds, deadlines, weights, pattern-set path, routing table,
// override rules) and the .env/environment-variable bootstrap layer
// (secrets, storage paths, ports).
//
// Grounded on cmd/bud/main.go's godotenv.Load-then-os.Getenv-with-
// defaults pattern for the env layer, generalized to a typed Env struct
// instead of scattering os.Getenv calls through main.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/trfife/barnabeenet/internal/classify"
	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/memstore"
	"github.com/trfife/barnabeenet/internal/orchestrator"
	"github.com/trfife/barnabeenet/internal/override"
)

// Config is the declarative, hot-reloadable part of the configuration
// surface: everything that can be expressed as data rather than a
// secret or a filesystem bootstrap path.
type Config struct {
	Classify struct {
		PatternThreshold   float64 `yaml:"pattern_threshold"`
		HeuristicThreshold float64 `yaml:"heuristic_threshold"`
		ModelEnabled       *bool   `yaml:"model_enabled"`
	} `yaml:"classify"`

	Deadlines struct {
		TotalMS          int `yaml:"total_ms"`
		CascadeMS        int `yaml:"cascade_ms"`
		RetrievalMS      int `yaml:"retrieval_ms"`
		HandlerInstantMS int `yaml:"handler_instant_ms"`
		HandlerActionMS  int `yaml:"handler_action_ms"`
		HandlerConvoMS   int `yaml:"handler_convo_ms"`
		HandlerMemoryMS  int `yaml:"handler_memory_ms"`
	} `yaml:"deadlines"`

	Memory struct {
		WeightSemantic   float64 `yaml:"weight_semantic"`
		WeightImportance float64 `yaml:"weight_importance"`
		WeightRecency    float64 `yaml:"weight_recency"`
		WeightAccess     float64 `yaml:"weight_access"`
		BaseHalfLifeDays float64 `yaml:"base_half_life_days"`
	} `yaml:"memory"`

	PatternSetDir string `yaml:"pattern_set_dir"`

	// Routing maps an intent name to a handler key. It is informative
	// configuration surfaced for operators: it is parsed but not read
	// anywhere, and the Orchestrator always uses its built-in routing.
	Routing map[string]string `yaml:"routing"`

	MaxInFlight int `yaml:"max_in_flight"`

	OverrideRules []override.Rule `yaml:"override_rules"`
}

// LoadYAML reads and parses a Config from path.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &c, nil
}

// Thresholds converts the YAML classify section into classify.Thresholds,
// falling back to the spec defaults for any zero-value field.
func (c *Config) Thresholds() classify.Thresholds {
	t := classify.DefaultThresholds()
	if c.Classify.PatternThreshold > 0 {
		t.PatternThreshold = c.Classify.PatternThreshold
	}
	if c.Classify.HeuristicThreshold > 0 {
		t.HeuristicThreshold = c.Classify.HeuristicThreshold
	}
	if c.Classify.ModelEnabled != nil {
		t.ModelEnabled = *c.Classify.ModelEnabled
	}
	if c.Deadlines.CascadeMS > 0 {
		t.TotalDeadline = time.Duration(c.Deadlines.CascadeMS) * time.Millisecond
	}
	return t
}

// Deadlines converts the YAML deadlines section into
// orchestrator.Deadlines, falling back to the spec defaults for any
// zero-value field.
func (c *Config) Deadlines() orchestrator.Deadlines {
	d := orchestrator.DefaultDeadlines()
	if ms := c.Deadlines.TotalMS; ms > 0 {
		d.Total = time.Duration(ms) * time.Millisecond
	}
	if ms := c.Deadlines.CascadeMS; ms > 0 {
		d.Cascade = time.Duration(ms) * time.Millisecond
	}
	if ms := c.Deadlines.RetrievalMS; ms > 0 {
		d.Retrieval = time.Duration(ms) * time.Millisecond
	}
	if ms := c.Deadlines.HandlerInstantMS; ms > 0 {
		d.HandlerInstant = time.Duration(ms) * time.Millisecond
	}
	if ms := c.Deadlines.HandlerActionMS; ms > 0 {
		d.HandlerAction = time.Duration(ms) * time.Millisecond
	}
	if ms := c.Deadlines.HandlerConvoMS; ms > 0 {
		d.HandlerConvo = time.Duration(ms) * time.Millisecond
	}
	if ms := c.Deadlines.HandlerMemoryMS; ms > 0 {
		d.HandlerMemory = time.Duration(ms) * time.Millisecond
	}
	return d
}

// Weights converts the YAML memory section into memstore.Weights,
// falling back to the spec defaults (0.40/0.25/0.20/0.15) for an
// all-zero section.
func (c *Config) Weights() memstore.Weights {
	m := c.Memory
	if m.WeightSemantic == 0 && m.WeightImportance == 0 && m.WeightRecency == 0 && m.WeightAccess == 0 {
		return memstore.DefaultWeights()
	}
	return memstore.Weights{
		Semantic:   m.WeightSemantic,
		Importance: m.WeightImportance,
		Recency:    m.WeightRecency,
		Access:     m.WeightAccess,
	}
}

// HalfLifeDays returns the configured base half-life, or the spec
// default if unset.
func (c *Config) HalfLifeDays() float64 {
	if c.Memory.BaseHalfLifeDays > 0 {
		return c.Memory.BaseHalfLifeDays
	}
	return domain.BaseHalfLifeDays
}

// MaxInFlightOrDefault returns the configured backpressure bound, or
// orchestrator.DefaultMaxInFlight if unset.
func (c *Config) MaxInFlightOrDefault() int64 {
	if c.MaxInFlight > 0 {
		return int64(c.MaxInFlight)
	}
	return orchestrator.DefaultMaxInFlight
}

// Env is the bootstrap layer: secrets and filesystem paths that must be
// known before any YAML config can even be located, loaded from a .env
// file (if present) and the process environment.
type Env struct {
	MemoryDBPath    string
	AuditDBPath     string
	PatternSetDir   string
	ConfigPath      string
	OllamaBaseURL   string
	OllamaModel     string
	AnthropicAPIKey string
	DiscordToken    string
	DiscordChannel  string
	HTTPAddr        string
	PIDFile         string
}

// LoadEnv loads an optional .env file and reads the environment into an
// Env, applying sensible defaults for anything a fresh checkout needs to
// run without configuration.
func LoadEnv() Env {
	if err := godotenv.Load(); err != nil {
		// No .env file is a normal deployment shape, so any load error
		// (including a malformed file) is ignored here.
	}

	return Env{
		MemoryDBPath:    getenvDefault("BARNABEE_MEMORY_DB", "barnabee_memory.db"),
		AuditDBPath:     getenvDefault("BARNABEE_AUDIT_DB", "barnabee_audit.db"),
		PatternSetDir:   getenvDefault("BARNABEE_PATTERN_DIR", "config/v1/patterns"),
		ConfigPath:      getenvDefault("BARNABEE_CONFIG", "config/v1/config.yaml"),
		OllamaBaseURL:   getenvDefault("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:     getenvDefault("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		DiscordToken:    os.Getenv("DISCORD_TOKEN"),
		DiscordChannel:  os.Getenv("DISCORD_CHANNEL_ID"),
		HTTPAddr:        getenvDefault("BARNABEE_HTTP_ADDR", ":8080"),
		PIDFile:         getenvDefault("BARNABEE_PID_FILE", "barnabeed.pid"),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
