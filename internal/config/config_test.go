package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trfife/barnabeenet/internal/orchestrator"
)

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadYAMLParsesDeadlinesAndThresholds(t *testing.T) {
	path := writeTestConfig(t, `
classify:
  pattern_threshold: 0.9
  heuristic_threshold: 0.75
  model_enabled: false
deadlines:
  total_ms: 5000
  handler_action_ms: 1500
max_in_flight: 16
`)
	c, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}

	thresholds := c.Thresholds()
	if thresholds.PatternThreshold != 0.9 || thresholds.HeuristicThreshold != 0.75 || thresholds.ModelEnabled {
		t.Fatalf("unexpected thresholds: %+v", thresholds)
	}

	deadlines := c.Deadlines()
	if deadlines.Total != 5*time.Second {
		t.Fatalf("expected overridden total deadline, got %v", deadlines.Total)
	}
	if deadlines.HandlerAction != 1500*time.Millisecond {
		t.Fatalf("expected overridden action deadline, got %v", deadlines.HandlerAction)
	}
	if deadlines.Cascade != orchestrator.DefaultDeadlines().Cascade {
		t.Fatalf("expected unset cascade deadline to fall back to default, got %v", deadlines.Cascade)
	}

	if c.MaxInFlightOrDefault() != 16 {
		t.Fatalf("expected configured max_in_flight, got %d", c.MaxInFlightOrDefault())
	}
}

func TestLoadYAMLMissingFileReturnsError(t *testing.T) {
	if _, err := LoadYAML("/nonexistent/config.yaml"); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestDefaultsAppliedWhenSectionsAreZeroValue(t *testing.T) {
	path := writeTestConfig(t, "{}\n")
	c, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}

	weights := c.Weights()
	if weights.Semantic != 0.40 {
		t.Fatalf("expected default semantic weight, got %+v", weights)
	}
	if c.MaxInFlightOrDefault() != orchestrator.DefaultMaxInFlight {
		t.Fatalf("expected default max in flight, got %d", c.MaxInFlightOrDefault())
	}
	if c.HalfLifeDays() != 14.0 {
		t.Fatalf("expected default half-life, got %v", c.HalfLifeDays())
	}
}

func TestLoadEnvAppliesDefaults(t *testing.T) {
	os.Unsetenv("BARNABEE_MEMORY_DB")
	os.Unsetenv("BARNABEE_HTTP_ADDR")

	env := LoadEnv()
	if env.MemoryDBPath == "" {
		t.Fatalf("expected a default memory db path")
	}
	if env.HTTPAddr == "" {
		t.Fatalf("expected a default http addr")
	}
}
