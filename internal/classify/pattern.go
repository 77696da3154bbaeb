// Package classify implements the three-tier intent cascade: a compiled
// regex Pattern Matcher, a keyword Heuristic Classifier, an optional
// network Model Classifier, and the Facade that sequences them under a
// deadline.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/obslog"
	"gopkg.in/yaml.v3"
)

// compiledPattern is a PatternSpec with its regex pre-compiled.
type compiledPattern struct {
	spec domain.PatternSpec
	re   *regexp.Regexp
}

// patternSet is an immutable, fully-compiled snapshot of the active
// pattern groups. Replacing it is a single atomic pointer swap.
type patternSet struct {
	byGroup map[domain.PriorityGroup][]compiledPattern
}

// PatternMatcher is the Pattern Matcher (C2). It holds the active
// patternSet behind a mutex-protected pointer so hot reloads can swap the
// whole set atomically without interrupting in-flight matches.
//
// Grounded on internal/reflex/engine.go's Engine (reflexes map + file
// mod-time tracked hot reload, CheckForUpdates) and internal/reflex/types.go's
// Reflex/Trigger/Match, generalized from a single flat reflex map to the
// spec's fixed priority-group ordering.
type PatternMatcher struct {
	mu      sync.RWMutex
	active  *patternSet
	dir     string
	modTime map[string]time.Time
}

// NewPatternMatcher constructs a matcher with an empty active set. Call
// LoadDir to populate it before use.
func NewPatternMatcher(dir string) *PatternMatcher {
	return &PatternMatcher{
		active:  &patternSet{byGroup: make(map[domain.PriorityGroup][]compiledPattern)},
		dir:     dir,
		modTime: make(map[string]time.Time),
	}
}

// LoadDir reads every *.yaml/*.yml file under dir, compiles all patterns,
// and — only if every priority group ends up non-empty — atomically
// replaces the active set. A malformed regex marks that single pattern
// disabled with a load-time warning rather than failing the whole load.
func (pm *PatternMatcher) LoadDir() error {
	files, err := filepath.Glob(filepath.Join(pm.dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("glob patterns dir: %w", err)
	}
	ymlFiles, err := filepath.Glob(filepath.Join(pm.dir, "*.yml"))
	if err != nil {
		return fmt.Errorf("glob patterns dir: %w", err)
	}
	files = append(files, ymlFiles...)

	var specs []domain.PatternSpec
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			obslog.Error("classify", "read pattern file %s: %v", f, err)
			continue
		}
		var fileSpecs []domain.PatternSpec
		if err := yaml.Unmarshal(data, &fileSpecs); err != nil {
			obslog.Error("classify", "parse pattern file %s: %v", f, err)
			continue
		}
		specs = append(specs, fileSpecs...)
	}

	next, err := compileSet(specs)
	if err != nil {
		return err
	}
	if err := validateComplete(next); err != nil {
		return fmt.Errorf("pattern set rejected, keeping previous: %w", err)
	}

	pm.mu.Lock()
	pm.active = next
	pm.mu.Unlock()
	obslog.Info("classify", "loaded pattern set from %s", pm.dir)
	return nil
}

// LoadSpecs compiles and atomically installs specs directly, bypassing
// the filesystem. Used by tests and by patterncheck's validate-only path.
func (pm *PatternMatcher) LoadSpecs(specs []domain.PatternSpec) error {
	next, err := compileSet(specs)
	if err != nil {
		return err
	}
	if err := validateComplete(next); err != nil {
		return err
	}
	pm.mu.Lock()
	pm.active = next
	pm.mu.Unlock()
	return nil
}

// LoadSpecsFromFile reads a single YAML pattern file into a slice of
// PatternSpec without compiling or installing it. Used by operational
// tooling that validates a candidate file against the full pattern set
// it would join, rather than loading a whole directory.
func LoadSpecsFromFile(path string) ([]domain.PatternSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file %s: %w", path, err)
	}
	var specs []domain.PatternSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse pattern file %s: %w", path, err)
	}
	return specs, nil
}

func compileSet(specs []domain.PatternSpec) (*patternSet, error) {
	ps := &patternSet{byGroup: make(map[domain.PriorityGroup][]compiledPattern)}
	for _, s := range specs {
		group := parseGroup(s.Group)
		if !s.Enabled {
			continue
		}
		re, err := regexp.Compile("(?i)" + s.Pattern)
		if err != nil {
			obslog.Error("classify", "pattern %s disabled, compile error: %v", s.ID, err)
			continue
		}
		ps.byGroup[group] = append(ps.byGroup[group], compiledPattern{spec: s, re: re})
	}
	return ps, nil
}

// validateComplete enforces §4.2's "only if every required group is
// non-empty does it replace the active set."
func validateComplete(ps *patternSet) error {
	var missing []string
	for _, g := range domain.PriorityGroupOrder {
		if len(ps.byGroup[g]) == 0 {
			missing = append(missing, g.String())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("empty priority groups: %v", missing)
	}
	return nil
}

func parseGroup(name string) domain.PriorityGroup {
	switch name {
	case "emergency":
		return domain.GroupEmergency
	case "instant":
		return domain.GroupInstant
	case "gesture":
		return domain.GroupGesture
	case "action":
		return domain.GroupAction
	case "memory":
		return domain.GroupMemory
	case "query":
		return domain.GroupQuery
	default:
		return domain.GroupQuery
	}
}

// Match evaluates the active pattern set against normalized text in the
// fixed group order, first match wins within and across groups.
func (pm *PatternMatcher) Match(normalized string) (domain.Classification, bool) {
	pm.mu.RLock()
	ps := pm.active
	pm.mu.RUnlock()

	for _, group := range domain.PriorityGroupOrder {
		for _, cp := range ps.byGroup[group] {
			if cp.re.MatchString(normalized) {
				return domain.Classification{
					Intent:           domain.GroupIntent(group),
					SubCategory:      cp.spec.SubCategory,
					Confidence:       cp.spec.Confidence,
					Source:           domain.SourcePattern,
					MatchedPatternID: cp.spec.ID,
				}, true
			}
		}
	}
	return domain.Classification{}, false
}
