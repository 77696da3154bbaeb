// Package override implements the user-, room-, and time-scoped
// override rules table from §6's configuration surface: deterministic
// matching by (scope specificity, rule priority), first match wins per
// scope.
//
// Grounded on internal/reflex/types.go's Trigger/MatchResult shape
// (a declarative predicate evaluated against inbound data, producing a
// structured match outcome), generalized from regex-over-text matching
// to gojq-over-structured-request matching since override predicates
// need to inspect fields (speaker, room, hour) rather than utterance
// text.
package override

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/obslog"
)

// Scope names which dimensions a Rule is restricted to. An empty field
// means "any" for that dimension.
type Scope struct {
	User        string `yaml:"user"`
	Room        string `yaml:"room"`
	StartHour   int    `yaml:"-"` // inclusive, [0,24)
	EndHour     int    `yaml:"-"` // exclusive
	HasTimeband bool   `yaml:"-"`
}

// scopeYAML is the raw YAML shape of a Scope. start_hour/end_hour are
// pointers so a config author omitting both (the common case) is
// distinguishable from explicitly pinning a 00:00-00:00 band, which
// UnmarshalYAML needs to set HasTimeband correctly.
type scopeYAML struct {
	User      string `yaml:"user"`
	Room      string `yaml:"room"`
	StartHour *int   `yaml:"start_hour"`
	EndHour   *int   `yaml:"end_hour"`
}

// UnmarshalYAML implements yaml.v3's Unmarshaler so a config-loaded Scope
// gets the same HasTimeband bookkeeping a programmatically constructed
// one gets, rather than silently dropping any configured timeband.
func (s *Scope) UnmarshalYAML(value *yaml.Node) error {
	var raw scopeYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.User = raw.User
	s.Room = raw.Room
	if raw.StartHour != nil && raw.EndHour != nil {
		s.HasTimeband = true
		s.StartHour = *raw.StartHour
		s.EndHour = *raw.EndHour
	}
	return nil
}

// specificity counts how many scope dimensions are pinned. More pinned
// dimensions ranks a rule as more specific.
func (s Scope) specificity() int {
	n := 0
	if s.User != "" {
		n++
	}
	if s.Room != "" {
		n++
	}
	if s.HasTimeband {
		n++
	}
	return n
}

func (s Scope) matches(req domain.Request, now time.Time) bool {
	if s.User != "" && s.User != req.Speaker {
		return false
	}
	if s.Room != "" && s.Room != req.Room {
		return false
	}
	if s.HasTimeband {
		h := now.Hour()
		if s.StartHour <= s.EndHour {
			if h < s.StartHour || h >= s.EndHour {
				return false
			}
		} else {
			// wraps past midnight, e.g. 22-6
			if h < s.StartHour && h >= s.EndHour {
				return false
			}
		}
	}
	return true
}

// Mutation is the set of response-shaping overrides a matched rule
// applies. Nil fields are left at their configured default.
type Mutation struct {
	ResponseVolume        *float64 `yaml:"response_volume,omitempty"`
	BlockedDomains        []string `yaml:"blocked_domains,omitempty"`
	ConfirmationThreshold *float64 `yaml:"confirmation_threshold,omitempty"`
}

// Rule is a single declarative override: a scope, a priority (higher
// wins among equally specific rules), an optional gojq predicate over
// the request's JSON projection, and the mutation it applies.
type Rule struct {
	ID        string   `yaml:"id"`
	Scope     Scope    `yaml:"scope"`
	Priority  int      `yaml:"priority"`
	Predicate string   `yaml:"predicate"` // gojq expression; empty means "always true" within scope
	Mutation  Mutation `yaml:"mutation"`

	compiled *gojq.Code
}

// compile parses and compiles the rule's gojq predicate, if any.
func (r *Rule) compile() error {
	if r.Predicate == "" {
		return nil
	}
	query, err := gojq.Parse(r.Predicate)
	if err != nil {
		return fmt.Errorf("override rule %s: parse predicate: %w", r.ID, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("override rule %s: compile predicate: %w", r.ID, err)
	}
	r.compiled = code
	return nil
}

// requestProjection is the JSON shape a rule's predicate is evaluated
// against.
type requestProjection struct {
	Speaker string `json:"speaker"`
	Room    string `json:"room"`
	Hour    int    `json:"hour"`
}

func (r *Rule) predicateMatches(req domain.Request, now time.Time) bool {
	if r.compiled == nil {
		return true
	}
	proj := requestProjection{Speaker: req.Speaker, Room: req.Room, Hour: now.Hour()}
	raw, err := json.Marshal(proj)
	if err != nil {
		obslog.Error("override", "marshal request projection for rule %s: %v", r.ID, err)
		return false
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		obslog.Error("override", "unmarshal request projection for rule %s: %v", r.ID, err)
		return false
	}
	iter := r.compiled.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false
	}
	if err, isErr := v.(error); isErr {
		obslog.Error("override", "evaluate predicate for rule %s: %v", r.ID, err)
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Table holds the compiled, priority-sorted override rule set and
// resolves the single applicable Mutation for a request.
//
// Rules are stored already sorted by (specificity desc, priority desc)
// so Resolve is a linear first-match scan, matching §6's "deterministic
// by (scope specificity, rule priority); first-match wins".
type Table struct {
	rules []*Rule
}

// NewTable compiles rules and sorts them into match-priority order.
// A rule with an unparseable predicate is skipped with a logged
// warning rather than failing the whole table load, matching the
// pattern set's "never fail the whole load for one bad entry" posture.
func NewTable(rules []Rule) *Table {
	t := &Table{}
	for i := range rules {
		r := rules[i]
		if err := r.compile(); err != nil {
			obslog.Error("override", "skipping rule %s: %v", r.ID, err)
			continue
		}
		t.rules = append(t.rules, &r)
	}
	sort.SliceStable(t.rules, func(i, j int) bool {
		si, sj := t.rules[i].Scope.specificity(), t.rules[j].Scope.specificity()
		if si != sj {
			return si > sj
		}
		return t.rules[i].Priority > t.rules[j].Priority
	})
	return t
}

// Resolve returns the first matching rule's Mutation, or the zero
// Mutation if nothing matches.
func (t *Table) Resolve(req domain.Request, now time.Time) (Mutation, bool) {
	for _, r := range t.rules {
		if !r.Scope.matches(req, now) {
			continue
		}
		if !r.predicateMatches(req, now) {
			continue
		}
		return r.Mutation, true
	}
	return Mutation{}, false
}
