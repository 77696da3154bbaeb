// Package smarthome implements entity resolution against the smart-home
// platform registry (§4.9 step 2): exact name, fuzzy match, area
// expansion, floor expansion, and named group expansion.
package smarthome

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/extiface"
)

// RegistryEntry extends domain.EntityRef with the floor tag needed for
// floor expansion, which the core-wide EntityRef does not carry since
// most callers only need area/domain.
type RegistryEntry struct {
	domain.EntityRef
	Floor string
}

// Registry caches the platform's entity list and resolves utterance
// fragments to concrete entity ids. The core never fabricates entries;
// Refresh is the only way new entities enter the cache.
type Registry struct {
	platform extiface.SmartHomePlatform

	mu      sync.RWMutex
	byID    map[string]RegistryEntry
	byName  map[string]string // lower-cased display name -> id
	groups  map[string][]string
	floors  map[string]string // area -> floor, configured statically
}

// NewRegistry wires a Registry against its platform collaborator. Named
// groups ("downstairs lights" -> entity ids) and the area->floor map are
// supplied via configuration since the platform itself has no floor
// concept in its four core operations (§6).
func NewRegistry(platform extiface.SmartHomePlatform, groups map[string][]string, floors map[string]string) *Registry {
	if groups == nil {
		groups = make(map[string][]string)
	}
	if floors == nil {
		floors = make(map[string]string)
	}
	return &Registry{
		platform: platform,
		byID:     make(map[string]RegistryEntry),
		byName:   make(map[string]string),
		groups:   groups,
		floors:   floors,
	}
}

// Refresh re-fetches the entity list from the platform and rebuilds the
// local cache. The core never fabricates entities; this is the only
// write path into the registry's id/name indices.
func (r *Registry) Refresh(ctx context.Context) error {
	entities, err := r.platform.ListEntities(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]RegistryEntry, len(entities))
	byName := make(map[string]string, len(entities))
	for _, e := range entities {
		entry := RegistryEntry{
			EntityRef: domain.EntityRef{ID: e.ID, DisplayName: e.DisplayName, Area: e.Area, Domain: e.Domain},
			Floor:     r.floors[e.Area],
		}
		byID[e.ID] = entry
		byName[strings.ToLower(e.DisplayName)] = e.ID
	}

	r.mu.Lock()
	r.byID = byID
	r.byName = byName
	r.mu.Unlock()
	return nil
}

// ResolveExact returns an entity by exact (case-insensitive) display
// name.
func (r *Registry) ResolveExact(name string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return RegistryEntry{}, false
	}
	return r.byID[id], true
}

// ResolveFuzzy matches name against display names within edit distance
// <= 2, case-insensitive, returning the single closest match if exactly
// one candidate ties for the minimum distance within the threshold.
func (r *Registry) ResolveFuzzy(name string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(name)
	bestDist := 3 // anything >2 is out of range
	var candidates []string
	for displayLower, id := range r.byName {
		d := levenshtein(lower, displayLower)
		if d < bestDist {
			bestDist = d
			candidates = []string{id}
		} else if d == bestDist {
			candidates = append(candidates, id)
		}
	}
	if bestDist > 2 || len(candidates) != 1 {
		return RegistryEntry{}, false
	}
	return r.byID[candidates[0]], true
}

// ResolveArea expands "lights in kitchen" style references: all entities
// of the given domain whose area tag matches, sorted by id for
// determinism.
func (r *Registry) ResolveArea(area, entityDomain string) []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RegistryEntry
	for _, e := range r.byID {
		if strings.EqualFold(e.Area, area) && (entityDomain == "" || e.Domain == entityDomain) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// ResolveFloor expands all entities of the given domain on the named
// floor.
func (r *Registry) ResolveFloor(floor, entityDomain string) []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RegistryEntry
	for _, e := range r.byID {
		if strings.EqualFold(e.Floor, floor) && (entityDomain == "" || e.Domain == entityDomain) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// ResolveGroup expands a configured named group ("downstairs lights") to
// its member entities.
func (r *Registry) ResolveGroup(name string) []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.groups[strings.ToLower(name)]
	if !ok {
		return nil
	}
	out := make([]RegistryEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.byID[id]; ok {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// EntitiesByDomain returns every registered entry of the given domain,
// sorted by id. Used to derive a fixed resource pool (e.g. the timer
// slot pool) from whatever entities the platform actually reports,
// rather than hard-coding ids the platform may not have.
func (r *Registry) EntitiesByDomain(entityDomain string) []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RegistryEntry
	for _, e := range r.byID {
		if e.Domain == entityDomain {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []RegistryEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}

// levenshtein computes edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
