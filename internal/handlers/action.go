package handlers

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/extiface"
	"github.com/trfife/barnabeenet/internal/faults"
	"github.com/trfife/barnabeenet/internal/obslog"
	"github.com/trfife/barnabeenet/internal/smarthome"
	"github.com/trfife/barnabeenet/internal/undo"
)

var coordinatingConjunction = regexp.MustCompile(`(?i)\s+and\s+`)

// serviceVerbs maps a leading verb token to a platform service name, used
// both to detect a clause's intended service and to carry shared verb
// semantics into a second clause that omits it ("turn on lights and play
// music" - "play" is its own verb, but "and the fan" after "turn on
// lights" inherits "turn on").
var serviceVerbs = map[string]string{
	"turn":     "toggle", // resolved to turn_on/turn_off by the object phrase
	"dim":      "dim",
	"brighten": "brighten",
	"open":     "open",
	"close":    "close",
	"lock":     "lock",
	"unlock":   "unlock",
	"play":     "play",
	"pause":    "pause",
	"stop":     "stop",
	"set":      "set",
}

// Action implements the Action handler (C9): clause splitting, entity
// resolution, concurrent service dispatch, and undo snapshotting.
//
// Grounded on internal/effectors/discord.go's concurrent-dispatch /
// retry-state bookkeeping style, generalized from Discord message
// sending to smart-home service calls fanned out with
// golang.org/x/sync/errgroup instead of the teacher's bespoke polling
// loop, since the spec calls for a simple "dispatch concurrently,
// collect per-call results" rather than a retry daemon.
type Action struct {
	registry *smarthome.Registry
	platform extiface.SmartHomePlatform
	undoMgr  *undo.Manager
	timers   *smarthome.TimerPool

	mu           sync.Mutex
	activeTimers map[string]timerState // conversation id -> its running timer
}

// timerState tracks enough about a conversation's in-flight timer to
// cancel it or report its residual duration to the Undo Slot.
type timerState struct {
	slotID          string
	startedAt       time.Time
	durationSeconds float64
}

// NewAction wires an Action handler against its registry, platform,
// undo manager, and timer pool collaborators. timers may be nil, in
// which case timer sub-intents fail gracefully.
func NewAction(registry *smarthome.Registry, platform extiface.SmartHomePlatform, undoMgr *undo.Manager, timers *smarthome.TimerPool) *Action {
	return &Action{
		registry:     registry,
		platform:     platform,
		undoMgr:      undoMgr,
		timers:       timers,
		activeTimers: make(map[string]timerState),
	}
}

// clause is one resolved sub-command within a compound utterance.
type clause struct {
	verb    string
	object  string
	entries []smarthome.RegistryEntry
}

// Handle translates a classified action utterance into one or more
// service calls, snapshotting prior state into the Undo Slot before
// dispatch, and summarizing results. subCategory routes "undo that" and
// the timer sub-intents to their own handling instead of clause
// splitting; blockedDomains (from an applicable override rule, §6)
// excludes matching entities from dispatch entirely.
func (a *Action) Handle(ctx context.Context, req domain.Request, subCategory string, blockedDomains []string) faults.HandlerResult {
	switch subCategory {
	case "undo":
		return a.handleUndo(ctx, req.ConversationID)
	case "timer_set":
		return a.handleTimerSet(ctx, req)
	case "timer_cancel":
		return a.handleTimerCancel(ctx, req)
	}

	clauses := a.splitClauses(req.Utterance)
	if len(clauses) == 0 {
		return faults.Failed("I didn't catch what you wanted me to do.", faults.InputMalformed, "no actionable clauses parsed")
	}

	blocked := toDomainSet(blockedDomains)
	var calls []extiface.ServiceCall
	var entries []smarthome.RegistryEntry
	var blockedEntries []smarthome.RegistryEntry
	for _, c := range clauses {
		for _, e := range c.entries {
			if blocked[e.Domain] {
				blockedEntries = append(blockedEntries, e)
				continue
			}
			entries = append(entries, e)
			calls = append(calls, a.buildServiceCall(c, e))
		}
	}
	if len(calls) == 0 {
		if len(blockedEntries) > 0 {
			return faults.Degraded("That's blocked right now.", faults.Safety, "every resolved entity is in a blocked domain")
		}
		return faults.Failed("I couldn't find anything matching that in your home.", faults.InputMalformed, "no entities resolved")
	}

	a.snapshotUndo(ctx, req.ConversationID, entries)

	results, err := a.dispatch(ctx, calls)
	if err != nil {
		return faults.Failed("I couldn't reach your smart-home system right now.", faults.TransientExternal, err.Error())
	}

	res := a.summarize(entries, results)
	if len(blockedEntries) > 0 {
		res.Text = fmt.Sprintf("%s I can't touch %s right now.", res.Text, strings.Join(displayNames(blockedEntries), ", "))
	}
	return res
}

func toDomainSet(domains []string) map[string]bool {
	set := make(map[string]bool, len(domains))
	for _, d := range domains {
		set[d] = true
	}
	return set
}

func displayNames(entries []smarthome.RegistryEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		if e.DisplayName != "" {
			names[i] = e.DisplayName
		} else {
			names[i] = e.ID
		}
	}
	sort.Strings(names)
	return names
}

// splitClauses parses compound commands per §4.9 step 1: split on
// coordinating conjunctions, carrying the verb from the first clause
// into a later clause that omits it.
func (a *Action) splitClauses(normalized string) []clause {
	parts := coordinatingConjunction.Split(normalized, -1)
	var clauses []clause
	lastVerb := ""
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		verb, object := a.extractVerb(part)
		if verb == "" {
			verb = lastVerb
			object = part
		}
		if verb == "" {
			continue
		}
		lastVerb = verb
		entries := a.resolveObject(object)
		clauses = append(clauses, clause{verb: verb, object: object, entries: entries})
	}
	return clauses
}

func (a *Action) extractVerb(clauseText string) (verb, object string) {
	fields := strings.Fields(clauseText)
	if len(fields) == 0 {
		return "", ""
	}
	first := fields[0]
	if _, ok := serviceVerbs[first]; ok {
		return first, strings.TrimSpace(strings.Join(fields[1:], " "))
	}
	return "", clauseText
}

// resolveObject resolves a clause's object phrase against the registry:
// exact name, fuzzy match, area expansion, floor expansion, or named
// group expansion, in that order (§4.9 step 2).
func (a *Action) resolveObject(object string) []smarthome.RegistryEntry {
	if a.registry == nil {
		return nil
	}
	object = strings.TrimSuffix(object, " on")
	object = strings.TrimSuffix(object, " off")
	object = strings.TrimPrefix(object, "on ")
	object = strings.TrimPrefix(object, "off ")
	object = strings.TrimPrefix(object, "the ")

	if e, ok := a.registry.ResolveExact(object); ok {
		return []smarthome.RegistryEntry{e}
	}
	if e, ok := a.registry.ResolveFuzzy(object); ok {
		return []smarthome.RegistryEntry{e}
	}
	if area, dom, ok := parseAreaPhrase(object); ok {
		if entries := a.registry.ResolveArea(area, dom); len(entries) > 0 {
			return entries
		}
		if entries := a.registry.ResolveFloor(area, dom); len(entries) > 0 {
			return entries
		}
	}
	if entries := a.registry.ResolveGroup(object); len(entries) > 0 {
		return entries
	}
	return nil
}

// parseAreaPhrase recognizes "<domain?> in <area>" or "<area> <domain>"
// shapes like "lights in kitchen" or "kitchen lights".
func parseAreaPhrase(object string) (area, dom string, ok bool) {
	if idx := strings.Index(object, " in "); idx >= 0 {
		domWord := strings.TrimSpace(object[:idx])
		area = strings.TrimSpace(object[idx+4:])
		return area, singularDomain(domWord), area != ""
	}
	fields := strings.Fields(object)
	if len(fields) >= 2 {
		dom = singularDomain(fields[len(fields)-1])
		if dom != "" {
			return strings.Join(fields[:len(fields)-1], " "), dom, true
		}
	}
	return "", "", false
}

func singularDomain(word string) string {
	switch strings.ToLower(strings.TrimSuffix(word, "s")) {
	case "light":
		return "light"
	case "lock":
		return "lock"
	case "climate", "thermostat":
		return "climate"
	case "cover", "blind", "shade":
		return "cover"
	}
	return ""
}

func (a *Action) buildServiceCall(c clause, e smarthome.RegistryEntry) extiface.ServiceCall {
	service := c.verb
	if c.verb == "turn" {
		if strings.Contains(c.object, "off") {
			service = "turn_off"
		} else {
			service = "turn_on"
		}
	}
	return extiface.ServiceCall{EntityID: e.ID, Service: service}
}

// snapshotUndo captures pre-action state for every target entity before
// dispatch (§4.9 step 3).
func (a *Action) snapshotUndo(ctx context.Context, conversationID string, entries []smarthome.RegistryEntry) {
	if a.undoMgr == nil || a.platform == nil {
		return
	}
	for _, e := range entries {
		state, err := a.platform.GetState(ctx, e.ID)
		if err != nil {
			obslog.Error("handlers", "snapshot state for undo failed for %s: %v", e.ID, err)
			continue
		}
		a.undoMgr.Push(conversationID, undo.Slot{
			EntityID: e.ID,
			Kind:     undoKindForDomain(e.Domain),
			Snapshot: state.Attributes,
		})
	}
}

// handleUndo pops the conversation's most recent Undo Slot and issues
// the inverse service call for it (§4.9 Undo, §8's "applying an action
// then undo returns every touched entity to byte-equal pre-action
// state"). Timer slots restore through the pool instead of a single
// inverse call since acquiring/releasing a slot has no service-call
// analogue.
func (a *Action) handleUndo(ctx context.Context, conversationID string) faults.HandlerResult {
	if a.undoMgr == nil {
		return faults.Failed("There's nothing for me to undo.", faults.InputMalformed, "no undo manager configured")
	}
	slot, ok := a.undoMgr.Pop(conversationID)
	if !ok {
		return faults.Failed("There's nothing for me to undo.", faults.InputMalformed, "undo ring empty")
	}

	if slot.Kind == undo.ActionTimer {
		return a.undoTimer(ctx, conversationID, slot)
	}

	call, err := inverseServiceCall(slot)
	if err != nil {
		return faults.Failed("I couldn't figure out how to undo that.", faults.InternalInvariant, err.Error())
	}
	if a.platform == nil {
		return faults.Failed("I couldn't reach your smart-home system right now.", faults.TransientExternal, "no platform configured")
	}
	results, err := a.platform.CallService(ctx, []extiface.ServiceCall{*call})
	if err != nil {
		return faults.Failed("I couldn't reach your smart-home system right now.", faults.TransientExternal, err.Error())
	}
	if len(results) > 0 && results[0].Err != nil {
		return faults.Degraded("I couldn't undo that.", faults.TransientExternal, results[0].Err.Error())
	}
	return faults.OK("Done — undone.")
}

// inverseServiceCall derives the service call that restores slot's
// entity to the state it captured, per domain kind (§4.9: "lights
// restore brightness, climate restores setpoint, covers restore
// position").
func inverseServiceCall(slot undo.Slot) (*extiface.ServiceCall, error) {
	switch slot.Kind {
	case undo.ActionLight:
		state, _ := slot.Snapshot["state"].(string)
		if state == "off" {
			return &extiface.ServiceCall{EntityID: slot.EntityID, Service: "turn_off"}, nil
		}
		data := map[string]any{}
		for _, k := range []string{"brightness", "color", "temp"} {
			if v, ok := slot.Snapshot[k]; ok {
				data[k] = v
			}
		}
		return &extiface.ServiceCall{EntityID: slot.EntityID, Service: "turn_on", Data: data}, nil
	case undo.ActionClimate:
		data := map[string]any{}
		for _, k := range []string{"setpoint", "mode", "fan"} {
			if v, ok := slot.Snapshot[k]; ok {
				data[k] = v
			}
		}
		return &extiface.ServiceCall{EntityID: slot.EntityID, Service: "set_temperature", Data: data}, nil
	case undo.ActionCover:
		data := map[string]any{}
		if v, ok := slot.Snapshot["position"]; ok {
			data["position"] = v
		}
		return &extiface.ServiceCall{EntityID: slot.EntityID, Service: "set_position", Data: data}, nil
	default:
		return nil, fmt.Errorf("no inverse call known for undo kind %q", slot.Kind)
	}
}

// parseTimerDuration recognizes one or more "<n> <unit>" quantities in
// an utterance ("set a timer for 1 hour 30 minutes") and sums them.
var timerDurationPattern = regexp.MustCompile(`(\d+)\s*(hour|hr|minute|min|second|sec)s?\b`)

func parseTimerDuration(utterance string) (time.Duration, bool) {
	matches := timerDurationPattern.FindAllStringSubmatch(strings.ToLower(utterance), -1)
	if len(matches) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(m[2], "hour") || m[2] == "hr":
			total += time.Duration(n) * time.Hour
		case strings.HasPrefix(m[2], "min"):
			total += time.Duration(n) * time.Minute
		case strings.HasPrefix(m[2], "sec"):
			total += time.Duration(n) * time.Second
		}
	}
	if total == 0 {
		return 0, false
	}
	return total, true
}

// handleTimerSet acquires a slot from the fixed timer pool FIFO,
// starts it on the platform, and records both the active-timer state
// (for a later cancel) and an Undo Slot (for a later undo) (§4.9).
func (a *Action) handleTimerSet(ctx context.Context, req domain.Request) faults.HandlerResult {
	if a.timers == nil {
		return faults.Failed("Timers aren't available right now.", faults.InternalInvariant, "no timer pool configured")
	}
	duration, ok := parseTimerDuration(req.Utterance)
	if !ok {
		return faults.Failed("I didn't catch how long to set the timer for.", faults.InputMalformed, "could not parse timer duration")
	}
	slotID, ok := a.timers.Acquire()
	if !ok {
		return faults.Degraded("All my timer slots are busy right now.", faults.TransientExternal, "timer pool exhausted")
	}
	if a.platform == nil {
		a.timers.Release(slotID)
		return faults.Failed("I couldn't reach your smart-home system right now.", faults.TransientExternal, "no platform configured")
	}
	if _, err := a.platform.CallService(ctx, []extiface.ServiceCall{
		{EntityID: slotID, Service: "start", Data: map[string]any{"duration_seconds": duration.Seconds()}},
	}); err != nil {
		a.timers.Release(slotID)
		return faults.Degraded("I couldn't start that timer.", faults.TransientExternal, err.Error())
	}

	a.mu.Lock()
	a.activeTimers[req.ConversationID] = timerState{slotID: slotID, startedAt: time.Now(), durationSeconds: duration.Seconds()}
	a.mu.Unlock()

	if a.undoMgr != nil {
		a.undoMgr.Push(req.ConversationID, undo.Slot{EntityID: slotID, Kind: undo.ActionTimer, Snapshot: map[string]any{"op": "created"}})
	}
	return faults.OK(fmt.Sprintf("Timer set for %s.", duration))
}

// handleTimerCancel releases the conversation's active timer slot back
// to the pool and records an Undo Slot carrying its residual duration
// so undo can recreate it.
func (a *Action) handleTimerCancel(ctx context.Context, req domain.Request) faults.HandlerResult {
	if a.timers == nil {
		return faults.Failed("Timers aren't available right now.", faults.InternalInvariant, "no timer pool configured")
	}
	a.mu.Lock()
	ts, ok := a.activeTimers[req.ConversationID]
	if ok {
		delete(a.activeTimers, req.ConversationID)
	}
	a.mu.Unlock()
	if !ok {
		return faults.Failed("I don't have a timer running to cancel.", faults.InputMalformed, "no active timer for conversation")
	}

	if a.platform != nil {
		if _, err := a.platform.CallService(ctx, []extiface.ServiceCall{{EntityID: ts.slotID, Service: "cancel"}}); err != nil {
			obslog.Error("handlers", "cancel timer %s: %v", ts.slotID, err)
		}
	}
	if err := a.timers.Release(ts.slotID); err != nil {
		obslog.Error("handlers", "release timer slot %s: %v", ts.slotID, err)
	}

	if a.undoMgr != nil {
		residual := ts.durationSeconds - time.Since(ts.startedAt).Seconds()
		if residual < 0 {
			residual = 0
		}
		a.undoMgr.Push(req.ConversationID, undo.Slot{EntityID: ts.slotID, Kind: undo.ActionTimer, Snapshot: map[string]any{"op": "canceled", "duration_seconds": residual}})
	}
	return faults.OK("Timer canceled.")
}

// undoTimer reverses a timer sub-intent: undoing a creation cancels and
// releases the slot; undoing a cancellation reacquires a slot and
// restarts the timer for its residual duration.
func (a *Action) undoTimer(ctx context.Context, conversationID string, slot undo.Slot) faults.HandlerResult {
	if a.timers == nil {
		return faults.Failed("Timers aren't available right now.", faults.InternalInvariant, "no timer pool configured")
	}
	op, _ := slot.Snapshot["op"].(string)
	switch op {
	case "created":
		if a.platform != nil {
			if _, err := a.platform.CallService(ctx, []extiface.ServiceCall{{EntityID: slot.EntityID, Service: "cancel"}}); err != nil {
				obslog.Error("handlers", "cancel timer %s during undo: %v", slot.EntityID, err)
			}
		}
		a.mu.Lock()
		delete(a.activeTimers, conversationID)
		a.mu.Unlock()
		if err := a.timers.Release(slot.EntityID); err != nil {
			obslog.Error("handlers", "release timer slot %s during undo: %v", slot.EntityID, err)
		}
		return faults.OK("Timer canceled.")
	case "canceled":
		slotID, ok := a.timers.Acquire()
		if !ok {
			return faults.Degraded("All my timer slots are busy right now.", faults.TransientExternal, "timer pool exhausted")
		}
		duration, _ := slot.Snapshot["duration_seconds"].(float64)
		if a.platform != nil {
			if _, err := a.platform.CallService(ctx, []extiface.ServiceCall{
				{EntityID: slotID, Service: "start", Data: map[string]any{"duration_seconds": duration}},
			}); err != nil {
				a.timers.Release(slotID)
				return faults.Degraded("I couldn't restart that timer.", faults.TransientExternal, err.Error())
			}
		}
		a.mu.Lock()
		a.activeTimers[conversationID] = timerState{slotID: slotID, startedAt: time.Now(), durationSeconds: duration}
		a.mu.Unlock()
		return faults.OK("Timer restarted.")
	default:
		return faults.Failed("I couldn't figure out how to undo that.", faults.InternalInvariant, "unknown timer undo operation")
	}
}

func undoKindForDomain(entityDomain string) undo.ActionKind {
	switch entityDomain {
	case "light":
		return undo.ActionLight
	case "climate":
		return undo.ActionClimate
	case "cover":
		return undo.ActionCover
	default:
		return undo.ActionGeneric
	}
}

// dispatch fans service calls out concurrently via errgroup and rejoins
// (§4.9 step 4, §5's "Action-handler service calls fan out across sibling
// tasks and rejoin").
func (a *Action) dispatch(ctx context.Context, calls []extiface.ServiceCall) ([]extiface.ServiceCallResult, error) {
	if a.platform == nil {
		return nil, fmt.Errorf("handlers: no smart-home platform configured")
	}
	// CallService already accepts a batch; fan-out per call still uses
	// errgroup so a slow or failing target cannot block the others when
	// the platform implementation dispatches per-entity internally.
	results := make([]extiface.ServiceCallResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			res, err := a.platform.CallService(gctx, []extiface.ServiceCall{call})
			if err != nil {
				results[i] = extiface.ServiceCallResult{EntityID: call.EntityID, Err: err}
				return nil
			}
			if len(res) > 0 {
				results[i] = res[0]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// summarize produces a single natural-language response naming
// successes and failures; partial failure is reported but not fatal
// (§4.9 step 5).
func (a *Action) summarize(entries []smarthome.RegistryEntry, results []extiface.ServiceCallResult) faults.HandlerResult {
	var succeeded, failed []string
	for i, r := range results {
		name := entries[i].DisplayName
		if name == "" {
			name = entries[i].ID
		}
		if r.Err != nil {
			failed = append(failed, name)
		} else {
			succeeded = append(succeeded, name)
		}
	}
	sort.Strings(succeeded)
	sort.Strings(failed)

	switch {
	case len(failed) == 0:
		return faults.OK(fmt.Sprintf("Done — %s.", strings.Join(succeeded, ", ")))
	case len(succeeded) == 0:
		return faults.Degraded(fmt.Sprintf("I couldn't reach %s.", strings.Join(failed, ", ")), faults.TransientExternal, "all targets failed")
	default:
		text := fmt.Sprintf("Done for %s, but I couldn't reach %s.", strings.Join(succeeded, ", "), strings.Join(failed, ", "))
		return faults.Degraded(text, faults.TransientExternal, "partial failure")
	}
}
