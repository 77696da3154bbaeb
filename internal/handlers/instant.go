// Package handlers implements the four intent-specific handlers: Instant
// (C8), Action (C9), Conversation (C10), and Memory-op (C11).
package handlers

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/faults"
)

// jokes is the static deterministic joke/fact bag (§4.8). A real
// deployment would load a larger set from configuration; this is the
// built-in minimum.
var jokes = []string{
	"Why did the smart bulb break up with the dimmer switch? It needed space to brighten up on its own.",
	"I told my thermostat a joke about global warming. It's still warming up to it.",
	"Why don't robots ever panic? They always keep their cool, unless the AC is broken.",
	"What did the smart lock say to the key? You complete me, but I don't need you anymore.",
}

// Instant implements the Instant handler (C8): pure-function dispatch on
// sub_category, never touching the network. Grounded on
// internal/reflex's ActionRegistry (map[string]Action with a
// func(ctx, params, vars) (any, error) signature), restricted here to
// the zero-network operation set §4.8 requires, and on
// internal/executive/session_manager.go's generateSessionID for the
// deterministic per-request-id seeding pattern used by the joke bag.
type Instant struct {
	mu           sync.Mutex
	lastResponse map[string]string // conversation id -> last response text, for "repeat that"
}

// NewInstant constructs an Instant handler with an empty repeat-slot map.
func NewInstant() *Instant {
	return &Instant{lastResponse: make(map[string]string)}
}

// Handle dispatches on subCategory. now is injected so time/date
// responses are deterministic in tests.
func (h *Instant) Handle(req domain.Request, subCategory string, now time.Time) faults.HandlerResult {
	var text string
	switch subCategory {
	case "time":
		text = fmt.Sprintf("It's %s.", now.Format("3:04 PM"))
	case "date":
		text = fmt.Sprintf("Today is %s.", now.Format("Monday, January 2"))
	case "arithmetic":
		text = h.arithmetic(req.Utterance)
	case "unit_conversion":
		text = h.unitConversion(req.Utterance)
	case "joke":
		text = h.joke(req.ID)
	case "repeat":
		text = h.repeat(req.ConversationID)
	default:
		return faults.Failed("I'm not sure how to help with that instantly.", faults.InputMalformed, "unknown instant sub_category: "+subCategory)
	}

	if req.ConversationID != "" {
		h.mu.Lock()
		h.lastResponse[req.ConversationID] = text
		h.mu.Unlock()
	}
	return faults.OK(text)
}

// HandleEmergency produces a calm, urgent acknowledgment for an
// Emergency-intent request (§4.13 example: "help there's smoke in the
// kitchen" must get a calm-urgent response independent of notification
// delivery). It never fails: an emergency utterance always gets some
// acknowledgment back to the speaker.
func (h *Instant) HandleEmergency(req domain.Request, subCategory string, now time.Time) faults.HandlerResult {
	text := "I've flagged this as an emergency and notified the household. Please call for help right away if you're in danger."
	if subCategory != "" {
		text = fmt.Sprintf("I've flagged this as a %s emergency and notified the household. Please call for help right away if you're in danger.", subCategory)
	}
	if req.ConversationID != "" {
		h.mu.Lock()
		h.lastResponse[req.ConversationID] = text
		h.mu.Unlock()
	}
	return faults.OK(text)
}

// HandleGesture produces a brief acknowledgment for a Gesture-intent
// request (a non-verbal trigger routed through the same text pipeline).
func (h *Instant) HandleGesture(req domain.Request, subCategory string, now time.Time) faults.HandlerResult {
	text := "Got it."
	if req.ConversationID != "" {
		h.mu.Lock()
		h.lastResponse[req.ConversationID] = text
		h.mu.Unlock()
	}
	return faults.OK(text)
}

func (h *Instant) repeat(conversationID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.lastResponse[conversationID]; ok {
		return last
	}
	return "I don't have anything to repeat yet."
}

// joke seeds a deterministic index from the request id, per §4.8's
// "deterministic seed per request id for reproducibility in tests."
func (h *Instant) joke(requestID string) string {
	hasher := fnv.New32a()
	hasher.Write([]byte(requestID))
	idx := int(hasher.Sum32()) % len(jokes)
	if idx < 0 {
		idx += len(jokes)
	}
	return jokes[idx]
}

// arithmetic supports simple "what is X plus/minus/times/divided by Y"
// clock/unit-style math on the normalized utterance's numeric tokens.
func (h *Instant) arithmetic(utterance string) string {
	op, a, b, ok := parseArithmetic(utterance)
	if !ok {
		return "I couldn't work out that calculation."
	}
	var result float64
	switch op {
	case "plus":
		result = a + b
	case "minus":
		result = a - b
	case "times":
		result = a * b
	case "divided":
		if b == 0 {
			return "I can't divide by zero."
		}
		result = a / b
	}
	return fmt.Sprintf("That's %s.", trimTrailingZero(result))
}

// unitConversionPattern pulls a quantity, source unit, and target unit
// out of "convert 10 miles to kilometers" / "what's 5 pounds in kg"
// style phrasings.
var unitConversionPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([a-z]+)s?\s+(?:to|in)\s+([a-z]+)s?`)

// unitFactors converts a source unit to a canonical base unit (meters,
// kilograms, or liters) by multiplication; temperature is handled
// separately since it isn't a linear factor through zero.
var unitFactors = map[string]float64{
	"mile": 1609.344, "miles": 1609.344, "mi": 1609.344,
	"kilometer": 1000, "km": 1000,
	"meter": 1, "m": 1,
	"foot": 0.3048, "feet": 0.3048, "ft": 0.3048,
	"inch": 0.0254, "in": 0.0254,
	"pound": 0.45359237, "lb": 0.45359237, "lbs": 0.45359237,
	"kilogram": 1, "kg": 1,
	"ounce": 0.028349523125, "oz": 0.028349523125,
	"gram": 0.001, "g": 0.001,
	"gallon": 3.785411784, "gal": 3.785411784,
	"liter": 1, "l": 1,
	"cup": 0.2365882365,
}

// unitDimension groups units sharing a base so a cross-dimension
// conversion ("miles to kilograms") is rejected rather than silently
// computed.
var unitDimension = map[string]string{
	"mile": "length", "miles": "length", "mi": "length",
	"kilometer": "length", "km": "length",
	"meter": "length", "m": "length",
	"foot": "length", "feet": "length", "ft": "length",
	"inch": "length", "in": "length",
	"pound": "mass", "lb": "mass", "lbs": "mass",
	"kilogram": "mass", "kg": "mass",
	"ounce": "mass", "oz": "mass",
	"gram": "mass", "g": "mass",
	"gallon": "volume", "gal": "volume",
	"liter": "volume", "l": "volume",
	"cup": "volume",
}

// unitConversion handles §4.8's minimum unit-conversion requirement:
// length, mass, volume (linear factor through a common base unit) and
// celsius/fahrenheit temperature (affine, handled separately).
func (h *Instant) unitConversion(utterance string) string {
	text := strings.ToLower(utterance)

	if strings.Contains(text, "celsius") || strings.Contains(text, "fahrenheit") {
		if text, ok := h.temperatureConversion(text); ok {
			return text
		}
	}

	m := unitConversionPattern.FindStringSubmatch(text)
	if m == nil {
		return "I couldn't work out that conversion."
	}
	qty, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "I couldn't work out that conversion."
	}
	from, to := singularUnit(m[2]), singularUnit(m[3])
	fromFactor, fromOK := unitFactors[from]
	toFactor, toOK := unitFactors[to]
	if !fromOK || !toOK || unitDimension[from] != unitDimension[to] {
		return "I couldn't work out that conversion."
	}
	result := qty * fromFactor / toFactor
	return fmt.Sprintf("That's %s %s.", trimTrailingZero(result), to)
}

func singularUnit(u string) string {
	if unitFactors[u] != 0 {
		return u
	}
	return strings.TrimSuffix(u, "s")
}

// temperatureConversion handles "X celsius to fahrenheit" and the
// reverse; ok is false if the phrasing doesn't name both a quantity and
// a recognized temperature unit pair.
func (h *Instant) temperatureConversion(text string) (string, bool) {
	m := unitConversionPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	qty, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", false
	}
	from, to := strings.HasPrefix(m[2], "celsius"), strings.HasPrefix(m[3], "fahrenheit")
	switch {
	case from && to:
		return fmt.Sprintf("That's %s fahrenheit.", trimTrailingZero(qty*9/5+32)), true
	case strings.HasPrefix(m[2], "fahrenheit") && strings.HasPrefix(m[3], "celsius"):
		return fmt.Sprintf("That's %s celsius.", trimTrailingZero((qty-32)*5/9)), true
	default:
		return "", false
	}
}

func trimTrailingZero(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return s
}

var arithmeticOps = map[string]bool{"plus": true, "minus": true, "times": true, "divided": true}

func parseArithmetic(utterance string) (op string, a, b float64, ok bool) {
	fields := strings.Fields(strings.ToLower(utterance))
	var nums []float64
	var foundOp string
	for _, f := range fields {
		if arithmeticOps[f] {
			foundOp = f
			continue
		}
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			nums = append(nums, v)
		}
	}
	if foundOp == "" || len(nums) < 2 {
		return "", 0, 0, false
	}
	return foundOp, nums[0], nums[1], true
}
