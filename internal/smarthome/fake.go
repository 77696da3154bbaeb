package smarthome

import (
	"context"
	"sync"

	"github.com/trfife/barnabeenet/internal/extiface"
)

// FakePlatform is an in-memory SmartHomePlatform used by tests, grounded
// on internal/effectors/test.go's TestEffector (captures actions
// in-process instead of calling a real transport).
type FakePlatform struct {
	mu       sync.Mutex
	entities []extiface.EntityRef
	states   map[string]extiface.EntityState
	calls    []extiface.ServiceCall
	failFor  map[string]bool
}

// NewFakePlatform constructs a FakePlatform seeded with entities and
// initial states.
func NewFakePlatform(entities []extiface.EntityRef, states map[string]extiface.EntityState) *FakePlatform {
	if states == nil {
		states = make(map[string]extiface.EntityState)
	}
	return &FakePlatform{entities: entities, states: states, failFor: make(map[string]bool)}
}

// FailFor marks entityID's service calls to return an error, for testing
// the Action handler's partial-failure reporting.
func (f *FakePlatform) FailFor(entityID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[entityID] = true
}

func (f *FakePlatform) ListEntities(ctx context.Context) ([]extiface.EntityRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]extiface.EntityRef(nil), f.entities...), nil
}

func (f *FakePlatform) GetState(ctx context.Context, entityID string) (extiface.EntityState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[entityID], nil
}

func (f *FakePlatform) CallService(ctx context.Context, calls []extiface.ServiceCall) ([]extiface.ServiceCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]extiface.ServiceCallResult, len(calls))
	for i, c := range calls {
		f.calls = append(f.calls, c)
		if f.failFor[c.EntityID] {
			results[i] = extiface.ServiceCallResult{EntityID: c.EntityID, Err: errServiceUnavailable}
			continue
		}
		st := f.states[c.EntityID]
		if st.Attributes == nil {
			st.Attributes = make(map[string]any)
		}
		for k, v := range c.Data {
			st.Attributes[k] = v
		}
		st.Attributes["service"] = c.Service
		st.EntityID = c.EntityID
		f.states[c.EntityID] = st
		results[i] = extiface.ServiceCallResult{EntityID: c.EntityID}
	}
	return results, nil
}

func (f *FakePlatform) SubscribeStateChanges(ctx context.Context) (<-chan extiface.EntityState, error) {
	ch := make(chan extiface.EntityState)
	close(ch)
	return ch, nil
}

// Calls returns every service call recorded so far, for test assertions.
func (f *FakePlatform) Calls() []extiface.ServiceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]extiface.ServiceCall(nil), f.calls...)
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

var errServiceUnavailable = fakeErr("smarthome: service call failed")
