package orchestrator

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/trfife/barnabeenet/internal/classify"
	"github.com/trfife/barnabeenet/internal/convo"
	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/extiface"
	"github.com/trfife/barnabeenet/internal/handlers"
	"github.com/trfife/barnabeenet/internal/memstore"
	"github.com/trfife/barnabeenet/internal/safety"
	"github.com/trfife/barnabeenet/internal/smarthome"
	"github.com/trfife/barnabeenet/internal/undo"

	_ "modernc.org/sqlite"
)

// fakeOrchVectorIndex is a linear-scan memstore.VectorIndex.
type fakeOrchVectorIndex struct {
	vectors map[string][]float32
}

func newFakeOrchVectorIndex() *fakeOrchVectorIndex {
	return &fakeOrchVectorIndex{vectors: make(map[string][]float32)}
}

func (f *fakeOrchVectorIndex) Upsert(_ context.Context, id string, embedding []float32) error {
	f.vectors[id] = embedding
	return nil
}

func (f *fakeOrchVectorIndex) Delete(_ context.Context, id string) error {
	delete(f.vectors, id)
	return nil
}

func (f *fakeOrchVectorIndex) Search(_ context.Context, query []float32, topN int) ([]memstore.VectorMatch, error) {
	type scored struct {
		id  string
		sim float64
	}
	var all []scored
	for id, v := range f.vectors {
		var sum float64
		for i := range query {
			if i < len(v) {
				sum += float64(query[i]) * float64(v[i])
			}
		}
		all = append(all, scored{id: id, sim: sum})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if topN > 0 && len(all) > topN {
		all = all[:topN]
	}
	out := make([]memstore.VectorMatch, len(all))
	for i, s := range all {
		out[i] = memstore.VectorMatch{ID: s.id, Similarity: s.sim}
	}
	return out, nil
}

type fakeOrchEmbedder struct {
	vocab map[string]int
	dims  int
}

func newFakeOrchEmbedder() *fakeOrchEmbedder {
	return &fakeOrchEmbedder{vocab: make(map[string]int), dims: 16}
}

func (f *fakeOrchEmbedder) Dimensions() int { return f.dims }

func (f *fakeOrchEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, f.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		idx, ok := f.vocab[w]
		if !ok {
			idx = len(f.vocab) % f.dims
			f.vocab[w] = idx
		}
		vec[idx] += 1
	}
	return vec, nil
}

type fakeOrchLanguageModel struct {
	response string
}

func (f *fakeOrchLanguageModel) Complete(ctx context.Context, req extiface.CompletionRequest) (string, error) {
	return f.response, nil
}

func (f *fakeOrchLanguageModel) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, nil
}

type fakeOrchSink struct {
	notified int
}

func (f *fakeOrchSink) Notify(ctx context.Context, channel, message string) error {
	f.notified++
	return nil
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	idx := newFakeOrchVectorIndex()
	store, err := memstore.NewStore(db, idx, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	embedder := newFakeOrchEmbedder()
	retriever := memstore.NewRetriever(store, idx, embedder)

	pm := classify.NewPatternMatcher("")
	if err := pm.LoadSpecs([]domain.PatternSpec{
		{ID: "emergency-fire", Group: "emergency", Pattern: `\bfire\b`, SubCategory: "fire", Confidence: 0.97, Enabled: true},
		{ID: "instant-time", Group: "instant", Pattern: `^what time is it$`, SubCategory: "time", Confidence: 0.9, Enabled: true},
		{ID: "gesture-wave", Group: "gesture", Pattern: `^wave$`, SubCategory: "wave", Confidence: 0.9, Enabled: true},
		{ID: "action-lights", Group: "action", Pattern: `^turn on kitchen light$`, SubCategory: "", Confidence: 0.9, Enabled: true},
		{ID: "memory-remember", Group: "memory", Pattern: `^remember`, SubCategory: "store", Confidence: 0.9, Enabled: true},
		{ID: "query-weather", Group: "query", Pattern: `weather`, SubCategory: "", Confidence: 0.9, Enabled: true},
	}); err != nil {
		t.Fatalf("load specs: %v", err)
	}
	heuristic := classify.NewHeuristic()
	facade := classify.NewFacade(pm, heuristic, nil)

	instant := handlers.NewInstant()

	entities := []extiface.EntityRef{
		{ID: "light.kitchen_main", DisplayName: "kitchen light", Area: "kitchen", Domain: "light"},
	}
	states := map[string]extiface.EntityState{
		"light.kitchen_main": {EntityID: "light.kitchen_main", Attributes: map[string]any{"state": "off"}},
	}
	platform := smarthome.NewFakePlatform(entities, states)
	reg := smarthome.NewRegistry(platform, nil, nil)
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh registry: %v", err)
	}
	undoMgr := undo.NewManager(5)
	action := handlers.NewAction(reg, platform, undoMgr, smarthome.NewTimerPool([]string{"timer.slot_1", "timer.slot_2"}))

	lm := &fakeOrchLanguageModel{response: "Here's a general answer."}
	conversation := handlers.NewConversation(lm, convo.NewContext(nil), retriever)

	memoryOp := handlers.NewMemoryOp(store, retriever, embedder)

	monitor := safety.NewMonitor(&fakeOrchSink{}, "#safety", []string{"kid-1"})
	monitor.AddPattern("help-pattern", `(?i)help`)

	return New(facade, retriever, instant, action, conversation, memoryOp, monitor, nil)
}

func TestProcessRoutesInstantIntent(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Process(context.Background(), domain.Request{ID: "r1", ConversationID: "c1", Utterance: "what time is it"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Intent != domain.IntentInstant || resp.Handler != "instant" {
		t.Fatalf("expected instant routing, got %+v", resp)
	}
}

func TestProcessRoutesEmergencyIntent(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Process(context.Background(), domain.Request{ID: "r2", ConversationID: "c2", Speaker: "kid-1", Utterance: "there's a fire help"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Intent != domain.IntentEmergency {
		t.Fatalf("expected emergency intent, got %+v", resp)
	}
	if !strings.Contains(resp.Text, "fire") {
		t.Fatalf("expected emergency text to mention sub_category, got %q", resp.Text)
	}
}

func TestProcessRoutesActionIntent(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Process(context.Background(), domain.Request{ID: "r3", ConversationID: "c3", Utterance: "turn on kitchen light"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Intent != domain.IntentAction || resp.Handler != "action" {
		t.Fatalf("expected action routing, got %+v", resp)
	}
}

func TestProcessRoutesQueryIntentToConversation(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Process(context.Background(), domain.Request{ID: "r4", ConversationID: "c4", Utterance: "what's the weather like"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Intent != domain.IntentQuery || resp.Handler != "conversation" {
		t.Fatalf("expected query routed to conversation handler, got %+v", resp)
	}
}

func TestProcessRoutesMemoryIntent(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Process(context.Background(), domain.Request{ID: "r5", ConversationID: "c5", Speaker: "alice", Utterance: "remember my favorite color is blue"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Intent != domain.IntentMemory || resp.Handler != "memory_op" {
		t.Fatalf("expected memory routing, got %+v", resp)
	}
}

func TestProcessFallsBackToConversationOnNoPatternMatch(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Process(context.Background(), domain.Request{ID: "r6", ConversationID: "c6", Utterance: "tell me something interesting"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Handler != "conversation" {
		t.Fatalf("expected fallback to conversation, got %+v", resp)
	}
}

func TestProcessRejectsWhenAtCapacity(t *testing.T) {
	o := newTestOrchestrator(t).WithMaxInFlight(1)
	if !o.inFlight.TryAcquire(1) {
		t.Fatalf("expected to acquire the single slot directly")
	}
	_, err := o.Process(context.Background(), domain.Request{ID: "r7", ConversationID: "c7", Utterance: "what time is it"})
	if _, ok := err.(ErrBusy); !ok {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	o.inFlight.Release(1)
}

func TestProcessReturnsGracefulResponseForEmptyUtterance(t *testing.T) {
	o := newTestOrchestrator(t)
	resp, err := o.Process(context.Background(), domain.Request{ID: "r8", ConversationID: "c8", Utterance: "   "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text == "" {
		t.Fatalf("expected a non-empty graceful response for empty utterance")
	}
}

func TestProcessHandlerTimeoutReturnsCannedMessage(t *testing.T) {
	o := newTestOrchestrator(t).WithDeadlines(Deadlines{
		Total: time.Second, Cascade: 100 * time.Millisecond, Retrieval: 100 * time.Millisecond,
		HandlerInstant: time.Nanosecond, HandlerAction: time.Second, HandlerConvo: time.Second, HandlerMemory: time.Second,
	})
	resp, err := o.Process(context.Background(), domain.Request{ID: "r9", ConversationID: "c9", Utterance: "what time is it"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != cannedTimeoutMessage {
		t.Fatalf("expected canned timeout message, got %q", resp.Text)
	}
}
