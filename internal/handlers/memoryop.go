package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/faults"
	"github.com/trfife/barnabeenet/internal/memstore"
	"github.com/trfife/barnabeenet/internal/obslog"
	"github.com/trfife/barnabeenet/internal/pipeline"

	"github.com/google/uuid"
)

// storeClausePatterns extract the value clause from a remember command,
// matching common possessive framings ("my favorite color is blue").
var storeClausePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^remember (?:that )?(?:my )?(.+)$`),
	regexp.MustCompile(`(?i)^my (.+)$`),
}

var forgetClausePattern = regexp.MustCompile(`(?i)^forget (?:that |about )?(.+)$`)

// MemoryOp implements the Memory-op handler (C11): dispatch on
// sub_category to store/recall/forget, delegating to the Memory
// Retriever (C6) and Memory Writer (C7).
//
// Grounded on memory-service/pkg/extract/fast.go's clause-extraction
// style (regex-driven "extract the value after a trigger phrase"
// pattern), generalized from fact-extraction triples to the spec's
// store/recall/forget sub-categories.
type MemoryOp struct {
	store     *memstore.Store
	retriever *memstore.Retriever
	embedder  memstore.Embedder
}

// NewMemoryOp wires a MemoryOp handler against the durable store,
// retriever, and the embedder used to index newly stored memories.
func NewMemoryOp(store *memstore.Store, retriever *memstore.Retriever, embedder memstore.Embedder) *MemoryOp {
	return &MemoryOp{store: store, retriever: retriever, embedder: embedder}
}

// Handle dispatches on subCategory.
func (m *MemoryOp) Handle(ctx context.Context, req domain.Request, subCategory string, now time.Time) faults.HandlerResult {
	switch subCategory {
	case "store":
		return m.handleStore(ctx, req, now)
	case "recall":
		return m.handleRecall(ctx, req)
	case "forget":
		return m.handleForget(ctx, req)
	default:
		return faults.Failed("I'm not sure what to do with that memory request.", faults.InputMalformed, "unknown memory-op sub_category: "+subCategory)
	}
}

func (m *MemoryOp) handleStore(ctx context.Context, req domain.Request, now time.Time) faults.HandlerResult {
	content, ok := extractClause(storeClausePatterns, req.Utterance)
	if !ok {
		return faults.Failed("What would you like me to remember?", faults.InputMalformed, "store clause extraction failed")
	}
	if m.store == nil {
		return faults.Failed("I can't save that right now.", faults.InternalInvariant, "no memory store configured")
	}

	mem := domain.Memory{
		ID:             uuid.NewString(),
		Content:        content,
		Type:           domain.MemoryPreference,
		BaseImportance: 0.6,
		Participants:   speakerSlice(req.Speaker),
		CreatedAt:      now,
		LastAccessed:   now,
	}
	if m.embedder != nil {
		emb, err := m.embedder.Embed(ctx, content)
		if err != nil {
			obslog.Error("handlers", "memory store embed failed: %v", err)
		} else {
			mem.Embedding = emb
		}
	}
	if err := m.store.Create(ctx, mem); err != nil {
		obslog.Error("handlers", "memory store create failed: %v", err)
		return faults.Failed("I had trouble saving that.", faults.TransientExternal, err.Error())
	}
	return faults.OK(fmt.Sprintf("Got it, I'll remember that %s.", content))
}

func (m *MemoryOp) handleRecall(ctx context.Context, req domain.Request) faults.HandlerResult {
	if m.retriever == nil {
		return faults.Failed("I can't look that up right now.", faults.InternalInvariant, "no retriever configured")
	}
	key := pipeline.Preprocess(req.Utterance).Text
	retrieveCtx, cancel := context.WithTimeout(ctx, DefaultRetrievalDeadline)
	defer cancel()
	results, err := m.retriever.Retrieve(retrieveCtx, key, 1, memstore.Filters{Speaker: req.Speaker})
	if err != nil {
		obslog.Error("handlers", "memory recall failed: %v", err)
		return faults.Failed("I had trouble checking my memory.", faults.TransientExternal, err.Error())
	}
	if len(results) == 0 {
		return faults.OK("I don't have anything stored about that.")
	}
	return faults.OK(results[0].Memory.Content)
}

func (m *MemoryOp) handleForget(ctx context.Context, req domain.Request) faults.HandlerResult {
	content, ok := extractClause([]*regexp.Regexp{forgetClausePattern}, req.Utterance)
	if !ok {
		return faults.Failed("What should I forget?", faults.InputMalformed, "forget clause extraction failed")
	}
	if m.retriever == nil || m.store == nil {
		return faults.Failed("I can't forget that right now.", faults.InternalInvariant, "no retriever/store configured")
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, DefaultRetrievalDeadline)
	defer cancel()
	results, err := m.retriever.Retrieve(retrieveCtx, content, 5, memstore.Filters{Speaker: req.Speaker})
	if err != nil {
		obslog.Error("handlers", "memory forget lookup failed: %v", err)
		return faults.Failed("I had trouble checking my memory.", faults.TransientExternal, err.Error())
	}

	count := 0
	for _, r := range results {
		if err := m.store.SoftDelete(ctx, r.Memory.ID, "user requested forget"); err != nil {
			obslog.Error("handlers", "soft delete %s failed: %v", r.Memory.ID, err)
			continue
		}
		count++
	}
	if count == 0 {
		return faults.OK("I didn't find anything matching that to forget.")
	}
	return faults.OK(fmt.Sprintf("Forgot %d thing(s) about that.", count))
}

func extractClause(patterns []*regexp.Regexp, utterance string) (string, bool) {
	normalized := pipeline.Preprocess(utterance).Text
	for _, p := range patterns {
		if m := p.FindStringSubmatch(normalized); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func speakerSlice(speaker string) []string {
	if speaker == "" {
		return nil
	}
	return []string{speaker}
}
