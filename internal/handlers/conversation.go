package handlers

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/trfife/barnabeenet/internal/convo"
	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/extiface"
	"github.com/trfife/barnabeenet/internal/faults"
	"github.com/trfife/barnabeenet/internal/memstore"
	"github.com/trfife/barnabeenet/internal/obslog"
)

// DefaultModelDeadline is the per-call deadline from §4.10.
const DefaultModelDeadline = 3 * time.Second

// DefaultRetrievalDeadline bounds the memory retrieval step the
// Conversation handler performs before assembling its prompt (§4.13's
// 300ms retrieval budget).
const DefaultRetrievalDeadline = 300 * time.Millisecond

// DefaultResponseLengthCap bounds the post-processed response in runes,
// keeping synthesized speech within a reasonable utterance length.
const DefaultResponseLengthCap = 600

const defaultPersona = "You are Barnabee, a warm and concise voice assistant for this household. Keep answers short enough to speak aloud."

var unsafeMarkup = regexp.MustCompile("(?s)```.*?```|[*_#`]")

// Conversation implements the Conversation handler (C10): prompt
// assembly from persona + conversation window + retrieved memories,
// model call under a deadline, and speech-safe post-processing.
//
// Grounded on internal/consolidate's LLMClient interface shape
// (Complete(ctx, prompt) (string, error) behind an interface so the
// production binary can swap in github.com/severity1/claude-agent-sdk-go)
// and internal/buffer/summarizer.go's post-process-on-model-output
// pattern, generalized from summarization to full response synthesis.
type Conversation struct {
	lm        extiface.LanguageModel
	ctxWindow *convo.Context
	retriever *memstore.Retriever
	deadline  time.Duration
}

// NewConversation wires a Conversation handler against its model,
// conversation-context, and memory-retriever collaborators.
func NewConversation(lm extiface.LanguageModel, ctxWindow *convo.Context, retriever *memstore.Retriever) *Conversation {
	return &Conversation{lm: lm, ctxWindow: ctxWindow, retriever: retriever, deadline: DefaultModelDeadline}
}

func (c *Conversation) WithDeadline(d time.Duration) *Conversation {
	c.deadline = d
	return c
}

// Handle assembles the prompt, calls the model, and post-processes the
// result. On model failure it returns a graceful canned message and
// never propagates the error (§4.10).
func (c *Conversation) Handle(ctx context.Context, req domain.Request, now time.Time) faults.HandlerResult {
	var memories []memstore.Scored
	if c.retriever != nil {
		retrieveCtx, cancel := context.WithTimeout(ctx, DefaultRetrievalDeadline)
		var err error
		memories, err = c.retriever.Retrieve(retrieveCtx, req.Utterance, 5, memstore.Filters{Speaker: req.Speaker})
		cancel()
		if err != nil {
			obslog.Error("handlers", "memory retrieval failed for conversation handler: %v", err)
		}
	}

	var window []convo.Turn
	if c.ctxWindow != nil {
		window = c.ctxWindow.Window(req.ConversationID)
	}

	prompt := assemblePrompt(defaultPersona, window, memories, now)

	if c.lm == nil {
		return faults.Failed(cannedConversationFailure, faults.PermanentExternal, "no language model configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	raw, err := c.lm.Complete(callCtx, extiface.CompletionRequest{Prompt: prompt + "\n\n" + req.Utterance, Deadline: c.deadline})
	if err != nil {
		obslog.Error("handlers", "conversation model call failed: %v", err)
		return faults.Failed(cannedConversationFailure, faults.TransientExternal, err.Error())
	}

	text := postProcess(raw)

	if c.ctxWindow != nil {
		c.ctxWindow.Append(ctx, req.ConversationID, convo.Turn{Speaker: req.Speaker, Text: req.Utterance, Timestamp: now})
		c.ctxWindow.Append(ctx, req.ConversationID, convo.Turn{Speaker: "assistant", Text: text, Timestamp: now})
	}

	return faults.OK(text)
}

const cannedConversationFailure = "Sorry, I'm having trouble thinking right now. Could you try again in a moment?"

func assemblePrompt(persona string, window []convo.Turn, memories []memstore.Scored, now time.Time) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nTime of day: ")
	b.WriteString(now.Format("15:04"))

	if len(memories) > 0 {
		b.WriteString("\n\nRelevant things you remember:\n")
		for _, m := range memories {
			b.WriteString("- ")
			b.WriteString(m.Memory.Content)
			b.WriteString("\n")
		}
	}

	if len(window) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range window {
			b.WriteString(t.Speaker)
			b.WriteString(": ")
			b.WriteString(t.Text)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// postProcess strips markup unsafe for speech and enforces the length
// cap (§4.10).
func postProcess(raw string) string {
	text := unsafeMarkup.ReplaceAllString(raw, "")
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > DefaultResponseLengthCap {
		text = string(runes[:DefaultResponseLengthCap])
	}
	return text
}
