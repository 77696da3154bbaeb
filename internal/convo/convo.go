// Package convo implements the Conversation Context (§3): a bounded ring
// of recent turns per conversation, replaced by a single summary turn
// once a token high-water mark is crossed.
//
// Grounded on internal/buffer/buffer.go's ConversationBuffer (per-scope
// buffer map, token-count-triggered compress) generalized from Discord
// channel scopes to conversation ids, and internal/buffer/summarizer.go's
// Summarizer interface.
package convo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/trfife/barnabeenet/internal/extiface"
)

// Turn is one exchange in a conversation.
type Turn struct {
	Speaker   string
	Text      string
	Timestamp time.Time
	Tokens    int
}

// Summarizer condenses a conversation's displaced turns into one summary
// turn. Production implementations call the conversational model.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) (string, error)
}

const (
	// DefaultHighWaterMark triggers summarization once a conversation's
	// total estimated token count exceeds this value.
	DefaultHighWaterMark = 3000
	// DefaultKeepTail is the number of most recent turns retained
	// verbatim when older turns are collapsed into a summary.
	DefaultKeepTail = 6
	// tokensPerChar is a rough token-count estimate, matching the
	// teacher's own estimateTokens heuristic.
	tokensPerChar = 0.25
)

// EstimateTokens gives a rough token count for text, matching
// internal/buffer's TokensPerChar heuristic.
func EstimateTokens(text string) int {
	return int(float64(len(text)) * tokensPerChar)
}

type state struct {
	turns        []Turn
	tokens       int
	summaryTurns int // how many raw turns the leading summary turn replaced
}

// Context manages per-conversation turn rings.
type Context struct {
	mu            sync.Mutex
	conversations map[string]*state
	highWaterMark int
	keepTail      int
	summarizer    Summarizer
}

// NewContext wires a Context against its Summarizer collaborator using
// the spec defaults for high-water mark and keep-tail window.
func NewContext(summarizer Summarizer) *Context {
	return &Context{
		conversations: make(map[string]*state),
		highWaterMark: DefaultHighWaterMark,
		keepTail:      DefaultKeepTail,
		summarizer:    summarizer,
	}
}

func (c *Context) WithLimits(highWaterMark, keepTail int) *Context {
	c.highWaterMark = highWaterMark
	c.keepTail = keepTail
	return c
}

// Append adds a turn to the named conversation, summarizing the oldest
// turns past the keep-tail window if the total token estimate crosses
// the high-water mark.
func (c *Context) Append(ctx context.Context, conversationID string, t Turn) error {
	c.mu.Lock()
	st, ok := c.conversations[conversationID]
	if !ok {
		st = &state{}
		c.conversations[conversationID] = st
	}
	if t.Tokens == 0 {
		t.Tokens = EstimateTokens(t.Text)
	}
	st.turns = append(st.turns, t)
	st.tokens += t.Tokens
	needsSummary := st.tokens > c.highWaterMark && len(st.turns) > c.keepTail
	c.mu.Unlock()

	if needsSummary {
		return c.summarize(ctx, conversationID)
	}
	return nil
}

func (c *Context) summarize(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	st, ok := c.conversations[conversationID]
	if !ok || len(st.turns) <= c.keepTail {
		c.mu.Unlock()
		return nil
	}
	cutoff := len(st.turns) - c.keepTail
	toCollapse := append([]Turn(nil), st.turns[:cutoff]...)
	c.mu.Unlock()

	if c.summarizer == nil {
		return nil
	}
	summaryText, err := c.summarizer.Summarize(ctx, toCollapse)
	if err != nil {
		return fmt.Errorf("convo: summarize conversation %s: %w", conversationID, err)
	}

	summaryTurn := Turn{
		Speaker:   "system",
		Text:      summaryText,
		Timestamp: time.Now(),
		Tokens:    EstimateTokens(summaryText),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok = c.conversations[conversationID]
	if !ok {
		return nil
	}
	if len(st.turns) <= c.keepTail {
		return nil
	}
	tail := append([]Turn(nil), st.turns[len(st.turns)-c.keepTail:]...)
	newTurns := append([]Turn{summaryTurn}, tail...)
	tokens := 0
	for _, turn := range newTurns {
		tokens += turn.Tokens
	}
	st.turns = newTurns
	st.tokens = tokens
	st.summaryTurns += len(toCollapse)
	return nil
}

// DefaultSummaryDeadline bounds the model call a summary turn makes.
const DefaultSummaryDeadline = 3 * time.Second

// ModelSummarizer implements Summarizer by asking the conversational
// model to condense a run of displaced turns into one short paragraph,
// grounded on internal/buffer/summarizer.go's model-backed Summarizer.
type ModelSummarizer struct {
	lm       extiface.LanguageModel
	deadline time.Duration
}

// NewModelSummarizer wires a ModelSummarizer against its language model
// collaborator.
func NewModelSummarizer(lm extiface.LanguageModel) *ModelSummarizer {
	return &ModelSummarizer{lm: lm, deadline: DefaultSummaryDeadline}
}

// Summarize asks the model for a short paragraph covering turns.
func (s *ModelSummarizer) Summarize(ctx context.Context, turns []Turn) (string, error) {
	if s.lm == nil {
		return "", fmt.Errorf("convo: no language model configured")
	}
	var b strings.Builder
	b.WriteString("Summarize the following conversation turns in one short paragraph, keeping anything a later reply might need to refer back to.\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}
	text, err := s.lm.Complete(ctx, extiface.CompletionRequest{Prompt: b.String(), Deadline: s.deadline})
	if err != nil {
		return "", fmt.Errorf("convo: summarize via model: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Window returns the current turn ring for a conversation, oldest first.
func (c *Context) Window(conversationID string) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(st.turns))
	copy(out, st.turns)
	return out
}
