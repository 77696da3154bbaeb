// Package modelclient provides the production extiface.LanguageModel
// used by the Model Classifier (C4) and the Conversation handler (C10):
// Complete routes to the hosted Claude Agent SDK model, Embed delegates
// to a local embedding collaborator (normally memstore.OllamaEmbedder).
// Splitting the two task classes across collaborators matches §6's
// "configurable model identifiers per task class" rather than asking one
// backend to do both jobs.
package modelclient

import (
	"context"
	"fmt"
	"strings"

	claudeagent "github.com/severity1/claude-agent-sdk-go"

	"github.com/trfife/barnabeenet/internal/extiface"
	"github.com/trfife/barnabeenet/internal/memstore"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-haiku-latest"

// Client implements extiface.LanguageModel.
//
// Grounded on internal/executive's use of this SDK for the
// conversational loop, generalized from an interactive multi-turn
// session down to a single bounded-deadline completion call: the
// Conversation handler and Model Classifier each issue one request and
// collect the assistant's text, they don't hold a session open.
type Client struct {
	model        string
	systemPrompt string
	embedder     memstore.Embedder
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the Claude model identifier used for Complete.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithSystemPrompt sets a fixed system prompt applied to every Complete
// call.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) { c.systemPrompt = prompt }
}

// New wires a Client. embedder is the collaborator Embed delegates to.
func New(embedder memstore.Embedder, opts ...Option) *Client {
	c := &Client{model: DefaultModel, embedder: embedder}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends req.Prompt to the Claude Agent SDK, bounded by
// req.Deadline if set, and returns the concatenated text of the
// assistant's response.
func (c *Client) Complete(ctx context.Context, req extiface.CompletionRequest) (string, error) {
	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	opts := claudeagent.Options{Model: c.model}
	if c.systemPrompt != "" {
		opts.SystemPrompt = c.systemPrompt
	}

	messages, err := claudeagent.Query(ctx, req.Prompt, opts)
	if err != nil {
		return "", fmt.Errorf("modelclient: query: %w", err)
	}

	var out strings.Builder
	for msg := range messages {
		assistant, ok := msg.(claudeagent.AssistantMessage)
		if !ok {
			continue
		}
		for _, block := range assistant.Content {
			if text, ok := block.(claudeagent.TextBlock); ok {
				out.WriteString(text.Text)
			}
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("modelclient: empty response from model")
	}
	return out.String(), nil
}

// Embed delegates to the configured embedding collaborator.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	return c.embedder.Embed(ctx, text)
}
