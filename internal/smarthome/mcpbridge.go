package smarthome

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/trfife/barnabeenet/internal/extiface"
	"github.com/trfife/barnabeenet/internal/obslog"
)

// mcpToolCaller is the narrow slice of *client.Client (from
// github.com/mark3labs/mcp-go/client) the bridge depends on. Depending
// on this instead of the concrete client type lets tests substitute a
// fake tool server without a real stdio/SSE transport.
type mcpToolCaller interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPToolNames configures the tool names an MCP smart-home server
// exposes for the three tool-backed extiface.SmartHomePlatform
// operations; SubscribeStateChanges has no tool of its own and polls
// ListEntities and GetState instead. A
// deployment wires its own server's naming scheme here rather than the
// bridge hard-coding one vocabulary.
type MCPToolNames struct {
	ListEntities string
	GetState     string
	CallService  string
}

// DefaultMCPToolNames matches the tool names a barnabeenet-flavored MCP
// smart-home server is expected to expose.
func DefaultMCPToolNames() MCPToolNames {
	return MCPToolNames{
		ListEntities: "list_entities",
		GetState:     "get_state",
		CallService:  "call_service",
	}
}

// MCPBridge adapts a Model Context Protocol tool server into
// extiface.SmartHomePlatform, letting the core reach any smart-home
// backend that speaks MCP (stdio or SSE transport) without a
// backend-specific client.
//
// Grounded on cmd/efficient-notion-mcp/main.go's tool registration style
// (one mcp.Tool plus one handler per external operation), read from the
// server side and generalized here to the client side of the same
// protocol: CallTool in place of AddTool/handler pairs.
type MCPBridge struct {
	mcp   mcpToolCaller
	tools MCPToolNames

	pollInterval time.Duration

	mu     sync.Mutex
	known  map[string]extiface.EntityState
	closed bool
}

// NewMCPBridge wires a bridge around an already-constructed mcp-go
// client. The caller is responsible for choosing the transport
// (client.NewStdioMCPClient for a locally spawned server,
// client.NewSSEMCPClient for a networked one) and for calling Start on
// it before the bridge's first use.
func NewMCPBridge(mcpClient mcpToolCaller, tools MCPToolNames) *MCPBridge {
	return &MCPBridge{
		mcp:          mcpClient,
		tools:        tools,
		pollInterval: 5 * time.Second,
		known:        make(map[string]extiface.EntityState),
	}
}

// WithPollInterval overrides the interval SubscribeStateChanges polls
// the server at. MCP's request/response tool-call model has no native
// push notification for this yet, so the bridge approximates a
// subscription by polling and diffing, matching the spirit of the
// teacher's effectors/discord.go pending-interaction poll loop.
func (b *MCPBridge) WithPollInterval(d time.Duration) *MCPBridge {
	b.pollInterval = d
	return b
}

// Initialize performs the MCP handshake. Must be called once before any
// other MCPBridge method.
func (b *MCPBridge) Initialize(ctx context.Context) error {
	_, err := b.mcp.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "barnabeenet",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return fmt.Errorf("mcpbridge: initialize: %w", err)
	}
	return nil
}

type entityListPayload struct {
	Entities []extiface.EntityRef `json:"entities"`
}

func (b *MCPBridge) ListEntities(ctx context.Context) ([]extiface.EntityRef, error) {
	result, err := b.callTool(ctx, b.tools.ListEntities, nil)
	if err != nil {
		return nil, err
	}
	var payload entityListPayload
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		return nil, fmt.Errorf("mcpbridge: decode %s result: %w", b.tools.ListEntities, err)
	}
	return payload.Entities, nil
}

func (b *MCPBridge) GetState(ctx context.Context, entityID string) (extiface.EntityState, error) {
	result, err := b.callTool(ctx, b.tools.GetState, map[string]any{"entity_id": entityID})
	if err != nil {
		return extiface.EntityState{}, err
	}
	var state extiface.EntityState
	if err := json.Unmarshal([]byte(result), &state); err != nil {
		return extiface.EntityState{}, fmt.Errorf("mcpbridge: decode %s result: %w", b.tools.GetState, err)
	}
	return state, nil
}

func (b *MCPBridge) CallService(ctx context.Context, calls []extiface.ServiceCall) ([]extiface.ServiceCallResult, error) {
	results := make([]extiface.ServiceCallResult, len(calls))
	for i, call := range calls {
		args := map[string]any{
			"entity_id": call.EntityID,
			"service":   call.Service,
			"data":      call.Data,
		}
		_, err := b.callTool(ctx, b.tools.CallService, args)
		results[i] = extiface.ServiceCallResult{EntityID: call.EntityID, Err: err}
	}
	return results, nil
}

// SubscribeStateChanges polls ListEntities/GetState at the configured
// interval and emits an EntityState for every entity whose attributes
// changed since the last poll. The returned channel is closed when ctx
// is cancelled.
func (b *MCPBridge) SubscribeStateChanges(ctx context.Context) (<-chan extiface.EntityState, error) {
	ch := make(chan extiface.EntityState, 16)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.pollOnce(ctx, ch)
			}
		}
	}()
	return ch, nil
}

func (b *MCPBridge) pollOnce(ctx context.Context, ch chan<- extiface.EntityState) {
	entities, err := b.ListEntities(ctx)
	if err != nil {
		obslog.Error("smarthome", "mcp bridge poll: list entities: %v", err)
		return
	}
	for _, e := range entities {
		state, err := b.GetState(ctx, e.ID)
		if err != nil {
			obslog.Error("smarthome", "mcp bridge poll: get state for %s: %v", e.ID, err)
			continue
		}
		b.mu.Lock()
		prev, seen := b.known[e.ID]
		changed := !seen || !statesEqual(prev, state)
		b.known[e.ID] = state
		b.mu.Unlock()
		if changed {
			select {
			case ch <- state:
			case <-ctx.Done():
				return
			}
		}
	}
}

func statesEqual(a, b extiface.EntityState) bool {
	if a.EntityID != b.EntityID || a.Domain != b.Domain || len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for k, v := range a.Attributes {
		if bv, ok := b.Attributes[k]; !ok || fmt.Sprint(bv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (b *MCPBridge) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := b.mcp.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("mcpbridge: call tool %s: %w", name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("mcpbridge: tool %s reported an error: %s", name, firstText(result))
	}
	return firstText(result), nil
}

func firstText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// Close releases the underlying MCP client connection.
func (b *MCPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.mcp.Close()
}
