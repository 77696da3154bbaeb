package smarthome

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/trfife/barnabeenet/internal/extiface"
)

type fakeMCPCaller struct {
	initializeCalled bool
	handlers         map[string]func(args map[string]any) (string, bool)
	calls            []string
}

func newFakeMCPCaller() *fakeMCPCaller {
	return &fakeMCPCaller{handlers: make(map[string]func(args map[string]any) (string, bool))}
}

func (f *fakeMCPCaller) Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	f.initializeCalled = true
	return &mcp.InitializeResult{}, nil
}

func (f *fakeMCPCaller) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.calls = append(f.calls, request.Params.Name)
	h, ok := f.handlers[request.Params.Name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for tool %s", request.Params.Name)
	}
	text, isErr := h(request.Params.Arguments.(map[string]any))
	return &mcp.CallToolResult{
		IsError: isErr,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}, nil
}

func (f *fakeMCPCaller) Close() error { return nil }

func TestMCPBridgeInitializePerformsHandshake(t *testing.T) {
	caller := newFakeMCPCaller()
	b := NewMCPBridge(caller, DefaultMCPToolNames())
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !caller.initializeCalled {
		t.Fatalf("expected Initialize to be called on the underlying client")
	}
}

func TestMCPBridgeListEntitiesDecodesPayload(t *testing.T) {
	caller := newFakeMCPCaller()
	caller.handlers["list_entities"] = func(args map[string]any) (string, bool) {
		return `{"entities":[{"ID":"light.kitchen","DisplayName":"Kitchen Light","Area":"kitchen","Domain":"light"}]}`, false
	}
	b := NewMCPBridge(caller, DefaultMCPToolNames())

	entities, err := b.ListEntities(context.Background())
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}
	if len(entities) != 1 || entities[0].ID != "light.kitchen" {
		t.Fatalf("unexpected entities: %+v", entities)
	}
}

func TestMCPBridgeGetStateDecodesPayload(t *testing.T) {
	caller := newFakeMCPCaller()
	caller.handlers["get_state"] = func(args map[string]any) (string, bool) {
		if args["entity_id"] != "light.kitchen" {
			t.Fatalf("unexpected entity_id argument: %v", args["entity_id"])
		}
		return `{"EntityID":"light.kitchen","Domain":"light","Attributes":{"on":true}}`, false
	}
	b := NewMCPBridge(caller, DefaultMCPToolNames())

	state, err := b.GetState(context.Background(), "light.kitchen")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.EntityID != "light.kitchen" || state.Attributes["on"] != true {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestMCPBridgeCallServiceReportsPerCallError(t *testing.T) {
	caller := newFakeMCPCaller()
	caller.handlers["call_service"] = func(args map[string]any) (string, bool) {
		if args["entity_id"] == "light.broken" {
			return "service unavailable", true
		}
		return "ok", false
	}
	b := NewMCPBridge(caller, DefaultMCPToolNames())

	results, err := b.CallService(context.Background(), []extiface.ServiceCall{
		{EntityID: "light.kitchen", Service: "turn_on"},
		{EntityID: "light.broken", Service: "turn_on"},
	})
	if err != nil {
		t.Fatalf("call service: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("expected first call to succeed, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("expected second call to report an error")
	}
}

func TestMCPBridgeSubscribeStateChangesEmitsOnChange(t *testing.T) {
	caller := newFakeMCPCaller()
	on := false
	caller.handlers["list_entities"] = func(args map[string]any) (string, bool) {
		return `{"entities":[{"ID":"light.kitchen","DisplayName":"Kitchen Light","Area":"kitchen","Domain":"light"}]}`, false
	}
	caller.handlers["get_state"] = func(args map[string]any) (string, bool) {
		state := fmt.Sprintf(`{"EntityID":"light.kitchen","Domain":"light","Attributes":{"on":%v}}`, on)
		return state, false
	}
	b := NewMCPBridge(caller, DefaultMCPToolNames()).WithPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	ch, err := b.SubscribeStateChanges(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case st := <-ch:
		if st.EntityID != "light.kitchen" {
			t.Fatalf("unexpected entity in first emission: %+v", st)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected an initial emission")
	}

	on = true
	select {
	case st := <-ch:
		if st.Attributes["on"] != true {
			t.Fatalf("expected the changed state to be emitted, got %+v", st)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected a second emission after the state changed")
	}
}
