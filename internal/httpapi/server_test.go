package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/orchestrator"
)

type fakeProcessor struct {
	resp domain.Response
	err  error
	got  domain.Request
}

func (f *fakeProcessor) Process(ctx context.Context, req domain.Request) (domain.Response, error) {
	f.got = req
	return f.resp, f.err
}

func TestHandleHealthReturnsOK(t *testing.T) {
	srv := NewServer(&fakeProcessor{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleRequestRoutesToOrchestrator(t *testing.T) {
	proc := &fakeProcessor{resp: domain.Response{Text: "ok", Intent: domain.IntentInstant, Handler: "instant", TraceID: "trace-1"}}
	srv := NewServer(proc)

	body, _ := json.Marshal(requestPayload{Utterance: "what time is it", Speaker: "alice", Room: "kitchen"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/requests", bytes.NewReader(body))
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if proc.got.Utterance != "what time is it" || proc.got.Speaker != "alice" {
		t.Fatalf("unexpected request forwarded to orchestrator: %+v", proc.got)
	}

	var out responsePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Text != "ok" || out.TraceID != "trace-1" {
		t.Fatalf("unexpected response payload: %+v", out)
	}
}

func TestHandleRequestRejectsEmptyUtterance(t *testing.T) {
	srv := NewServer(&fakeProcessor{})
	body, _ := json.Marshal(requestPayload{Speaker: "alice"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/requests", bytes.NewReader(body))
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != 400 {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleRequestReturnsServiceUnavailableWhenBusy(t *testing.T) {
	proc := &fakeProcessor{err: orchestrator.ErrBusy{}}
	srv := NewServer(proc)

	body, _ := json.Marshal(requestPayload{Utterance: "hello"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/requests", bytes.NewReader(body))
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != 503 {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleRequestDefaultsConversationIDFromSpeakerAndRoom(t *testing.T) {
	proc := &fakeProcessor{}
	srv := NewServer(proc)

	body, _ := json.Marshal(requestPayload{Utterance: "hello", Speaker: "alice", Room: "kitchen"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/requests", bytes.NewReader(body))
	srv.Handler().ServeHTTP(rr, req)

	if proc.got.ConversationID != "alice:kitchen" {
		t.Fatalf("expected derived conversation id, got %q", proc.got.ConversationID)
	}
}
