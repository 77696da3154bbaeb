// Package httpapi exposes the Orchestrator over HTTP: a text-in,
// text-out surface that speech I/O (ASR upstream, TTS downstream) and
// any other client fronts without either of them needing to know about
// domain.Request/Response directly.
//
// Grounded on memory-service/cmd/memory-service/main.go's Service/
// handler/writeJSON shape: a plain http.ServeMux, one method per route,
// wire-level request/response structs decoupled from the internal
// model, and a graceful http.Server.Shutdown on SIGINT/SIGTERM.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/obslog"
	"github.com/trfife/barnabeenet/internal/orchestrator"
)

// processor is the slice of *orchestrator.Orchestrator the server
// depends on, letting tests substitute a stub instead of wiring a full
// pipeline.
type processor interface {
	Process(ctx context.Context, req domain.Request) (domain.Response, error)
}

// Server wires an http.Handler around an Orchestrator.
type Server struct {
	orch processor
	mux  *http.ServeMux
}

// NewServer builds a Server. Call Handler to get the http.Handler to
// pass to an http.Server.
func NewServer(orch processor) *Server {
	s := &Server{orch: orch, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/requests", s.handleRequest)
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestPayload is the wire shape of POST /v1/requests.
type requestPayload struct {
	Utterance      string `json:"utterance"`
	Speaker        string `json:"speaker"`
	Room           string `json:"room"`
	ConversationID string `json:"conversation_id"`
}

// responsePayload is the wire shape returned by POST /v1/requests.
type responsePayload struct {
	Text      string `json:"text"`
	Intent    string `json:"intent"`
	Handler   string `json:"handler"`
	LatencyMS int64  `json:"latency_ms"`
	TraceID   string `json:"trace_id"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if payload.Utterance == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "utterance is required"})
		return
	}
	if payload.ConversationID == "" {
		payload.ConversationID = payload.Speaker + ":" + payload.Room
	}

	req := domain.Request{
		ID:             uuid.NewString(),
		Utterance:      payload.Utterance,
		Speaker:        payload.Speaker,
		Room:           payload.Room,
		ConversationID: payload.ConversationID,
		Timestamp:      time.Now(),
	}

	resp, err := s.orch.Process(r.Context(), req)
	if err != nil {
		if _, busy := err.(orchestrator.ErrBusy); busy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": orchestrator.BusyMessage})
			return
		}
		obslog.Error("httpapi", "orchestrator process failed for request %s: %v", req.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, responsePayload{
		Text:      resp.Text,
		Intent:    string(resp.Intent),
		Handler:   resp.Handler,
		LatencyMS: resp.LatencyMS,
		TraceID:   resp.TraceID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		obslog.Error("httpapi", "encode response: %v", err)
	}
}
