// Package extiface declares the narrow interfaces the core consumes from
// systems explicitly out of scope per §1: the smart-home platform, a
// language model, a secret store, and a notification sink (the audit
// sink interface is audit.Sink in internal/audit). Production adapters live alongside their concrete collaborators
// (internal/smarthome, internal/memstore/embedder.go, internal/audit);
// this package exists so components can depend on the interface without
// importing any concrete transport.
package extiface

import (
	"context"
	"errors"
	"time"
)

// ErrSecretUnavailable is returned by SecretStore.Get when a named secret
// cannot be resolved. Callers must fail the affected call; there is no
// hard-coded fallback token.
var ErrSecretUnavailable = errors.New("extiface: secret unavailable")

// EntityState is a snapshot of one smart-home entity's state, used both
// for query responses and for Undo Slot capture.
type EntityState struct {
	EntityID   string
	Domain     string
	Attributes map[string]any
}

// ServiceCall is one dispatchable action against the smart-home platform.
type ServiceCall struct {
	EntityID string
	Service  string // e.g. "turn_on", "set_temperature"
	Data     map[string]any
}

// ServiceCallResult is the per-call outcome of CallService.
type ServiceCallResult struct {
	EntityID string
	Err      error
}

// SmartHomePlatform is the external registry and actuation surface. The
// core never fabricates entities; it only queries and caches what this
// interface returns.
type SmartHomePlatform interface {
	ListEntities(ctx context.Context) ([]EntityRef, error)
	GetState(ctx context.Context, entityID string) (EntityState, error)
	CallService(ctx context.Context, calls []ServiceCall) ([]ServiceCallResult, error)
	SubscribeStateChanges(ctx context.Context) (<-chan EntityState, error)
}

// EntityRef mirrors domain.EntityRef to avoid an import cycle between
// extiface and domain; internal/smarthome converts between the two at
// its boundary.
type EntityRef struct {
	ID          string
	DisplayName string
	Area        string
	Domain      string
}

// CompletionRequest is a bounded-deadline request to the conversational
// model.
type CompletionRequest struct {
	Prompt   string
	Deadline time.Duration
}

// LanguageModel abstracts the model collaborator used by the Model
// Classifier (C4) and the Conversation handler (C10). Production
// implementations may route Complete and Embed to different backends
// per task class.
type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// SecretStore resolves named secrets (API tokens, webhook URLs) from
// whatever backing store the deployment configures.
type SecretStore interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// NotificationSink delivers an out-of-band alert, e.g. a Safety Monitor
// signal or an operational warning.
type NotificationSink interface {
	Notify(ctx context.Context, channel, payload string) error
}
