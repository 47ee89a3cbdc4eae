package internal_session

import (
	"sync"

	internal_type "github.com/voxbridgeai/api/stream-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// MediaHandler is the per-session media surface the registry routes into.
// The pipeline orchestrator implements it.
type MediaHandler interface {
	PushIngress(frame []byte) error
	Stop()
}

// Registry maps live sessions to their media handlers and adapts carrier
// callbacks onto them. It is the process-wide CarrierAdapter: carrier
// transports resolve sessions by id only and never touch pipeline state.
type Registry struct {
	mu       sync.RWMutex
	logger   commons.Logger
	sessions map[string]*registration
}

type registration struct {
	session *CallSession
	handler MediaHandler
}

var _ internal_type.CarrierAdapter = (*Registry)(nil)

func NewRegistry(logger commons.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*registration),
	}
}

// Register attaches a session and its media handler. Re-registering an id
// replaces the previous entry.
func (r *Registry) Register(session *CallSession, handler MediaHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID()] = &registration{session: session, handler: handler}
}

// Lookup returns the session for an id.
func (r *Registry) Lookup(sessionID string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return reg.session, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// OnIngress routes one carrier media payload to the session's pipeline.
func (r *Registry) OnIngress(sessionID string, frame []byte) error {
	r.mu.RLock()
	reg, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return commons.NewStreamError(commons.ErrSessionGone, "no live session "+sessionID)
	}
	return reg.handler.PushIngress(frame)
}

// OnTeardown ends the session from the carrier side: the pipeline stops,
// the session completes, and the registration is dropped. Unknown ids are
// ignored so duplicate teardown signals are harmless.
func (r *Registry) OnTeardown(sessionID string, reason string) {
	r.mu.Lock()
	reg, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.logger.Infow("carrier teardown", "session", sessionID, "reason", reason)
	reg.handler.Stop()
	reg.session.End(false)
}
