package worker

import (
	"context"
	"sync"
)

// CancelRegistry tracks the in-flight run of each session so a delete request
// can stop exactly that session and wait for its teardown to finish.
type CancelRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionHandle
}

type sessionHandle struct {
	cancel      context.CancelFunc
	done        chan struct{}
	interrupted bool
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		sessions: make(map[string]*sessionHandle),
	}
}

// Register binds a session's cancel function and returns the channel that
// closes once the session has fully torn down.
func (r *CancelRegistry) Register(sessionID string, cancel context.CancelFunc) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := &sessionHandle{cancel: cancel, done: make(chan struct{})}
	r.sessions[sessionID] = h
	return h.done
}

// Interrupt cancels the session's run if it is live. The returned channel
// closes when the run has finished unwinding; ok is false when no run is
// registered for the session.
func (r *CancelRegistry) Interrupt(sessionID string) (done <-chan struct{}, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	h.interrupted = true
	h.cancel()
	return h.done, true
}

// Interrupted reports whether the session's run was cancelled by an explicit
// Interrupt, as opposed to ambient context cancellation such as shutdown.
func (r *CancelRegistry) Interrupted(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sessionID]
	return ok && h.interrupted
}

// Finish closes the session's done channel and removes it from the registry.
// Called exactly once when the run's handler returns.
func (r *CancelRegistry) Finish(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.sessions[sessionID]; ok {
		close(h.done)
		delete(r.sessions, sessionID)
	}
}

// Live reports whether the session currently has a registered run.
func (r *CancelRegistry) Live(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}
