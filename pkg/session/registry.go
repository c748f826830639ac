package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registry is the process-wide map of live sessions. Exactly one session may
// exist per call id; deregistration is the last step of session teardown.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a session; returns false if one already exists for the call.
func (r *Registry) Register(s *Session) bool {
	if r.draining.Load() {
		return false
	}
	_, loaded := r.sessions.LoadOrStore(s.CallID(), s)
	if loaded {
		return false
	}
	r.count.Add(1)
	return true
}

// Deregister removes a session by call id.
func (r *Registry) Deregister(callID string) {
	if _, ok := r.sessions.LoadAndDelete(callID); ok {
		r.count.Add(-1)
	}
}

// Lookup returns the live session for a call id.
func (r *Registry) Lookup(callID string) (*Session, bool) {
	v, ok := r.sessions.Load(callID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Iterate visits every live session; stop by returning false.
func (r *Registry) Iterate(fn func(*Session) bool) {
	r.sessions.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

// Shutdown ends every live session with reason "server-shutdown" and waits
// for teardown (bounded by ctx).
func (r *Registry) Shutdown(ctx context.Context) {
	r.draining.Store(true)
	r.Iterate(func(s *Session) bool {
		s.End(ReasonServerShutdown)
		return true
	})
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
