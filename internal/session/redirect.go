package session

import (
	"context"
	"sync"
	"time"
)

// Redirect is a navigation the client should perform.
type Redirect struct {
	Target      string    `json:"target"`
	RequestedAt time.Time `json:"requested_at"`
}

// Redirector records the latest requested navigation until a client takes it.
type Redirector struct {
	mu      sync.Mutex
	pending *Redirect
	now     func() time.Time
}

// NewRedirector creates an empty Redirector.
func NewRedirector() *Redirector {
	return &Redirector{now: time.Now}
}

// Navigate records target as the pending redirect, replacing any earlier one.
func (r *Redirector) Navigate(_ context.Context, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = &Redirect{Target: target, RequestedAt: r.now()}
}

// Pending returns the pending redirect without consuming it.
func (r *Redirector) Pending() (Redirect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return Redirect{}, false
	}
	return *r.pending, true
}

// Take returns and consumes the pending redirect.
func (r *Redirector) Take() (Redirect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return Redirect{}, false
	}
	out := *r.pending
	r.pending = nil
	return out, true
}
