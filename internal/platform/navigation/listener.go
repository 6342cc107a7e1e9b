// Package navigation turns transport events into redirects. The HTTP client
// never navigates on its own; screens ask the listener where to go after a
// failed call.
package navigation

import (
	"sync"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/platform/events"
)

// Reason explains a pending redirect.
type Reason string

const (
	ReasonSessionExpired Reason = "session_expired"
	ReasonAccessDenied   Reason = "access_denied"
)

// Redirect is a navigation the UI should perform.
type Redirect struct {
	Location string
	Reason   Reason
}

// IdentityFunc returns the current user, if any.
type IdentityFunc func() (identity.Identity, bool)

// Listener records the redirect implied by the latest session or access
// event. A session expiry wins over a later access denial.
type Listener struct {
	whoami IdentityFunc
	unsub  func()

	mu      sync.Mutex
	pending *Redirect
}

// NewListener subscribes to bus. whoami resolves the role home on access
// denial.
func NewListener(bus *events.Bus, whoami IdentityFunc) *Listener {
	l := &Listener{whoami: whoami}
	l.unsub = bus.Subscribe(l.handle, events.TopicSessionInvalidated, events.TopicAccessDenied)
	return l
}

func (l *Listener) handle(ev events.Event) {
	switch ev.(type) {
	case events.SessionInvalidated:
		l.set(Redirect{Location: "/login", Reason: ReasonSessionExpired}, true)
	case events.AccessDenied:
		loc := "/login"
		if l.whoami != nil {
			if id, ok := l.whoami(); ok {
				loc = id.Home()
			}
		}
		l.set(Redirect{Location: loc, Reason: ReasonAccessDenied}, false)
	}
}

func (l *Listener) set(r Redirect, override bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil && l.pending.Reason == ReasonSessionExpired && !override {
		return
	}
	l.pending = &r
}

// Pending returns the redirect recorded so far without consuming it.
func (l *Listener) Pending() (Redirect, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return Redirect{}, false
	}
	return *l.pending, true
}

// Take returns and clears the pending redirect.
func (l *Listener) Take() (Redirect, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return Redirect{}, false
	}
	r := *l.pending
	l.pending = nil
	return r, true
}

// Close unsubscribes from the bus.
func (l *Listener) Close() {
	if l.unsub != nil {
		l.unsub()
	}
}
