package relay

import (
	"context"
	"sync"
)

// Local is an in-process boundary. Detach makes it behave like an
// unreachable background until Attach.
type Local struct {
	relay *Relay

	mu       sync.Mutex
	detached bool
}

// NewLocal connects to r in-process.
func NewLocal(r *Relay) *Local {
	return &Local{relay: r}
}

// Detach makes round trips fail with ErrDetached until Attach.
func (l *Local) Detach() {
	l.mu.Lock()
	l.detached = true
	l.mu.Unlock()
}

// Attach reconnects after Detach.
func (l *Local) Attach() {
	l.mu.Lock()
	l.detached = false
	l.mu.Unlock()
}

// RoundTrip hands msg to the relay and returns its reply.
func (l *Local) RoundTrip(ctx context.Context, msg Message) (Reply, error) {
	l.mu.Lock()
	detached := l.detached
	l.mu.Unlock()
	if detached {
		return Reply{}, ErrDetached
	}
	return l.relay.Handle(ctx, msg), nil
}
