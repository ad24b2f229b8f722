package chat

import (
	"errors"
	"sync"
)

// MaxParticipants is the relay's hard capacity.
const MaxParticipants = 2

var (
	ErrNameTaken = errors.New("username already taken")
	ErrChatFull  = errors.New("chat is full")
)

// Conn is the send side of one participant's connection. Send must not block:
// implementations enqueue the event and report an error once the connection
// can no longer accept frames.
type Conn interface {
	Send(v any) error
}

// Registry is the authoritative map of claimed name -> connection. It is the
// only shared mutable state in the relay; every access goes through the mutex
// so no two registrations can win the same slot.
type Registry struct {
	mu           sync.Mutex
	participants map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{participants: make(map[string]Conn)}
}

// TryRegister claims name for conn. The name check runs before the capacity
// check, so re-claiming a taken name in a full chat reports ErrNameTaken.
func (r *Registry) TryRegister(name string, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[name]; ok {
		return ErrNameTaken
	}
	if len(r.participants) >= MaxParticipants {
		return ErrChatFull
	}
	r.participants[name] = conn
	return nil
}

// Unregister releases name's slot. Idempotent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, name)
}

// Other returns the single participant other than excluding, if any.
func (r *Registry) Other(excluding string) (string, Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, conn := range r.participants {
		if name != excluding {
			return name, conn, true
		}
	}
	return "", nil, false
}

// ForEachExcept invokes fn for every participant whose connection is not
// excluding. fn runs outside the lock on a snapshot, so a slow or closed
// peer never stalls registry access.
func (r *Registry) ForEachExcept(excluding Conn, fn func(name string, conn Conn)) {
	type entry struct {
		name string
		conn Conn
	}
	r.mu.Lock()
	snapshot := make([]entry, 0, len(r.participants))
	for name, conn := range r.participants {
		if conn != excluding {
			snapshot = append(snapshot, entry{name, conn})
		}
	}
	r.mu.Unlock()

	for _, e := range snapshot {
		fn(e.name, e.conn)
	}
}

// Count reports how many participants are currently registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}
