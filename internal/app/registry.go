package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/dependencies/clock"
	"live-quiz-service/internal/domain"
)

// ConnID identifies one live network channel.
type ConnID string

// Conn is the coordinator's view of a live connection. Send must not block;
// it returns an error when the connection is gone or its buffer is full.
type Conn interface {
	ID() ConnID
	Send(ev domain.Event) error
	Close()
}

// Role distinguishes host connections from participant connections.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Binding is the identity a connection has resolved to.
type Binding struct {
	Conn          Conn
	SessionID     string
	Role          Role
	ParticipantID string
	// Attachment is the participant attachment this connection was bound for.
	Attachment    int64
	BoundAt       time.Time
}

type participantKey struct {
	sessionID     string
	participantID string
}

// Registry maps live connections to session identities. At most one
// connection is bound to a participant at a time.
type Registry struct {
	clock clock.Clock

	mu           sync.RWMutex
	conns        map[ConnID]Conn
	bindings     map[ConnID]*Binding
	participants map[participantKey]ConnID
	hosts        map[string]map[ConnID]struct{}
}

func NewRegistry(c clock.Clock) *Registry {
	return &Registry{
		clock:        c,
		conns:        make(map[ConnID]Conn),
		bindings:     make(map[ConnID]*Binding),
		participants: make(map[participantKey]ConnID),
		hosts:        make(map[string]map[ConnID]struct{}),
	}
}

// Register tracks a new, not yet identified connection.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	log.Debug().Str("module", "app.registry").Str("conn", string(conn.ID())).Msg("registered connection")
}

// Resolve returns the identity bound to a connection.
func (r *Registry) Resolve(id ConnID) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[id]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// BindHost attaches a connection to a session as host. Several host
// connections may coexist (e.g. a projector and a phone).
func (r *Registry) BindHost(conn Conn, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[conn.ID()]; ok {
		return domain.ErrAlreadyBound
	}
	r.conns[conn.ID()] = conn
	r.bindings[conn.ID()] = &Binding{Conn: conn, SessionID: sessionID, Role: RoleHost, BoundAt: r.clock.Now()}
	if r.hosts[sessionID] == nil {
		r.hosts[sessionID] = make(map[ConnID]struct{})
	}
	r.hosts[sessionID][conn.ID()] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(conn.ID())).Str("session", sessionID).Msg("bound host")
	return nil
}

// BindParticipant attaches a connection to a participant at the given
// attachment. A connection already bound to that participant is unbound and
// returned so the caller can evict it.
func (r *Registry) BindParticipant(conn Conn, sessionID, participantID string, attachment int64) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[conn.ID()]; ok {
		return nil, domain.ErrAlreadyBound
	}

	key := participantKey{sessionID, participantID}
	var evicted Conn
	if oldID, ok := r.participants[key]; ok && oldID != conn.ID() {
		if old, ok := r.bindings[oldID]; ok {
			evicted = old.Conn
		}
		delete(r.bindings, oldID)
		delete(r.conns, oldID)
	}

	r.conns[conn.ID()] = conn
	r.bindings[conn.ID()] = &Binding{
		Conn:          conn,
		SessionID:     sessionID,
		Role:          RoleParticipant,
		ParticipantID: participantID,
		Attachment:    attachment,
		BoundAt:       r.clock.Now(),
	}
	r.participants[key] = conn.ID()
	log.Info().Str("module", "app.registry").Str("conn", string(conn.ID())).Str("session", sessionID).
		Str("participant", participantID).Bool("evicted_previous", evicted != nil).Msg("bound participant")
	return evicted, nil
}

// Unbind clears the identity of a connection but keeps it registered.
func (r *Registry) Unbind(id ConnID) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(id)
}

// Remove forgets a connection entirely, returning the identity it had.
func (r *Registry) Remove(id ConnID) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	return r.unbindLocked(id)
}

func (r *Registry) unbindLocked(id ConnID) (Binding, bool) {
	b, ok := r.bindings[id]
	if !ok {
		return Binding{}, false
	}
	delete(r.bindings, id)
	switch b.Role {
	case RoleParticipant:
		key := participantKey{b.SessionID, b.ParticipantID}
		if r.participants[key] == id {
			delete(r.participants, key)
		}
	case RoleHost:
		delete(r.hosts[b.SessionID], id)
		if len(r.hosts[b.SessionID]) == 0 {
			delete(r.hosts, b.SessionID)
		}
	}
	return *b, true
}

// UnbindSession drops every binding of a session (used when it is deleted).
func (r *Registry) UnbindSession(sessionID string) []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Binding
	for id, b := range r.bindings {
		if b.SessionID == sessionID {
			if unbound, ok := r.unbindLocked(id); ok {
				out = append(out, unbound)
			}
		}
	}
	return out
}

// ParticipantConn returns the live connection bound to a participant.
func (r *Registry) ParticipantConn(sessionID, participantID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.participants[participantKey{sessionID, participantID}]
	if !ok {
		return nil, false
	}
	b, ok := r.bindings[id]
	if !ok {
		return nil, false
	}
	return b.Conn, true
}

// IsParticipantBound reports whether a participant has a live connection.
func (r *Registry) IsParticipantBound(sessionID, participantID string) bool {
	_, ok := r.ParticipantConn(sessionID, participantID)
	return ok
}

// HostBound reports whether any host connection is attached to a session.
func (r *Registry) HostBound(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts[sessionID]) > 0
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
