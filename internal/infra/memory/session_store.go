package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Sessions are cloned on the way in and out so callers never share state.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	codes    map[string]string // join code -> session id
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.Session),
		codes:    make(map[string]string),
	}
}

func (s *SessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[session.Code]; ok {
		return domain.ErrCodeTaken
	}
	if _, ok := s.sessions[session.ID]; ok {
		return domain.ErrVersionConflict
	}
	s.sessions[session.ID] = session.Clone()
	s.codes[session.Code] = session.ID
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Get(ctx, id)
}

// Update replaces the stored session if its version still equals expectedVersion.
func (s *SessionStore) Update(_ context.Context, session *domain.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	if s.codes[session.Code] == id {
		delete(s.codes, session.Code)
	}
	return nil
}

// List returns copies of every stored session ordered by creation time.
func (s *SessionStore) List(_ context.Context) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
