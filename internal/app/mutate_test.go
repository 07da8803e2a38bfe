package app_test

import (
	"context"
	"errors"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

var (
	_ app.SessionRepository = (*conflictingStore)(nil)
	_ app.SessionRepository = (*racingStore)(nil)
	_ app.SessionRepository = (*lossyStore)(nil)
)

// conflictingStore loses every conditional write.
type conflictingStore struct {
	*memory.SessionStore
	mu      sync.Mutex
	updates int
}

func (c *conflictingStore) Update(context.Context, *domain.Session, int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	return domain.ErrVersionConflict
}

// racingStore lets a competing admit land just before the first write.
type racingStore struct {
	*memory.SessionStore
	once sync.Once
	race func()
}

func (r *racingStore) Update(ctx context.Context, s *domain.Session, expected int64) error {
	r.once.Do(r.race)
	return r.SessionStore.Update(ctx, s, expected)
}

func (s *LifecycleSuite) TestRetriesAreBounded() {
	store := &conflictingStore{SessionStore: memory.NewSessionStore()}
	s.opts.WriteAttempts = 3
	coord := s.newCoordinator(store)

	session, err := coord.CreateSession(s.ctx, s.quiz.ID, "")
	s.Require().NoError(err)

	_, _, err = coord.Admit(s.ctx, session.ID, "Ann", "")
	s.ErrorIs(err, domain.ErrRetryExhausted)
	s.Equal(domain.KindRetryExhausted, domain.KindOf(err))
	s.Equal(3, store.updates)

	stored, err := coord.Session(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Empty(stored.Roster)
	s.Equal(int64(1), stored.Version)
}

func (s *LifecycleSuite) TestConflictReappliesAgainstFreshState() {
	inner := memory.NewSessionStore()
	store := &racingStore{SessionStore: inner}
	coord := s.newCoordinator(store)

	session, err := coord.CreateSession(s.ctx, s.quiz.ID, "")
	s.Require().NoError(err)

	store.race = func() {
		current, err := inner.Get(s.ctx, session.ID)
		s.Require().NoError(err)
		expected := current.Version
		current.Roster = append(current.Roster, domain.Participant{
			ID:          "rival",
			DisplayName: "Ann",
			IsActive:    true,
			IsConnected: true,
			JoinedAt:    epoch,
		})
		current.Version = expected + 1
		s.Require().NoError(inner.Update(s.ctx, current, expected))
	}

	_, _, err = coord.Admit(s.ctx, session.ID, "ann", "")
	s.ErrorIs(err, domain.ErrNameTaken)

	stored, err := coord.Session(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Roster, 1)
	s.Equal("rival", stored.Roster[0].ID)
	s.Equal(int64(2), stored.Version)
}

// lossyStore fails the next write with a transport error. With apply set the
// write still reaches the store, as when a reply is lost.
type lossyStore struct {
	*memory.SessionStore
	mu    sync.Mutex
	fail  bool
	apply bool
}

func (l *lossyStore) failNext(apply bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail, l.apply = true, apply
}

func (l *lossyStore) Update(ctx context.Context, s *domain.Session, expected int64) error {
	l.mu.Lock()
	fail, apply := l.fail, l.apply
	l.fail = false
	l.mu.Unlock()
	if !fail {
		return l.SessionStore.Update(ctx, s, expected)
	}
	if apply {
		if err := l.SessionStore.Update(ctx, s, expected); err != nil {
			return err
		}
	}
	return errors.New("i/o timeout")
}

func (s *LifecycleSuite) TestWriteThatLandedDespiteErrorIsPublished() {
	store := &lossyStore{SessionStore: memory.NewSessionStore()}
	s.coord = s.newCoordinator(store)
	host, created := s.hostConn("host")

	store.failNext(true)
	ann, _, err := s.coord.Admit(s.ctx, created.SessionID, "Ann", "")
	s.Require().NoError(err)
	s.NotEmpty(ann.ID)

	s.admit(created.SessionID, "Bob")
	s.start(created.SessionID)

	joined := host.ofType(domain.EventParticipantJoined)
	s.Require().Len(joined, 2)
	s.Equal(int64(2), joined[0].Version)
	s.Equal(int64(3), joined[1].Version)
	_, ok := host.last(domain.EventQuestionStarted)
	s.True(ok)
}

func (s *LifecycleSuite) TestWriteThatFailedKeepsFanOutFlowing() {
	store := &lossyStore{SessionStore: memory.NewSessionStore()}
	s.coord = s.newCoordinator(store)
	host, created := s.hostConn("host")

	store.failNext(false)
	_, _, err := s.coord.Admit(s.ctx, created.SessionID, "Ann", "")
	s.Require().Error(err)
	s.Empty(s.session(created.SessionID).Roster)

	s.admit(created.SessionID, "Ann")
	s.admit(created.SessionID, "Bob")
	s.start(created.SessionID)

	s.Len(host.ofType(domain.EventParticipantJoined), 2)
	_, ok := host.last(domain.EventSessionStarted)
	s.True(ok)
}
