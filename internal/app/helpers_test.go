package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/dependencies/mocks"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

var epoch = time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

// fakeConn records every event it is sent.
type fakeConn struct {
	id app.ConnID

	mu     sync.Mutex
	events []domain.Event
	closed bool
	full   bool
}

func newConn(id string) *fakeConn {
	return &fakeConn{id: app.ConnID(id)}
}

func (c *fakeConn) ID() app.ConnID { return c.id }

func (c *fakeConn) Send(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.full {
		return errors.New("buffer full")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) all() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func (c *fakeConn) types() []domain.EventType {
	var out []domain.EventType
	for _, ev := range c.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (c *fakeConn) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range c.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) last(t domain.EventType) (domain.Event, bool) {
	evs := c.ofType(t)
	if len(evs) == 0 {
		return domain.Event{}, false
	}
	return evs[len(evs)-1], true
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// quizWith builds n questions where option "a" is correct and "b" is not.
func quizWith(n, points, limitSeconds int) domain.Quiz {
	quiz := domain.Quiz{ID: "quiz-1", Title: "General knowledge"}
	for i := 0; i < n; i++ {
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:     fmt.Sprintf("q%d", i+1),
			Prompt: fmt.Sprintf("Question %d", i+1),
			Options: []domain.Option{
				{ID: "a", Text: "right", Correct: true},
				{ID: "b", Text: "wrong"},
			},
			Points:           points,
			TimeLimitSeconds: limitSeconds,
		})
	}
	return quiz
}

// coordinatorSuite is embedded by the suites in this package.
type coordinatorSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *mocks.MockClock
	store   *memory.SessionStore
	results *memory.ResultsSink
	quiz    domain.Quiz
	opts    app.Options
	coord   *app.Coordinator
}

func (s *coordinatorSuite) setup(quiz domain.Quiz, opts app.Options) {
	s.ctx = context.Background()
	s.clock = mocks.NewMockClock(epoch)
	s.store = memory.NewSessionStore()
	s.results = memory.NewResultsSink()
	s.quiz = quiz
	opts.Clock = s.clock
	s.opts = opts
	s.coord = s.newCoordinator(s.store)
}

func (s *coordinatorSuite) newCoordinator(store app.SessionRepository) *app.Coordinator {
	loader := memory.NewStaticQuizLoader(map[string]domain.Quiz{s.quiz.ID: s.quiz})
	coord := app.NewCoordinator(store, loader, s.results, s.opts)
	s.T().Cleanup(coord.Close)
	return coord
}

func (s *coordinatorSuite) createSession() *domain.Session {
	session, err := s.coord.CreateSession(s.ctx, s.quiz.ID, "")
	s.Require().NoError(err)
	return session
}

func (s *coordinatorSuite) admit(sessionID, name string) domain.Participant {
	p, _, err := s.coord.Admit(s.ctx, sessionID, name, "")
	s.Require().NoError(err)
	return p
}

func (s *coordinatorSuite) start(sessionID string) {
	_, started, err := s.coord.Start(s.ctx, sessionID)
	s.Require().NoError(err)
	s.Require().True(started)
}

func (s *coordinatorSuite) session(id string) *domain.Session {
	session, err := s.coord.Session(s.ctx, id)
	s.Require().NoError(err)
	return session
}

func (s *coordinatorSuite) participant(sessionID, participantID string) domain.Participant {
	p := s.session(sessionID).Participant(participantID)
	s.Require().NotNil(p, "participant %s not in roster", participantID)
	return *p
}

func (s *coordinatorSuite) answer(sessionID, participantID string, index int, values ...string) (domain.Outcome, error) {
	return s.coord.SubmitAnswer(s.ctx, sessionID, domain.Submission{
		ParticipantID: participantID,
		QuestionIndex: index,
		Answer:        values,
	})
}

// hostConn creates a session through the command path and returns the bound host connection.
func (s *coordinatorSuite) hostConn(id string) (*fakeConn, domain.SessionCreatedPayload) {
	conn := newConn(id)
	s.coord.Registry().Register(conn)
	s.Require().NoError(s.coord.Handle(s.ctx, conn, app.CreateCommand{QuizID: s.quiz.ID}))
	ev, ok := conn.last(domain.EventSessionCreated)
	s.Require().True(ok)
	return conn, ev.Payload.(domain.SessionCreatedPayload)
}

// playerConn joins a session through the command path.
func (s *coordinatorSuite) playerConn(id, code, name string) (*fakeConn, string) {
	conn := newConn(id)
	s.coord.Registry().Register(conn)
	s.Require().NoError(s.coord.Handle(s.ctx, conn, app.JoinCommand{Code: code, DisplayName: name}))
	ev, ok := conn.last(domain.EventSessionState)
	s.Require().True(ok)
	return conn, ev.Payload.(domain.SnapshotPayload).ParticipantID
}
