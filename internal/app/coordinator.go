package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/dependencies/clock"
	"live-quiz-service/internal/domain"
)

// SessionRepository abstracts how sessions are stored (in-memory, Redis, etc).
// Get and List return copies; Update is conditioned on the stored version.
type SessionRepository interface {
	// Create stores a new session; it returns domain.ErrCodeTaken when the join code is in use.
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	GetByCode(ctx context.Context, code string) (*domain.Session, error)
	// Update writes s only if the stored version still equals expectedVersion,
	// otherwise it returns domain.ErrVersionConflict.
	Update(ctx context.Context, s *domain.Session, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Session, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// ResultsSink receives final outcomes once per finished session.
type ResultsSink interface {
	RecordResults(ctx context.Context, results domain.SessionResults) error
}

// Options tunes the coordinator. Zero values are replaced by DefaultOptions.
type Options struct {
	MaxParticipants  int
	MaxSessions      int
	GracePeriod      time.Duration
	DefaultTimeLimit time.Duration
	AutoAdvance      time.Duration // 0 leaves advancing to the host
	SweepInterval    time.Duration
	IdleTTL          time.Duration
	Retention        time.Duration
	WriteAttempts    int
	CallbackTimeout  time.Duration

	Clock   clock.Clock
	NewID   func() string
	NewCode func() string
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxParticipants:  100,
		MaxSessions:      1000,
		GracePeriod:      30 * time.Second,
		DefaultTimeLimit: 30 * time.Second,
		SweepInterval:    15 * time.Second,
		IdleTTL:          30 * time.Minute,
		Retention:        10 * time.Minute,
		WriteAttempts:    3,
		CallbackTimeout:  5 * time.Second,
		Clock:            clock.New(),
		NewID:            uuid.NewString,
		NewCode:          randomCode,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxParticipants <= 0 {
		o.MaxParticipants = def.MaxParticipants
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = def.MaxSessions
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = def.GracePeriod
	}
	if o.DefaultTimeLimit <= 0 {
		o.DefaultTimeLimit = def.DefaultTimeLimit
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = def.SweepInterval
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = def.IdleTTL
	}
	if o.Retention <= 0 {
		o.Retention = def.Retention
	}
	if o.WriteAttempts <= 0 {
		o.WriteAttempts = def.WriteAttempts
	}
	if o.CallbackTimeout <= 0 {
		o.CallbackTimeout = def.CallbackTimeout
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	if o.NewID == nil {
		o.NewID = def.NewID
	}
	if o.NewCode == nil {
		o.NewCode = def.NewCode
	}
	return o
}

// Coordinator owns live quiz sessions: roster, lifecycle, scoring and fan-out.
// Network handlers never touch a session record directly; everything goes
// through the optimistic write path in mutate.go.
type Coordinator struct {
	sessions SessionRepository
	quizzes  QuizRepository
	results  ResultsSink
	opts     Options
	clock    clock.Clock

	registry *Registry
	router   *Router
	timers   *timerSet
}

func NewCoordinator(sessions SessionRepository, quizzes QuizRepository, results ResultsSink, opts Options) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		sessions: sessions,
		quizzes:  quizzes,
		results:  results,
		opts:     opts,
		clock:    opts.Clock,
		registry: NewRegistry(opts.Clock),
		timers:   newTimerSet(opts.Clock),
	}
	c.router = NewRouter(opts.Clock, c.onSubscriberDropped)
	return c
}

// Registry exposes the connection registry (used by the transport and sweeper).
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Session returns a copy of the stored session.
func (c *Coordinator) Session(ctx context.Context, id string) (*domain.Session, error) {
	return c.sessions.Get(ctx, id)
}

// CreateSession allocates a new forming session for a quiz with a unique join code.
func (c *Coordinator) CreateSession(ctx context.Context, quizID, title string) (*domain.Session, error) {
	quiz, err := c.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = quiz.Title
	}
	ids := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		ids[i] = q.ID
	}

	const codeAttempts = 10
	for attempt := 0; attempt < codeAttempts; attempt++ {
		s := &domain.Session{
			ID:              c.opts.NewID(),
			Title:           title,
			Code:            c.opts.NewCode(),
			QuizID:          quiz.ID,
			HostKey:         c.opts.NewID(),
			Status:          domain.StatusForming,
			QuestionIDs:     ids,
			CurrentQuestion: -1,
			Roster:          []domain.Participant{},
			CreatedAt:       c.clock.Now(),
			Version:         1,
		}
		if s.Code == "" {
			continue
		}
		err := c.sessions.Create(ctx, s)
		if errors.Is(err, domain.ErrCodeTaken) {
			log.Debug().Str("module", "app.coordinator").Str("code", s.Code).Msg("join code collision, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		c.router.Open(s)
		log.Info().Str("module", "app.coordinator").Str("session", s.ID).Str("code", s.Code).
			Str("quiz", quiz.ID).Int("questions", len(ids)).Msg("session created")
		return s.Clone(), nil
	}
	return nil, domain.ErrCodeTaken.WithMessage("could not allocate a unique join code")
}

// Close stops every pending timer. Sessions stay in the store.
func (c *Coordinator) Close() {
	c.timers.stopAll()
}

func (c *Coordinator) lookup(ctx context.Context, ref string) (*domain.Session, error) {
	if ref == "" {
		return nil, domain.ErrSessionNotFound
	}
	s, err := c.sessions.Get(ctx, ref)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}
	return c.sessions.GetByCode(ctx, ref)
}

func (c *Coordinator) question(quiz domain.Quiz, s *domain.Session, index int) (domain.Question, error) {
	if index < 0 || index >= len(s.QuestionIDs) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	id := s.QuestionIDs[index]
	for _, q := range quiz.Questions {
		if q.ID == id {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound.WithMessage(fmt.Sprintf("question %q not found in quiz %q", id, quiz.ID))
}

// callbackContext bounds work done from timer callbacks, which have no caller context.
func (c *Coordinator) callbackContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.CallbackTimeout)
}

const codeDigits = 6

// randomCode returns a zero-padded numeric join code, or "" when no
// randomness is available.
func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("join code generation failed")
		return ""
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64())
}
