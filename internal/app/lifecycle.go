package app

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// Reasons carried on question-ended and session-ended events.
const (
	reasonDeadline   = "deadline"
	reasonAdvanced   = "advanced"
	reasonHostClosed = "closed by host"
	reasonCompleted  = "completed"
	reasonHostEnded  = "ended by host"
	reasonAbandoned  = "abandoned"
)

// Start moves a forming session to running and opens the first question.
// It reports false without writing when the session is already running, so
// the caller can resend the current state instead.
func (c *Coordinator) Start(ctx context.Context, sessionID string) (*domain.Session, bool, error) {
	res, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		switch s.Status {
		case domain.StatusClosed:
			return domain.ErrSessionClosed
		case domain.StatusRunning:
			return errNoChange
		}
		if len(s.QuestionIDs) == 0 {
			return domain.ErrNoQuestions
		}
		quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		s.Status = domain.StatusRunning
		s.StartedAt = &now
		p.emit(domain.NewEvent(domain.EventSessionStarted, domain.SessionStartedPayload{
			StartedAt:      now,
			TotalQuestions: len(s.QuestionIDs),
		}))
		return c.openQuestion(s, p, quiz, 0)
	})
	if err != nil {
		return nil, false, err
	}
	if res.written {
		log.Info().Str("module", "app.coordinator").Str("session", sessionID).
			Int("participants", len(res.session.Roster)).Msg("session started")
	}
	return res.session, res.written, nil
}

// Advance closes the open question, if any, and opens the next one. Advancing
// past the last question ends the session.
func (c *Coordinator) Advance(ctx context.Context, sessionID string) error {
	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		if err := requireRunning(s); err != nil {
			return err
		}
		quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
		if err != nil {
			return err
		}
		if s.QuestionOpen {
			c.closeQuestion(s, p, quiz, reasonAdvanced)
			if s.Status == domain.StatusClosed {
				return nil
			}
		} else if s.IsLastQuestion() {
			c.end(s, p, reasonCompleted)
			return nil
		}
		return c.openQuestion(s, p, quiz, s.CurrentQuestion+1)
	})
	return err
}

// EndQuestion closes the open question window before its deadline.
func (c *Coordinator) EndQuestion(ctx context.Context, sessionID string) error {
	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		if err := requireRunning(s); err != nil {
			return err
		}
		if !s.QuestionOpen {
			return domain.ErrQuestionNotOpen
		}
		quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
		if err != nil {
			return err
		}
		c.closeQuestion(s, p, quiz, reasonHostClosed)
		return nil
	})
	return err
}

// EndSession closes a forming or running session and publishes final rankings.
func (c *Coordinator) EndSession(ctx context.Context, sessionID, reason string) error {
	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		if s.Status == domain.StatusClosed {
			return domain.ErrSessionClosed
		}
		if s.QuestionOpen {
			quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
			if err != nil {
				return err
			}
			c.closeWindow(s, p, quiz, reason)
		}
		c.end(s, p, reason)
		return nil
	})
	return err
}

func requireRunning(s *domain.Session) error {
	switch s.Status {
	case domain.StatusClosed:
		return domain.ErrSessionClosed
	case domain.StatusForming:
		return domain.ErrSessionNotRunning
	}
	return nil
}

// openQuestion makes index the live question and arms its deadline. The
// previous deadline and any pending auto-advance are cancelled.
func (c *Coordinator) openQuestion(s *domain.Session, p *plan, quiz domain.Quiz, index int) error {
	if index < s.CurrentQuestion {
		return domain.ErrQuestionNotActive
	}
	q, err := c.question(quiz, s, index)
	if err != nil {
		return err
	}
	limit := q.TimeLimit(c.opts.DefaultTimeLimit)

	s.CurrentQuestion = index
	s.QuestionOpen = true
	s.QuestionDeadline = c.clock.Now().Add(limit)
	p.emit(domain.NewEvent(domain.EventQuestionStarted, domain.NewQuestionView(q, index, len(s.QuestionIDs), s.QuestionDeadline)))

	sessionID := s.ID
	p.then(func() {
		c.timers.cancel(advanceKey(sessionID))
		c.timers.schedule(deadlineKey(sessionID), limit, func() { c.onDeadline(sessionID, index) })
	})
	return nil
}

// closeQuestion ends the answer window and reveals the accepted answers. The
// last question also ends the session in the same batch.
func (c *Coordinator) closeQuestion(s *domain.Session, p *plan, quiz domain.Quiz, reason string) {
	c.closeWindow(s, p, quiz, reason)

	if s.IsLastQuestion() {
		c.end(s, p, reasonCompleted)
		return
	}
	if c.opts.AutoAdvance > 0 {
		sessionID, index, delay := s.ID, s.CurrentQuestion, c.opts.AutoAdvance
		p.then(func() {
			c.timers.schedule(advanceKey(sessionID), delay, func() { c.onAutoAdvance(sessionID, index) })
		})
	}
}

func (c *Coordinator) closeWindow(s *domain.Session, p *plan, quiz domain.Quiz, reason string) {
	index := s.CurrentQuestion
	s.QuestionOpen = false

	var accepted []string
	if q, err := c.question(quiz, s, index); err == nil {
		for v := range q.AcceptedSet() {
			accepted = append(accepted, v)
		}
		sort.Strings(accepted)
	}
	answered := 0
	for _, participant := range s.Roster {
		if _, ok := participant.Answers[index]; ok {
			answered++
		}
	}
	p.emit(
		domain.NewEvent(domain.EventQuestionEnded, domain.QuestionEndedPayload{
			Index:    index,
			Accepted: accepted,
			Answered: answered,
			Reason:   reason,
		}),
		domain.NewEvent(domain.EventScoreUpdate, domain.ScoreUpdatePayload{Leaderboard: s.Rankings(false)}),
	)

	sessionID := s.ID
	p.then(func() { c.timers.cancel(deadlineKey(sessionID)) })
}

// end closes the session. Timers are cancelled and the results sink is
// called once, after the closing write has landed.
func (c *Coordinator) end(s *domain.Session, p *plan, reason string) {
	now := c.clock.Now()
	s.Status = domain.StatusClosed
	s.QuestionOpen = false
	s.EndedAt = &now

	results := s.Results()
	p.emit(domain.NewEvent(domain.EventSessionEnded, domain.SessionEndedPayload{
		EndedAt:  now,
		Rankings: results.Rankings,
		Reason:   reason,
	}))

	sessionID := s.ID
	p.then(func() {
		c.timers.cancelSession(sessionID)
		log.Info().Str("module", "app.coordinator").Str("session", sessionID).Str("reason", reason).
			Int("ranked", len(results.Rankings)).Msg("session ended")
		c.recordResults(results)
	})
}

func (c *Coordinator) recordResults(results domain.SessionResults) {
	if c.results == nil {
		return
	}
	ctx, cancel := c.callbackContext()
	defer cancel()
	if err := c.results.RecordResults(ctx, results); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("session", results.SessionID).
			Msg("failed to record session results")
	}
}

// onDeadline closes question index when its time limit runs out. A deadline
// that belongs to an already closed or replaced question does nothing.
func (c *Coordinator) onDeadline(sessionID string, index int) {
	ctx, cancel := c.callbackContext()
	defer cancel()

	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		if s.Status != domain.StatusRunning || !s.QuestionOpen || s.CurrentQuestion != index {
			return errNoChange
		}
		quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
		if err != nil {
			return err
		}
		c.closeQuestion(s, p, quiz, reasonDeadline)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("session", sessionID).Int("question", index).
			Msg("failed to close question at deadline")
	}
}

func (c *Coordinator) onAutoAdvance(sessionID string, index int) {
	ctx, cancel := c.callbackContext()
	defer cancel()

	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		if s.Status != domain.StatusRunning || s.QuestionOpen || s.CurrentQuestion != index {
			return errNoChange
		}
		quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
		if err != nil {
			return err
		}
		return c.openQuestion(s, p, quiz, index+1)
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("session", sessionID).Int("question", index).
			Msg("auto-advance failed")
	}
}
