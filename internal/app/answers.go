package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// SubmitAnswer validates, scores and records one answer. The deadline is
// checked against the server clock only. A second submission for the same
// question index returns the recorded outcome with Duplicate set and changes
// nothing.
func (c *Coordinator) SubmitAnswer(ctx context.Context, sessionID string, sub domain.Submission) (domain.Outcome, error) {
	answer := cleanAnswer(sub.Answer)

	var outcome domain.Outcome
	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		outcome = domain.Outcome{QuestionIndex: sub.QuestionIndex}
		if s.Status == domain.StatusForming {
			return domain.ErrSessionNotRunning
		}
		participant := s.Participant(sub.ParticipantID)
		if participant == nil {
			return domain.ErrParticipantNotFound
		}
		if rec, ok := participant.Answers[sub.QuestionIndex]; ok {
			outcome.Correct = rec.Correct
			outcome.Points = rec.Points
			outcome.TotalScore = participant.Score
			outcome.Duplicate = true
			return errNoChange
		}
		if s.Status == domain.StatusClosed {
			return domain.ErrSessionClosed
		}
		if !participant.IsActive {
			return domain.ErrParticipantNotFound.WithMessage("participant is no longer active")
		}
		if sub.QuestionIndex < 0 || sub.QuestionIndex > s.CurrentQuestion {
			return domain.ErrQuestionNotActive
		}

		now := c.clock.Now()
		if sub.QuestionIndex < s.CurrentQuestion || !s.QuestionOpen || !now.Before(s.QuestionDeadline) {
			outcome.Late = true
			outcome.TotalScore = participant.Score
			return domain.ErrLateSubmission
		}
		if len(answer) == 0 {
			return domain.ErrInvalidAnswer
		}

		quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
		if err != nil {
			return err
		}
		q, err := c.question(quiz, s, sub.QuestionIndex)
		if err != nil {
			return err
		}
		correct, points := domain.Score(q, answer)

		if participant.Answers == nil {
			participant.Answers = map[int]domain.AnswerRecord{}
		}
		participant.Answers[sub.QuestionIndex] = domain.AnswerRecord{
			Answer:      answer,
			Correct:     correct,
			Points:      points,
			SubmittedAt: now,
		}
		participant.Score += points
		if correct {
			participant.CorrectCount++
		}
		participant.LastActivity = now

		outcome.Correct = correct
		outcome.Points = points
		outcome.TotalScore = participant.Score
		p.emit(
			domain.NewEvent(domain.EventAnswerResult, outcome).To(domain.ToParticipant(participant.ID)),
			domain.NewEvent(domain.EventAnswerSubmitted, domain.AnswerSubmittedPayload{
				ParticipantID: participant.ID,
				DisplayName:   participant.DisplayName,
				QuestionIndex: sub.QuestionIndex,
				Correct:       correct,
			}).To(domain.ToHost),
		)
		return nil
	})
	if err != nil {
		return outcome, err
	}
	if !outcome.Duplicate {
		log.Debug().Str("module", "app.scoring").Str("session", sessionID).Str("participant", sub.ParticipantID).
			Int("question", sub.QuestionIndex).Bool("correct", outcome.Correct).Int("points", outcome.Points).
			Dur("reported_remaining", sub.ReportedRemaining).Msg("answer recorded")
	}
	return outcome, nil
}

func cleanAnswer(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
