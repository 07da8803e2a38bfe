package app

import (
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// snapshotFunc returns a builder for the full-state event a (re)joining
// connection receives instead of replaying history.
func (c *Coordinator) snapshotFunc(quiz domain.Quiz, role Role, participantID string) func(*domain.Session) domain.Event {
	return func(s *domain.Session) domain.Event {
		payload := domain.SnapshotPayload{
			SessionID:     s.ID,
			Title:         s.Title,
			Code:          s.Code,
			Status:        s.Status,
			Role:          string(role),
			ParticipantID: participantID,
			QuestionOpen:  s.HasActiveQuestion(),
			Players:       make([]domain.PlayerView, 0, len(s.Roster)),
			Leaderboard:   s.Rankings(false),
		}
		for _, p := range s.Roster {
			payload.Players = append(payload.Players, domain.NewPlayerView(p))
		}
		if s.Status == domain.StatusRunning && s.CurrentQuestion >= 0 {
			if q, err := c.question(quiz, s, s.CurrentQuestion); err == nil {
				view := domain.NewQuestionView(q, s.CurrentQuestion, len(s.QuestionIDs), s.QuestionDeadline)
				payload.Question = &view
			}
		}
		if p := s.Participant(participantID); p != nil {
			payload.Self = &domain.SelfStanding{Score: p.Score, CorrectCount: p.CorrectCount}
			payload.Answered = make(map[int]bool, len(p.Answers))
			for idx := range p.Answers {
				payload.Answered[idx] = true
			}
		}
		return domain.Event{Type: domain.EventSessionState, Payload: payload}
	}
}

// attachParticipant binds conn to a participant and subscribes it with a snapshot.
// A previous connection of the same participant is evicted.
func (c *Coordinator) attachParticipant(conn Conn, s *domain.Session, quiz domain.Quiz, participantID string) error {
	var attachment int64
	if p := s.Participant(participantID); p != nil {
		attachment = p.Attachment
	}
	evicted, err := c.registry.BindParticipant(conn, s.ID, participantID, attachment)
	if err != nil {
		return err
	}
	if evicted != nil {
		c.router.Unsubscribe(s.ID, evicted.ID())
		_ = evicted.Send(domain.Event{
			Type:      domain.EventEvicted,
			SessionID: s.ID,
			Payload:   map[string]string{"reason": "connected elsewhere"},
		})
		evicted.Close()
		log.Info().Str("module", "app.coordinator").Str("session", s.ID).Str("participant", participantID).
			Str("evicted_conn", string(evicted.ID())).Msg("evicted previous connection")
	}
	return c.router.Subscribe(conn, RoleParticipant, participantID, s, c.snapshotFunc(quiz, RoleParticipant, participantID))
}

func (c *Coordinator) attachHost(conn Conn, s *domain.Session, quiz domain.Quiz) error {
	if err := c.registry.BindHost(conn, s.ID); err != nil {
		return err
	}
	return c.router.Subscribe(conn, RoleHost, "", s, c.snapshotFunc(quiz, RoleHost, ""))
}

func (c *Coordinator) onSubscriberDropped(sessionID string, conn Conn) {
	log.Warn().Str("module", "app.broadcast").Str("session", sessionID).Str("conn", string(conn.ID())).
		Msg("closing slow connection; client will resync on reconnect")
	conn.Close()
}
