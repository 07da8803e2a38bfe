package app

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

const maxNameLength = 32

// Leave and disconnect reasons carried on participant-left events.
const (
	reasonLeft         = "left"
	reasonDisconnected = "disconnected"
	reasonStale        = "stale"
	reasonEvicted      = "capacity"
	reasonGraceExpired = "grace period expired"
)

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", domain.ErrInvalidName
	}
	return name, nil
}

// Admit adds a new participant. This is the one place that decides between
// admitting and rejecting a join; on a version conflict the whole decision
// is re-made against the fresh roster.
func (c *Coordinator) Admit(ctx context.Context, sessionID, displayName, cosmetic string) (domain.Participant, *domain.Session, error) {
	name, err := validName(displayName)
	if err != nil {
		return domain.Participant{}, nil, err
	}

	var admitted domain.Participant
	res, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		if s.Status == domain.StatusClosed {
			return domain.ErrSessionClosed
		}
		now := c.clock.Now()

		if s.Status == domain.StatusForming {
			c.purgeDisconnected(s, p)
		}
		if existing := s.ParticipantByName(name); existing != nil {
			if existing.IsActive && existing.IsConnected {
				return domain.ErrNameTaken
			}
			return domain.ErrNameReserved
		}
		if len(s.Roster) >= c.opts.MaxParticipants && !c.evictForCapacity(s, p) {
			return domain.ErrSessionFull
		}

		admitted = domain.Participant{
			ID:           c.opts.NewID(),
			DisplayName:  name,
			IsActive:     true,
			IsConnected:  true,
			Cosmetic:     cosmetic,
			JoinedAt:     now,
			LastActivity: now,
			Attachment:   1,
			Answers:      map[int]domain.AnswerRecord{},
		}
		s.Roster = append(s.Roster, admitted)
		p.emit(domain.NewEvent(domain.EventParticipantJoined, domain.ParticipantPayload{Player: domain.NewPlayerView(admitted)}))
		return nil
	})
	if err != nil {
		return domain.Participant{}, nil, err
	}
	log.Info().Str("module", "app.roster").Str("session", sessionID).Str("participant", admitted.ID).
		Str("name", admitted.DisplayName).Msg("participant admitted")
	return admitted, res.session, nil
}

// purgeDisconnected removes stale lobby entries left by abandoned join attempts.
func (c *Coordinator) purgeDisconnected(s *domain.Session, p *plan) {
	kept := s.Roster[:0]
	for _, participant := range s.Roster {
		if participant.IsConnected {
			kept = append(kept, participant)
			continue
		}
		left := participant
		left.IsActive = false
		p.emit(domain.NewEvent(domain.EventParticipantLeft, domain.ParticipantPayload{Player: domain.NewPlayerView(left), Reason: reasonStale}))
	}
	s.Roster = kept
}

// evictForCapacity frees one slot by dropping the oldest entry that is both
// inactive and disconnected. Active participants are never evicted.
func (c *Coordinator) evictForCapacity(s *domain.Session, p *plan) bool {
	candidates := make([]domain.Participant, 0)
	for _, participant := range s.Roster {
		if !participant.IsActive && !participant.IsConnected {
			candidates = append(candidates, participant)
		}
	}
	if len(candidates) == 0 {
		return false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastActivity.Before(candidates[j].LastActivity)
	})
	for len(s.Roster) >= c.opts.MaxParticipants && len(candidates) > 0 {
		victim := candidates[0]
		candidates = candidates[1:]
		s.RemoveParticipant(victim.ID)
		p.emit(domain.NewEvent(domain.EventParticipantLeft, domain.ParticipantPayload{Player: domain.NewPlayerView(victim), Reason: reasonEvicted}))
		sessionID := s.ID
		p.then(func() { c.timers.cancel(graceKey(sessionID, victim.ID)) })
	}
	return len(s.Roster) < c.opts.MaxParticipants
}

// Reconnect restores a retained participant by display name. A participant
// that still looks connected can only be taken over by a caller presenting its
// participant id; the old connection is then evicted.
func (c *Coordinator) Reconnect(ctx context.Context, sessionID, displayName, participantID, cosmetic string) (domain.Participant, *domain.Session, error) {
	name, err := validName(displayName)
	if err != nil {
		return domain.Participant{}, nil, err
	}

	var restored domain.Participant
	res, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		if s.Status == domain.StatusClosed {
			return domain.ErrSessionClosed
		}
		existing := s.ParticipantByName(name)
		if existing == nil || (participantID != "" && existing.ID != participantID) {
			return domain.ErrNotReconnectable
		}
		if existing.IsConnected && existing.IsActive && participantID != existing.ID {
			return domain.ErrAlreadyConnected
		}

		existing.IsConnected = true
		existing.IsActive = true
		existing.DisconnectedAt = nil
		existing.LastActivity = c.clock.Now()
		existing.Attachment++
		if cosmetic != "" {
			existing.Cosmetic = cosmetic
		}
		restored = *existing

		sid, pid := s.ID, existing.ID
		p.then(func() { c.timers.cancel(graceKey(sid, pid)) })
		p.emit(domain.NewEvent(domain.EventParticipantReconnected, domain.ParticipantPayload{Player: domain.NewPlayerView(restored)}))
		return nil
	})
	if err != nil {
		return domain.Participant{}, nil, err
	}
	log.Info().Str("module", "app.roster").Str("session", sessionID).Str("participant", restored.ID).Msg("participant reconnected")
	return restored, res.session, nil
}

// Disconnect records that a participant became unreachable. Lobby entries are
// removed outright; during play the entry is kept and a grace timer starts.
// Nothing happens while the participant has a live connection bound.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID, participantID string) error {
	return c.disconnect(ctx, sessionID, participantID, 0)
}

// disconnect is Disconnect on behalf of one particular attachment. A non-zero
// attachment that no longer matches the participant's means the connection
// that went away was already replaced, and the loss is ignored.
func (c *Coordinator) disconnect(ctx context.Context, sessionID, participantID string, attachment int64) error {
	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		participant := s.Participant(participantID)
		if participant == nil || !participant.IsConnected {
			return errNoChange
		}
		if attachment != 0 && participant.Attachment != attachment {
			return errNoChange
		}
		if c.registry.IsParticipantBound(sessionID, participantID) {
			return errNoChange
		}
		now := c.clock.Now()

		switch s.Status {
		case domain.StatusForming:
			left := *participant
			left.IsConnected = false
			left.IsActive = false
			s.RemoveParticipant(participantID)
			p.emit(domain.NewEvent(domain.EventParticipantLeft, domain.ParticipantPayload{Player: domain.NewPlayerView(left), Reason: reasonDisconnected}))
		case domain.StatusRunning:
			participant.IsConnected = false
			participant.DisconnectedAt = &now
			participant.LastActivity = now
			p.emit(domain.NewEvent(domain.EventParticipantLeft, domain.ParticipantPayload{Player: domain.NewPlayerView(*participant), Reason: reasonDisconnected}))
			since := now
			p.then(func() {
				c.timers.schedule(graceKey(sessionID, participantID), c.opts.GracePeriod, func() {
					c.expireGrace(sessionID, participantID, since)
				})
			})
		default:
			participant.IsConnected = false
			participant.LastActivity = now
		}
		return nil
	})
	return err
}

// expireGrace deactivates a participant that did not come back in time. The
// disconnect timestamp guards against acting on a stale timer after a
// reconnect-then-disconnect cycle.
func (c *Coordinator) expireGrace(sessionID, participantID string, since time.Time) {
	ctx, cancel := c.callbackContext()
	defer cancel()

	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		participant := s.Participant(participantID)
		if s.Status != domain.StatusRunning || participant == nil || participant.IsConnected || !participant.IsActive {
			return errNoChange
		}
		if participant.DisconnectedAt == nil || !participant.DisconnectedAt.Equal(since) {
			return errNoChange
		}
		participant.IsActive = false
		p.emit(
			domain.NewEvent(domain.EventParticipantDeactivated, domain.ParticipantPayload{Player: domain.NewPlayerView(*participant), Reason: reasonGraceExpired}),
			domain.NewEvent(domain.EventScoreUpdate, domain.ScoreUpdatePayload{Leaderboard: s.Rankings(false)}),
		)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.roster").Str("session", sessionID).Str("participant", participantID).
			Msg("grace expiry failed")
		return
	}
	log.Info().Str("module", "app.roster").Str("session", sessionID).Str("participant", participantID).Msg("grace period expired")
}

// Leave handles an explicit leave. During play the participant is kept for
// the record but no longer ranked.
func (c *Coordinator) Leave(ctx context.Context, sessionID, participantID string) error {
	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		participant := s.Participant(participantID)
		if participant == nil {
			return domain.ErrParticipantNotFound
		}
		if s.Status == domain.StatusClosed {
			return domain.ErrSessionClosed
		}

		left := *participant
		left.IsActive = false
		left.IsConnected = false
		if s.Status == domain.StatusForming {
			s.RemoveParticipant(participantID)
		} else {
			now := c.clock.Now()
			participant.IsActive = false
			participant.IsConnected = false
			participant.DisconnectedAt = &now
			participant.LastActivity = now
		}
		p.emit(domain.NewEvent(domain.EventParticipantLeft, domain.ParticipantPayload{Player: domain.NewPlayerView(left), Reason: reasonLeft}))
		if s.Status == domain.StatusRunning {
			p.emit(domain.NewEvent(domain.EventScoreUpdate, domain.ScoreUpdatePayload{Leaderboard: s.Rankings(false)}))
		}
		p.then(func() { c.timers.cancel(graceKey(sessionID, participantID)) })
		return nil
	})
	return err
}

// removeStale drops lobby participants that the sweeper found without a live
// connection. Each id is re-checked against the fresh roster.
func (c *Coordinator) removeStale(ctx context.Context, sessionID string, ids []string) (int, error) {
	removed := 0
	_, err := c.mutate(ctx, sessionID, func(s *domain.Session, p *plan) error {
		removed = 0
		if s.Status != domain.StatusForming {
			return errNoChange
		}
		for _, id := range ids {
			participant := s.Participant(id)
			if participant == nil || !participant.IsConnected || c.registry.IsParticipantBound(sessionID, id) {
				continue
			}
			left := *participant
			left.IsConnected = false
			left.IsActive = false
			s.RemoveParticipant(id)
			removed++
			p.emit(domain.NewEvent(domain.EventParticipantLeft, domain.ParticipantPayload{Player: domain.NewPlayerView(left), Reason: reasonStale}))
		}
		if removed == 0 {
			return errNoChange
		}
		return nil
	})
	return removed, err
}
