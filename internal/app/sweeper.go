package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// SweepReport summarises one sweeper pass.
type SweepReport struct {
	Evicted      int // lobby participants removed for lack of a live connection
	Disconnected int // running participants moved onto the grace path
	Ended        int // running sessions ended because nobody was left
	Deleted      int // sessions removed from the store
}

// RunSweeper reconciles stored sessions with live connections every
// SweepInterval until ctx is cancelled. Sweep errors are logged and the
// next tick tries again.
func (c *Coordinator) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	log.Info().Str("module", "app.sweeper").Dur("interval", c.opts.SweepInterval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.sweeper").Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			report, err := c.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Str("module", "app.sweeper").Msg("sweep failed")
			}
			if report != (SweepReport{}) {
				log.Info().Str("module", "app.sweeper").Int("evicted", report.Evicted).
					Int("disconnected", report.Disconnected).Int("ended", report.Ended).
					Int("deleted", report.Deleted).Msg("sweep finished")
			}
		}
	}
}

// Sweep performs one reconciliation pass. It keeps going past per-session
// failures and returns them joined.
func (c *Coordinator) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	sessions, err := c.sessions.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list sessions: %w", err)
	}
	now := c.clock.Now()

	var errs []error
	kept := make([]*domain.Session, 0, len(sessions))
	for _, s := range sessions {
		deleted, err := c.sweepSession(ctx, s, now, &report)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
		}
		if !deleted {
			kept = append(kept, s)
		}
	}

	if over := len(kept) - c.opts.MaxSessions; over > 0 {
		for _, s := range c.pruneOrder(kept) {
			if over == 0 {
				break
			}
			if err := c.deleteSession(ctx, s.ID); err != nil {
				errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
				continue
			}
			report.Deleted++
			over--
		}
		if over > 0 {
			log.Warn().Str("module", "app.sweeper").Int("over", over).Int("limit", c.opts.MaxSessions).
				Msg("session limit exceeded by live sessions")
		}
	}
	return report, errors.Join(errs...)
}

func (c *Coordinator) sweepSession(ctx context.Context, s *domain.Session, now time.Time, report *SweepReport) (bool, error) {
	switch s.Status {
	case domain.StatusClosed:
		if s.EndedAt != nil && now.Sub(*s.EndedAt) >= c.opts.Retention {
			return true, c.deleteCounted(ctx, s.ID, report)
		}
		return false, nil

	case domain.StatusForming:
		if c.idle(s, now) {
			return true, c.deleteCounted(ctx, s.ID, report)
		}
		stale := c.unboundParticipants(s, now)
		if len(stale) == 0 {
			return false, nil
		}
		removed, err := c.removeStale(ctx, s.ID, stale)
		report.Evicted += removed
		return false, err

	default:
		var errs []error
		for _, id := range c.unboundParticipants(s, now) {
			p := s.Participant(id)
			if err := c.disconnect(ctx, s.ID, id, p.Attachment); err != nil {
				errs = append(errs, err)
				continue
			}
			p.IsConnected = false
			report.Disconnected++
		}
		if c.idle(s, now) {
			err := c.EndSession(ctx, s.ID, reasonAbandoned)
			if err == nil {
				report.Ended++
			} else if !errors.Is(err, domain.ErrSessionClosed) {
				errs = append(errs, err)
			}
		}
		return false, errors.Join(errs...)
	}
}

// unboundParticipants lists participants the store thinks are connected but
// that have no live connection and have not been heard from for at least one
// sweep interval.
func (c *Coordinator) unboundParticipants(s *domain.Session, now time.Time) []string {
	var ids []string
	for _, p := range s.Roster {
		if !p.IsConnected || c.registry.IsParticipantBound(s.ID, p.ID) {
			continue
		}
		if now.Sub(p.LastActivity) < c.opts.SweepInterval {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids
}

// idle reports whether nobody is attached to the session and nothing has
// happened in it for IdleTTL.
func (c *Coordinator) idle(s *domain.Session, now time.Time) bool {
	if c.registry.HostBound(s.ID) {
		return false
	}
	for _, p := range s.Roster {
		if p.IsConnected || c.registry.IsParticipantBound(s.ID, p.ID) {
			return false
		}
	}
	return now.Sub(lastTouched(s)) >= c.opts.IdleTTL
}

func lastTouched(s *domain.Session) time.Time {
	last := s.CreatedAt
	if s.StartedAt != nil && s.StartedAt.After(last) {
		last = *s.StartedAt
	}
	for _, p := range s.Roster {
		if p.LastActivity.After(last) {
			last = p.LastActivity
		}
	}
	return last
}

// pruneOrder returns the sessions that may be dropped to respect MaxSessions:
// closed sessions by end time first, then empty lobbies by creation time.
// Running sessions and lobbies with people in them are never pruned.
func (c *Coordinator) pruneOrder(sessions []*domain.Session) []*domain.Session {
	var closed, lobbies []*domain.Session
	for _, s := range sessions {
		switch {
		case s.Status == domain.StatusClosed:
			closed = append(closed, s)
		case s.Status == domain.StatusForming && s.ConnectedCount() == 0 && !c.registry.HostBound(s.ID):
			lobbies = append(lobbies, s)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return endedAt(closed[i]).Before(endedAt(closed[j]))
	})
	sort.SliceStable(lobbies, func(i, j int) bool {
		return lobbies[i].CreatedAt.Before(lobbies[j].CreatedAt)
	})
	return append(closed, lobbies...)
}

func endedAt(s *domain.Session) time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return s.CreatedAt
}

func (c *Coordinator) deleteCounted(ctx context.Context, sessionID string, report *SweepReport) error {
	if err := c.deleteSession(ctx, sessionID); err != nil {
		return err
	}
	report.Deleted++
	return nil
}

// deleteSession removes a session from the store and detaches everything
// still pointing at it.
func (c *Coordinator) deleteSession(ctx context.Context, sessionID string) error {
	if err := c.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	c.timers.cancelSession(sessionID)
	c.registry.UnbindSession(sessionID)
	for _, conn := range c.router.Close(sessionID) {
		reply(conn, domain.Event{
			Type:      domain.EventEvicted,
			SessionID: sessionID,
			Payload:   map[string]string{"reason": "session expired"},
		})
		conn.Close()
	}
	log.Info().Str("module", "app.sweeper").Str("session", sessionID).Msg("session deleted")
	return nil
}
