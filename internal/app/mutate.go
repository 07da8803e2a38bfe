package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// errNoChange aborts a mutation without writing; mutate reports success.
var errNoChange = errors.New("no change")

// plan collects what a single mutation attempt wants to happen once its write
// lands: the delta events to publish and follow-up work such as timers.
type plan struct {
	events []domain.Event
	after  []func()
}

func (p *plan) emit(events ...domain.Event) {
	p.events = append(p.events, events...)
}

func (p *plan) then(f func()) {
	p.after = append(p.after, f)
}

// mutation computes a new session state from a freshly read copy. It may run
// several times; everything with side effects belongs in plan.then.
type mutation func(s *domain.Session, p *plan) error

// commit is the result of a successful mutate call.
type commit struct {
	session *domain.Session
	written bool
}

// mutate is the single optimistic write path: read, apply, write conditioned
// on the version that was read. A version conflict discards the attempt and
// re-runs the whole mutation against fresh state, up to WriteAttempts times.
// Nothing is visible unless the write lands.
func (c *Coordinator) mutate(ctx context.Context, sessionID string, fn mutation) (commit, error) {
	for attempt := 1; attempt <= c.opts.WriteAttempts; attempt++ {
		current, err := c.sessions.Get(ctx, sessionID)
		if err != nil {
			return commit{}, err
		}
		expected := current.Version

		p := &plan{}
		err = fn(current, p)
		if errors.Is(err, errNoChange) {
			return commit{session: current}, nil
		}
		if err != nil {
			return commit{}, err
		}

		current.Version = expected + 1
		err = c.sessions.Update(ctx, current, expected)
		if errors.Is(err, domain.ErrVersionConflict) {
			log.Debug().Str("module", "app.coordinator").Str("session", sessionID).
				Int64("version", expected).Int("attempt", attempt).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) || !c.landed(ctx, current) {
				return commit{}, fmt.Errorf("update session %s: %w", sessionID, err)
			}
			log.Warn().Err(err).Str("module", "app.coordinator").Str("session", sessionID).
				Int64("version", current.Version).Msg("update reported an error but the write landed")
		}

		for i := range p.events {
			p.events[i].SessionID = current.ID
			p.events[i].Version = current.Version
		}
		c.router.Publish(current.Clone(), p.events)
		for _, f := range p.after {
			f()
		}
		return commit{session: current, written: true}, nil
	}

	log.Warn().Str("module", "app.coordinator").Str("session", sessionID).
		Int("attempts", c.opts.WriteAttempts).Msg("optimistic write retries exhausted")
	return commit{}, domain.ErrRetryExhausted
}

// landed reports whether the store holds exactly written, for writes whose
// outcome is unknown (a lost reply after the store applied it).
func (c *Coordinator) landed(ctx context.Context, written *domain.Session) bool {
	stored, err := c.sessions.Get(ctx, written.ID)
	if err != nil || stored.Version != written.Version {
		return false
	}
	want, err := json.Marshal(written)
	if err != nil {
		return false
	}
	got, err := json.Marshal(stored)
	if err != nil {
		return false
	}
	return bytes.Equal(want, got)
}
