package app

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/dependencies/clock"
	"live-quiz-service/internal/domain"
)

// A feed holds out-of-order batches while it waits for a missing version, but
// for no longer than GapTimeout and no more than maxPendingBatches of them.
// After that the missing version is skipped.
const (
	GapTimeout        = 2 * time.Second
	maxPendingBatches = 16
)

type subscriber struct {
	conn          Conn
	role          Role
	participantID string
	// minVersion is the version of the snapshot this subscriber started from;
	// only batches newer than it are delivered.
	minVersion int64
}

func (s *subscriber) wants(ev domain.Event) bool {
	switch {
	case ev.Audience.HostOnly:
		return s.role == RoleHost
	case ev.Audience.ParticipantID != "":
		return s.role == RoleParticipant && s.participantID == ev.Audience.ParticipantID
	default:
		return true
	}
}

type batch struct {
	session *domain.Session
	events  []domain.Event
}

// feed is the per-session fan-out state. Batches are delivered in strict
// version order under mu, which gives every connection the same order.
type feed struct {
	mu        sync.Mutex
	delivered int64
	latest    *domain.Session
	pending   map[int64]batch
	gapTimer  clock.Timer
	hosts     map[ConnID]*subscriber
	players   map[ConnID]*subscriber
}

func newFeed(s *domain.Session, delivered int64) *feed {
	return &feed{
		delivered: delivered,
		latest:    s,
		pending:   make(map[int64]batch),
		hosts:     make(map[ConnID]*subscriber),
		players:   make(map[ConnID]*subscriber),
	}
}

// Router fans committed deltas out to the connections subscribed to a session.
type Router struct {
	clock     clock.Clock
	mu        sync.Mutex
	feeds     map[string]*feed
	onDropped func(sessionID string, conn Conn)
}

// NewRouter creates a router. onDropped runs (outside router locks) for every
// subscriber removed because it could not keep up.
func NewRouter(c clock.Clock, onDropped func(sessionID string, conn Conn)) *Router {
	return &Router{clock: c, feeds: make(map[string]*feed), onDropped: onDropped}
}

func (r *Router) feed(s *domain.Session, delivered int64) *feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[s.ID]
	if !ok {
		f = newFeed(s, delivered)
		r.feeds[s.ID] = f
	}
	return f
}

// Open registers a freshly created session at its initial version.
func (r *Router) Open(s *domain.Session) {
	r.feed(s.Clone(), s.Version)
}

// Close forgets a session's feed and returns the connections that were subscribed.
func (r *Router) Close(sessionID string) []Conn {
	r.mu.Lock()
	f, ok := r.feeds[sessionID]
	delete(r.feeds, sessionID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopGapTimer()
	conns := make([]Conn, 0, len(f.hosts)+len(f.players))
	for _, sub := range f.hosts {
		conns = append(conns, sub.conn)
	}
	for _, sub := range f.players {
		conns = append(conns, sub.conn)
	}
	return conns
}

// Publish hands over the batch produced by the write that committed s.Version.
// Every committed version must be published exactly once, even with no events.
func (r *Router) Publish(s *domain.Session, events []domain.Event) {
	f := r.feed(s, s.Version-1)

	f.mu.Lock()
	if s.Version <= f.delivered {
		f.mu.Unlock()
		log.Warn().Str("module", "app.broadcast").Str("session", s.ID).Int64("version", s.Version).
			Int64("delivered", f.delivered).Msg("stale batch ignored")
		return
	}
	f.pending[s.Version] = batch{session: s, events: events}
	dropped := r.advanceLocked(s.ID, f, false)
	f.mu.Unlock()

	r.drop(s.ID, dropped)
}

// advanceLocked delivers every batch that is next in line. With skip set, or
// once too many batches are held, a missing version is given up on. While a
// gap remains a timer is armed to skip it after GapTimeout.
func (r *Router) advanceLocked(sessionID string, f *feed, skip bool) []Conn {
	var dropped []Conn
	for {
		next, ok := f.pending[f.delivered+1]
		if !ok {
			if len(f.pending) == 0 || (!skip && len(f.pending) < maxPendingBatches) {
				break
			}
			skipTo := f.lowestPending()
			log.Warn().Str("module", "app.broadcast").Str("session", sessionID).Int64("delivered", f.delivered).
				Int64("skip_to", skipTo).Msg("missing batch, skipping ahead")
			f.delivered = skipTo - 1
			skip = false
			continue
		}
		delete(f.pending, f.delivered+1)
		f.delivered++
		f.latest = next.session
		dropped = append(dropped, f.deliverLocked(f.delivered, next.events)...)
	}

	switch {
	case len(f.pending) == 0:
		f.stopGapTimer()
	case f.gapTimer == nil && r.clock != nil:
		f.gapTimer = r.clock.AfterFunc(GapTimeout, func() { r.skipGap(sessionID, f) })
	}
	return dropped
}

// skipGap gives up on the version a feed has been waiting for.
func (r *Router) skipGap(sessionID string, f *feed) {
	f.mu.Lock()
	f.gapTimer = nil
	dropped := r.advanceLocked(sessionID, f, true)
	f.mu.Unlock()

	r.drop(sessionID, dropped)
}

func (f *feed) stopGapTimer() {
	if f.gapTimer != nil {
		f.gapTimer.Stop()
		f.gapTimer = nil
	}
}

func (f *feed) lowestPending() int64 {
	versions := make([]int64, 0, len(f.pending))
	for v := range f.pending {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions[0]
}

func (f *feed) deliverLocked(version int64, events []domain.Event) []Conn {
	var dropped []Conn
	for _, group := range []map[ConnID]*subscriber{f.hosts, f.players} {
		for id, sub := range group {
			if version <= sub.minVersion {
				continue
			}
			for _, ev := range events {
				if !sub.wants(ev) {
					continue
				}
				if err := sub.conn.Send(ev); err != nil {
					log.Warn().Err(err).Str("module", "app.broadcast").Str("conn", string(id)).
						Str("event", string(ev.Type)).Msg("subscriber dropped")
					delete(group, id)
					dropped = append(dropped, sub.conn)
					break
				}
			}
		}
	}
	return dropped
}

// Subscribe attaches conn to a session feed and sends it exactly one full
// snapshot. fresh is the session as the caller last read it; the snapshot is
// taken from whichever of fresh and the last delivered state is newer, and the
// subscriber only sees deltas after that version.
func (r *Router) Subscribe(conn Conn, role Role, participantID string, fresh *domain.Session, snapshot func(*domain.Session) domain.Event) error {
	f := r.feed(fresh, fresh.Version)

	f.mu.Lock()
	base := f.latest
	if base == nil || fresh.Version > base.Version {
		base = fresh
	}
	ev := snapshot(base)
	ev.SessionID = base.ID
	ev.Version = base.Version
	if err := conn.Send(ev); err != nil {
		f.mu.Unlock()
		return err
	}
	sub := &subscriber{conn: conn, role: role, participantID: participantID, minVersion: base.Version}
	if role == RoleHost {
		f.hosts[conn.ID()] = sub
	} else {
		f.players[conn.ID()] = sub
	}
	f.mu.Unlock()
	return nil
}

// Resync sends a fresh snapshot to an already subscribed connection. As with
// Subscribe, the newer of fresh and the last delivered state is used, and the
// connection then only receives deltas after that version.
func (r *Router) Resync(conn Conn, fresh *domain.Session, snapshot func(*domain.Session) domain.Event) error {
	r.mu.Lock()
	f, ok := r.feeds[fresh.ID]
	r.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	base := f.latest
	if base == nil || fresh.Version > base.Version {
		base = fresh
	}
	ev := snapshot(base)
	ev.SessionID = base.ID
	ev.Version = base.Version
	if err := conn.Send(ev); err != nil {
		return err
	}
	for _, group := range []map[ConnID]*subscriber{f.hosts, f.players} {
		if sub, ok := group[conn.ID()]; ok && sub.minVersion < base.Version {
			sub.minVersion = base.Version
		}
	}
	return nil
}

// Unsubscribe detaches a connection from a session feed.
func (r *Router) Unsubscribe(sessionID string, id ConnID) {
	r.mu.Lock()
	f, ok := r.feeds[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	f.mu.Lock()
	delete(f.hosts, id)
	delete(f.players, id)
	f.mu.Unlock()
}

// Subscribers returns the number of host and participant subscribers of a session.
func (r *Router) Subscribers(sessionID string) (hosts, players int) {
	r.mu.Lock()
	f, ok := r.feeds[sessionID]
	r.mu.Unlock()
	if !ok {
		return 0, 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hosts), len(f.players)
}

func (r *Router) drop(sessionID string, conns []Conn) {
	if r.onDropped == nil {
		return
	}
	for _, conn := range conns {
		r.onDropped(sessionID, conn)
	}
}
