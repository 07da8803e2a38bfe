package app_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type RosterSuite struct {
	coordinatorSuite
}

func TestRosterSuite(t *testing.T) {
	suite.Run(t, new(RosterSuite))
}

func (s *RosterSuite) SetupTest() {
	s.setup(quizWith(2, 10, 60), app.Options{WriteAttempts: 1000})
}

func (s *RosterSuite) TestConcurrentDistinctJoinsAllLand() {
	session := s.createSession()

	const players = 16
	var wg sync.WaitGroup
	errs := make([]error, players)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = s.coord.Admit(s.ctx, session.ID, fmt.Sprintf("player-%02d", i), "")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.Require().NoError(err)
	}
	stored := s.session(session.ID)
	s.Len(stored.Roster, players)
	seen := map[string]bool{}
	for _, p := range stored.Roster {
		s.False(seen[p.DisplayName], "duplicate participant %s", p.DisplayName)
		seen[p.DisplayName] = true
	}
	s.Equal(int64(1+players), stored.Version)
}

func (s *RosterSuite) TestSimultaneousSameNameOneWins() {
	session := s.createSession()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = s.coord.Admit(s.ctx, session.ID, "Sam", "")
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			s.ErrorIs(err, domain.ErrNameTaken)
			s.Equal(domain.KindConflict, domain.KindOf(err))
		}
	}
	s.Equal(1, failures)
	s.Len(s.session(session.ID).Roster, 1)
}

func (s *RosterSuite) TestNameCollisionIsCaseAndSpaceInsensitive() {
	session := s.createSession()
	s.admit(session.ID, "Alice")

	_, _, err := s.coord.Admit(s.ctx, session.ID, "  alice ", "")
	s.ErrorIs(err, domain.ErrNameTaken)
}

func (s *RosterSuite) TestInvalidNames() {
	session := s.createSession()

	for _, name := range []string{"", "   ", "a-name-that-is-far-too-long-for-a-quiz"} {
		_, _, err := s.coord.Admit(s.ctx, session.ID, name, "")
		s.ErrorIs(err, domain.ErrInvalidName, "name %q", name)
	}
}

func (s *RosterSuite) TestAdmitClosedSessionFails() {
	session := s.createSession()
	s.Require().NoError(s.coord.EndSession(s.ctx, session.ID, "test"))

	_, _, err := s.coord.Admit(s.ctx, session.ID, "Late", "")
	s.ErrorIs(err, domain.ErrSessionClosed)
	s.Equal(domain.KindInvalidState, domain.KindOf(err))
}

func (s *RosterSuite) TestFormingAdmitPurgesDisconnectedEntries() {
	session := s.createSession()
	ghost := s.admit(session.ID, "Ghost")

	// leave a stale, disconnected entry behind in the lobby
	stored := s.session(session.ID)
	stored.Participant(ghost.ID).IsConnected = false
	stored.Version++
	s.Require().NoError(s.store.Update(s.ctx, stored, stored.Version-1))

	s.admit(session.ID, "Ghost")
	roster := s.session(session.ID).Roster
	s.Require().Len(roster, 1)
	s.NotEqual(ghost.ID, roster[0].ID)
}

func (s *RosterSuite) TestLateJoinWhileRunning() {
	session := s.createSession()
	s.admit(session.ID, "Early")
	s.start(session.ID)

	late := s.admit(session.ID, "Late")
	s.True(late.IsActive)
	s.Equal(0, late.Score)
}

func (s *RosterSuite) TestReconnectWithinGraceKeepsIdentityAndScore() {
	session := s.createSession()
	ann := s.admit(session.ID, "Ann")
	s.start(session.ID)

	outcome, err := s.answer(session.ID, ann.ID, 0, "a")
	s.Require().NoError(err)
	s.Require().Equal(10, outcome.Points)

	s.Require().NoError(s.coord.Disconnect(s.ctx, session.ID, ann.ID))
	s.False(s.participant(session.ID, ann.ID).IsConnected)

	s.clock.Advance(10 * time.Second)
	back, _, err := s.coord.Reconnect(s.ctx, session.ID, "ann", "", "owl")
	s.Require().NoError(err)
	s.Equal(ann.ID, back.ID)
	s.Equal(10, back.Score)
	s.True(back.IsConnected)
	s.True(back.IsActive)
	s.Equal("owl", back.Cosmetic)

	// the grace timer was cancelled on reconnect
	s.clock.Advance(45 * time.Second)
	s.True(s.participant(session.ID, ann.ID).IsActive)
}

func (s *RosterSuite) TestGraceExpiryExcludesFromRankings() {
	session := s.createSession()
	ann := s.admit(session.ID, "Ann")
	bob := s.admit(session.ID, "Bob")
	s.start(session.ID)

	_, err := s.answer(session.ID, ann.ID, 0, "a")
	s.Require().NoError(err)
	s.Require().NoError(s.coord.Disconnect(s.ctx, session.ID, ann.ID))

	s.clock.Advance(31 * time.Second)
	s.False(s.participant(session.ID, ann.ID).IsActive)

	s.Require().NoError(s.coord.EndSession(s.ctx, session.ID, "test"))
	res, ok := s.results.Results(session.ID)
	s.Require().True(ok)
	s.Require().Len(res.Rankings, 1)
	s.Equal(bob.ID, res.Rankings[0].ParticipantID)
}

func (s *RosterSuite) TestNameOfDisconnectedParticipantIsReserved() {
	session := s.createSession()
	ann := s.admit(session.ID, "Ann")
	s.start(session.ID)
	s.Require().NoError(s.coord.Disconnect(s.ctx, session.ID, ann.ID))

	_, _, err := s.coord.Admit(s.ctx, session.ID, "Ann", "")
	s.ErrorIs(err, domain.ErrNameReserved)
}

func (s *RosterSuite) TestReconnectAfterGraceReactivates() {
	session := s.createSession()
	ann := s.admit(session.ID, "Ann")
	s.start(session.ID)
	s.Require().NoError(s.coord.Disconnect(s.ctx, session.ID, ann.ID))
	s.clock.Advance(31 * time.Second)

	back, _, err := s.coord.Reconnect(s.ctx, session.ID, "Ann", ann.ID, "")
	s.Require().NoError(err)
	s.True(back.IsActive)
	s.True(back.IsConnected)
}

func (s *RosterSuite) TestReconnectRules() {
	session := s.createSession()
	ann := s.admit(session.ID, "Ann")

	_, _, err := s.coord.Reconnect(s.ctx, session.ID, "Nobody", "", "")
	s.ErrorIs(err, domain.ErrNotReconnectable)

	_, _, err = s.coord.Reconnect(s.ctx, session.ID, "Ann", "", "")
	s.ErrorIs(err, domain.ErrAlreadyConnected)

	_, _, err = s.coord.Reconnect(s.ctx, session.ID, "Ann", "someone-else", "")
	s.ErrorIs(err, domain.ErrNotReconnectable)

	back, _, err := s.coord.Reconnect(s.ctx, session.ID, "Ann", ann.ID, "")
	s.Require().NoError(err)
	s.Equal(ann.ID, back.ID)
}

func (s *RosterSuite) TestDisconnectInLobbyRemovesParticipant() {
	session := s.createSession()
	ann := s.admit(session.ID, "Ann")

	s.Require().NoError(s.coord.Disconnect(s.ctx, session.ID, ann.ID))
	s.Empty(s.session(session.ID).Roster)
}

func (s *RosterSuite) TestLeaveWhileRunningKeepsRecord() {
	session := s.createSession()
	ann := s.admit(session.ID, "Ann")
	s.start(session.ID)

	s.Require().NoError(s.coord.Leave(s.ctx, session.ID, ann.ID))
	left := s.participant(session.ID, ann.ID)
	s.False(left.IsActive)
	s.False(left.IsConnected)
	s.Empty(s.session(session.ID).Rankings(false))
}

func (s *RosterSuite) TestCapacityEvictsOldestInactive() {
	s.opts.MaxParticipants = 2
	s.coord = s.newCoordinator(s.store)
	session := s.createSession()
	ann := s.admit(session.ID, "Ann")
	s.clock.Advance(time.Second)
	bob := s.admit(session.ID, "Bob")
	s.start(session.ID)

	_, _, err := s.coord.Admit(s.ctx, session.ID, "Cat", "")
	s.ErrorIs(err, domain.ErrSessionFull)

	s.Require().NoError(s.coord.Leave(s.ctx, session.ID, ann.ID))
	cat := s.admit(session.ID, "Cat")

	stored := s.session(session.ID)
	s.Nil(stored.Participant(ann.ID))
	s.NotNil(stored.Participant(bob.ID))
	s.NotNil(stored.Participant(cat.ID))
}
