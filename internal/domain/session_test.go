package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

func TestRankingsBreakTiesByJoinTime(t *testing.T) {
	s := &Session{Roster: []Participant{
		{ID: "c", DisplayName: "Cleo", Score: 30, IsActive: true, JoinedAt: t0},
		{ID: "b", DisplayName: "Bea", Score: 90, IsActive: true, JoinedAt: t0.Add(2 * time.Second)},
		{ID: "a", DisplayName: "Abe", Score: 90, IsActive: true, JoinedAt: t0.Add(time.Second)},
		{ID: "gone", DisplayName: "Gus", Score: 500, IsActive: false, JoinedAt: t0},
	}}

	ranked := s.Rankings(false)
	require.Len(t, ranked, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, ranked[i].ParticipantID)
		assert.Equal(t, i+1, ranked[i].Rank)
	}

	all := s.Rankings(true)
	require.Len(t, all, 4)
	assert.Equal(t, "gone", all[0].ParticipantID)
}

func TestRankingsSameJoinTimeFallsBackToID(t *testing.T) {
	s := &Session{Roster: []Participant{
		{ID: "p2", Score: 10, IsActive: true, JoinedAt: t0},
		{ID: "p1", Score: 10, IsActive: true, JoinedAt: t0},
	}}

	ranked := s.Rankings(false)
	assert.Equal(t, "p1", ranked[0].ParticipantID)
	assert.Equal(t, 2, ranked[1].Rank)
}

func TestCloneIsDeep(t *testing.T) {
	started := t0
	disconnected := t0.Add(time.Minute)
	s := &Session{
		ID:          "s1",
		QuestionIDs: []string{"q1", "q2"},
		StartedAt:   &started,
		Roster: []Participant{{
			ID:             "p1",
			DisconnectedAt: &disconnected,
			Answers:        map[int]AnswerRecord{0: {Answer: []string{"o1"}, Correct: true, Points: 10}},
		}},
	}

	c := s.Clone()
	c.QuestionIDs[0] = "changed"
	*c.StartedAt = t0.Add(time.Hour)
	c.Roster[0].Score = 99
	*c.Roster[0].DisconnectedAt = t0
	c.Roster[0].Answers[0].Answer[0] = "o2"
	c.Roster[0].Answers[1] = AnswerRecord{}

	assert.Equal(t, "q1", s.QuestionIDs[0])
	assert.Equal(t, t0, *s.StartedAt)
	assert.Zero(t, s.Roster[0].Score)
	assert.Equal(t, disconnected, *s.Roster[0].DisconnectedAt)
	assert.Equal(t, []string{"o1"}, s.Roster[0].Answers[0].Answer)
	assert.Len(t, s.Roster[0].Answers, 1)

	assert.Nil(t, (*Session)(nil).Clone())
}

func TestRosterHelpers(t *testing.T) {
	s := &Session{Roster: []Participant{
		{ID: "p1", DisplayName: "Ann", IsConnected: true},
		{ID: "p2", DisplayName: "Bob"},
	}}

	require.NotNil(t, s.ParticipantByName("  ANN "))
	assert.Equal(t, "p1", s.ParticipantByName("ann").ID)
	assert.Nil(t, s.ParticipantByName("Cleo"))
	assert.Equal(t, 1, s.ConnectedCount())

	assert.True(t, s.RemoveParticipant("p1"))
	assert.False(t, s.RemoveParticipant("p1"))
	assert.Nil(t, s.Participant("p1"))
	assert.NotNil(t, s.Participant("p2"))
}

func TestQuestionProgress(t *testing.T) {
	s := &Session{Status: StatusRunning, QuestionIDs: []string{"q1", "q2"}, CurrentQuestion: 0, QuestionOpen: true}
	assert.True(t, s.HasActiveQuestion())
	assert.False(t, s.IsLastQuestion())

	s.CurrentQuestion = 1
	s.QuestionOpen = false
	assert.False(t, s.HasActiveQuestion())
	assert.True(t, s.IsLastQuestion())
}

func TestResults(t *testing.T) {
	started := t0
	ended := t0.Add(5 * time.Minute)
	s := &Session{ID: "s1", QuizID: "quiz-1", Title: "Friday quiz", StartedAt: &started, EndedAt: &ended}
	for i := 0; i < 3; i++ {
		s.Roster = append(s.Roster, Participant{ID: fmt.Sprintf("p%d", i), Score: i * 10, IsActive: true, JoinedAt: t0})
	}

	res := s.Results()
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "quiz-1", res.QuizID)
	assert.Equal(t, ended, res.EndedAt)
	require.Len(t, res.Rankings, 3)
	assert.Equal(t, "p2", res.Rankings[0].ParticipantID)
}
