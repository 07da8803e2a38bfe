package domain

import (
	"sort"
	"strings"
	"time"
)

// Clone returns a deep copy so callers can mutate without touching shared state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	out.StartedAt = cloneTime(s.StartedAt)
	out.EndedAt = cloneTime(s.EndedAt)
	out.Roster = make([]Participant, len(s.Roster))
	for i, p := range s.Roster {
		out.Roster[i] = p.clone()
	}
	return &out
}

func (p Participant) clone() Participant {
	p.DisconnectedAt = cloneTime(p.DisconnectedAt)
	if p.Answers != nil {
		answers := make(map[int]AnswerRecord, len(p.Answers))
		for idx, rec := range p.Answers {
			rec.Answer = append([]string(nil), rec.Answer...)
			answers[idx] = rec
		}
		p.Answers = answers
	}
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// NormalizeName trims and case-folds a display name for uniqueness checks.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Participant returns a pointer into the roster, or nil.
func (s *Session) Participant(id string) *Participant {
	for i := range s.Roster {
		if s.Roster[i].ID == id {
			return &s.Roster[i]
		}
	}
	return nil
}

// ParticipantByName finds the roster entry holding a display name.
func (s *Session) ParticipantByName(name string) *Participant {
	key := NormalizeName(name)
	for i := range s.Roster {
		if NormalizeName(s.Roster[i].DisplayName) == key {
			return &s.Roster[i]
		}
	}
	return nil
}

// RemoveParticipant drops a roster entry and reports whether it existed.
func (s *Session) RemoveParticipant(id string) bool {
	for i := range s.Roster {
		if s.Roster[i].ID == id {
			s.Roster = append(s.Roster[:i], s.Roster[i+1:]...)
			return true
		}
	}
	return false
}

// HasActiveQuestion reports whether answers are currently accepted.
func (s *Session) HasActiveQuestion() bool {
	return s.Status == StatusRunning && s.QuestionOpen
}

// IsLastQuestion reports whether the current index is the final question.
func (s *Session) IsLastQuestion() bool {
	return s.CurrentQuestion >= len(s.QuestionIDs)-1
}

// ConnectedCount counts participants currently reachable.
func (s *Session) ConnectedCount() int {
	n := 0
	for _, p := range s.Roster {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// Rankings orders the roster by score descending, breaking ties by earlier
// join time and then by id, so every participant gets a distinct rank.
// Inactive participants are left out unless includeInactive is set.
func (s *Session) Rankings(includeInactive bool) []RankedEntry {
	players := make([]Participant, 0, len(s.Roster))
	for _, p := range s.Roster {
		if p.IsActive || includeInactive {
			players = append(players, p)
		}
	}
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID < players[j].ID
	})

	entries := make([]RankedEntry, len(players))
	for i, p := range players {
		entries[i] = RankedEntry{
			Rank:          i + 1,
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			CorrectCount:  p.CorrectCount,
			IsConnected:   p.IsConnected,
			Cosmetic:      p.Cosmetic,
		}
	}
	return entries
}

// Results builds the final outcome handed to the results sink.
func (s *Session) Results() SessionResults {
	res := SessionResults{
		SessionID: s.ID,
		QuizID:    s.QuizID,
		Title:     s.Title,
		StartedAt: cloneTime(s.StartedAt),
		Rankings:  s.Rankings(false),
	}
	if s.EndedAt != nil {
		res.EndedAt = *s.EndedAt
	}
	return res
}
