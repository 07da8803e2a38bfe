package domain

import (
	"errors"
	"time"
)

// EventType identifies an outbound event.
type EventType string

const (
	EventSessionCreated         EventType = "session-created"
	EventSessionState           EventType = "session-state"
	EventParticipantJoined      EventType = "participant-joined"
	EventParticipantReconnected EventType = "participant-reconnected"
	EventParticipantLeft        EventType = "participant-left"
	EventParticipantDeactivated EventType = "participant-deactivated"
	EventSessionStarted         EventType = "session-started"
	EventQuestionStarted        EventType = "question-started"
	EventQuestionEnded          EventType = "question-ended"
	EventAnswerResult           EventType = "answer-result"
	EventAnswerSubmitted        EventType = "answer-submitted"
	EventScoreUpdate            EventType = "score-update"
	EventSessionEnded           EventType = "session-ended"
	EventEvicted                EventType = "evicted"
	EventError                  EventType = "error"
	EventPong                   EventType = "pong"
)

// Audience selects which subscribers of a session receive an event.
type Audience struct {
	HostOnly      bool
	ParticipantID string // non-empty: only this participant (plus nobody else)
}

var (
	// ToAll reaches host and participants.
	ToAll = Audience{}
	// ToHost reaches only host connections.
	ToHost = Audience{HostOnly: true}
)

// ToParticipant reaches a single participant's connection.
func ToParticipant(id string) Audience {
	return Audience{ParticipantID: id}
}

// Event is one outbound message. Version is the session version that produced it;
// it is zero for replies that are not tied to a committed write.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Version   int64     `json:"version,omitempty"`
	Audience  Audience  `json:"-"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent builds an event addressed to everyone in the session.
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Audience: ToAll, Payload: payload}
}

// To returns a copy of e restricted to an audience.
func (e Event) To(a Audience) Event {
	e.Audience = a
	return e
}

// SessionCreatedPayload is the host's reply to a create command.
type SessionCreatedPayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	HostKey   string `json:"hostKey"`
	Title     string `json:"title"`
}

// PublicOption hides correctness from clients.
type PublicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is the client-facing form of the live question.
type QuestionView struct {
	Index    int            `json:"index"`
	Total    int            `json:"total"`
	Prompt   string         `json:"prompt"`
	Kind     QuestionKind   `json:"kind"`
	Options  []PublicOption `json:"options"`
	Points   int            `json:"points"`
	Deadline time.Time      `json:"deadline"`
}

// NewQuestionView builds the client-facing form of q.
func NewQuestionView(q Question, index, total int, deadline time.Time) QuestionView {
	opts := make([]PublicOption, len(q.Options))
	for i, o := range q.Options {
		opts[i] = PublicOption{ID: o.ID, Text: o.Text}
	}
	kind := q.Kind
	if kind == "" {
		kind = QuestionSingle
	}
	return QuestionView{
		Index:    index,
		Total:    total,
		Prompt:   q.Prompt,
		Kind:     kind,
		Options:  opts,
		Points:   q.PointValue(),
		Deadline: deadline,
	}
}

// PlayerView is the public form of a roster entry.
type PlayerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	IsActive    bool   `json:"isActive"`
	IsConnected bool   `json:"isConnected"`
	Cosmetic    string `json:"cosmetic,omitempty"`
}

// NewPlayerView builds the public form of p.
func NewPlayerView(p Participant) PlayerView {
	return PlayerView{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Score:       p.Score,
		IsActive:    p.IsActive,
		IsConnected: p.IsConnected,
		Cosmetic:    p.Cosmetic,
	}
}

// SnapshotPayload is the full state sent once to a newly (re)joined connection.
type SnapshotPayload struct {
	SessionID     string        `json:"sessionId"`
	Title         string        `json:"title"`
	Code          string        `json:"code"`
	Status        SessionStatus `json:"status"`
	Role          string        `json:"role"`
	ParticipantID string        `json:"participantId,omitempty"`
	Question      *QuestionView `json:"question,omitempty"`
	QuestionOpen  bool          `json:"questionOpen"`
	Players       []PlayerView  `json:"players"`
	Leaderboard   []RankedEntry `json:"leaderboard"`
	Answered      map[int]bool  `json:"answered,omitempty"`
	Self          *SelfStanding `json:"self,omitempty"`
}

// SelfStanding is the receiving participant's own standing in a snapshot.
type SelfStanding struct {
	Score        int `json:"score"`
	CorrectCount int `json:"correctCount"`
}

// ParticipantPayload accompanies joined/reconnected/left/deactivated events.
type ParticipantPayload struct {
	Player PlayerView `json:"player"`
	Reason string     `json:"reason,omitempty"`
}

// SessionStartedPayload announces the start of play.
type SessionStartedPayload struct {
	StartedAt      time.Time `json:"startedAt"`
	TotalQuestions int       `json:"totalQuestions"`
}

// QuestionEndedPayload reveals the accepted answers once a window closes.
type QuestionEndedPayload struct {
	Index    int      `json:"index"`
	Accepted []string `json:"accepted"`
	Answered int      `json:"answered"`
	Reason   string   `json:"reason"`
}

// AnswerSubmittedPayload tells the host who answered; it never reaches participants.
type AnswerSubmittedPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	QuestionIndex int    `json:"questionIndex"`
	Correct       bool   `json:"correct"`
}

// ScoreUpdatePayload carries the ranked roster.
type ScoreUpdatePayload struct {
	Leaderboard []RankedEntry `json:"leaderboard"`
}

// SessionEndedPayload carries the final rankings.
type SessionEndedPayload struct {
	EndedAt  time.Time     `json:"endedAt"`
	Rankings []RankedEntry `json:"rankings"`
	Reason   string        `json:"reason"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent converts err to an error event.
func NewErrorEvent(err error) Event {
	payload := ErrorPayload{Kind: KindInternal, Code: "INTERNAL", Message: "internal error"}
	var e *Error
	if errors.As(err, &e) {
		payload = ErrorPayload{Kind: e.Kind, Code: e.Code, Message: e.Message}
	}
	return Event{Type: EventError, Payload: payload}
}
