package domain

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusForming SessionStatus = "forming"
	StatusRunning SessionStatus = "running"
	StatusClosed  SessionStatus = "closed"
)

// QuestionKind selects how answers are compared against the accepted set.
type QuestionKind string

const (
	// QuestionSingle accepts exactly one value that is a member of the accepted set.
	QuestionSingle QuestionKind = "single"
	// QuestionMulti requires the submitted set to equal the accepted set.
	QuestionMulti QuestionKind = "multi"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is immutable quiz content. The coordinator only tracks which index is live.
type Question struct {
	ID               string       `json:"id"`
	Prompt           string       `json:"prompt"`
	Kind             QuestionKind `json:"kind,omitempty"`
	Options          []Option     `json:"options"`
	Accepted         []string     `json:"accepted,omitempty"` // free-form accepted values besides correct options
	Points           int          `json:"points"`             // defaults to 1 if zero
	TimeLimitSeconds int          `json:"timeLimitSeconds"`   // defaults to the configured limit if zero
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// AnswerRecord is the recorded outcome of a participant's answer to one question index.
type AnswerRecord struct {
	Answer      []string  `json:"answer"`
	Correct     bool      `json:"correct"`
	Points      int       `json:"points"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Participant is one joined player, independent of any network connection.
type Participant struct {
	ID             string               `json:"id"`
	DisplayName    string               `json:"displayName"`
	Score          int                  `json:"score"`
	CorrectCount   int                  `json:"correctCount"`
	IsActive       bool                 `json:"isActive"`
	IsConnected    bool                 `json:"isConnected"`
	Cosmetic       string               `json:"cosmetic,omitempty"`
	JoinedAt       time.Time            `json:"joinedAt"`
	LastActivity   time.Time            `json:"lastActivity"`
	DisconnectedAt *time.Time           `json:"disconnectedAt,omitempty"`
	Answers        map[int]AnswerRecord `json:"answers,omitempty"`
	// Attachment counts admits and reconnects; a connection is bound to the
	// attachment current when it joined.
	Attachment     int64                `json:"attachment"`
}

// Submission is one answer attempt. ReportedRemaining is what the client believes
// is left on the clock; it is recorded for diagnostics and never trusted.
type Submission struct {
	ParticipantID     string
	QuestionIndex     int
	Answer            []string
	ReportedRemaining time.Duration
}

// Outcome is what the scoring path reports back to a submitter.
type Outcome struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
	Points        int  `json:"points"`
	TotalScore    int  `json:"totalScore"`
	Duplicate     bool `json:"duplicate,omitempty"`
	Late          bool `json:"late,omitempty"`
}

// Session is the durable record of one live quiz. Only the coordinator's
// optimistic write path mutates it; Version increases on every accepted write.
type Session struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Code             string        `json:"code"`
	QuizID           string        `json:"quizId"`
	HostKey          string        `json:"hostKey"`
	Status           SessionStatus `json:"status"`
	QuestionIDs      []string      `json:"questionIds"`
	CurrentQuestion  int           `json:"currentQuestion"`
	QuestionOpen     bool          `json:"questionOpen"`
	QuestionDeadline time.Time     `json:"questionDeadline"`
	Roster           []Participant `json:"roster"`
	CreatedAt        time.Time     `json:"createdAt"`
	StartedAt        *time.Time    `json:"startedAt,omitempty"`
	EndedAt          *time.Time    `json:"endedAt,omitempty"`
	Version          int64         `json:"version"`
}

// RankedEntry is one line of a leaderboard.
type RankedEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correctCount"`
	IsConnected   bool   `json:"isConnected"`
	Cosmetic      string `json:"cosmetic,omitempty"`
}

// SessionResults is handed to the results sink once per finished session.
type SessionResults struct {
	SessionID string        `json:"sessionId"`
	QuizID    string        `json:"quizId"`
	Title     string        `json:"title"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	EndedAt   time.Time     `json:"endedAt"`
	Rankings  []RankedEntry `json:"rankings"`
}
