package domain

import "errors"

// Kind classifies an Error by how callers are expected to react to it.
type Kind string

const (
	KindNotFound       Kind = "NOT_FOUND"
	KindInvalidState   Kind = "INVALID_STATE"
	KindConflict       Kind = "CONFLICT"
	KindUnauthorized   Kind = "UNAUTHORIZED"
	KindTimeout        Kind = "TIMEOUT"
	KindRetryExhausted Kind = "RETRY_EXHAUSTED"
	KindInvalid        Kind = "INVALID"
	KindInternal       Kind = "INTERNAL"
)

// Error is a coordinator error reported back to the originating connection.
// Two Errors match under errors.Is when their codes are equal, so a wrapped
// or re-created error still compares equal to the exported sentinel.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e that carries a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: msg}
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// KindOf extracts the Kind of err; errors not produced by this package are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	// ErrSessionNotFound is returned when a session id or join code does not resolve.
	ErrSessionNotFound = newError(KindNotFound, "SESSION_NOT_FOUND", "quiz session not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = newError(KindNotFound, "PARTICIPANT_NOT_FOUND", "participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = newError(KindNotFound, "QUIZ_NOT_FOUND", "quiz not found")
	// ErrQuestionNotFound indicates a question reference does not resolve.
	ErrQuestionNotFound = newError(KindNotFound, "QUESTION_NOT_FOUND", "question not found")

	ErrSessionClosed     = newError(KindInvalidState, "SESSION_CLOSED", "session has ended")
	ErrSessionNotRunning = newError(KindInvalidState, "SESSION_NOT_RUNNING", "session is not running")
	ErrNoQuestions       = newError(KindInvalidState, "NO_QUESTIONS", "session has no questions")
	ErrQuestionNotOpen   = newError(KindInvalidState, "QUESTION_NOT_OPEN", "no question is open")
	ErrQuestionNotActive = newError(KindInvalidState, "QUESTION_NOT_ACTIVE", "question is not the active question")
	ErrNotReconnectable  = newError(KindInvalidState, "NOT_RECONNECTABLE", "no disconnected participant with that name")

	// ErrNameTaken is returned when an active, connected participant already uses the name.
	ErrNameTaken = newError(KindConflict, "NAME_TAKEN", "display name is already taken")
	// ErrNameReserved is returned when a disconnected participant still holds the name; the caller should reconnect.
	ErrNameReserved = newError(KindConflict, "NAME_RESERVED", "display name belongs to a disconnected participant")
	ErrSessionFull  = newError(KindConflict, "SESSION_FULL", "session roster is full")
	// ErrAlreadyConnected is returned when another live connection is bound to the participant.
	ErrAlreadyConnected = newError(KindConflict, "ALREADY_CONNECTED", "participant is connected elsewhere")
	ErrAlreadyBound     = newError(KindConflict, "CONNECTION_BOUND", "connection is already bound to a session")
	ErrCodeTaken        = newError(KindConflict, "CODE_TAKEN", "join code already in use")
	// ErrVersionConflict signals a lost optimistic write; it never escapes the coordinator.
	ErrVersionConflict = newError(KindConflict, "VERSION_CONFLICT", "session was modified concurrently")

	ErrNotHost       = newError(KindUnauthorized, "NOT_HOST", "only the host may do that")
	ErrNotIdentified = newError(KindUnauthorized, "NOT_IDENTIFIED", "connection has not joined a session")
	ErrBadHostKey    = newError(KindUnauthorized, "BAD_HOST_KEY", "host key does not match")

	// ErrLateSubmission is returned for answers that arrive after the question window closed.
	ErrLateSubmission = newError(KindTimeout, "LATE_SUBMISSION", "answer arrived after the deadline")

	ErrRetryExhausted = newError(KindRetryExhausted, "RETRY_EXHAUSTED", "too much contention on session, try again")

	ErrInvalidName   = newError(KindInvalid, "INVALID_NAME", "display name must be 1-32 characters")
	ErrInvalidAnswer = newError(KindInvalid, "INVALID_ANSWER", "answer is empty")
	ErrMalformed     = newError(KindInvalid, "MALFORMED", "malformed message")
	ErrUnknownType   = newError(KindInvalid, "UNKNOWN_TYPE", "unsupported message type")
)
