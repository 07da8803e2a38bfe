package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByCode(t *testing.T) {
	specific := ErrSessionNotFound.WithMessage("no session with code 123456")
	wrapped := fmt.Errorf("join: %w", specific)

	assert.ErrorIs(t, wrapped, ErrSessionNotFound)
	assert.NotErrorIs(t, wrapped, ErrQuizNotFound)
	assert.Equal(t, "no session with code 123456", specific.Error())
	assert.Equal(t, "quiz session not found", ErrSessionNotFound.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("answer: %w", ErrLateSubmission)))
	assert.Equal(t, KindConflict, KindOf(ErrNameTaken))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestNewErrorEvent(t *testing.T) {
	ev := NewErrorEvent(fmt.Errorf("admit: %w", ErrNameReserved))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, ErrorPayload{Kind: KindConflict, Code: "NAME_RESERVED", Message: ErrNameReserved.Message}, ev.Payload)

	ev = NewErrorEvent(errors.New("redis: connection refused"))
	assert.Equal(t, ErrorPayload{Kind: KindInternal, Code: "INTERNAL", Message: "internal error"}, ev.Payload)
}
