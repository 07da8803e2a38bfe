package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// inboundMessage is the wire envelope: {"type": "...", "payload": {...}}.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createPayload struct {
	QuizID string `json:"quizId"`
	Title  string `json:"title"`
}

func (p createPayload) validate() string {
	if p.QuizID == "" {
		return "quizId"
	}
	return ""
}

type hostPayload struct {
	Session string `json:"session"`
	HostKey string `json:"hostKey"`
}

func (p hostPayload) validate() string {
	if p.Session == "" || p.HostKey == "" {
		return "session and hostKey"
	}
	return ""
}

type joinPayload struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Cosmetic string `json:"cosmetic"`
}

func (p joinPayload) validate() string {
	if p.Code == "" || strings.TrimSpace(p.Name) == "" {
		return "code and name"
	}
	return ""
}

type reconnectPayload struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	ParticipantID string `json:"participantId"`
	Cosmetic      string `json:"cosmetic"`
}

func (p reconnectPayload) validate() string {
	if p.Code == "" || strings.TrimSpace(p.Name) == "" {
		return "code and name"
	}
	return ""
}

type answerPayload struct {
	QuestionIndex *int     `json:"questionIndex"`
	Answer        []string `json:"answer"`
	RemainingMs   int64    `json:"remainingMs"`
}

func (p answerPayload) validate() string {
	if p.QuestionIndex == nil || len(p.Answer) == 0 {
		return "questionIndex and answer"
	}
	return ""
}

type payload interface {
	validate() string
}

// DecodeCommand turns one frame into a command. Unknown types, unknown
// fields and missing required fields are errors; nothing is ignored.
func DecodeCommand(data []byte) (app.Command, error) {
	var msg inboundMessage
	if err := strictUnmarshal(data, &msg); err != nil {
		return nil, err
	}

	switch msg.Type {
	case "create":
		var p createPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return app.CreateCommand{QuizID: p.QuizID, Title: p.Title}, nil
	case "host":
		var p hostPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return app.HostCommand{Session: p.Session, HostKey: p.HostKey}, nil
	case "join":
		var p joinPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return app.JoinCommand{Code: p.Code, DisplayName: p.Name, Cosmetic: p.Cosmetic}, nil
	case "reconnect":
		var p reconnectPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return app.ReconnectCommand{
			Code:          p.Code,
			DisplayName:   p.Name,
			ParticipantID: p.ParticipantID,
			Cosmetic:      p.Cosmetic,
		}, nil
	case "answer":
		var p answerPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return app.AnswerCommand{QuestionIndex: *p.QuestionIndex, Answer: p.Answer, RemainingMs: p.RemainingMs}, nil
	case "leave", "start", "advance", "endQuestion", "end", "ping":
		if !emptyPayload(msg.Payload) {
			var none struct{}
			if err := strictUnmarshal(msg.Payload, &none); err != nil {
				return nil, err
			}
		}
		return bareCommands[msg.Type], nil
	case "":
		return nil, domain.ErrMalformed.WithMessage("missing message type")
	default:
		return nil, domain.ErrUnknownType.WithMessage(fmt.Sprintf("unsupported message type %q", msg.Type))
	}
}

var bareCommands = map[string]app.Command{
	"leave":       app.LeaveCommand{},
	"start":       app.StartCommand{},
	"advance":     app.AdvanceCommand{},
	"endQuestion": app.EndQuestionCommand{},
	"end":         app.EndCommand{},
	"ping":        app.PingCommand{},
}

func emptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodePayload[T payload](msg inboundMessage, dst *T) error {
	if !emptyPayload(msg.Payload) {
		if err := strictUnmarshal(msg.Payload, dst); err != nil {
			return err
		}
	}
	if missing := (*dst).validate(); missing != "" {
		return domain.ErrMalformed.WithMessage(fmt.Sprintf("%s requires %s", msg.Type, missing))
	}
	return nil
}

func strictUnmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrMalformed.WithMessage(err.Error())
	}
	if dec.More() {
		return domain.ErrMalformed.WithMessage("trailing data after message")
	}
	return nil
}
