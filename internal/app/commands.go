package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// Command is one decoded inbound message. The set of implementations is closed.
type Command interface {
	commandName() string
}

type (
	// CreateCommand creates a session and binds the sender as its host.
	CreateCommand struct {
		QuizID string
		Title  string
	}
	// HostCommand re-attaches a host connection using the key issued at creation.
	HostCommand struct {
		Session string // session id or join code
		HostKey string
	}
	JoinCommand struct {
		Code        string
		DisplayName string
		Cosmetic    string
	}
	ReconnectCommand struct {
		Code          string
		DisplayName   string
		ParticipantID string
		Cosmetic      string
	}
	LeaveCommand       struct{}
	StartCommand       struct{}
	AdvanceCommand     struct{}
	EndQuestionCommand struct{}
	EndCommand         struct{}
	PingCommand        struct{}
	AnswerCommand      struct {
		QuestionIndex int
		Answer        []string
		RemainingMs   int64
	}
)

func (CreateCommand) commandName() string      { return "create" }
func (HostCommand) commandName() string        { return "host" }
func (JoinCommand) commandName() string        { return "join" }
func (ReconnectCommand) commandName() string   { return "reconnect" }
func (LeaveCommand) commandName() string       { return "leave" }
func (StartCommand) commandName() string       { return "start" }
func (AdvanceCommand) commandName() string     { return "advance" }
func (EndQuestionCommand) commandName() string { return "endQuestion" }
func (EndCommand) commandName() string         { return "end" }
func (PingCommand) commandName() string        { return "ping" }
func (AnswerCommand) commandName() string      { return "answer" }

// CommandName returns the wire name of a command.
func CommandName(cmd Command) string {
	return cmd.commandName()
}

// Handle runs one inbound command for conn. Failures are reported to conn
// alone as an error event and returned to the caller.
func (c *Coordinator) Handle(ctx context.Context, conn Conn, cmd Command) error {
	err := c.dispatch(ctx, conn, cmd)
	if err == nil {
		return nil
	}
	reply(conn, domain.NewErrorEvent(err))

	ev := log.Warn()
	if domain.KindOf(err) == domain.KindInternal {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "app.coordinator").Str("conn", string(conn.ID())).
		Str("command", cmd.commandName()).Msg("command rejected")
	return err
}

// Reject reports a decode failure to conn.
func (c *Coordinator) Reject(conn Conn, err error) {
	reply(conn, domain.NewErrorEvent(err))
}

func reply(conn Conn, ev domain.Event) {
	if err := conn.Send(ev); err != nil {
		log.Debug().Err(err).Str("module", "app.coordinator").Str("conn", string(conn.ID())).
			Str("event", string(ev.Type)).Msg("reply dropped")
	}
}

func (c *Coordinator) dispatch(ctx context.Context, conn Conn, cmd Command) error {
	binding, bound := c.registry.Resolve(conn.ID())

	switch cmd := cmd.(type) {
	case PingCommand:
		reply(conn, domain.Event{Type: domain.EventPong, Payload: map[string]time.Time{"serverTime": c.clock.Now()}})
		return nil
	case CreateCommand:
		if bound {
			return domain.ErrAlreadyBound
		}
		return c.handleCreate(ctx, conn, cmd)
	case HostCommand:
		if bound {
			return domain.ErrAlreadyBound
		}
		return c.handleHost(ctx, conn, cmd)
	case JoinCommand:
		if bound {
			return domain.ErrAlreadyBound
		}
		return c.handleJoin(ctx, conn, cmd)
	case ReconnectCommand:
		if bound {
			return domain.ErrAlreadyBound
		}
		return c.handleReconnect(ctx, conn, cmd)
	}

	if !bound {
		return domain.ErrNotIdentified
	}

	switch cmd := cmd.(type) {
	case LeaveCommand:
		return c.handleLeave(ctx, conn, binding)
	case AnswerCommand:
		if binding.Role != RoleParticipant {
			return domain.ErrParticipantNotFound.WithMessage("only participants can answer")
		}
		return c.handleAnswer(ctx, conn, binding, cmd)
	}

	if binding.Role != RoleHost {
		return domain.ErrNotHost
	}
	switch cmd.(type) {
	case StartCommand:
		return c.handleStart(ctx, conn, binding)
	case AdvanceCommand:
		return c.Advance(ctx, binding.SessionID)
	case EndQuestionCommand:
		return c.EndQuestion(ctx, binding.SessionID)
	case EndCommand:
		return c.EndSession(ctx, binding.SessionID, reasonHostEnded)
	}
	return domain.ErrUnknownType
}

func (c *Coordinator) handleCreate(ctx context.Context, conn Conn, cmd CreateCommand) error {
	s, err := c.CreateSession(ctx, cmd.QuizID, cmd.Title)
	if err != nil {
		return err
	}
	quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		return err
	}
	reply(conn, domain.Event{
		Type:      domain.EventSessionCreated,
		SessionID: s.ID,
		Payload: domain.SessionCreatedPayload{
			SessionID: s.ID,
			Code:      s.Code,
			HostKey:   s.HostKey,
			Title:     s.Title,
		},
	})
	return c.attachHost(conn, s, quiz)
}

func (c *Coordinator) handleHost(ctx context.Context, conn Conn, cmd HostCommand) error {
	s, err := c.lookup(ctx, cmd.Session)
	if err != nil {
		return err
	}
	if cmd.HostKey == "" || cmd.HostKey != s.HostKey {
		return domain.ErrBadHostKey
	}
	quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		return err
	}
	return c.attachHost(conn, s, quiz)
}

func (c *Coordinator) handleJoin(ctx context.Context, conn Conn, cmd JoinCommand) error {
	s, err := c.lookup(ctx, cmd.Code)
	if err != nil {
		return err
	}
	quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		return err
	}
	participant, fresh, err := c.Admit(ctx, s.ID, cmd.DisplayName, cmd.Cosmetic)
	if err != nil {
		return err
	}
	return c.attachParticipant(conn, fresh, quiz, participant.ID)
}

func (c *Coordinator) handleReconnect(ctx context.Context, conn Conn, cmd ReconnectCommand) error {
	s, err := c.lookup(ctx, cmd.Code)
	if err != nil {
		return err
	}
	quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		return err
	}
	participant, fresh, err := c.Reconnect(ctx, s.ID, cmd.DisplayName, cmd.ParticipantID, cmd.Cosmetic)
	if err != nil {
		return err
	}
	return c.attachParticipant(conn, fresh, quiz, participant.ID)
}

func (c *Coordinator) handleLeave(ctx context.Context, conn Conn, binding Binding) error {
	if binding.Role == RoleParticipant {
		if err := c.Leave(ctx, binding.SessionID, binding.ParticipantID); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
			return err
		}
	}
	c.registry.Unbind(conn.ID())
	c.router.Unsubscribe(binding.SessionID, conn.ID())
	return nil
}

func (c *Coordinator) handleStart(ctx context.Context, conn Conn, binding Binding) error {
	s, started, err := c.Start(ctx, binding.SessionID)
	if err != nil {
		return err
	}
	if started {
		return nil
	}
	quiz, err := c.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		return err
	}
	log.Debug().Str("module", "app.coordinator").Str("session", s.ID).Str("conn", string(conn.ID())).
		Msg("session already running, resending state")
	return c.router.Resync(conn, s, c.snapshotFunc(quiz, RoleHost, ""))
}

func (c *Coordinator) handleAnswer(ctx context.Context, conn Conn, binding Binding, cmd AnswerCommand) error {
	outcome, err := c.SubmitAnswer(ctx, binding.SessionID, domain.Submission{
		ParticipantID:     binding.ParticipantID,
		QuestionIndex:     cmd.QuestionIndex,
		Answer:            cmd.Answer,
		ReportedRemaining: time.Duration(cmd.RemainingMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	if outcome.Duplicate {
		reply(conn, domain.Event{Type: domain.EventAnswerResult, SessionID: binding.SessionID, Payload: outcome})
	}
	return nil
}

// ConnectionLost is called by the transport when a connection goes away for
// any reason. A bound participant goes through the disconnect path at once.
func (c *Coordinator) ConnectionLost(ctx context.Context, conn Conn) {
	binding, ok := c.registry.Remove(conn.ID())
	if !ok {
		return
	}
	c.router.Unsubscribe(binding.SessionID, conn.ID())
	if binding.Role != RoleParticipant {
		log.Info().Str("module", "app.coordinator").Str("session", binding.SessionID).Msg("host connection lost")
		return
	}
	err := c.disconnect(ctx, binding.SessionID, binding.ParticipantID, binding.Attachment)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		log.Error().Err(err).Str("module", "app.coordinator").Str("session", binding.SessionID).
			Str("participant", binding.ParticipantID).Msg("disconnect failed")
		return
	}
	log.Info().Str("module", "app.coordinator").Str("session", binding.SessionID).
		Str("participant", binding.ParticipantID).Msg("participant connection lost")
}
