package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dealerchat/internal/assistant"
	"dealerchat/internal/domain"
	applog "dealerchat/internal/log"
	"dealerchat/internal/metrics"
)

// TranscriptStore persists what was said in a session. The session id is the
// assistant thread id.
type TranscriptStore interface {
	EnsureSession(sessionID string) error
	Append(sessionID, content string, isUser bool) error
	Takeover(sessionID string) (bool, error)
}

// ChatService handles one inbound chat turn end to end.
type ChatService struct {
	Gateway      assistant.Gateway
	Orchestrator *RunOrchestrator
	Store        TranscriptStore
	Guard        *assistant.InflightGuard
	Metrics      *metrics.TurnMetrics

	tracer trace.Tracer
}

func NewChatService(gw assistant.Gateway, orch *RunOrchestrator, store TranscriptStore, guard *assistant.InflightGuard, m *metrics.TurnMetrics) *ChatService {
	return &ChatService{
		Gateway:      gw,
		Orchestrator: orch,
		Store:        store,
		Guard:        guard,
		Metrics:      m,
		tracer:       otel.Tracer("dealerchat/chat"),
	}
}

// HandleTurn runs one turn for sessionID (empty starts a new session). A user
// record is appended once per accepted turn and an assistant record only when
// the run completes. Errors are always *TurnError.
func (s *ChatService) HandleTurn(ctx context.Context, sessionID, message string) (domain.TurnResult, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "chat.turn")
	defer span.End()

	res, err := s.handle(ctx, sessionID, message)

	outcome := "completed"
	switch {
	case res.Takeover:
		outcome = "takeover"
	case err != nil:
		var te *TurnError
		if errors.As(err, &te) {
			outcome = string(te.Kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("session.id", res.SessionID),
		attribute.Bool("session.new", res.NewSession),
		attribute.String("turn.outcome", outcome),
	)
	s.Metrics.RecordTurn(ctx, outcome, time.Since(started))
	return res, err
}

func (s *ChatService) handle(ctx context.Context, sessionID, message string) (domain.TurnResult, error) {
	res := domain.TurnResult{SessionID: sessionID}

	if sessionID == "" {
		threadID, err := s.Gateway.CreateThread(ctx)
		if err != nil {
			applog.Error(nil, "chat.thread.create.error", err, nil)
			return res, classifyGatewayErr(err)
		}
		res.SessionID = threadID
		res.NewSession = true
	}
	if err := s.Store.EnsureSession(res.SessionID); err != nil {
		applog.Error(nil, "chat.session.ensure.error", err, map[string]any{"session_id": res.SessionID})
	}

	takeover, err := s.Store.Takeover(res.SessionID)
	if err != nil {
		applog.Error(nil, "chat.takeover.read.error", err, map[string]any{"session_id": res.SessionID})
	}
	if takeover {
		s.appendRecord(res.SessionID, message, true)
		applog.Info(nil, "chat.takeover.skip", map[string]any{"session_id": res.SessionID})
		res.Takeover = true
		return res, nil
	}

	if s.Guard != nil {
		if !s.Guard.Acquire(res.SessionID) {
			applog.Warn(nil, "chat.thread.busy", nil, map[string]any{"session_id": res.SessionID})
			return res, withSession(rateLimited(assistant.ErrThreadBusy), res.SessionID)
		}
		defer s.Guard.Release(res.SessionID)
	}

	s.appendRecord(res.SessionID, message, true)

	reply, err := s.Orchestrator.Run(ctx, res.SessionID, message)
	if err != nil {
		var te *TurnError
		if !errors.As(err, &te) {
			te = internal(err)
		}
		if te.Kind == KindInternal {
			applog.Error(nil, "chat.turn.error", err, map[string]any{"session_id": res.SessionID})
		}
		return res, withSession(te, res.SessionID)
	}

	s.appendRecord(res.SessionID, reply.Text, false)
	res.Reply = reply.Text
	res.Listings = reply.Listings
	return res, nil
}

// appendRecord logs store failures; the reply to the user does not depend on them.
func (s *ChatService) appendRecord(sessionID, content string, isUser bool) {
	if err := s.Store.Append(sessionID, content, isUser); err != nil {
		applog.Error(nil, "chat.transcript.append.error", err, map[string]any{"session_id": sessionID, "is_user": isUser})
	}
}

func withSession(te *TurnError, sessionID string) *TurnError {
	te.SessionID = sessionID
	return te
}
