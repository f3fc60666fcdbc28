// Package chat is the service layer between the HTTP API and the pipeline:
// it owns session locking, turn recording, state propagation, and answer
// rendering.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
	"github.com/bankchat/bankchat-go/observability"
	"github.com/bankchat/bankchat-go/pipeline"
	"github.com/bankchat/bankchat-go/session"
)

// Request is one user message.
type Request struct {
	// SessionID continues an existing conversation. Empty starts a new one.
	SessionID string `json:"session_id"`

	// Text is the user's message. The wire name is "message".
	Text string `json:"message"`

	// Customer optionally attaches or updates the customer profile.
	Customer bankchat.Fields `json:"customer,omitempty"`
}

// Response is the completed turn.
type Response struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	Answer    string `json:"response"`

	// ShortCircuit reports that the turn was answered directly without
	// running the banking stages.
	ShortCircuit bool `json:"short_circuit,omitempty"`

	// Degraded reports that every stage fell back to its defaults.
	Degraded bool `json:"degraded,omitempty"`
}

// Service orchestrates chat turns.
//
// Turns within one session are serialized in acceptance order by a
// per-session mutex; turns of different sessions run concurrently. A
// cancelled turn leaves the session untouched, so history never records a
// partial exchange.
type Service struct {
	shared   config.Shared
	pipeline *pipeline.Pipeline
	store    session.Store
	renderer *Renderer
	logger   *slog.Logger

	locks sync.Map // session id -> *sync.Mutex
}

// NewService creates the chat service.
func NewService(shared config.Shared, p *pipeline.Pipeline, store session.Store, logger *slog.Logger) *Service {
	return &Service{
		shared:   shared,
		pipeline: p,
		store:    store,
		renderer: NewRenderer(shared.ToolErrorAnswer),
		logger:   logger,
	}
}

func (s *Service) lockFor(sessionID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Handle runs one chat turn end to end.
func (s *Service) Handle(ctx context.Context, req Request) (*Response, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(req.Customer) > 0 {
		if sess.Customer == nil {
			sess.Customer = bankchat.Fields{}
		}
		sess.Customer.Merge(req.Customer)
	}

	pctx := &bankchat.PipelineContext{
		SessionID: sessionID,
		Query:     req.Text,
		History:   append([]bankchat.Turn(nil), sess.Turns...),
		State:     sess.State.Clone(),
		Customer:  sess.Customer.Clone(),
	}

	start := time.Now()
	result, err := s.pipeline.Run(ctx, pctx)
	if err != nil {
		// Cancellation mid-turn: nothing is recorded.
		observability.ObserveTurn("error", time.Since(start))
		return nil, err
	}

	answer, outcome := s.answer(result, sess.Customer)
	observability.ObserveTurn(outcome, time.Since(start))

	s.propagateState(sess, result)

	turn := bankchat.Turn{
		ID:        uuid.NewString(),
		UserText:  req.Text,
		Answer:    answer,
		Stages:    result.Stages,
		CreatedAt: time.Now().UTC(),
	}
	sess.AppendTurn(turn, s.shared.HistoryLimit)

	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	s.reportSessionCount(ctx)

	s.logger.Info("turn completed",
		"session", sessionID,
		"turn", turn.ID,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds())

	return &Response{
		SessionID:    sessionID,
		TurnID:       turn.ID,
		Answer:       answer,
		ShortCircuit: result.ShortCircuit,
		Degraded:     result.AllFallback,
	}, nil
}

// answer picks the user-facing reply for a pipeline result.
func (s *Service) answer(result *pipeline.Result, customer bankchat.Fields) (string, string) {
	switch {
	case result.ShortCircuit:
		return result.Answer, "short_circuit"
	case result.AllFallback:
		return s.shared.FallbackAnswer, "degraded"
	case len(result.Stages) == 0:
		return s.shared.FallbackAnswer, "degraded"
	default:
		last := result.Stages[len(result.Stages)-1]
		return s.renderer.Render(last.Fields, customer), "ok"
	}
}

// propagateState writes what this turn learned into the session's
// current-state map so the next turn's prompts can use it.
func (s *Service) propagateState(sess *session.Session, result *pipeline.Result) {
	if sess.State == nil {
		sess.State = bankchat.Fields{}
	}
	for _, sr := range result.Stages {
		if intent := sr.Fields.String(bankchat.FieldIntent); intent != "" {
			sess.State["last_intent"] = intent
		}
		if slots := sr.Fields.Strings(bankchat.FieldSlot); len(slots) > 0 {
			sess.State["last_slots"] = slots
		}
		if output := sr.Fields.Map(bankchat.FieldToolOutput); output != nil {
			if account := output.String("account_number"); account != "" {
				sess.State["selected_account"] = account
			}
		}
	}
}

func (s *Service) reportSessionCount(ctx context.Context) {
	if count, err := s.store.Count(ctx); err == nil {
		observability.SetActiveSessions(count)
	}
}

// Sessions lists the stored sessions.
func (s *Service) Sessions(ctx context.Context) ([]session.Summary, error) {
	return s.store.List(ctx)
}

// Session returns one session in full, including turn history.
func (s *Service) Session(ctx context.Context, id string) (*session.Session, error) {
	return s.store.Get(ctx, id)
}

// DeleteSession removes a session. The lock entry stays in the table: a
// turn already blocked on it must still serialize against any later turn
// that recreates the session under the same id.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.reportSessionCount(ctx)
	return nil
}

// SessionState returns the session's current-state map.
func (s *Service) SessionState(ctx context.Context, id string) (bankchat.Fields, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.State.Clone(), nil
}

// UpdateSessionState merges the given fields into the session's
// current-state map, creating the session if needed.
func (s *Service) UpdateSessionState(ctx context.Context, id string, fields bankchat.Fields) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	if sess.State == nil {
		sess.State = bankchat.Fields{}
	}
	sess.State.Merge(fields)
	return s.store.Put(ctx, sess)
}

// ClearSessionState resets the session's current-state map.
func (s *Service) ClearSessionState(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.State = bankchat.Fields{}
	return s.store.Put(ctx, sess)
}
