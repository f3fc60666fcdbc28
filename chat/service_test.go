package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
	"github.com/bankchat/bankchat-go/pipeline"
	"github.com/bankchat/bankchat-go/session"
	"github.com/bankchat/bankchat-go/stage"
	"github.com/bankchat/bankchat-go/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testShared() config.Shared {
	return config.Shared{
		EntryStage:        "rewriting",
		SessionCapacity:   100,
		HistoryLimit:      10,
		MaxContextEntries: 3,
		FallbackAnswer:    "죄송합니다. 일시적인 오류로 요청을 처리하지 못했습니다.",
		ToolErrorAnswer:   "죄송합니다. 요청하신 작업을 완료하지 못했습니다.",
	}
}

func testToolConfig() *config.Config {
	return &config.Config{
		Tools: map[string]*config.ToolConfig{
			"account_balance": {
				Description: "잔액 조회",
				SampleResponse: map[string]any{
					"status":         "success",
					"account_number": "110-234-567890",
					"balance":        float64(2450000),
				},
			},
		},
	}
}

func stageConfigs() map[string]*config.StageConfig {
	base := func(id string) *config.StageConfig {
		return &config.StageConfig{
			ID:              id,
			Provider:        "mock",
			Model:           "mock",
			MaxRetries:      1,
			RetryDelayMs:    1,
			RetryDelayMaxMs: 5,
			TimeoutMs:       1000,
			Prompt:          []string{"{query}"},
		}
	}

	rewriting := base("rewriting")
	rewriting.Next = []string{"preprocessing"}
	rewriting.DefaultTopic = "banking"
	rewriting.RoutingRules = []config.RoutingRule{{
		Field:          "topic",
		Equals:         "general",
		ResponsePrompt: "일상 질문에 짧게 답하세요.",
	}}

	preprocessing := base("preprocessing")
	preprocessing.Next = []string{"supervisor"}
	preprocessing.DefaultIntent = "general_inquiry"

	supervisor := base("supervisor")
	supervisor.Next = []string{"domain"}
	supervisor.IntentDomain = map[string]string{"balance_inquiry": "banking"}
	supervisor.DefaultDomain = "banking"

	domain := base("domain")
	domain.IntentTool = map[string]string{"balance_inquiry": "account_balance"}
	domain.DefaultTool = "account_balance"

	return map[string]*config.StageConfig{
		"rewriting":     rewriting,
		"preprocessing": preprocessing,
		"supervisor":    supervisor,
		"domain":        domain,
	}
}

// newTestService assembles the real pipeline over mock models. scripts maps
// stage id to the scripted model replies; an entry with a nil script gets a
// failing model.
func newTestService(t *testing.T, scripts map[string][]string) (*Service, session.Store) {
	t.Helper()

	shared := testShared()
	registry := tools.NewBankingRegistry(testToolConfig())
	logger := testLogger()

	stages := make(map[string]bankchat.Stage)
	next := make(map[string][]string)
	for id, sc := range stageConfigs() {
		mock := llm.NewMockLLM("")
		if script, ok := scripts[id]; ok && script != nil {
			mock.Script(script...)
		} else {
			mock.Fail(errors.New("provider unavailable"))
		}
		s, err := stage.New(sc, shared, mock, registry, logger)
		if err != nil {
			t.Fatalf("stage.New(%s): %v", id, err)
		}
		stages[id] = pipeline.Decorate(s, sc, logger)
		next[id] = sc.Next
	}

	pipe := pipeline.New(shared.EntryStage, stages, next, logger)
	store := session.NewMemoryStore(shared.SessionCapacity)
	return NewService(shared, pipe, store, logger), store
}

// newRepeatingService is newTestService with models that answer every call
// with the same reply, for tests running an unbounded number of turns.
func newRepeatingService(t *testing.T) (*Service, session.Store) {
	t.Helper()

	defaults := map[string]string{
		"rewriting":     `{"rewritten_text": "잔액 확인", "topic": "banking"}`,
		"preprocessing": `{"normalized_text": "잔액 조회", "intent": "balance_inquiry", "slot": []}`,
		"supervisor":    `{"target_domain": "banking"}`,
		"domain":        `{"tool_name": "account_balance", "tool_input": {}}`,
	}

	shared := testShared()
	registry := tools.NewBankingRegistry(testToolConfig())
	logger := testLogger()

	stages := make(map[string]bankchat.Stage)
	next := make(map[string][]string)
	for id, sc := range stageConfigs() {
		s, err := stage.New(sc, shared, llm.NewMockLLM(defaults[id]), registry, logger)
		if err != nil {
			t.Fatalf("stage.New(%s): %v", id, err)
		}
		stages[id] = pipeline.Decorate(s, sc, logger)
		next[id] = sc.Next
	}

	pipe := pipeline.New(shared.EntryStage, stages, next, logger)
	store := session.NewMemoryStore(shared.SessionCapacity)
	return NewService(shared, pipe, store, logger), store
}

func TestHandleBalanceInquiryEndToEnd(t *testing.T) {
	svc, store := newTestService(t, map[string][]string{
		"rewriting":     {`{"rewritten_text": "제 계좌의 잔액을 확인해 주세요.", "topic": "banking"}`},
		"preprocessing": {`{"normalized_text": "계좌 잔액 조회", "intent": "balance_inquiry", "slot": []}`},
		"supervisor":    {`{"target_domain": "banking"}`},
		"domain":        {`{"tool_name": "account_balance", "tool_input": {}}`},
	})

	resp, err := svc.Handle(context.Background(), Request{
		Text:     "내 계좌 잔액을 확인해주세요",
		Customer: bankchat.Fields{"name": "홍길동"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.ShortCircuit || resp.Degraded {
		t.Errorf("resp = %+v", resp)
	}
	if !strings.Contains(resp.Answer, "2,450,000원") || !strings.HasPrefix(resp.Answer, "홍길동님") {
		t.Errorf("answer = %q", resp.Answer)
	}

	sess, err := store.Get(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Turns) != 1 {
		t.Fatalf("len(Turns) = %d, want 1", len(sess.Turns))
	}
	turn := sess.Turns[0]
	if len(turn.Stages) != 4 {
		t.Errorf("recorded %d stage results, want 4", len(turn.Stages))
	}
	if got := sess.State.String("selected_account"); got != "110-234-567890" {
		t.Errorf("selected_account = %q, state propagation failed", got)
	}
	if got := sess.State.String("last_intent"); got != "balance_inquiry" {
		t.Errorf("last_intent = %q", got)
	}
}

func TestHandleGeneralTopicShortCircuits(t *testing.T) {
	svc, store := newTestService(t, map[string][]string{
		"rewriting": {
			`{"rewritten_text": "오늘 날씨가 어떤가요?", "topic": "general"}`,
			"오늘은 맑고 따뜻하겠습니다. 은행 업무가 필요하시면 말씀해 주세요.",
		},
	})

	resp, err := svc.Handle(context.Background(), Request{Text: "오늘 날씨가 어떤가요?"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !resp.ShortCircuit {
		t.Fatal("general topic must short-circuit")
	}
	if !strings.Contains(resp.Answer, "맑고 따뜻하겠습니다") {
		t.Errorf("answer = %q", resp.Answer)
	}

	sess, _ := store.Get(context.Background(), resp.SessionID)
	turn := sess.Turns[0]
	if len(turn.Stages) != 1 {
		t.Fatalf("recorded %d stage results, want only the entry stage", len(turn.Stages))
	}
	if _, ran := turn.StageOutput("domain"); ran {
		t.Error("domain stage ran despite short-circuit")
	}
}

func TestHandleAllStagesDegradedUsesFallbackAnswer(t *testing.T) {
	// No scripts: every model call fails, every stage falls back.
	svc, _ := newTestService(t, map[string][]string{})

	resp, err := svc.Handle(context.Background(), Request{Text: "잔액 확인"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !resp.Degraded {
		t.Fatal("Degraded must be set when every stage fell back")
	}
	if resp.Answer != testShared().FallbackAnswer {
		t.Errorf("answer = %q, want the configured fallback", resp.Answer)
	}
}

func TestHandleSecondTurnSeesHistory(t *testing.T) {
	svc, _ := newTestService(t, map[string][]string{
		"rewriting": {
			`{"rewritten_text": "잔액 확인", "topic": "banking"}`,
			`{"rewritten_text": "그 계좌의 거래 내역", "topic": "banking"}`,
		},
		"preprocessing": {
			`{"normalized_text": "잔액 조회", "intent": "balance_inquiry", "slot": []}`,
			`{"normalized_text": "거래 내역 조회", "intent": "balance_inquiry", "slot": []}`,
		},
		"supervisor": {
			`{"target_domain": "banking"}`,
			`{"target_domain": "banking"}`,
		},
		"domain": {
			`{"tool_name": "account_balance", "tool_input": {}}`,
			`{"tool_name": "account_balance", "tool_input": {}}`,
		},
	})

	first, err := svc.Handle(context.Background(), Request{Text: "잔액 확인해줘"})
	if err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	second, err := svc.Handle(context.Background(), Request{SessionID: first.SessionID, Text: "그 계좌 거래 내역도"})
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("session changed: %q vs %q", second.SessionID, first.SessionID)
	}

	sess, _ := svc.Session(context.Background(), first.SessionID)
	if len(sess.Turns) != 2 {
		t.Errorf("len(Turns) = %d, want 2", len(sess.Turns))
	}
}

func TestHandleConcurrentTurnsSameSession(t *testing.T) {
	svc, store := newRepeatingService(t)
	const turns = 8

	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Handle(context.Background(), Request{
				SessionID: "conc",
				Text:      fmt.Sprintf("질문 %d", i),
			})
			if err != nil {
				t.Errorf("Handle %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	sess, err := store.Get(context.Background(), "conc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Turns) != turns {
		t.Fatalf("len(Turns) = %d, want %d: a concurrent turn was lost or duplicated", len(sess.Turns), turns)
	}
	seen := make(map[string]bool)
	for i, turn := range sess.Turns {
		if seen[turn.UserText] {
			t.Errorf("turn %q recorded twice", turn.UserText)
		}
		seen[turn.UserText] = true
		if i > 0 && turn.CreatedAt.Before(sess.Turns[i-1].CreatedAt) {
			t.Errorf("turn %d recorded out of acceptance order", i)
		}
	}
}

func TestHandleConcurrentReadersSeeConsistentSession(t *testing.T) {
	svc, _ := newRepeatingService(t)
	ctx := context.Background()

	if _, err := svc.Handle(ctx, Request{SessionID: "rw", Text: "첫 질문"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if _, err := svc.Handle(ctx, Request{SessionID: "rw", Text: fmt.Sprintf("질문 %d", i)}); err != nil {
				t.Errorf("Handle: %v", err)
				return
			}
		}
	}()

	// Readers marshal the whole session while turns mutate it; the store
	// hands out copies, so this must never trip the race detector or see a
	// half-written turn.
	for {
		select {
		case <-done:
			return
		default:
		}
		sess, err := svc.Session(ctx, "rw")
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		if _, err := json.Marshal(sess); err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if _, err := svc.SessionState(ctx, "rw"); err != nil {
			t.Fatalf("SessionState: %v", err)
		}
	}
}

func TestHandleCancelledTurnAppendsNothing(t *testing.T) {
	svc, store := newRepeatingService(t)

	first, err := svc.Handle(context.Background(), Request{Text: "잔액 확인"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Handle(ctx, Request{SessionID: first.SessionID, Text: "취소될 질문"}); err == nil {
		t.Fatal("cancelled turn must return an error")
	}

	sess, err := store.Get(context.Background(), first.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Turns) != 1 {
		t.Fatalf("len(Turns) = %d, want 1: cancelled turn must not be recorded", len(sess.Turns))
	}
	if sess.Turns[0].UserText != "잔액 확인" {
		t.Errorf("recorded turn = %q", sess.Turns[0].UserText)
	}
}

func TestDeleteSessionRetainsLockEntry(t *testing.T) {
	svc, _ := newTestService(t, map[string][]string{})
	ctx := context.Background()

	if err := svc.UpdateSessionState(ctx, "s9", bankchat.Fields{"selected_account": "110-1"}); err != nil {
		t.Fatalf("UpdateSessionState: %v", err)
	}
	before := svc.lockFor("s9")
	if err := svc.DeleteSession(ctx, "s9"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if svc.lockFor("s9") != before {
		t.Error("delete replaced the session lock; a blocked turn could interleave with a recreated session")
	}
}

func TestSessionStateOperations(t *testing.T) {
	svc, _ := newTestService(t, map[string][]string{})
	ctx := context.Background()

	if err := svc.UpdateSessionState(ctx, "s1", bankchat.Fields{"selected_account": "110-1"}); err != nil {
		t.Fatalf("UpdateSessionState: %v", err)
	}
	state, err := svc.SessionState(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionState: %v", err)
	}
	if state.String("selected_account") != "110-1" {
		t.Errorf("state = %v", state)
	}

	if err := svc.ClearSessionState(ctx, "s1"); err != nil {
		t.Fatalf("ClearSessionState: %v", err)
	}
	state, _ = svc.SessionState(ctx, "s1")
	if len(state) != 0 {
		t.Errorf("state after clear = %v", state)
	}

	if err := svc.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := svc.SessionState(ctx, "s1"); !errors.Is(err, bankchat.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
