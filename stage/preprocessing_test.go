package stage

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
)

func preprocessingConfig() *config.StageConfig {
	sc := testStageConfig("preprocessing")
	sc.Prompt = []string{"{rewritten_text}"}
	sc.DefaultIntent = "general_inquiry"
	return sc
}

func TestPreprocessingExecute(t *testing.T) {
	mock := llm.NewMockLLM(`{"normalized_text": "계좌 잔액 조회", "intent": "balance_inquiry", "slot": []}`)
	s := NewPreprocessing(preprocessingConfig(), testShared(), mock, testLogger())

	in := bankchat.Fields{bankchat.FieldRewrittenText: "제 계좌 잔액을 확인해 주세요."}
	result, err := s.Execute(context.Background(), in, testPipelineContext("잔액 확인"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := result.Fields.String(bankchat.FieldIntent); got != "balance_inquiry" {
		t.Errorf("intent = %q", got)
	}
	if got := result.Fields.String(bankchat.FieldNormalizedText); got != "계좌 잔액 조회" {
		t.Errorf("normalized_text = %q", got)
	}
}

func TestPreprocessingTakesFirstOfIntentList(t *testing.T) {
	mock := llm.NewMockLLM(`{"normalized_text": "x", "intent": ["transfer_request", "balance_inquiry"], "slot": []}`)
	s := NewPreprocessing(preprocessingConfig(), testShared(), mock, testLogger())

	result, err := s.Execute(context.Background(), bankchat.Fields{}, testPipelineContext("이체"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := result.Fields.String(bankchat.FieldIntent); got != "transfer_request" {
		t.Errorf("intent = %q, want head of the list", got)
	}
}

func TestPreprocessingEnhancesSlotsFromSession(t *testing.T) {
	mock := llm.NewMockLLM(`{"normalized_text": "x", "intent": "balance_inquiry", "slot": ["50000"]}`)
	s := NewPreprocessing(preprocessingConfig(), testShared(), mock, testLogger())

	pctx := testPipelineContext("잔액")
	pctx.State = bankchat.Fields{"selected_account": "110-234-567890"}
	pctx.History = []bankchat.Turn{{
		UserText:  "이전 질문",
		CreatedAt: time.Now(),
		Stages: []bankchat.StageResult{{
			Stage: "domain",
			Fields: bankchat.Fields{
				bankchat.FieldToolOutput: map[string]any{"account_number": "220-111-222333"},
			},
		}},
	}}

	result, err := s.Execute(context.Background(), bankchat.Fields{}, pctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"50000", "110-234-567890", "220-111-222333"}
	if got := result.Fields.Strings(bankchat.FieldSlot); !reflect.DeepEqual(got, want) {
		t.Errorf("slot = %v, want %v", got, want)
	}
}

func TestPreprocessingFallback(t *testing.T) {
	mock := llm.NewMockLLM("JSON 없음")
	s := NewPreprocessing(preprocessingConfig(), testShared(), mock, testLogger())

	in := bankchat.Fields{bankchat.FieldRewrittenText: "재작성된 문장"}
	result, err := s.Execute(context.Background(), in, testPipelineContext("원래 질문"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Fallback {
		t.Fatal("result must be marked fallback")
	}
	if got := result.Fields.String(bankchat.FieldNormalizedText); got != "재작성된 문장" {
		t.Errorf("normalized_text = %q, want the rewritten input", got)
	}
	if got := result.Fields.String(bankchat.FieldIntent); got != "general_inquiry" {
		t.Errorf("intent = %q, want default", got)
	}
}
