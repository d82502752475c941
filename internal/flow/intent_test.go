package flow

import (
	"context"
	"fmt"
	"testing"

	"github.com/openai/openai-go"
	"github.com/ventanet/ventabot/internal/genai"
	"github.com/ventanet/ventabot/internal/models"
	"github.com/ventanet/ventabot/internal/store"
)

// mockGenAI returns a fixed response or error and records the messages it saw.
type mockGenAI struct {
	resp        *genai.ToolCallResponse
	err         error
	gotMessages []openai.ChatCompletionMessageParamUnion
	gotTools    []openai.ChatCompletionToolParam
}

func (m *mockGenAI) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	m.gotMessages = messages
	m.gotTools = tools
	return m.resp, m.err
}

func newTestEngine(mock *mockGenAI, history HistoryStore) *IntentEngine {
	return NewIntentEngine(mock, history, 1.0, "3Dias", "+51987654321", 5)
}

func TestRespondWithoutClient(t *testing.T) {
	engine := NewIntentEngine(nil, nil, 1.0, "3Dias", "+51987654321", 5)

	result := engine.Respond(context.Background(), testPhone, "hola")

	if result.Reply != msgTechnicalIssue {
		t.Errorf("expected canned reply without a client, got %q", result.Reply)
	}
	if result.Action != nil {
		t.Errorf("expected no action without a client, got %+v", result.Action)
	}
}

func TestRespondReturnsContent(t *testing.T) {
	mock := &mockGenAI{resp: &genai.ToolCallResponse{Content: "¿Ya eres cliente o eres nuevo?", TokensUsed: 42}}
	engine := newTestEngine(mock, nil)

	result := engine.Respond(context.Background(), testPhone, "hola")

	if result.Reply != "¿Ya eres cliente o eres nuevo?" {
		t.Errorf("expected model content as reply, got %q", result.Reply)
	}
	if result.Action != nil {
		t.Error("expected no action for plain content")
	}
	if result.TokensUsed != 42 {
		t.Errorf("expected 42 tokens, got %d", result.TokensUsed)
	}
	if len(mock.gotTools) != 3 {
		t.Errorf("expected 3 tool definitions, got %d", len(mock.gotTools))
	}
}

func TestRespondDecodesToolCall(t *testing.T) {
	mock := &mockGenAI{resp: &genai.ToolCallResponse{
		ToolCalls: []genai.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: genai.FunctionCall{
				Name:      "record_order",
				Arguments: []byte(`{"days":5,"username":"pepa"}`),
			},
		}},
		TokensUsed: 17,
	}}
	engine := newTestEngine(mock, nil)

	result := engine.Respond(context.Background(), testPhone, "quiero 5 dias")

	if result.Action == nil {
		t.Fatal("expected a decoded action")
	}
	if result.Action.Name != models.ToolRecordOrder {
		t.Errorf("expected record_order action, got %s", result.Action.Name)
	}
	if result.Action.RecordOrder.Days != 5 || result.Action.RecordOrder.Username != "pepa" {
		t.Errorf("unexpected decoded params: %+v", result.Action.RecordOrder)
	}
	if result.Reply != "" {
		t.Errorf("expected no reply alongside action, got %q", result.Reply)
	}
}

func TestRespondRejectsBadToolPayload(t *testing.T) {
	mock := &mockGenAI{resp: &genai.ToolCallResponse{
		ToolCalls: []genai.ToolCall{{
			Function: genai.FunctionCall{Name: "record_order", Arguments: []byte(`{"days":0}`)},
		}},
	}}
	engine := newTestEngine(mock, nil)

	result := engine.Respond(context.Background(), testPhone, "quiero 0 dias")

	if result.Action != nil {
		t.Error("expected invalid tool payload to be rejected")
	}
	if result.Reply != msgTechnicalIssue {
		t.Errorf("expected technical issue reply, got %q", result.Reply)
	}
}

func TestRespondRateLimited(t *testing.T) {
	mock := &mockGenAI{err: &openai.Error{StatusCode: 429}}
	engine := newTestEngine(mock, nil)

	result := engine.Respond(context.Background(), testPhone, "hola")

	if result.Reply != msgRateLimited {
		t.Errorf("expected rate-limited reply, got %q", result.Reply)
	}
}

func TestRespondCompletionError(t *testing.T) {
	mock := &mockGenAI{err: fmt.Errorf("connection refused")}
	engine := newTestEngine(mock, nil)

	result := engine.Respond(context.Background(), testPhone, "hola")

	if result.Reply != msgTechnicalIssue {
		t.Errorf("expected technical issue reply, got %q", result.Reply)
	}
}

func TestRespondEmptyContent(t *testing.T) {
	mock := &mockGenAI{resp: &genai.ToolCallResponse{Content: ""}}
	engine := newTestEngine(mock, nil)

	result := engine.Respond(context.Background(), testPhone, "hola")

	if result.Reply != msgTechnicalIssue {
		t.Errorf("expected fallback reply for empty content, got %q", result.Reply)
	}
}

func TestRespondAttachesHistory(t *testing.T) {
	st := store.NewInMemoryStore()
	for i := 0; i < 7; i++ {
		if err := st.AppendTurn(models.ConversationTurn{
			Phone:       testPhone,
			UserMessage: fmt.Sprintf("pregunta %d", i),
			BotReply:    fmt.Sprintf("respuesta %d", i),
		}); err != nil {
			t.Fatalf("failed to seed turn: %v", err)
		}
	}

	mock := &mockGenAI{resp: &genai.ToolCallResponse{Content: "ok"}}
	engine := newTestEngine(mock, st)

	engine.Respond(context.Background(), testPhone, "hola")

	// system prompt + 5 history pairs + current message
	if want := 1 + 5*2 + 1; len(mock.gotMessages) != want {
		t.Errorf("expected %d messages, got %d", want, len(mock.gotMessages))
	}
}

func TestRespondOnlyFirstToolCallHonored(t *testing.T) {
	mock := &mockGenAI{resp: &genai.ToolCallResponse{
		ToolCalls: []genai.ToolCall{
			{Function: genai.FunctionCall{Name: "lookup_account", Arguments: []byte(`{"username":"pepa"}`)}},
			{Function: genai.FunctionCall{Name: "record_order", Arguments: []byte(`{"days":5}`)}},
		},
	}}
	engine := newTestEngine(mock, nil)

	result := engine.Respond(context.Background(), testPhone, "mi usuario es pepa y quiero 5")

	if result.Action == nil || result.Action.Name != models.ToolLookupAccount {
		t.Fatalf("expected only the first tool call to be honored, got %+v", result.Action)
	}
}
