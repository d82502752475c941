package flow

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"github.com/ventanet/ventabot/internal/genai"
	"github.com/ventanet/ventabot/internal/models"
)

// DefaultHistoryLimit is the number of prior turns given to the model.
const DefaultHistoryLimit = 5

// HistoryStore provides the rolling conversation window for the intent engine.
type HistoryStore interface {
	RecentTurns(phone string, limit int) ([]models.ConversationTurn, error)
}

// IntentResult is the outcome of one intent-engine invocation: either a
// decoded action or a free-form reply, never both.
type IntentResult struct {
	Reply      string
	Action     *models.BotAction
	TokensUsed int64
}

// IntentEngine sends customer messages to the completion endpoint with the
// sales system prompt and the callable actions declared, and normalizes the
// outcome. It never fails the caller: every failure mode degrades to a canned
// reply with no action.
type IntentEngine struct {
	genaiClient  genai.ClientInterface
	history      HistoryStore
	systemPrompt string
	historyLimit int
	tools        []openai.ChatCompletionToolParam
}

// NewIntentEngine creates an intent engine. A nil history store disables
// conversation history; historyLimit <= 0 falls back to the default.
func NewIntentEngine(genaiClient genai.ClientInterface, history HistoryStore, pricePerDay float64, trialPlan, supportPhone string, historyLimit int) *IntentEngine {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	slog.Debug("flow.NewIntentEngine: creating intent engine",
		"hasGenAI", genaiClient != nil,
		"hasHistory", history != nil,
		"historyLimit", historyLimit)
	return &IntentEngine{
		genaiClient:  genaiClient,
		history:      history,
		systemPrompt: salesSystemPrompt(pricePerDay, trialPlan, supportPhone),
		historyLimit: historyLimit,
		tools:        salesToolDefinitions(),
	}
}

// Respond processes a customer text message. Pass an empty phone to disable
// history lookup. The returned result always carries a usable reply or a
// validated action.
func (e *IntentEngine) Respond(ctx context.Context, phone, text string) IntentResult {
	if e.genaiClient == nil {
		slog.Error("IntentEngine.Respond: genai client not configured")
		return IntentResult{Reply: msgTechnicalIssue}
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(e.systemPrompt)}

	if e.history != nil && phone != "" {
		turns, err := e.history.RecentTurns(phone, e.historyLimit)
		if err != nil {
			slog.Warn("IntentEngine.Respond: failed to load history, continuing without", "error", err, "phone", phone)
		}
		for _, turn := range turns {
			messages = append(messages, openai.UserMessage(turn.UserMessage))
			messages = append(messages, openai.AssistantMessage(turn.BotReply))
		}
		slog.Debug("IntentEngine.Respond: history attached", "phone", phone, "turns", len(turns))
	}

	messages = append(messages, openai.UserMessage(text))

	resp, err := e.genaiClient.GenerateWithTools(ctx, messages, e.tools)
	if err != nil {
		if genai.IsRateLimited(err) {
			slog.Warn("IntentEngine.Respond: completion rate limited", "phone", phone)
			return IntentResult{Reply: msgRateLimited}
		}
		slog.Error("IntentEngine.Respond: completion failed", "error", err, "phone", phone)
		return IntentResult{Reply: msgTechnicalIssue}
	}

	if len(resp.ToolCalls) > 0 {
		// Only the first tool call is honored; the dispatch table has no
		// actions that combine meaningfully in one turn.
		call := resp.ToolCalls[0]
		action, err := models.DecodeToolCall(call.Function.Name, call.Function.Arguments)
		if err != nil {
			slog.Error("IntentEngine.Respond: rejected tool payload", "error", err, "tool", call.Function.Name, "phone", phone)
			return IntentResult{Reply: msgTechnicalIssue, TokensUsed: resp.TokensUsed}
		}
		slog.Info("IntentEngine.Respond: model invoked action", "action", action.Name, "phone", phone, "tokensUsed", resp.TokensUsed)
		return IntentResult{Action: action, TokensUsed: resp.TokensUsed}
	}

	reply := resp.Content
	if reply == "" {
		slog.Warn("IntentEngine.Respond: empty completion content", "phone", phone)
		reply = msgTechnicalIssue
	}
	return IntentResult{Reply: reply, TokensUsed: resp.TokensUsed}
}

// salesToolDefinitions declares the three callable actions for the model.
func salesToolDefinitions() []openai.ChatCompletionToolParam {
	return []openai.ChatCompletionToolParam{
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        string(models.ToolCreateAccount),
				Description: openai.String("Crea un usuario nuevo en el sistema hotspot con el plan de prueba gratis. Llamar solo cuando tengas nombre completo, usuario deseado y zona."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"full_name": map[string]interface{}{
							"type":        "string",
							"description": "Nombre completo del cliente",
						},
						"username": map[string]interface{}{
							"type":        "string",
							"description": "Nombre de usuario elegido (ej: ricky3)",
						},
						"zone": map[string]interface{}{
							"type":        "string",
							"description": "Zona del cliente (Centro, Goza, Cocha, etc)",
						},
					},
					"required": []string{"full_name", "username", "zone"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        string(models.ToolLookupAccount),
				Description: openai.String("Busca un usuario existente en el sistema hotspot."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"username": map[string]interface{}{
							"type":        "string",
							"description": "Nombre de usuario a buscar",
						},
					},
					"required": []string{"username"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        string(models.ToolRecordOrder),
				Description: openai.String("LLAMAR SIEMPRE cuando el cliente dice cuántos días quiere (ej: '5 días', 'quiero 3'). Guarda el pedido y responde automáticamente. NO respondas con texto después de llamar esta función."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"days": map[string]interface{}{
							"type":        "integer",
							"description": "Cantidad de días que el cliente quiere comprar",
						},
						"username": map[string]interface{}{
							"type":        "string",
							"description": "Usuario a recargar, si el cliente lo mencionó",
						},
					},
					"required": []string{"days"},
				},
			},
		},
	}
}
