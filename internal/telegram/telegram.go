// Package telegram wraps the Telegram Bot API for the operator approval
// channel in VentaBot.
//
// Only two calls are needed: sendMessage with an inline keyboard to alert the
// operator about a new payment proof, and answerCallbackQuery so the
// operator's button stops showing its loading spinner.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout bounds every Telegram API round-trip.
const DefaultTimeout = 5 * time.Second

// defaultBaseURL is the Telegram Bot API endpoint.
const defaultBaseURL = "https://api.telegram.org"

// Notifier defines the operator channel operations used by the bot.
type Notifier interface {
	// SendPaymentAlert notifies the operator about a pending order with
	// inline approve/reject buttons carrying aprobar_<id> / rechazar_<id>.
	SendPaymentAlert(ctx context.Context, orderID int64, phone, plan, proofURL string) error

	// AnswerCallback acknowledges an inline button press with a short text.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	BotToken    string
	AdminChatID string
	BaseURL     string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithBotToken sets the bot token.
func WithBotToken(token string) Option {
	return func(o *Opts) { o.BotToken = token }
}

// WithAdminChatID sets the operator chat that receives payment alerts.
func WithAdminChatID(chatID string) Option {
	return func(o *Opts) { o.AdminChatID = chatID }
}

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) { o.BaseURL = baseURL }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the Telegram Bot API.
type Client struct {
	botToken    string
	adminChatID string
	baseURL     string
	http        *http.Client
}

// NewClient creates a Telegram client. Token and chat fall back to the
// TELEGRAM_BOT_TOKEN and TELEGRAM_ADMIN_ID environment variables.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: defaultBaseURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BotToken == "" {
		cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.AdminChatID == "" {
		cfg.AdminChatID = os.Getenv("TELEGRAM_ADMIN_ID")
	}
	slog.Debug("telegram.NewClient: config loaded",
		"token_set", cfg.BotToken != "",
		"admin_set", cfg.AdminChatID != "")

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token must be provided")
	}
	if cfg.AdminChatID == "" {
		return nil, fmt.Errorf("admin chat ID must be provided")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		botToken:    cfg.BotToken,
		adminChatID: cfg.AdminChatID,
		baseURL:     cfg.BaseURL,
		http:        httpClient,
	}, nil
}

// inlineButton is one button of an inline keyboard.
type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// post sends a JSON payload to a Bot API method.
func (c *Client) post(ctx context.Context, method string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// SendPaymentAlert sends the operator a payment alert with approve/reject
// buttons. The callback tokens embed the order ID so the approval router can
// recover it from the button press alone.
func (c *Client) SendPaymentAlert(ctx context.Context, orderID int64, phone, plan, proofURL string) error {
	text := fmt.Sprintf(
		"🚨 <b>NUEVA SOLICITUD DE PAGO</b> 🚨\n\n"+
			"👤 <b>Cliente:</b> %s\n"+
			"📦 <b>Plan:</b> %s\n"+
			"🖼 <b>Comprobante:</b> <a href='%s'>Ver imagen</a>\n\n"+
			"¿Aprobar y activar?",
		phone, plan, proofURL)

	payload := map[string]interface{}{
		"chat_id":    c.adminChatID,
		"text":       text,
		"parse_mode": "HTML",
		"reply_markup": map[string]interface{}{
			"inline_keyboard": [][]inlineButton{{
				{Text: "✅ APROBAR", CallbackData: fmt.Sprintf("aprobar_%d", orderID)},
				{Text: "❌ RECHAZAR", CallbackData: fmt.Sprintf("rechazar_%d", orderID)},
			}},
		},
	}

	if err := c.post(ctx, "sendMessage", payload); err != nil {
		slog.Error("telegram.SendPaymentAlert failed", "error", err, "orderID", orderID)
		return err
	}
	slog.Info("telegram.SendPaymentAlert: alert sent", "orderID", orderID, "phone", phone)
	return nil
}

// AnswerCallback acknowledges a button press so the operator's client clears
// its processing indicator. Called on every path, including errors.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        false,
	}
	if err := c.post(ctx, "answerCallbackQuery", payload); err != nil {
		slog.Warn("telegram.AnswerCallback failed", "error", err, "callbackID", callbackID)
		return err
	}
	slog.Debug("telegram.AnswerCallback: callback answered", "callbackID", callbackID)
	return nil
}
