// Package api provides the HTTP surface of VentaBot.
//
// It exposes the Twilio WhatsApp webhook that drives the sales conversation
// and the Telegram webhook that lets the operator approve or reject payments.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ventanet/ventabot/internal/flow"
	"github.com/ventanet/ventabot/internal/models"
	"github.com/ventanet/ventabot/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8000"

// DefaultOrderDays is assumed when a payment proof arrives before the
// customer stated a duration.
const DefaultOrderDays = 1

// IntentEngine turns a customer text message into a reply or an action.
type IntentEngine interface {
	Respond(ctx context.Context, phone, text string) flow.IntentResult
}

// ActionDispatcher executes a decoded action and returns the reply text.
type ActionDispatcher interface {
	Execute(ctx context.Context, action *models.BotAction, phone string) string
}

// Messenger sends outbound WhatsApp messages to customers.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) error
}

// OperatorNotifier reaches the human operator on Telegram.
type OperatorNotifier interface {
	SendPaymentAlert(ctx context.Context, orderID int64, phone, plan, proofURL string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// AccountDirectory is the subset of router operations the approval flow needs.
type AccountDirectory interface {
	ReplaceUserPlan(ctx context.Context, username, plan string) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr         string
	SupportPhone string
	PricePerDay  float64
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSupportPhone sets the technical support number quoted to customers.
func WithSupportPhone(phone string) Option {
	return func(o *Opts) { o.SupportPhone = phone }
}

// WithPricePerDay sets the per-day price used in customer confirmations.
func WithPricePerDay(price float64) Option {
	return func(o *Opts) { o.PricePerDay = price }
}

// Server wires the webhook handlers to the bot's collaborators.
type Server struct {
	intents    IntentEngine
	dispatcher ActionDispatcher
	messenger  Messenger
	notifier   OperatorNotifier
	directory  AccountDirectory
	store      store.Store

	addr         string
	supportPhone string
	pricePerDay  float64
}

// NewServer creates an API server with injected dependencies.
func NewServer(intents IntentEngine, dispatcher ActionDispatcher, messenger Messenger, notifier OperatorNotifier, directory AccountDirectory, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("api.NewServer: creating server",
		"addr", cfg.Addr,
		"hasIntents", intents != nil,
		"hasDispatcher", dispatcher != nil,
		"hasMessenger", messenger != nil,
		"hasNotifier", notifier != nil,
		"hasDirectory", directory != nil,
		"hasStore", st != nil)
	return &Server{
		intents:      intents,
		dispatcher:   dispatcher,
		messenger:    messenger,
		notifier:     notifier,
		directory:    directory,
		store:        st,
		addr:         cfg.Addr,
		supportPhone: cfg.SupportPhone,
		pricePerDay:  cfg.PricePerDay,
	}
}

// Handler returns the server's routing table as an http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/webhook", s.whatsappWebhookHandler)
	mux.HandleFunc("/telegram", s.telegramWebhookHandler)
	return mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Run: VentaBot API listening", "addr", s.addr)
	return srv.ListenAndServe()
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("VentaBot running", nil))
}
