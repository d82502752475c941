package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ventanet/ventabot/internal/models"
	"github.com/ventanet/ventabot/internal/twiliowhatsapp"
)

// Customer confirmations for the payment proof path.
const (
	msgProofReceived = "✅ Comprobante recibido!\n\n📋 Usuario: %s\n📅 Días: %d\n💰 Monto: S/%s\n\nUn agente lo validará en breve. Gracias! 🙏"
	msgProofFailed   = "❌ Error al procesar el comprobante. Intenta de nuevo o contacta al admin."
)

// whatsappWebhookHandler receives Twilio WhatsApp form posts. Media messages
// are treated as payment proofs; text messages go through the intent engine.
// Twilio retries non-2xx deliveries, so every processed message answers with
// a success envelope even when downstream work failed.
func (s *Server) whatsappWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.whatsappWebhookHandler: processing inbound message", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.whatsappWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.whatsappWebhookHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form payload"))
		return
	}

	phone, err := twiliowhatsapp.CanonicalizeRecipient(r.PostFormValue("From"))
	if err != nil {
		slog.Warn("Server.whatsappWebhookHandler: sender validation failed", "error", err, "from", r.PostFormValue("From"))
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid sender"))
		return
	}

	numMedia, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	body := r.PostFormValue("Body")

	switch {
	case numMedia > 0:
		s.handlePaymentProof(w, r, phone, r.PostFormValue("MediaUrl0"))
	case body != "":
		s.handleCustomerText(w, r, phone, body)
	default:
		slog.Debug("Server.whatsappWebhookHandler: nothing to process", "phone", phone)
		writeJSONResponse(w, http.StatusOK, models.Ignored("Empty message"))
	}
}

// handleCustomerText runs one conversation turn: intent engine, optional
// action dispatch, history append, outbound reply.
func (s *Server) handleCustomerText(w http.ResponseWriter, r *http.Request, phone, text string) {
	ctx := r.Context()

	result := s.intents.Respond(ctx, phone, text)
	reply := result.Reply
	if result.Action != nil {
		reply = s.dispatcher.Execute(ctx, result.Action, phone)
	}

	if err := s.store.AppendTurn(models.ConversationTurn{
		Phone:       phone,
		UserMessage: text,
		BotReply:    reply,
		TokensUsed:  result.TokensUsed,
	}); err != nil {
		slog.Warn("Server.handleCustomerText: failed to record turn", "error", err, "phone", phone)
	}

	if err := s.messenger.SendMessage(ctx, phone, reply); err != nil {
		slog.Error("Server.handleCustomerText: failed to send reply", "error", err, "phone", phone)
	}

	slog.Info("Server.handleCustomerText: turn completed", "phone", phone, "action", result.Action != nil, "tokensUsed", result.TokensUsed)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// handlePaymentProof records a pending order from an inbound image and alerts
// the operator. Duration and account come from the conversation context; a
// proof with no stated duration is charged as one day.
func (s *Server) handlePaymentProof(w http.ResponseWriter, r *http.Request, phone, proofURL string) {
	ctx := r.Context()

	cc := s.loadOrNewContext(phone)
	days := cc.RequestedDays
	if days <= 0 {
		days = DefaultOrderDays
	}
	plan := models.PaidPlanName(days)

	orderID, err := s.store.CreatePendingOrder(models.Order{
		Phone:    phone,
		Days:     days,
		ProofURL: proofURL,
		Account:  cc.LastAccount,
		Plan:     plan,
	})
	if err != nil {
		slog.Error("Server.handlePaymentProof: failed to record order", "error", err, "phone", phone)
		if sendErr := s.messenger.SendMessage(ctx, phone, msgProofFailed); sendErr != nil {
			slog.Error("Server.handlePaymentProof: failed to send failure notice", "error", sendErr, "phone", phone)
		}
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	if cc.State != models.StateAwaitingProof {
		if err := cc.Transition(models.StateAwaitingProof); err != nil {
			slog.Warn("Server.handlePaymentProof: state transition rejected", "error", err, "phone", phone)
		}
	}
	cc.RequestedDays = days
	if err := s.store.UpsertContext(cc); err != nil {
		slog.Warn("Server.handlePaymentProof: failed to persist context", "error", err, "phone", phone)
	}

	if err := s.notifier.SendPaymentAlert(ctx, orderID, phone, plan, proofURL); err != nil {
		slog.Error("Server.handlePaymentProof: failed to alert operator", "error", err, "orderID", orderID)
	}

	amount := float64(days) * s.pricePerDay
	confirmation := fmt.Sprintf(msgProofReceived, accountOrDash(cc.LastAccount), days, formatAmount(amount))
	if err := s.messenger.SendMessage(ctx, phone, confirmation); err != nil {
		slog.Error("Server.handlePaymentProof: failed to send confirmation", "error", err, "phone", phone)
	}

	slog.Info("Server.handlePaymentProof: order recorded", "orderID", orderID, "phone", phone, "days", days, "plan", plan)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int64{"order_id": orderID}))
}

// loadOrNewContext fetches the customer's context, falling back to a fresh
// idle one so a missing row never blocks proof intake.
func (s *Server) loadOrNewContext(phone string) models.CustomerContext {
	cc, err := s.store.GetContext(phone)
	if err != nil {
		if err != models.ErrContextNotFound {
			slog.Warn("Server.loadOrNewContext: context load failed, starting fresh", "error", err, "phone", phone)
		}
		return models.NewCustomerContext(phone)
	}
	return *cc
}

func accountOrDash(account string) string {
	if account == "" {
		return "-"
	}
	return account
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
