package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ventanet/ventabot/internal/models"
)

// Callback tokens carried by the inline approval keyboard.
const (
	callbackApprove = "aprobar"
	callbackReject  = "rechazar"
)

// Operator acknowledgements shown as Telegram callback toasts.
const (
	ackInvalidToken   = "⚠️ Token inválido"
	ackOrderNotFound  = "⚠️ Venta no encontrada"
	ackOrderResolved  = "⚠️ Venta ya procesada"
	ackMissingAccount = "⚠️ Sin usuario asociado"
	ackUnknownAction  = "⚠️ Acción desconocida"
	ackRejected       = "❌ Rechazado"
)

// Customer notifications for resolved orders.
const (
	msgPaymentApproved = "✅ ¡Pago Aprobado!\n\n🎉 Ya tienes %d días de internet activados.\n\n¡Disfruta tu conexión! 🌐\n\n📲 Soporte: %s"
	msgApprovedPending = "✅ ¡Pago Aprobado!\n\nEstamos activando tu internet. Espera unos minutos.\n\nSi tienes problemas, escríbenos al %s"
	msgPaymentRejected = "❌ Tu pago fue rechazado. Por favor contacta a soporte."
)

// telegramUpdate is the slice of the Telegram update payload the approval
// flow cares about.
type telegramUpdate struct {
	CallbackQuery *telegramCallbackQuery `json:"callback_query"`
}

type telegramCallbackQuery struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// telegramWebhookHandler receives Telegram updates and resolves pending
// orders from the operator's button presses. Every callback is answered, even
// on failure paths, so the operator's client never shows a stuck spinner.
// Telegram retries non-2xx deliveries, so failure paths still answer 200.
func (s *Server) telegramWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.telegramWebhookHandler: processing update", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.telegramWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Warn("Server.telegramWebhookHandler: failed to decode update", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if update.CallbackQuery == nil {
		slog.Debug("Server.telegramWebhookHandler: update carries no callback query")
		writeJSONResponse(w, http.StatusOK, models.Ignored("Not a callback query"))
		return
	}

	ctx := r.Context()
	cb := update.CallbackQuery

	action, orderID, err := parseCallbackToken(cb.Data)
	if err != nil {
		slog.Warn("Server.telegramWebhookHandler: malformed callback token", "error", err, "data", cb.Data)
		s.answerCallback(ctx, cb.ID, ackInvalidToken)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	order, err := s.store.GetOrder(orderID)
	if err != nil {
		slog.Warn("Server.telegramWebhookHandler: order lookup failed", "error", err, "orderID", orderID)
		s.answerCallback(ctx, cb.ID, ackOrderNotFound)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}
	if !order.CanResolve() {
		slog.Info("Server.telegramWebhookHandler: order already resolved", "orderID", orderID, "status", order.Status)
		s.answerCallback(ctx, cb.ID, ackOrderResolved)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	switch action {
	case callbackApprove:
		s.approveOrder(ctx, cb.ID, order)
	case callbackReject:
		s.rejectOrder(ctx, cb.ID, order)
	default:
		slog.Warn("Server.telegramWebhookHandler: unknown callback action", "action", action, "orderID", orderID)
		s.answerCallback(ctx, cb.ID, ackUnknownAction)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// parseCallbackToken splits an "action_id" token on its first underscore.
func parseCallbackToken(data string) (string, int64, error) {
	action, rawID, found := strings.Cut(data, "_")
	if !found {
		return "", 0, fmt.Errorf("callback token has no separator: %q", data)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("callback token has non-numeric order id: %q", data)
	}
	return action, id, nil
}

// approveOrder activates the purchased plan and marks the order approved.
// Router failures do not block approval: the payment is real either way, and
// the operator can fix the router by hand. The customer message reflects
// whether activation already happened.
func (s *Server) approveOrder(ctx context.Context, callbackID string, order *models.Order) {
	if order.Account == "" {
		slog.Warn("Server.approveOrder: order has no account", "orderID", order.ID)
		s.answerCallback(ctx, callbackID, ackMissingAccount)
		return
	}

	routerErr := s.directory.ReplaceUserPlan(ctx, order.Account, order.Plan)
	if routerErr != nil {
		slog.Error("Server.approveOrder: plan activation failed, approving anyway", "error", routerErr, "orderID", order.ID, "account", order.Account)
	}

	if err := s.store.SetOrderStatus(order.ID, models.OrderStatusApproved); err != nil {
		if err == models.ErrOrderResolved {
			s.answerCallback(ctx, callbackID, ackOrderResolved)
			return
		}
		slog.Error("Server.approveOrder: failed to mark order approved", "error", err, "orderID", order.ID)
	}

	customerMsg := fmt.Sprintf(msgPaymentApproved, order.Days, s.supportPhone)
	if routerErr != nil {
		customerMsg = fmt.Sprintf(msgApprovedPending, s.supportPhone)
	}
	if err := s.messenger.SendMessage(ctx, order.Phone, customerMsg); err != nil {
		slog.Error("Server.approveOrder: failed to notify customer", "error", err, "phone", order.Phone)
	}

	s.resetContext(order.Phone)
	s.answerCallback(ctx, callbackID, fmt.Sprintf("✅ %s: %dd OK", order.Account, order.Days))
	slog.Info("Server.approveOrder: order approved", "orderID", order.ID, "account", order.Account, "days", order.Days, "routerOK", routerErr == nil)
}

// rejectOrder marks the order rejected and tells the customer.
func (s *Server) rejectOrder(ctx context.Context, callbackID string, order *models.Order) {
	if err := s.store.SetOrderStatus(order.ID, models.OrderStatusRejected); err != nil {
		if err == models.ErrOrderResolved {
			s.answerCallback(ctx, callbackID, ackOrderResolved)
			return
		}
		slog.Error("Server.rejectOrder: failed to mark order rejected", "error", err, "orderID", order.ID)
	}

	if err := s.messenger.SendMessage(ctx, order.Phone, msgPaymentRejected); err != nil {
		slog.Error("Server.rejectOrder: failed to notify customer", "error", err, "phone", order.Phone)
	}

	s.resetContext(order.Phone)
	s.answerCallback(ctx, callbackID, ackRejected)
	slog.Info("Server.rejectOrder: order rejected", "orderID", order.ID, "phone", order.Phone)
}

// resetContext returns the customer's conversation to idle after an order is
// resolved. Best effort; a stale context only means a slightly off next turn.
func (s *Server) resetContext(phone string) {
	cc, err := s.store.GetContext(phone)
	if err != nil {
		if err != models.ErrContextNotFound {
			slog.Warn("Server.resetContext: context load failed", "error", err, "phone", phone)
		}
		return
	}
	if cc.State == models.StateIdle {
		return
	}
	if err := cc.Transition(models.StateIdle); err != nil {
		slog.Warn("Server.resetContext: state transition rejected", "error", err, "phone", phone, "state", cc.State)
		return
	}
	cc.RequestedDays = 0
	if err := s.store.UpsertContext(*cc); err != nil {
		slog.Warn("Server.resetContext: failed to persist context", "error", err, "phone", phone)
	}
}

func (s *Server) answerCallback(ctx context.Context, callbackID, text string) {
	if err := s.notifier.AnswerCallback(ctx, callbackID, text); err != nil {
		slog.Warn("Server.answerCallback: failed to answer callback", "error", err, "callbackID", callbackID)
	}
}
