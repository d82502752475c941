package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ventanet/ventabot/internal/flow"
	"github.com/ventanet/ventabot/internal/mikrotik"
	"github.com/ventanet/ventabot/internal/models"
	"github.com/ventanet/ventabot/internal/store"
	"github.com/ventanet/ventabot/internal/telegram"
	"github.com/ventanet/ventabot/internal/twiliowhatsapp"
)

const testPhone = "51999888777"

// stubEngine returns a fixed intent result and records the inbound text.
type stubEngine struct {
	result  flow.IntentResult
	gotText string
}

func (s *stubEngine) Respond(ctx context.Context, phone, text string) flow.IntentResult {
	s.gotText = text
	return s.result
}

// fixture wires a server against in-memory collaborators and the real
// dispatcher, so webhook tests exercise the full dispatch path.
type fixture struct {
	server    *Server
	handler   http.Handler
	st        *store.InMemoryStore
	directory *mikrotik.MockClient
	messenger *twiliowhatsapp.MockClient
	notifier  *telegram.MockClient
	engine    *stubEngine
}

func newFixture() *fixture {
	st := store.NewInMemoryStore()
	directory := mikrotik.NewMockClient()
	messenger := twiliowhatsapp.NewMockClient()
	notifier := telegram.NewMockClient()
	engine := &stubEngine{}
	dispatcher := flow.NewDispatcher(st, directory, "3Dias", 1.0)

	server := NewServer(engine, dispatcher, messenger, notifier, directory, st,
		WithSupportPhone("+51987654321"),
		WithPricePerDay(1.0),
	)
	return &fixture{
		server:    server,
		handler:   server.Handler(),
		st:        st,
		directory: directory,
		messenger: messenger,
		notifier:  notifier,
		engine:    engine,
	}
}

func (f *fixture) postWhatsApp(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) postTelegramCallback(t *testing.T, callbackID, data string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"callback_query": map[string]string{"id": callbackID, "data": data},
	})
	if err != nil {
		t.Fatalf("failed to marshal update: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func textForm(body string) url.Values {
	return url.Values{
		"From":     {"whatsapp:+" + testPhone},
		"Body":     {body},
		"NumMedia": {"0"},
	}
}

func mediaForm(proofURL string) url.Values {
	return url.Values{
		"From":      {"whatsapp:+" + testPhone},
		"NumMedia":  {"1"},
		"MediaUrl0": {proofURL},
	}
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestWhatsAppWebhookTextTurn(t *testing.T) {
	f := newFixture()
	f.engine.result = flow.IntentResult{Reply: "¿Ya eres cliente o eres nuevo?", TokensUsed: 42}

	rr := f.postWhatsApp(t, textForm("hola"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if f.engine.gotText != "hola" {
		t.Errorf("expected engine to receive the message, got %q", f.engine.gotText)
	}
	if len(f.messenger.SentMessages) != 1 {
		t.Fatalf("expected one outbound message, got %d", len(f.messenger.SentMessages))
	}
	sent := f.messenger.SentMessages[0]
	if sent.To != testPhone {
		t.Errorf("expected reply to %s, got %s", testPhone, sent.To)
	}
	if sent.Body != "¿Ya eres cliente o eres nuevo?" {
		t.Errorf("unexpected reply body %q", sent.Body)
	}

	turns, err := f.st.RecentTurns(testPhone, 10)
	if err != nil {
		t.Fatalf("failed to load turns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected one recorded turn, got %d", len(turns))
	}
	if turns[0].UserMessage != "hola" || turns[0].TokensUsed != 42 {
		t.Errorf("unexpected recorded turn: %+v", turns[0])
	}
}

func TestWhatsAppWebhookDispatchesAction(t *testing.T) {
	f := newFixture()
	if err := f.st.UpsertContext(models.CustomerContext{Phone: testPhone, LastAccount: "pepa", State: models.StateAwaitingDays}); err != nil {
		t.Fatalf("failed to seed context: %v", err)
	}
	f.engine.result = flow.IntentResult{
		Action: &models.BotAction{
			Name:        models.ToolRecordOrder,
			RecordOrder: &models.RecordOrderParams{Days: 5},
		},
	}

	rr := f.postWhatsApp(t, textForm("quiero 5 dias"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(f.messenger.SentMessages) != 1 {
		t.Fatalf("expected one outbound message, got %d", len(f.messenger.SentMessages))
	}
	if !strings.Contains(f.messenger.SentMessages[0].Body, "S/5") {
		t.Errorf("expected quote for S/5, got %q", f.messenger.SentMessages[0].Body)
	}

	cc, err := f.st.GetContext(testPhone)
	if err != nil {
		t.Fatalf("failed to load context: %v", err)
	}
	if cc.RequestedDays != 5 || cc.State != models.StateAwaitingProof {
		t.Errorf("unexpected context after dispatch: %+v", cc)
	}
}

func TestWhatsAppWebhookMediaCreatesOrder(t *testing.T) {
	f := newFixture()
	if err := f.st.UpsertContext(models.CustomerContext{Phone: testPhone, LastAccount: "pepa", RequestedDays: 5, State: models.StateAwaitingProof}); err != nil {
		t.Fatalf("failed to seed context: %v", err)
	}

	rr := f.postWhatsApp(t, mediaForm("https://api.twilio.com/media/proof1.jpg"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(f.notifier.Alerts) != 1 {
		t.Fatalf("expected one operator alert, got %d", len(f.notifier.Alerts))
	}
	alert := f.notifier.Alerts[0]
	if alert.Plan != "1User5Dia" || alert.Phone != testPhone {
		t.Errorf("unexpected alert: %+v", alert)
	}
	if alert.ProofURL != "https://api.twilio.com/media/proof1.jpg" {
		t.Errorf("expected proof URL forwarded, got %q", alert.ProofURL)
	}

	order, err := f.st.GetOrder(alert.OrderID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Days != 5 || order.Account != "pepa" || order.Plan != "1User5Dia" {
		t.Errorf("unexpected order: %+v", order)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("expected pending order, got %s", order.Status)
	}
	if len(f.directory.Calls) != 0 {
		t.Errorf("expected no router calls before approval, got %v", f.directory.Calls)
	}

	if len(f.messenger.SentMessages) != 1 {
		t.Fatalf("expected confirmation message, got %d", len(f.messenger.SentMessages))
	}
	body := f.messenger.SentMessages[0].Body
	if !strings.Contains(body, "pepa") || !strings.Contains(body, "5") || !strings.Contains(body, "S/5") {
		t.Errorf("unexpected confirmation %q", body)
	}
}

func TestWhatsAppWebhookMediaDefaultsToOneDay(t *testing.T) {
	f := newFixture()

	rr := f.postWhatsApp(t, mediaForm("https://api.twilio.com/media/proof2.jpg"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(f.notifier.Alerts) != 1 {
		t.Fatalf("expected one operator alert, got %d", len(f.notifier.Alerts))
	}
	order, err := f.st.GetOrder(f.notifier.Alerts[0].OrderID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Days != 1 || order.Plan != "1User1Dia" {
		t.Errorf("expected one-day default order, got %+v", order)
	}
	if order.Account != "" {
		t.Errorf("expected unresolved account, got %q", order.Account)
	}
}

func TestWhatsAppWebhookMediaAlertFailureKeepsOrder(t *testing.T) {
	f := newFixture()
	f.notifier.FailAlert = true

	rr := f.postWhatsApp(t, mediaForm("https://api.twilio.com/media/proof3.jpg"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 despite alert failure, got %d", rr.Code)
	}
	order, err := f.st.GetOrder(1)
	if err != nil {
		t.Fatalf("expected order to survive alert failure: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("expected pending order, got %s", order.Status)
	}
	if len(f.messenger.SentMessages) != 1 {
		t.Errorf("expected customer confirmation despite alert failure, got %d messages", len(f.messenger.SentMessages))
	}
}

func TestWhatsAppWebhookEmptyMessageIgnored(t *testing.T) {
	f := newFixture()

	rr := f.postWhatsApp(t, url.Values{
		"From":     {"whatsapp:+" + testPhone},
		"NumMedia": {"0"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.Status != string(models.APIStatusIgnored) {
		t.Errorf("expected ignored status, got %q", resp.Status)
	}
	if len(f.messenger.SentMessages) != 0 {
		t.Errorf("expected no outbound messages, got %d", len(f.messenger.SentMessages))
	}
}

func TestWhatsAppWebhookInvalidSender(t *testing.T) {
	f := newFixture()

	rr := f.postWhatsApp(t, url.Values{
		"From": {"whatsapp:"},
		"Body": {"hola"},
	})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestWhatsAppWebhookMethodNotAllowed(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func seedPendingOrder(t *testing.T, f *fixture, account string, days int) int64 {
	t.Helper()
	id, err := f.st.CreatePendingOrder(models.Order{
		Phone:    testPhone,
		Days:     days,
		ProofURL: "https://api.twilio.com/media/proof.jpg",
		Account:  account,
		Plan:     models.PaidPlanName(days),
	})
	if err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
	return id
}

func TestTelegramWebhookApprove(t *testing.T) {
	f := newFixture()
	id := seedPendingOrder(t, f, "pepa", 5)
	if err := f.st.UpsertContext(models.CustomerContext{Phone: testPhone, LastAccount: "pepa", RequestedDays: 5, State: models.StateAwaitingProof}); err != nil {
		t.Fatalf("failed to seed context: %v", err)
	}

	rr := f.postTelegramCallback(t, "cb1", "aprobar_1")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	order, err := f.st.GetOrder(id)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Status != models.OrderStatusApproved {
		t.Errorf("expected approved order, got %s", order.Status)
	}
	if order.ResolvedAt == nil {
		t.Error("expected ResolvedAt to be set")
	}

	// Old entitlements are removed before the paid plan is activated.
	calls := strings.Join(f.directory.Calls, ";")
	remove := strings.Index(calls, "RemoveAllPlans(pepa)")
	set := strings.Index(calls, "SetUserPlan(pepa,1User5Dia)")
	if remove == -1 || set == -1 || remove > set {
		t.Errorf("expected remove-then-set sequence, got %v", f.directory.Calls)
	}

	if len(f.messenger.SentMessages) != 1 {
		t.Fatalf("expected customer notification, got %d", len(f.messenger.SentMessages))
	}
	if !strings.Contains(f.messenger.SentMessages[0].Body, "Pago Aprobado") {
		t.Errorf("unexpected customer notification %q", f.messenger.SentMessages[0].Body)
	}

	if len(f.notifier.Answers) != 1 {
		t.Fatalf("expected callback answer, got %d", len(f.notifier.Answers))
	}
	if f.notifier.Answers[0].Text != "✅ pepa: 5d OK" {
		t.Errorf("unexpected callback answer %q", f.notifier.Answers[0].Text)
	}

	cc, err := f.st.GetContext(testPhone)
	if err != nil {
		t.Fatalf("failed to load context: %v", err)
	}
	if cc.State != models.StateIdle || cc.RequestedDays != 0 {
		t.Errorf("expected context reset to idle, got %+v", cc)
	}
}

func TestTelegramWebhookApproveSurvivesRouterFailure(t *testing.T) {
	f := newFixture()
	id := seedPendingOrder(t, f, "pepa", 5)
	f.directory.FailAll = true

	rr := f.postTelegramCallback(t, "cb1", "aprobar_1")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	order, err := f.st.GetOrder(id)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Status != models.OrderStatusApproved {
		t.Errorf("expected order approved despite router failure, got %s", order.Status)
	}
	if len(f.messenger.SentMessages) != 1 {
		t.Fatalf("expected customer notification, got %d", len(f.messenger.SentMessages))
	}
	if !strings.Contains(f.messenger.SentMessages[0].Body, "Estamos activando") {
		t.Errorf("expected degraded activation notice, got %q", f.messenger.SentMessages[0].Body)
	}
}

func TestTelegramWebhookApproveWithoutAccount(t *testing.T) {
	f := newFixture()
	id := seedPendingOrder(t, f, "", 2)

	f.postTelegramCallback(t, "cb1", "aprobar_1")

	order, err := f.st.GetOrder(id)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("expected order untouched, got %s", order.Status)
	}
	if len(f.notifier.Answers) != 1 || !strings.Contains(f.notifier.Answers[0].Text, "Sin usuario asociado") {
		t.Errorf("expected missing-account answer, got %+v", f.notifier.Answers)
	}
	if len(f.directory.Calls) != 0 {
		t.Errorf("expected no router calls, got %v", f.directory.Calls)
	}
}

func TestTelegramWebhookReject(t *testing.T) {
	f := newFixture()
	id := seedPendingOrder(t, f, "pepa", 5)

	rr := f.postTelegramCallback(t, "cb1", "rechazar_1")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	order, err := f.st.GetOrder(id)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Status != models.OrderStatusRejected {
		t.Errorf("expected rejected order, got %s", order.Status)
	}
	if len(f.directory.Calls) != 0 {
		t.Errorf("expected no router calls on rejection, got %v", f.directory.Calls)
	}
	if len(f.messenger.SentMessages) != 1 || !strings.Contains(f.messenger.SentMessages[0].Body, "rechazado") {
		t.Errorf("expected rejection notice, got %+v", f.messenger.SentMessages)
	}
	if len(f.notifier.Answers) != 1 || f.notifier.Answers[0].Text != "❌ Rechazado" {
		t.Errorf("expected rejection answer, got %+v", f.notifier.Answers)
	}
}

func TestTelegramWebhookApproveClearsRelookedUpContext(t *testing.T) {
	f := newFixture()
	id := seedPendingOrder(t, f, "pepa", 5)

	// The customer looked up an account again while the order sat in
	// review, so their context is back in awaiting_days with the old
	// duration still recorded.
	if err := f.st.UpsertContext(models.CustomerContext{
		Phone:         testPhone,
		LastAccount:   "pepa",
		RequestedDays: 5,
		State:         models.StateAwaitingDays,
	}); err != nil {
		t.Fatalf("failed to seed context: %v", err)
	}

	f.postTelegramCallback(t, "cb1", "aprobar_1")

	order, err := f.st.GetOrder(id)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Status != models.OrderStatusApproved {
		t.Errorf("expected approved order, got %s", order.Status)
	}
	cc, err := f.st.GetContext(testPhone)
	if err != nil {
		t.Fatalf("failed to load context: %v", err)
	}
	if cc.State != models.StateIdle {
		t.Errorf("expected context reset to idle, got %s", cc.State)
	}
	if cc.RequestedDays != 0 {
		t.Errorf("expected requested days cleared, got %d", cc.RequestedDays)
	}
}

func TestTelegramWebhookReplayDoesNotDoubleResolve(t *testing.T) {
	f := newFixture()
	seedPendingOrder(t, f, "pepa", 5)

	f.postTelegramCallback(t, "cb1", "aprobar_1")
	f.postTelegramCallback(t, "cb2", "aprobar_1")

	if got := strings.Count(strings.Join(f.directory.Calls, ";"), "ReplaceUserPlan(pepa,1User5Dia)"); got != 1 {
		t.Errorf("expected exactly one plan replacement, got %d (%v)", got, f.directory.Calls)
	}
	if len(f.notifier.Answers) != 2 {
		t.Fatalf("expected two callback answers, got %d", len(f.notifier.Answers))
	}
	if f.notifier.Answers[1].Text != "⚠️ Venta ya procesada" {
		t.Errorf("expected replay to be refused, got %q", f.notifier.Answers[1].Text)
	}
}

func TestTelegramWebhookMalformedToken(t *testing.T) {
	f := newFixture()
	id := seedPendingOrder(t, f, "pepa", 5)

	for _, data := range []string{"aprobar", "aprobar_xyz", ""} {
		f.postTelegramCallback(t, "cb", data)
	}

	order, err := f.st.GetOrder(id)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("expected order untouched by malformed tokens, got %s", order.Status)
	}
	if len(f.notifier.Answers) != 3 {
		t.Fatalf("expected every callback answered, got %d", len(f.notifier.Answers))
	}
	for _, a := range f.notifier.Answers {
		if a.Text != "⚠️ Token inválido" {
			t.Errorf("expected invalid-token answer, got %q", a.Text)
		}
	}
}

func TestTelegramWebhookUnknownAction(t *testing.T) {
	f := newFixture()
	id := seedPendingOrder(t, f, "pepa", 5)

	f.postTelegramCallback(t, "cb1", "cancelar_1")

	order, err := f.st.GetOrder(id)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("expected order untouched, got %s", order.Status)
	}
	if len(f.notifier.Answers) != 1 || !strings.Contains(f.notifier.Answers[0].Text, "Acción desconocida") {
		t.Errorf("expected unknown-action answer, got %+v", f.notifier.Answers)
	}
}

func TestTelegramWebhookOrderNotFound(t *testing.T) {
	f := newFixture()

	f.postTelegramCallback(t, "cb1", "aprobar_99")

	if len(f.notifier.Answers) != 1 || !strings.Contains(f.notifier.Answers[0].Text, "Venta no encontrada") {
		t.Errorf("expected not-found answer, got %+v", f.notifier.Answers)
	}
}

func TestTelegramWebhookNonCallbackIgnored(t *testing.T) {
	f := newFixture()

	body := `{"message":{"text":"hola"}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.Status != string(models.APIStatusIgnored) {
		t.Errorf("expected ignored status, got %q", resp.Status)
	}
	if len(f.notifier.Answers) != 0 {
		t.Errorf("expected no callback answers, got %d", len(f.notifier.Answers))
	}
}

// TestOrderLifecycle walks a full recharge: stated duration, payment proof,
// operator approval, plan replacement on the router.
func TestOrderLifecycle(t *testing.T) {
	f := newFixture()
	f.directory.Users["ricky3"] = &mikrotik.User{ID: "*1", Name: "ricky3"}

	// Customer states the duration; the model invokes record_order.
	f.engine.result = flow.IntentResult{
		Action: &models.BotAction{
			Name:        models.ToolRecordOrder,
			RecordOrder: &models.RecordOrderParams{Days: 5, Username: "ricky3"},
		},
	}
	f.postWhatsApp(t, textForm("quiero 5 dias para ricky3"))

	// Customer sends the payment proof.
	f.postWhatsApp(t, mediaForm("https://api.twilio.com/media/yape.jpg"))

	if len(f.notifier.Alerts) != 1 {
		t.Fatalf("expected one operator alert, got %d", len(f.notifier.Alerts))
	}
	alert := f.notifier.Alerts[0]
	if alert.Plan != "1User5Dia" {
		t.Errorf("expected plan 1User5Dia, got %q", alert.Plan)
	}

	// Operator approves from Telegram.
	f.postTelegramCallback(t, "cb1", "aprobar_1")

	order, err := f.st.GetOrder(alert.OrderID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if order.Status != models.OrderStatusApproved {
		t.Errorf("expected approved order, got %s", order.Status)
	}
	if plans := f.directory.UserPlans["ricky3"]; len(plans) != 1 || plans[0] != "1User5Dia" {
		t.Errorf("expected exactly the paid plan active, got %v", plans)
	}

	cc, err := f.st.GetContext(testPhone)
	if err != nil {
		t.Fatalf("failed to load context: %v", err)
	}
	if cc.State != models.StateIdle {
		t.Errorf("expected context back at idle, got %s", cc.State)
	}
}
