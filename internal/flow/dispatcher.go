package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ventanet/ventabot/internal/mikrotik"
	"github.com/ventanet/ventabot/internal/models"
	"github.com/ventanet/ventabot/internal/util"
)

// ContextStore provides customer context persistence for the dispatcher.
type ContextStore interface {
	GetContext(phone string) (*models.CustomerContext, error)
	UpsertContext(c models.CustomerContext) error
}

// Directory is the subset of account directory operations the dispatcher needs.
type Directory interface {
	FindUser(ctx context.Context, username string) (*mikrotik.User, error)
	CreateUser(ctx context.Context, username, password, fullName, plan string) error
}

// Dispatcher executes the side-effecting actions the intent engine decodes
// and produces the customer-facing reply for each. It never raises to the
// caller: every failure becomes an error-describing reply.
type Dispatcher struct {
	contexts    ContextStore
	directory   Directory
	trialPlan   string
	pricePerDay float64
}

// NewDispatcher creates an action dispatcher with injected dependencies.
func NewDispatcher(contexts ContextStore, directory Directory, trialPlan string, pricePerDay float64) *Dispatcher {
	slog.Debug("flow.NewDispatcher: creating dispatcher",
		"hasContexts", contexts != nil,
		"hasDirectory", directory != nil,
		"trialPlan", trialPlan,
		"pricePerDay", pricePerDay)
	return &Dispatcher{
		contexts:    contexts,
		directory:   directory,
		trialPlan:   trialPlan,
		pricePerDay: pricePerDay,
	}
}

// Execute runs the given action for the customer and returns the reply text.
func (d *Dispatcher) Execute(ctx context.Context, action *models.BotAction, phone string) string {
	if action == nil {
		slog.Warn("Dispatcher.Execute: nil action", "phone", phone)
		return msgUnknownAction
	}

	switch action.Name {
	case models.ToolCreateAccount:
		return d.createAccount(ctx, action.CreateAccount, phone)
	case models.ToolLookupAccount:
		return d.lookupAccount(ctx, action.LookupAccount, phone)
	case models.ToolRecordOrder:
		return d.recordOrder(ctx, action.RecordOrder, phone)
	default:
		slog.Warn("Dispatcher.Execute: unrecognized action", "action", action.Name, "phone", phone)
		return msgUnknownAction
	}
}

// createAccount provisions a new hotspot account with the trial plan. No
// rollback is attempted when provisioning partially succeeds; the router is
// the source of truth and manual fixup beats guessing.
func (d *Dispatcher) createAccount(ctx context.Context, params *models.CreateAccountParams, phone string) string {
	password := util.GenerateHotspotPassword()

	if err := d.directory.CreateUser(ctx, params.Username, password, params.FullName, d.trialPlan); err != nil {
		slog.Error("Dispatcher.createAccount: provisioning failed", "error", err, "username", params.Username, "phone", phone)
		return fmt.Sprintf(msgCreateFailed, err)
	}

	cc := d.loadOrNewContext(phone)
	cc.LastAccount = params.Username
	if err := cc.Transition(models.StateAwaitingDays); err != nil {
		slog.Warn("Dispatcher.createAccount: state transition rejected", "error", err, "phone", phone)
	}
	if err := d.contexts.UpsertContext(cc); err != nil {
		slog.Warn("Dispatcher.createAccount: failed to persist context", "error", err, "phone", phone)
	}

	slog.Info("Dispatcher.createAccount: account created", "username", params.Username, "phone", phone, "plan", d.trialPlan)
	return fmt.Sprintf(msgAccountCreated, firstName(params.FullName), params.Username, password, d.trialPlan)
}

// lookupAccount checks the directory for an existing account and, when found,
// remembers it and asks for the recharge duration.
func (d *Dispatcher) lookupAccount(ctx context.Context, params *models.LookupAccountParams, phone string) string {
	user, err := d.directory.FindUser(ctx, params.Username)
	if err != nil {
		slog.Error("Dispatcher.lookupAccount: directory lookup failed", "error", err, "username", params.Username, "phone", phone)
		return msgTechnicalIssue
	}
	if user == nil {
		slog.Debug("Dispatcher.lookupAccount: user not found", "username", params.Username, "phone", phone)
		return fmt.Sprintf(msgUserNotFound, params.Username)
	}

	cc := d.loadOrNewContext(phone)
	cc.LastAccount = params.Username
	cc.RequestedDays = 0
	if err := cc.Transition(models.StateAwaitingDays); err != nil {
		slog.Warn("Dispatcher.lookupAccount: state transition rejected", "error", err, "phone", phone)
	}
	if err := d.contexts.UpsertContext(cc); err != nil {
		slog.Warn("Dispatcher.lookupAccount: failed to persist context", "error", err, "phone", phone)
	}

	slog.Info("Dispatcher.lookupAccount: account resolved", "username", params.Username, "phone", phone)
	return fmt.Sprintf(msgUserFound, params.Username)
}

// recordOrder records the requested duration and quotes the price. It only
// touches the store; no entitlement changes happen until operator approval.
func (d *Dispatcher) recordOrder(ctx context.Context, params *models.RecordOrderParams, phone string) string {
	cc := d.loadOrNewContext(phone)

	account := params.Username
	if account == "" {
		account = cc.LastAccount
	}
	if account == "" {
		slog.Debug("Dispatcher.recordOrder: no account resolvable", "phone", phone)
		return msgNoSavedUser
	}

	cc.LastAccount = account
	cc.RequestedDays = params.Days
	if err := cc.Transition(models.StateAwaitingProof); err != nil {
		slog.Warn("Dispatcher.recordOrder: state transition rejected", "error", err, "phone", phone)
	}
	if err := d.contexts.UpsertContext(cc); err != nil {
		slog.Warn("Dispatcher.recordOrder: failed to persist context", "error", err, "phone", phone)
	}

	price := float64(params.Days) * d.pricePerDay
	slog.Info("Dispatcher.recordOrder: order recorded", "account", account, "days", params.Days, "price", price, "phone", phone)
	return fmt.Sprintf(msgOrderQuote, formatPrice(price), params.Days)
}

// loadOrNewContext returns the customer's context, or a fresh idle one when
// none exists yet. Load failures degrade to a fresh context so a flaky store
// never blocks the conversation.
func (d *Dispatcher) loadOrNewContext(phone string) models.CustomerContext {
	cc, err := d.contexts.GetContext(phone)
	if err != nil {
		if err != models.ErrContextNotFound {
			slog.Warn("Dispatcher.loadOrNewContext: context load failed, starting fresh", "error", err, "phone", phone)
		}
		return models.NewCustomerContext(phone)
	}
	return *cc
}
