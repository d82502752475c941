// Package models defines the core data structures for VentaBot.
//
// It includes types for customer conversation context, payment orders and
// conversation history, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// OrderStatus represents the approval state of a payment order.
type OrderStatus string

const (
	// OrderStatusPending means the payment proof is waiting for operator review.
	OrderStatusPending OrderStatus = "pendiente"
	// OrderStatusApproved means the operator approved the payment.
	OrderStatusApproved OrderStatus = "aprobado"
	// OrderStatusRejected means the operator rejected the payment.
	OrderStatusRejected OrderStatus = "rechazado"
)

// IsValidOrderStatus checks if the given order status is supported.
func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// ConversationState represents the explicit stage of a customer conversation.
// It replaces inference from nullable fields: the state alone decides what the
// bot expects from the customer next.
type ConversationState string

const (
	// StateIdle means no sales flow is in progress for the customer.
	StateIdle ConversationState = "idle"
	// StateAwaitingDays means an account is resolved and the bot is waiting
	// for the customer to say how many days to recharge.
	StateAwaitingDays ConversationState = "awaiting_days"
	// StateAwaitingProof means an order amount is recorded and the bot is
	// waiting for the payment proof image.
	StateAwaitingProof ConversationState = "awaiting_proof"
)

// legalTransitions enumerates the allowed conversation state changes.
var legalTransitions = map[ConversationState][]ConversationState{
	StateIdle:          {StateAwaitingDays, StateAwaitingProof},
	StateAwaitingDays:  {StateAwaitingDays, StateAwaitingProof, StateIdle},
	StateAwaitingProof: {StateAwaitingProof, StateAwaitingDays, StateIdle},
}

// Error variables for better error handling and testability
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderResolved     = errors.New("order already resolved")
	ErrContextNotFound   = errors.New("customer context not found")
	ErrEmptyPhone        = errors.New("customer phone cannot be empty")
	ErrInvalidDays       = errors.New("requested days must be positive")
	ErrIllegalTransition = errors.New("illegal conversation state transition")
)

// CustomerContext carries conversational state per customer across messages.
// It is keyed by the customer's phone number and upserted, never deleted.
type CustomerContext struct {
	Phone         string            `json:"phone"`
	LastAccount   string            `json:"last_account,omitempty"`   // last known hotspot username, empty if unknown
	RequestedDays int               `json:"requested_days,omitempty"` // 0 means no in-flight request
	State         ConversationState `json:"state"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewCustomerContext creates an idle context for a customer.
func NewCustomerContext(phone string) CustomerContext {
	return CustomerContext{Phone: phone, State: StateIdle, UpdatedAt: time.Now()}
}

// Transition moves the context to a new conversation state, enforcing the
// legal transition table. The zero-value state is treated as idle so contexts
// persisted before the state column existed keep working.
func (c *CustomerContext) Transition(to ConversationState) error {
	from := c.State
	if from == "" {
		from = StateIdle
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			c.State = to
			c.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// Order is a customer's payment-proof submission awaiting human approval.
// The ID is assigned by the store; callback tokens carry it as an integer.
type Order struct {
	ID         int64       `json:"id"`
	Phone      string      `json:"phone"`
	Days       int         `json:"days"`
	Status     OrderStatus `json:"status"`
	ProofURL   string      `json:"proof_url,omitempty"`
	Account    string      `json:"account,omitempty"` // hotspot username, empty if unresolved
	Plan       string      `json:"plan,omitempty"`    // requested router profile, e.g. "1User5Dia"
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

// CanResolve reports whether the order may still be approved or rejected.
// Status transitions are monotonic and single-use: a resolved order stays
// resolved no matter how often its callback token is replayed.
func (o *Order) CanResolve() bool {
	return o.Status == OrderStatusPending
}

// ConversationTurn is one user/bot exchange kept as lossy rolling context for
// the intent engine. It is append-only and not authoritative state.
type ConversationTurn struct {
	ID          int64     `json:"id"`
	Phone       string    `json:"phone"`
	UserMessage string    `json:"user_message"`
	BotReply    string    `json:"bot_reply"`
	TokensUsed  int64     `json:"tokens_used"`
	CreatedAt   time.Time `json:"created_at"`
}

// Plan describes a router profile as reported by the account directory.
// Plans are owned by the router and referenced by name, never duplicated.
type Plan struct {
	Name        string `json:"name"`
	Price       string `json:"price,omitempty"`
	Validity    string `json:"validity,omitempty"`
	RateLimit   string `json:"rate_limit,omitempty"`
	SharedUsers string `json:"shared_users,omitempty"`
}

// PaidPlanName returns the router profile name sold for the given number of
// days, matching the profiles provisioned on the router.
func PaidPlanName(days int) string {
	return fmt.Sprintf("1User%dDia", days)
}
