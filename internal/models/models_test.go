package models

import (
	"errors"
	"testing"
	"time"
)

func TestIsValidOrderStatus(t *testing.T) {
	valid := []OrderStatus{OrderStatusPending, OrderStatusApproved, OrderStatusRejected}
	for _, s := range valid {
		if !IsValidOrderStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if IsValidOrderStatus("cancelado") {
		t.Error("expected unknown status to be invalid")
	}
	if IsValidOrderStatus("") {
		t.Error("expected empty status to be invalid")
	}
}

func TestCustomerContextTransitions(t *testing.T) {
	cases := []struct {
		name string
		from ConversationState
		to   ConversationState
		ok   bool
	}{
		{"idle to awaiting days", StateIdle, StateAwaitingDays, true},
		{"idle to awaiting proof", StateIdle, StateAwaitingProof, true},
		{"idle to idle", StateIdle, StateIdle, false},
		{"awaiting days repeated", StateAwaitingDays, StateAwaitingDays, true},
		{"awaiting days to proof", StateAwaitingDays, StateAwaitingProof, true},
		{"awaiting days to idle", StateAwaitingDays, StateIdle, true},
		{"awaiting proof to idle", StateAwaitingProof, StateIdle, true},
		{"awaiting proof to days", StateAwaitingProof, StateAwaitingDays, true},
		{"awaiting proof repeated", StateAwaitingProof, StateAwaitingProof, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := CustomerContext{Phone: "51999888777", State: tc.from}
			err := c.Transition(tc.to)
			if tc.ok {
				if err != nil {
					t.Fatalf("expected transition %s -> %s to succeed, got %v", tc.from, tc.to, err)
				}
				if c.State != tc.to {
					t.Errorf("expected state %s, got %s", tc.to, c.State)
				}
			} else {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("expected ErrIllegalTransition for %s -> %s, got %v", tc.from, tc.to, err)
				}
				if c.State != tc.from {
					t.Errorf("expected state unchanged at %s, got %s", tc.from, c.State)
				}
			}
		})
	}
}

func TestCustomerContextTransitionTreatsZeroValueAsIdle(t *testing.T) {
	c := CustomerContext{Phone: "51999888777"}
	if err := c.Transition(StateAwaitingDays); err != nil {
		t.Fatalf("expected zero-value state to transition like idle, got %v", err)
	}
	if c.State != StateAwaitingDays {
		t.Errorf("expected state awaiting_days, got %s", c.State)
	}
}

func TestNewCustomerContext(t *testing.T) {
	c := NewCustomerContext("51999888777")
	if c.Phone != "51999888777" {
		t.Errorf("expected phone to be set, got %q", c.Phone)
	}
	if c.State != StateIdle {
		t.Errorf("expected idle state, got %s", c.State)
	}
	if c.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestOrderCanResolve(t *testing.T) {
	o := Order{ID: 1, Phone: "51999888777", Days: 5, Status: OrderStatusPending}
	if !o.CanResolve() {
		t.Error("expected pending order to be resolvable")
	}

	now := time.Now()
	o.Status = OrderStatusApproved
	o.ResolvedAt = &now
	if o.CanResolve() {
		t.Error("expected approved order to not be resolvable")
	}

	o.Status = OrderStatusRejected
	if o.CanResolve() {
		t.Error("expected rejected order to not be resolvable")
	}
}

func TestPaidPlanName(t *testing.T) {
	cases := map[int]string{
		1:  "1User1Dia",
		5:  "1User5Dia",
		30: "1User30Dia",
	}
	for days, want := range cases {
		if got := PaidPlanName(days); got != want {
			t.Errorf("PaidPlanName(%d) = %q, want %q", days, got, want)
		}
	}
}
