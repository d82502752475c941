package telegram

import "context"

// MockClient records operator notifications for tests.
type MockClient struct {
	Alerts    []Alert
	Answers   []Answer
	FailAlert bool
}

// Alert records the arguments of a SendPaymentAlert call.
type Alert struct {
	OrderID  int64
	Phone    string
	Plan     string
	ProofURL string
}

// Answer records the arguments of an AnswerCallback call.
type Answer struct {
	CallbackID string
	Text       string
}

// NewMockClient creates an empty mock notifier.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendPaymentAlert records the alert.
func (m *MockClient) SendPaymentAlert(ctx context.Context, orderID int64, phone, plan, proofURL string) error {
	if m.FailAlert {
		return context.DeadlineExceeded
	}
	m.Alerts = append(m.Alerts, Alert{OrderID: orderID, Phone: phone, Plan: plan, ProofURL: proofURL})
	return nil
}

// AnswerCallback records the acknowledgment.
func (m *MockClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	m.Answers = append(m.Answers, Answer{CallbackID: callbackID, Text: text})
	return nil
}
