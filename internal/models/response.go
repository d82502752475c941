// Package models defines the HTTP response envelope shared by all endpoints.
package models

// APIStatus enumerates the status values reported in webhook responses.
type APIStatus string

const (
	// APIStatusOK indicates the request was processed.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates the request was malformed or failed.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates the request carried nothing actionable.
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse is the JSON envelope returned by every webhook endpoint.
// Webhook callers (Twilio, Telegram) only need a 2xx with a body; the
// envelope exists for operators reading logs and for tests.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Ignored creates a response for updates that carry nothing actionable.
func Ignored(reason string) APIResponse {
	return APIResponse{Status: string(APIStatusIgnored), Message: reason}
}
