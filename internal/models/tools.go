// Package models defines tool structures for LLM function calling.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ToolName identifies an action the language model may request.
type ToolName string

const (
	// ToolCreateAccount provisions a new hotspot account with the trial plan.
	ToolCreateAccount ToolName = "create_account"
	// ToolLookupAccount checks whether a hotspot account exists.
	ToolLookupAccount ToolName = "lookup_account"
	// ToolRecordOrder records how many days the customer wants to buy.
	ToolRecordOrder ToolName = "record_order"
)

// ErrUnknownTool is returned when the model requests an unrecognized action.
var ErrUnknownTool = errors.New("unknown tool")

// CreateAccountParams are the arguments for the create_account tool.
type CreateAccountParams struct {
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Zone     string `json:"zone"`
}

// Validate ensures all required account creation fields are present.
func (p *CreateAccountParams) Validate() error {
	if strings.TrimSpace(p.FullName) == "" {
		return fmt.Errorf("create_account: full_name is required")
	}
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("create_account: username is required")
	}
	if strings.TrimSpace(p.Zone) == "" {
		return fmt.Errorf("create_account: zone is required")
	}
	return nil
}

// LookupAccountParams are the arguments for the lookup_account tool.
type LookupAccountParams struct {
	Username string `json:"username"`
}

// Validate ensures the username to look up is present.
func (p *LookupAccountParams) Validate() error {
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("lookup_account: username is required")
	}
	return nil
}

// RecordOrderParams are the arguments for the record_order tool. Username is
// optional; when absent the dispatcher falls back to the customer context.
type RecordOrderParams struct {
	Days     int    `json:"days"`
	Username string `json:"username,omitempty"`
}

// Validate ensures the requested duration is positive.
func (p *RecordOrderParams) Validate() error {
	if p.Days <= 0 {
		return fmt.Errorf("record_order: %w (got %d)", ErrInvalidDays, p.Days)
	}
	return nil
}

// BotAction is a closed tagged variant of the actions the model may invoke.
// Exactly one of the pointer fields is set, matching Name. Dispatch consumes
// the decoded variant only, never the raw argument bag from the model.
type BotAction struct {
	Name          ToolName
	CreateAccount *CreateAccountParams
	LookupAccount *LookupAccountParams
	RecordOrder   *RecordOrderParams
}

// DecodeToolCall validates and decodes a raw tool invocation from the model
// into a BotAction. Unknown tool names, unrecognized fields and missing
// required arguments are all rejected before dispatch.
func DecodeToolCall(name string, args json.RawMessage) (*BotAction, error) {
	switch ToolName(name) {
	case ToolCreateAccount:
		var p CreateAccountParams
		if err := strictUnmarshal(args, &p); err != nil {
			return nil, fmt.Errorf("decode create_account arguments: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &BotAction{Name: ToolCreateAccount, CreateAccount: &p}, nil
	case ToolLookupAccount:
		var p LookupAccountParams
		if err := strictUnmarshal(args, &p); err != nil {
			return nil, fmt.Errorf("decode lookup_account arguments: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &BotAction{Name: ToolLookupAccount, LookupAccount: &p}, nil
	case ToolRecordOrder:
		var p RecordOrderParams
		if err := strictUnmarshal(args, &p); err != nil {
			return nil, fmt.Errorf("decode record_order arguments: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &BotAction{Name: ToolRecordOrder, RecordOrder: &p}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

// strictUnmarshal decodes JSON rejecting fields the target does not declare.
func strictUnmarshal(data json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
