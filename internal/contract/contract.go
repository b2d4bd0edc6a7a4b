// Package contract defines the versioned wire schema shared by the account
// service and its callers.
package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Version is the current contract version.
	Version = "1"
	// VersionHeader carries the contract version on every request.
	VersionHeader = "X-Contract-Version"
	// MaxReferenceLength bounds balance change references.
	MaxReferenceLength = 64
)

// Response is the envelope of every JSON response body.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// rawResponse is Response with the payload left undecoded.
type rawResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

type AccountSnapshot struct {
	AccountID   int64           `json:"account_id"`
	ClientID    int64           `json:"client_id"`
	AccountType string          `json:"account_type"`
	Balance     decimal.Decimal `json:"balance"`
	IsActive    bool            `json:"is_active"`
	CreatedDate time.Time       `json:"created_date"`
}

func (a AccountSnapshot) Validate() error {
	if a.ClientID <= 0 {
		return fmt.Errorf("client_id is required")
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("balance must not be negative")
	}
	return nil
}

type VerifyFundsRequest struct {
	ClientID       int64           `json:"client_id"`
	RequiredAmount decimal.Decimal `json:"required_amount"`
}

func (r VerifyFundsRequest) Validate() error {
	if r.ClientID <= 0 {
		return fmt.Errorf("client_id must be a positive integer")
	}
	if r.RequiredAmount.IsNegative() {
		return fmt.Errorf("required_amount must not be negative")
	}
	return nil
}

type VerifyFundsResponse struct {
	ClientID int64 `json:"client_id"`
	HasFunds bool  `json:"has_funds"`
}

func (r VerifyFundsResponse) Validate() error {
	if r.ClientID <= 0 {
		return fmt.Errorf("client_id is required")
	}
	return nil
}

// BalanceChangeRequest is the body of withdraw and deposit calls. Reference,
// when set, makes the change apply at most once.
type BalanceChangeRequest struct {
	ClientID  int64           `json:"client_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

func (r BalanceChangeRequest) Validate() error {
	if r.ClientID <= 0 {
		return fmt.Errorf("client_id must be a positive integer")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than zero")
	}
	if len(r.Reference) > MaxReferenceLength {
		return fmt.Errorf("reference must be at most %d characters", MaxReferenceLength)
	}
	return nil
}

type validator interface {
	Validate() error
}

// Decode reads exactly one JSON value from r into v, rejecting unknown
// fields and trailing data, then validates v when it knows how.
func Decode(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("malformed payload: unexpected data after JSON value")
	}
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DecodeResponse decodes an envelope body. On success the payload is
// decoded into data with Decode; an error envelope is returned as *Error.
func DecodeResponse(body []byte, data interface{}) (*Error, error) {
	var raw rawResponse
	if err := Decode(bytes.NewReader(body), &raw); err != nil {
		return nil, err
	}
	if raw.Error != nil {
		return raw.Error, nil
	}
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("malformed payload: missing data")
	}
	if err := Decode(bytes.NewReader(raw.Data), data); err != nil {
		return nil, err
	}
	return nil, nil
}
