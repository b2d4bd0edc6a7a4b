package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeState is the position of one buy attempt in the purchase saga.
type TradeState string

const (
	TradeValidated       TradeState = "validated"
	TradeFundsVerified   TradeState = "funds_verified"
	TradeHoldingRecorded TradeState = "holding_recorded"
	TradeDebited         TradeState = "debited"
	TradeDebitFailed     TradeState = "debit_failed"
	TradeReversed        TradeState = "reversed"

	TradeRejectedInvalid     TradeState = "rejected_invalid"
	TradeRejectedNoFunds     TradeState = "rejected_insufficient_funds"
	TradeRejectedNoPortfolio TradeState = "rejected_no_portfolio"
	TradeVerificationFailed  TradeState = "verification_failed"
	TradeIdempotencyMismatch TradeState = "idempotency_mismatch"
	TradeFailed              TradeState = "failed"
)

// Persisted reports whether trades in this state are stored as trade records.
func (s TradeState) Persisted() bool {
	switch s {
	case TradeHoldingRecorded, TradeDebited, TradeDebitFailed, TradeReversed:
		return true
	}
	return false
}

type TradeRequest struct {
	ClientID       int64           `json:"client_id"`
	Symbol         string          `json:"symbol"`
	Quantity       int64           `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	IdempotencyKey *uuid.UUID      `json:"idempotency_key,omitempty"`
}

func (r TradeRequest) TotalCost() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Quantity))
}

// Normalized returns r with the symbol trimmed and upper-cased.
func (r TradeRequest) Normalized() TradeRequest {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	return r
}

func (r TradeRequest) Validate() error {
	if r.ClientID <= 0 {
		return fmt.Errorf("client id must be a positive integer")
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be a positive integer, got %d", r.Quantity)
	}
	if r.Price.IsNegative() {
		return fmt.Errorf("price must not be negative, got %s", r.Price.String())
	}
	return nil
}

type TradeResponse struct {
	Success          bool            `json:"success"`
	Message          string          `json:"message"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	TradeID          *uuid.UUID      `json:"trade_id,omitempty"`
	State            TradeState      `json:"state"`
}

// Trade is the portfolio service's record of a buy that reached the holding step.
type Trade struct {
	ID               uuid.UUID       `json:"trade_id"`
	IdempotencyKey   *uuid.UUID      `json:"idempotency_key,omitempty"`
	ClientID         int64           `json:"client_id"`
	PortfolioID      int64           `json:"portfolio_id"`
	HoldingID        int64           `json:"holding_id"`
	Symbol           string          `json:"symbol"`
	Quantity         int64           `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	State            TradeState      `json:"state"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Matches reports whether req describes the same purchase as t.
func (t Trade) Matches(req TradeRequest) bool {
	return t.ClientID == req.ClientID &&
		t.Symbol == req.Symbol &&
		t.Quantity == req.Quantity &&
		t.Price.Equal(req.Price)
}
