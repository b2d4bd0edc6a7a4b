package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Portfolio struct {
	PortfolioID int64           `json:"portfolio_id"`
	ClientID    int64           `json:"client_id"`
	TotalValue  decimal.Decimal `json:"total_value"`
	CreatedDate time.Time       `json:"created_date"`
	LastUpdated time.Time       `json:"last_updated"`
}

type Holding struct {
	HoldingID    int64           `json:"holding_id"`
	PortfolioID  int64           `json:"portfolio_id"`
	Symbol       string          `json:"symbol"`
	Quantity     int64           `json:"quantity"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

func (h Holding) TotalValue() decimal.Decimal {
	return h.CurrentPrice.Mul(decimal.NewFromInt(h.Quantity))
}

type PortfolioRepository interface {
	CreatePortfolio(ctx context.Context, portfolio *Portfolio) error
	GetPortfolioByClientID(ctx context.Context, clientID int64) (*Portfolio, error)
	ListHoldings(ctx context.Context, portfolioID int64) ([]Holding, error)

	// RecordPurchase appends a holding for trade, adds its value to the
	// portfolio and stores trade in TradeHoldingRecorded, in one local
	// transaction. trade.HoldingID, Status and timestamps are filled in.
	RecordPurchase(ctx context.Context, trade *Trade) (*Holding, error)
	GetTrade(ctx context.Context, id uuid.UUID) (*Trade, error)
	// GetTradeByIdempotencyKey returns nil, nil when no trade uses key.
	GetTradeByIdempotencyKey(ctx context.Context, key uuid.UUID) (*Trade, error)
	ListTrades(ctx context.Context, state TradeState) ([]Trade, error)
	UpdateTradeState(ctx context.Context, id uuid.UUID, state TradeState, remainingBalance decimal.Decimal) error
	// TransitionTrade moves the trade from one state to another only if it is
	// still in from. It reports whether the move happened.
	TransitionTrade(ctx context.Context, id uuid.UUID, from, to TradeState) (bool, error)
	// ReverseTrade removes the holding of a debit-failed trade and marks it
	// reversed. Reversing an already reversed trade returns it unchanged.
	ReverseTrade(ctx context.Context, id uuid.UUID) (*Trade, error)
	Ping(ctx context.Context) error
}
