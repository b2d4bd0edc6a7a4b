package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

// AccountGateway is the portfolio side's view of the account service.
type AccountGateway interface {
	GetAccount(ctx context.Context, clientID int64) (*domain.Account, error)
	VerifyFunds(ctx context.Context, clientID int64, required decimal.Decimal) (bool, error)
	// Withdraw charges amount once per non-empty reference, so a debit whose
	// outcome was lost can be replayed safely.
	Withdraw(ctx context.Context, clientID int64, amount decimal.Decimal, reference string) (*domain.Account, error)
}

const (
	msgInvalidRequest   = "Invalid trade request: %s"
	msgVerifyFailed     = "Unable to verify funds. Please try again later."
	msgInsufficient     = "Insufficient funds for purchase. Total cost: $%s"
	msgNoPortfolio      = "Portfolio not found for client %d"
	msgDebitFailed      = "Trade recorded but the account debit failed, so the account was not charged. Please contact support."
	msgBought           = "Successfully bought %d shares of %s. Account balance: $%s"
	msgInProgress       = "A trade with this idempotency key is still in progress."
	msgReversed         = "This trade was reversed after its debit failed."
	msgIdempotencyClash = "Idempotency key was already used for a different trade."
	msgInternal         = "Internal server error"
)

// TradeService runs the buy saga: verify funds, record the holding, debit the
// account. The holding write and the debit live in different services, so a
// failed debit leaves a debit_failed trade behind for retry or reversal.
type TradeService struct {
	portfolios domain.PortfolioRepository
	accounts   AccountGateway
	timeout    time.Duration
	logger     *slog.Logger
}

func NewTradeService(portfolios domain.PortfolioRepository, accounts AccountGateway, timeout time.Duration, logger *slog.Logger) *TradeService {
	return &TradeService{
		portfolios: portfolios,
		accounts:   accounts,
		timeout:    timeout,
		logger:     logger,
	}
}

// Buy executes one purchase. Every outcome, including infrastructure
// failures, is reported through the response rather than an error.
func (s *TradeService) Buy(ctx context.Context, req domain.TradeRequest) domain.TradeResponse {
	req = req.Normalized()
	logger := s.logger.With("client_id", req.ClientID, "symbol", req.Symbol, "quantity", req.Quantity)

	if err := req.Validate(); err != nil {
		logger.Warn("Rejected invalid trade request", "error", err)
		return domain.TradeResponse{
			Message: fmt.Sprintf(msgInvalidRequest, err),
			State:   domain.TradeRejectedInvalid,
		}
	}
	totalCost := req.TotalCost()

	if req.IdempotencyKey != nil {
		existing, err := s.portfolios.GetTradeByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err != nil {
			logger.Error("Failed to look up idempotency key", "idempotency_key", *req.IdempotencyKey, "error", err)
			return failed(totalCost)
		}
		if existing != nil {
			return s.replay(ctx, existing, req)
		}
	}

	hasFunds, err := s.verifyFunds(ctx, req.ClientID, totalCost)
	if err != nil {
		logger.Error("Funds verification failed", "total_cost", totalCost, "error", err)
		return domain.TradeResponse{
			Message:   msgVerifyFailed,
			TotalCost: totalCost,
			State:     domain.TradeVerificationFailed,
		}
	}
	if !hasFunds {
		logger.Info("Insufficient funds for trade", "total_cost", totalCost)
		return domain.TradeResponse{
			Message:   fmt.Sprintf(msgInsufficient, totalCost.StringFixed(2)),
			TotalCost: totalCost,
			State:     domain.TradeRejectedNoFunds,
		}
	}

	portfolio, err := s.portfolios.GetPortfolioByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			logger.Info("No portfolio for trade")
			return domain.TradeResponse{
				Message:   fmt.Sprintf(msgNoPortfolio, req.ClientID),
				TotalCost: totalCost,
				State:     domain.TradeRejectedNoPortfolio,
			}
		}
		logger.Error("Failed to load portfolio", "error", err)
		return failed(totalCost)
	}

	trade := &domain.Trade{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		ClientID:       req.ClientID,
		PortfolioID:    portfolio.PortfolioID,
		Symbol:         req.Symbol,
		Quantity:       req.Quantity,
		Price:          req.Price,
		TotalCost:      totalCost,
	}
	if _, err := s.portfolios.RecordPurchase(ctx, trade); err != nil {
		if errors.Is(err, errors.ErrDuplicateTrade) && req.IdempotencyKey != nil {
			// Lost a race with a concurrent request carrying the same key.
			existing, lookupErr := s.portfolios.GetTradeByIdempotencyKey(ctx, *req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return s.replay(ctx, existing, req)
			}
		}
		logger.Error("Failed to record holding", "error", err)
		return failed(totalCost)
	}

	return s.settle(ctx, trade)
}

// settle charges the account for a recorded trade and moves it to debited or
// debit_failed. The debit is keyed by the trade id. Once the holding is
// recorded the caller going away no longer stops the saga, so the trade
// always reaches a state ListTrades and ReverseTrade can act on.
func (s *TradeService) settle(ctx context.Context, trade *domain.Trade) domain.TradeResponse {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With("client_id", trade.ClientID, "trade_id", trade.ID, "holding_id", trade.HoldingID)

	var balance decimal.Decimal
	if trade.TotalCost.IsZero() {
		// Nothing to charge; report the current balance.
		account, err := s.getAccount(ctx, trade.ClientID)
		if err != nil {
			logger.Warn("Could not read balance for zero cost trade", "error", err)
		} else {
			balance = account.Balance
		}
	} else {
		account, err := s.withdraw(ctx, trade.ClientID, trade.TotalCost, trade.ID.String())
		if err != nil {
			logger.Error("Account debit failed after holding was recorded",
				"amount", trade.TotalCost,
				"error", err)
			if updateErr := s.portfolios.UpdateTradeState(ctx, trade.ID, domain.TradeDebitFailed, decimal.Zero); updateErr != nil {
				logger.Error("Failed to mark trade debit_failed", "error", updateErr)
			}
			return domain.TradeResponse{
				Message:   msgDebitFailed,
				TotalCost: trade.TotalCost,
				TradeID:   &trade.ID,
				State:     domain.TradeDebitFailed,
			}
		}
		balance = account.Balance
	}

	if err := s.portfolios.UpdateTradeState(ctx, trade.ID, domain.TradeDebited, balance); err != nil {
		// The account was charged; the stale state is visible in ListTrades.
		logger.Error("Failed to mark trade debited", "error", err)
	}

	logger.Info("Trade completed", "symbol", trade.Symbol, "quantity", trade.Quantity, "total_cost", trade.TotalCost, "balance", balance)
	return domain.TradeResponse{
		Success:          true,
		Message:          fmt.Sprintf(msgBought, trade.Quantity, trade.Symbol, balance.StringFixed(2)),
		TotalCost:        trade.TotalCost,
		RemainingBalance: balance,
		TradeID:          &trade.ID,
		State:            domain.TradeDebited,
	}
}

// replay answers a request whose idempotency key already has a trade.
func (s *TradeService) replay(ctx context.Context, existing *domain.Trade, req domain.TradeRequest) domain.TradeResponse {
	logger := s.logger.With("client_id", req.ClientID, "trade_id", existing.ID, "idempotency_key", *req.IdempotencyKey)

	if !existing.Matches(req) {
		logger.Warn("Idempotency key reused with different trade parameters")
		return domain.TradeResponse{
			Message:   msgIdempotencyClash,
			TotalCost: req.TotalCost(),
			TradeID:   &existing.ID,
			State:     domain.TradeIdempotencyMismatch,
		}
	}

	switch existing.State {
	case domain.TradeDebited:
		logger.Info("Replaying completed trade")
		return domain.TradeResponse{
			Success:          true,
			Message:          fmt.Sprintf(msgBought, existing.Quantity, existing.Symbol, existing.RemainingBalance.StringFixed(2)),
			TotalCost:        existing.TotalCost,
			RemainingBalance: existing.RemainingBalance,
			TradeID:          &existing.ID,
			State:            domain.TradeDebited,
		}
	case domain.TradeDebitFailed:
		// The retry reuses the trade id as debit reference, so a first debit
		// that was applied but never acknowledged is not charged again.
		ctx = context.WithoutCancel(ctx)
		claimed, err := s.portfolios.TransitionTrade(ctx, existing.ID, domain.TradeDebitFailed, domain.TradeHoldingRecorded)
		if err != nil {
			logger.Error("Failed to claim trade for debit retry", "error", err)
			return failed(existing.TotalCost)
		}
		if claimed {
			logger.Info("Retrying debit for trade")
			existing.State = domain.TradeHoldingRecorded
			return s.settle(ctx, existing)
		}
		// Another request claimed it first.
		return inProgress(existing)
	case domain.TradeReversed:
		return domain.TradeResponse{
			Message:   msgReversed,
			TotalCost: existing.TotalCost,
			TradeID:   &existing.ID,
			State:     domain.TradeReversed,
		}
	default:
		return inProgress(existing)
	}
}

func inProgress(trade *domain.Trade) domain.TradeResponse {
	return domain.TradeResponse{
		Message:   msgInProgress,
		TotalCost: trade.TotalCost,
		TradeID:   &trade.ID,
		State:     domain.TradeHoldingRecorded,
	}
}

func failed(totalCost decimal.Decimal) domain.TradeResponse {
	return domain.TradeResponse{
		Message:   msgInternal,
		TotalCost: totalCost,
		State:     domain.TradeFailed,
	}
}

func (s *TradeService) verifyFunds(ctx context.Context, clientID int64, amount decimal.Decimal) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.accounts.VerifyFunds(ctx, clientID, amount)
}

func (s *TradeService) withdraw(ctx context.Context, clientID int64, amount decimal.Decimal, reference string) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.accounts.Withdraw(ctx, clientID, amount, reference)
}

func (s *TradeService) getAccount(ctx context.Context, clientID int64) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.accounts.GetAccount(ctx, clientID)
}

func (s *TradeService) GetTrade(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	return s.portfolios.GetTrade(ctx, id)
}

// ListTrades returns trades in state, or all trades when state is empty.
func (s *TradeService) ListTrades(ctx context.Context, state domain.TradeState) ([]domain.Trade, error) {
	if state != "" && !state.Persisted() {
		return nil, errors.NewAppErrorf(errors.InvalidInput, "unknown trade state %q", state)
	}
	return s.portfolios.ListTrades(ctx, state)
}

// ReverseTrade undoes the holding of a trade whose debit failed.
func (s *TradeService) ReverseTrade(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	trade, err := s.portfolios.ReverseTrade(ctx, id)
	if err != nil {
		s.logger.Warn("Trade reversal refused", "trade_id", id, "error", err)
		return nil, err
	}
	s.logger.Info("Trade reversed", "trade_id", id, "client_id", trade.ClientID, "holding_id", trade.HoldingID, "amount", trade.TotalCost)
	return trade, nil
}
