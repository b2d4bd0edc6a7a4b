package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

var _ domain.PortfolioRepository = (*MemoryPortfolioStore)(nil)

// MemoryPortfolioStore keeps portfolios, holdings and trades in process
// behind a single lock.
type MemoryPortfolioStore struct {
	mu            sync.RWMutex
	portfolios    map[int64]*domain.Portfolio
	byClient      map[int64]int64
	holdings      map[int64][]domain.Holding
	trades        map[uuid.UUID]*domain.Trade
	byKey         map[uuid.UUID]uuid.UUID
	nextPortfolio int64
	nextHolding   int64
}

func NewMemoryPortfolioStore() *MemoryPortfolioStore {
	return &MemoryPortfolioStore{
		portfolios: make(map[int64]*domain.Portfolio),
		byClient:   make(map[int64]int64),
		holdings:   make(map[int64][]domain.Holding),
		trades:     make(map[uuid.UUID]*domain.Trade),
		byKey:      make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemoryPortfolioStore) CreatePortfolio(_ context.Context, portfolio *domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byClient[portfolio.ClientID]; ok {
		return errors.ErrDuplicatePortfolio
	}

	now := time.Now().UTC()
	if portfolio.CreatedDate.IsZero() {
		portfolio.CreatedDate = now
	}
	portfolio.LastUpdated = now
	s.nextPortfolio++
	portfolio.PortfolioID = s.nextPortfolio

	stored := *portfolio
	s.portfolios[stored.PortfolioID] = &stored
	s.byClient[stored.ClientID] = stored.PortfolioID
	return nil
}

// AddHolding seeds a holding and adds its value to the portfolio.
func (s *MemoryPortfolioStore) AddHolding(_ context.Context, holding *domain.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	portfolio, ok := s.portfolios[holding.PortfolioID]
	if !ok {
		return errors.ErrPortfolioNotFound
	}
	s.appendHolding(portfolio, holding, time.Now().UTC())
	return nil
}

func (s *MemoryPortfolioStore) appendHolding(portfolio *domain.Portfolio, holding *domain.Holding, now time.Time) {
	s.nextHolding++
	holding.HoldingID = s.nextHolding
	s.holdings[portfolio.PortfolioID] = append(s.holdings[portfolio.PortfolioID], *holding)
	portfolio.TotalValue = portfolio.TotalValue.Add(holding.TotalValue())
	portfolio.LastUpdated = now
}

func (s *MemoryPortfolioStore) GetPortfolioByClientID(_ context.Context, clientID int64) (*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byClient[clientID]
	if !ok {
		return nil, errors.ErrPortfolioNotFound
	}
	portfolio := *s.portfolios[id]
	return &portfolio, nil
}

func (s *MemoryPortfolioStore) ListHoldings(_ context.Context, portfolioID int64) ([]domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Holding{}, s.holdings[portfolioID]...), nil
}

func (s *MemoryPortfolioStore) RecordPurchase(_ context.Context, trade *domain.Trade) (*domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	portfolio, ok := s.portfolios[trade.PortfolioID]
	if !ok {
		return nil, errors.ErrPortfolioNotFound
	}
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	if _, ok := s.trades[trade.ID]; ok {
		return nil, errors.ErrDuplicateTrade
	}
	if trade.IdempotencyKey != nil {
		if _, ok := s.byKey[*trade.IdempotencyKey]; ok {
			return nil, errors.ErrDuplicateTrade
		}
	}

	now := time.Now().UTC()
	holding := &domain.Holding{
		PortfolioID:  portfolio.PortfolioID,
		Symbol:       trade.Symbol,
		Quantity:     trade.Quantity,
		CurrentPrice: trade.Price,
	}
	s.appendHolding(portfolio, holding, now)

	trade.HoldingID = holding.HoldingID
	trade.State = domain.TradeHoldingRecorded
	trade.CreatedAt = now
	trade.UpdatedAt = now

	stored := *trade
	s.trades[stored.ID] = &stored
	if stored.IdempotencyKey != nil {
		s.byKey[*stored.IdempotencyKey] = stored.ID
	}

	h := *holding
	return &h, nil
}

func (s *MemoryPortfolioStore) GetTrade(_ context.Context, id uuid.UUID) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trade, ok := s.trades[id]
	if !ok {
		return nil, errors.ErrTradeNotFound
	}
	t := *trade
	return &t, nil
}

func (s *MemoryPortfolioStore) GetTradeByIdempotencyKey(_ context.Context, key uuid.UUID) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	t := *s.trades[id]
	return &t, nil
}

func (s *MemoryPortfolioStore) ListTrades(_ context.Context, state domain.TradeState) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := []domain.Trade{}
	for _, t := range s.trades {
		if state == "" || t.State == state {
			trades = append(trades, *t)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].CreatedAt.Equal(trades[j].CreatedAt) {
			return trades[i].ID.String() < trades[j].ID.String()
		}
		return trades[i].CreatedAt.Before(trades[j].CreatedAt)
	})
	return trades, nil
}

func (s *MemoryPortfolioStore) UpdateTradeState(_ context.Context, id uuid.UUID, state domain.TradeState, remainingBalance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[id]
	if !ok {
		return errors.ErrTradeNotFound
	}
	trade.State = state
	trade.RemainingBalance = remainingBalance
	trade.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryPortfolioStore) TransitionTrade(_ context.Context, id uuid.UUID, from, to domain.TradeState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[id]
	if !ok {
		return false, errors.ErrTradeNotFound
	}
	if trade.State != from {
		return false, nil
	}
	trade.State = to
	trade.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryPortfolioStore) ReverseTrade(_ context.Context, id uuid.UUID) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[id]
	if !ok {
		return nil, errors.ErrTradeNotFound
	}
	switch trade.State {
	case domain.TradeReversed:
		t := *trade
		return &t, nil
	case domain.TradeDebitFailed:
	default:
		return nil, errors.ErrTradeNotReversible.WithDetails(fmt.Sprintf("trade is %s", trade.State))
	}

	holdings := s.holdings[trade.PortfolioID]
	for i, h := range holdings {
		if h.HoldingID == trade.HoldingID {
			s.holdings[trade.PortfolioID] = append(holdings[:i:i], holdings[i+1:]...)
			break
		}
	}

	now := time.Now().UTC()
	if portfolio, ok := s.portfolios[trade.PortfolioID]; ok {
		portfolio.TotalValue = portfolio.TotalValue.Sub(trade.TotalCost)
		portfolio.LastUpdated = now
	}
	trade.State = domain.TradeReversed
	trade.UpdatedAt = now

	t := *trade
	return &t, nil
}

func (s *MemoryPortfolioStore) Ping(context.Context) error { return nil }
