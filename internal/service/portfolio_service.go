package service

import (
	"context"
	"log/slog"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

type PortfolioService struct {
	portfolios domain.PortfolioRepository
	logger     *slog.Logger
}

func NewPortfolioService(portfolios domain.PortfolioRepository, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		portfolios: portfolios,
		logger:     logger,
	}
}

func (s *PortfolioService) GetPortfolio(ctx context.Context, clientID int64) (*domain.Portfolio, error) {
	if clientID <= 0 {
		return nil, errors.ErrInvalidClientID
	}
	return s.portfolios.GetPortfolioByClientID(ctx, clientID)
}

// GetHoldings lists the client's positions. A client without a portfolio
// simply has none.
func (s *PortfolioService) GetHoldings(ctx context.Context, clientID int64) ([]domain.Holding, error) {
	if clientID <= 0 {
		return nil, errors.ErrInvalidClientID
	}

	portfolio, err := s.portfolios.GetPortfolioByClientID(ctx, clientID)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return []domain.Holding{}, nil
		}
		return nil, err
	}
	return s.portfolios.ListHoldings(ctx, portfolio.PortfolioID)
}

func (s *PortfolioService) Ping(ctx context.Context) error {
	return s.portfolios.Ping(ctx)
}
