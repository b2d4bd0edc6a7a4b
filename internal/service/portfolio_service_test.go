package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
	"brokerage/internal/logging"
	"brokerage/internal/repository"
)

func TestPortfolioService(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPortfolioStore()

	portfolio := &domain.Portfolio{ClientID: 101}
	require.NoError(t, store.CreatePortfolio(ctx, portfolio))
	require.NoError(t, store.AddHolding(ctx, &domain.Holding{PortfolioID: portfolio.PortfolioID, Symbol: "AAPL", Quantity: 100, CurrentPrice: decimal.NewFromInt(150)}))
	require.NoError(t, store.AddHolding(ctx, &domain.Holding{PortfolioID: portfolio.PortfolioID, Symbol: "MSFT", Quantity: 50, CurrentPrice: decimal.NewFromInt(300)}))

	svc := NewPortfolioService(store, logging.Discard())

	got, err := svc.GetPortfolio(ctx, 101)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30000).Equal(got.TotalValue))

	_, err = svc.GetPortfolio(ctx, 999)
	assert.ErrorIs(t, err, errors.ErrPortfolioNotFound)

	_, err = svc.GetPortfolio(ctx, -1)
	assert.ErrorIs(t, err, errors.ErrInvalidClientID)

	holdings, err := svc.GetHoldings(ctx, 101)
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.True(t, decimal.NewFromInt(15000).Equal(holdings[0].TotalValue()))

	holdings, err = svc.GetHoldings(ctx, 999)
	require.NoError(t, err)
	assert.NotNil(t, holdings)
	assert.Empty(t, holdings)
}
