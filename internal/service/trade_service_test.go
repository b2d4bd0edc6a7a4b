package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
	"brokerage/internal/logging"
	"brokerage/internal/repository"
)

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) GetAccount(ctx context.Context, clientID int64) (*domain.Account, error) {
	args := m.Called(ctx, clientID)
	account, _ := args.Get(0).(*domain.Account)
	return account, args.Error(1)
}

func (m *mockAccounts) VerifyFunds(ctx context.Context, clientID int64, required decimal.Decimal) (bool, error) {
	args := m.Called(ctx, clientID, required)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccounts) Withdraw(ctx context.Context, clientID int64, amount decimal.Decimal, reference string) (*domain.Account, error) {
	args := m.Called(ctx, clientID, amount, reference)
	account, _ := args.Get(0).(*domain.Account)
	return account, args.Error(1)
}

func amount(s string) interface{} {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

type tradeFixture struct {
	store     *repository.MemoryPortfolioStore
	accounts  *mockAccounts
	service   *TradeService
	portfolio *domain.Portfolio
}

func newTradeFixture(t *testing.T) *tradeFixture {
	t.Helper()
	store := repository.NewMemoryPortfolioStore()
	portfolio := &domain.Portfolio{ClientID: 101}
	require.NoError(t, store.CreatePortfolio(context.Background(), portfolio))

	accounts := &mockAccounts{}
	t.Cleanup(func() { accounts.AssertExpectations(t) })

	return &tradeFixture{
		store:     store,
		accounts:  accounts,
		service:   NewTradeService(store, accounts, time.Second, logging.Discard()),
		portfolio: portfolio,
	}
}

func (f *tradeFixture) holdings(t *testing.T) []domain.Holding {
	t.Helper()
	holdings, err := f.store.ListHoldings(context.Background(), f.portfolio.PortfolioID)
	require.NoError(t, err)
	return holdings
}

func buyRequest(quantity int64, price string) domain.TradeRequest {
	return domain.TradeRequest{
		ClientID: 101,
		Symbol:   "aapl ",
		Quantity: quantity,
		Price:    decimal.RequireFromString(price),
	}
}

func TestBuySucceeds(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).Return(true, nil).Once()
	f.accounts.On("Withdraw", mock.Anything, int64(101), amount("1500"), mock.Anything).
		Return(&domain.Account{ClientID: 101, Balance: decimal.NewFromInt(48500)}, nil).Once()

	resp := f.service.Buy(ctx, buyRequest(10, "150"))

	assert.True(t, resp.Success)
	assert.Equal(t, domain.TradeDebited, resp.State)
	assert.True(t, decimal.NewFromInt(1500).Equal(resp.TotalCost))
	assert.True(t, decimal.NewFromInt(48500).Equal(resp.RemainingBalance))
	assert.Equal(t, "Successfully bought 10 shares of AAPL. Account balance: $48500.00", resp.Message)
	require.NotNil(t, resp.TradeID)

	holdings := f.holdings(t)
	require.Len(t, holdings, 1)
	assert.Equal(t, "AAPL", holdings[0].Symbol)
	assert.Equal(t, int64(10), holdings[0].Quantity)

	portfolio, err := f.store.GetPortfolioByClientID(ctx, 101)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1500).Equal(portfolio.TotalValue))

	trade, err := f.service.GetTrade(ctx, *resp.TradeID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeDebited, trade.State)
	assert.True(t, decimal.NewFromInt(48500).Equal(trade.RemainingBalance))
}

func TestBuyInsufficientFunds(t *testing.T) {
	f := newTradeFixture(t)

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("10000")).Return(false, nil).Once()

	resp := f.service.Buy(context.Background(), buyRequest(10, "1000"))

	assert.False(t, resp.Success)
	assert.Equal(t, domain.TradeRejectedNoFunds, resp.State)
	assert.Equal(t, "Insufficient funds for purchase. Total cost: $10000.00", resp.Message)
	assert.True(t, decimal.NewFromInt(10000).Equal(resp.TotalCost))
	assert.True(t, resp.RemainingBalance.IsZero())
	assert.Nil(t, resp.TradeID)
	assert.Empty(t, f.holdings(t))
	f.accounts.AssertNotCalled(t, "Withdraw", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBuyWithoutPortfolio(t *testing.T) {
	f := newTradeFixture(t)

	f.accounts.On("VerifyFunds", mock.Anything, int64(999), amount("150")).Return(true, nil).Once()

	req := buyRequest(1, "150")
	req.ClientID = 999
	resp := f.service.Buy(context.Background(), req)

	assert.False(t, resp.Success)
	assert.Equal(t, domain.TradeRejectedNoPortfolio, resp.State)
	assert.Equal(t, "Portfolio not found for client 999", resp.Message)
	f.accounts.AssertNotCalled(t, "Withdraw", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBuyRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  domain.TradeRequest
	}{
		{"zero quantity", domain.TradeRequest{ClientID: 101, Symbol: "AAPL", Quantity: 0, Price: decimal.NewFromInt(1)}},
		{"negative quantity", domain.TradeRequest{ClientID: 101, Symbol: "AAPL", Quantity: -5, Price: decimal.NewFromInt(1)}},
		{"negative price", domain.TradeRequest{ClientID: 101, Symbol: "AAPL", Quantity: 1, Price: decimal.NewFromInt(-1)}},
		{"blank symbol", domain.TradeRequest{ClientID: 101, Symbol: "  ", Quantity: 1, Price: decimal.NewFromInt(1)}},
		{"missing client", domain.TradeRequest{ClientID: 0, Symbol: "AAPL", Quantity: 1, Price: decimal.NewFromInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTradeFixture(t)

			resp := f.service.Buy(context.Background(), tt.req)

			assert.False(t, resp.Success)
			assert.Equal(t, domain.TradeRejectedInvalid, resp.State)
			assert.Empty(t, f.holdings(t))
			f.accounts.AssertNotCalled(t, "VerifyFunds", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestBuyVerificationFailure(t *testing.T) {
	f := newTradeFixture(t)

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).
		Return(false, errors.ErrUpstreamUnavailable).Once()

	resp := f.service.Buy(context.Background(), buyRequest(10, "150"))

	assert.False(t, resp.Success)
	assert.Equal(t, domain.TradeVerificationFailed, resp.State)
	assert.Empty(t, f.holdings(t))
}

func TestBuyVerificationTimeout(t *testing.T) {
	f := newTradeFixture(t)
	f.service.timeout = 50 * time.Millisecond

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(false, context.DeadlineExceeded).Once()

	start := time.Now()
	resp := f.service.Buy(context.Background(), buyRequest(10, "150"))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.TradeVerificationFailed, resp.State)
	assert.Empty(t, f.holdings(t))
}

func TestBuyDebitFailureKeepsHolding(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).Return(true, nil).Once()
	f.accounts.On("Withdraw", mock.Anything, int64(101), amount("1500"), mock.Anything).
		Return(nil, errors.ErrWithdrawalRejected).Once()

	resp := f.service.Buy(ctx, buyRequest(10, "150"))

	assert.False(t, resp.Success)
	assert.Equal(t, domain.TradeDebitFailed, resp.State)
	assert.Contains(t, resp.Message, "not charged")
	require.NotNil(t, resp.TradeID)
	assert.Len(t, f.holdings(t), 1)

	pending, err := f.service.ListTrades(ctx, domain.TradeDebitFailed)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, *resp.TradeID, pending[0].ID)

	reversed, err := f.service.ReverseTrade(ctx, *resp.TradeID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeReversed, reversed.State)
	assert.Empty(t, f.holdings(t))

	portfolio, err := f.store.GetPortfolioByClientID(ctx, 101)
	require.NoError(t, err)
	assert.True(t, portfolio.TotalValue.IsZero())
}

func TestBuyZeroCostSkipsDebit(t *testing.T) {
	f := newTradeFixture(t)

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("0")).Return(true, nil).Once()
	f.accounts.On("GetAccount", mock.Anything, int64(101)).
		Return(&domain.Account{ClientID: 101, Balance: decimal.NewFromInt(700)}, nil).Once()

	resp := f.service.Buy(context.Background(), buyRequest(3, "0"))

	assert.True(t, resp.Success)
	assert.True(t, decimal.NewFromInt(700).Equal(resp.RemainingBalance))
	assert.Len(t, f.holdings(t), 1)
	f.accounts.AssertNotCalled(t, "Withdraw", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBuyIdempotentReplay(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()
	key := uuid.New()

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).Return(true, nil).Once()
	f.accounts.On("Withdraw", mock.Anything, int64(101), amount("1500"), mock.Anything).
		Return(&domain.Account{ClientID: 101, Balance: decimal.NewFromInt(48500)}, nil).Once()

	req := buyRequest(10, "150")
	req.IdempotencyKey = &key

	first := f.service.Buy(ctx, req)
	second := f.service.Buy(ctx, req)

	require.True(t, first.Success)
	assert.Equal(t, first.TradeID, second.TradeID)
	assert.True(t, second.Success)
	assert.Equal(t, first.Message, second.Message)
	assert.Len(t, f.holdings(t), 1)

	other := buyRequest(11, "150")
	other.IdempotencyKey = &key
	mismatch := f.service.Buy(ctx, other)
	assert.False(t, mismatch.Success)
	assert.Equal(t, domain.TradeIdempotencyMismatch, mismatch.State)
	assert.Len(t, f.holdings(t), 1)
}

func TestBuyReplayRetriesFailedDebit(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()
	key := uuid.New()

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).Return(true, nil).Once()
	f.accounts.On("Withdraw", mock.Anything, int64(101), amount("1500"), mock.Anything).
		Return(nil, errors.ErrUpstreamUnavailable).Once()
	f.accounts.On("Withdraw", mock.Anything, int64(101), amount("1500"), mock.Anything).
		Return(&domain.Account{ClientID: 101, Balance: decimal.NewFromInt(48500)}, nil).Once()

	req := buyRequest(10, "150")
	req.IdempotencyKey = &key

	first := f.service.Buy(ctx, req)
	require.Equal(t, domain.TradeDebitFailed, first.State)

	retry := f.service.Buy(ctx, req)
	assert.True(t, retry.Success)
	assert.Equal(t, domain.TradeDebited, retry.State)
	assert.Equal(t, first.TradeID, retry.TradeID)
	assert.Len(t, f.holdings(t), 1, "a retry must not record a second holding")

	_, err := f.service.ReverseTrade(ctx, *retry.TradeID)
	assert.ErrorIs(t, err, errors.ErrTradeNotReversible)
}

func TestBuyReplayOfReversedTrade(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()
	key := uuid.New()

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).Return(true, nil).Once()
	f.accounts.On("Withdraw", mock.Anything, int64(101), amount("1500"), mock.Anything).
		Return(nil, errors.ErrWithdrawalRejected).Once()

	req := buyRequest(10, "150")
	req.IdempotencyKey = &key

	first := f.service.Buy(ctx, req)
	require.Equal(t, domain.TradeDebitFailed, first.State)
	_, err := f.service.ReverseTrade(ctx, *first.TradeID)
	require.NoError(t, err)

	replay := f.service.Buy(ctx, req)
	assert.False(t, replay.Success)
	assert.Equal(t, domain.TradeReversed, replay.State)
	assert.Empty(t, f.holdings(t))
}

func TestBuyConcurrentSameKey(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()
	key := uuid.New()

	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("150")).Return(true, nil)
	f.accounts.On("Withdraw", mock.Anything, int64(101), amount("150"), mock.Anything).
		Return(&domain.Account{ClientID: 101, Balance: decimal.NewFromInt(850)}, nil).Once()

	req := buyRequest(1, "150")
	req.IdempotencyKey = &key

	const n = 8
	var wg sync.WaitGroup
	responses := make([]domain.TradeResponse, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = f.service.Buy(ctx, req)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.holdings(t), 1)
	for _, resp := range responses {
		assert.Contains(t, []domain.TradeState{domain.TradeDebited, domain.TradeHoldingRecorded}, resp.State)
	}
	f.accounts.AssertNumberOfCalls(t, "Withdraw", 1)
}

func TestListTradesRejectsUnknownState(t *testing.T) {
	f := newTradeFixture(t)

	_, err := f.service.ListTrades(context.Background(), domain.TradeState("bogus"))
	assert.ErrorIs(t, err, errors.NewAppError(errors.InvalidInput, ""))

	trades, err := f.service.ListTrades(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

// ledgerGateway serves the trade saga from an in-process account service.
// It can drop the acknowledgement of applied debits, as a timed out call
// would.
type ledgerGateway struct {
	accounts *AccountService

	mu       sync.Mutex
	calls    int
	dropAcks int
}

func (g *ledgerGateway) GetAccount(ctx context.Context, clientID int64) (*domain.Account, error) {
	return g.accounts.GetBalance(ctx, clientID)
}

func (g *ledgerGateway) VerifyFunds(ctx context.Context, clientID int64, required decimal.Decimal) (bool, error) {
	return g.accounts.VerifyFunds(ctx, clientID, required)
}

func (g *ledgerGateway) Withdraw(ctx context.Context, clientID int64, amount decimal.Decimal, reference string) (*domain.Account, error) {
	account, err := g.accounts.Debit(ctx, clientID, amount, reference)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err == nil && g.dropAcks > 0 {
		g.dropAcks--
		return nil, errors.Wrap(errors.UpstreamUnavailable, "account service unreachable", context.DeadlineExceeded)
	}
	return account, err
}

func TestBuyReplayDoesNotChargeAnAppliedDebitTwice(t *testing.T) {
	accounts, _ := newAccountService(t, map[int64]string{101: "50000"})
	gateway := &ledgerGateway{accounts: accounts, dropAcks: 1}

	store := repository.NewMemoryPortfolioStore()
	require.NoError(t, store.CreatePortfolio(context.Background(), &domain.Portfolio{ClientID: 101}))
	svc := NewTradeService(store, gateway, time.Second, logging.Discard())

	ctx := context.Background()
	key := uuid.New()
	req := buyRequest(10, "150")
	req.IdempotencyKey = &key

	first := svc.Buy(ctx, req)
	require.Equal(t, domain.TradeDebitFailed, first.State)

	account, err := accounts.GetBalance(ctx, 101)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(48500).Equal(account.Balance), "the unacknowledged debit was applied")

	second := svc.Buy(ctx, req)
	assert.True(t, second.Success)
	assert.Equal(t, domain.TradeDebited, second.State)
	assert.Equal(t, first.TradeID, second.TradeID)
	assert.True(t, decimal.NewFromInt(48500).Equal(second.RemainingBalance))

	account, err = accounts.GetBalance(ctx, 101)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(48500).Equal(account.Balance), "the replay must not charge again")
	assert.Equal(t, 2, gateway.calls)
}

func TestBuyDebitsWithTradeIDAsReference(t *testing.T) {
	f := newTradeFixture(t)

	var reference string
	f.accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).Return(true, nil).Once()
	f.accounts.On("Withdraw", mock.Anything, int64(101), amount("1500"), mock.Anything).
		Run(func(args mock.Arguments) { reference = args.String(3) }).
		Return(&domain.Account{ClientID: 101, Balance: decimal.NewFromInt(48500)}, nil).Once()

	resp := f.service.Buy(context.Background(), buyRequest(10, "150"))
	require.NotNil(t, resp.TradeID)
	assert.Equal(t, resp.TradeID.String(), reference)
}

// cancelAwareStore fails writes made on a cancelled context, as the SQLite
// store does.
type cancelAwareStore struct {
	*repository.MemoryPortfolioStore
}

func (s cancelAwareStore) UpdateTradeState(ctx context.Context, id uuid.UUID, state domain.TradeState, remainingBalance decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryPortfolioStore.UpdateTradeState(ctx, id, state, remainingBalance)
}

func TestBuyRecordsOutcomeWhenCallerGoesAway(t *testing.T) {
	tests := []struct {
		name      string
		account   *domain.Account
		err       error
		wantState domain.TradeState
	}{
		{"debit fails", nil, errors.Wrap(errors.UpstreamUnavailable, "account service unreachable", context.Canceled), domain.TradeDebitFailed},
		{"debit succeeds", &domain.Account{ClientID: 101, Balance: decimal.NewFromInt(48500)}, nil, domain.TradeDebited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := repository.NewMemoryPortfolioStore()
			portfolio := &domain.Portfolio{ClientID: 101}
			require.NoError(t, memory.CreatePortfolio(context.Background(), portfolio))
			store := cancelAwareStore{memory}

			accounts := &mockAccounts{}
			svc := NewTradeService(store, accounts, time.Second, logging.Discard())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var withdrawCtxErr error
			accounts.On("VerifyFunds", mock.Anything, int64(101), amount("1500")).Return(true, nil).Once()
			accounts.On("Withdraw", mock.Anything, int64(101), amount("1500"), mock.Anything).
				Run(func(args mock.Arguments) {
					cancel()
					withdrawCtxErr = args.Get(0).(context.Context).Err()
				}).
				Return(tt.account, tt.err).Once()

			resp := svc.Buy(ctx, buyRequest(10, "150"))
			require.NotNil(t, resp.TradeID)
			assert.Equal(t, tt.wantState, resp.State)
			assert.NoError(t, withdrawCtxErr, "the debit outlives the caller")

			trade, err := store.GetTrade(context.Background(), *resp.TradeID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, trade.State)

			if tt.wantState == domain.TradeDebitFailed {
				pending, err := svc.ListTrades(context.Background(), domain.TradeDebitFailed)
				require.NoError(t, err)
				assert.Len(t, pending, 1)

				_, err = svc.ReverseTrade(context.Background(), *resp.TradeID)
				assert.NoError(t, err)
			}
			accounts.AssertExpectations(t)
		})
	}
}
