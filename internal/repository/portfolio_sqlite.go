package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

var _ domain.PortfolioRepository = (*PortfolioStore)(nil)

const tradeColumns = `trade_id, idempotency_key, client_id, portfolio_id, holding_id, symbol, quantity, price, total_cost, state, remaining_balance, created_at, updated_at`

// OpenSQLite opens the holdings database at path. SQLite allows one writer,
// so the pool is capped at a single connection.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// PortfolioStore is the SQLite portfolio store. Decimals and timestamps are
// kept as TEXT so no precision is lost to REAL columns.
type PortfolioStore struct {
	db       *sql.DB
	executor SQLExecutor
	logger   *slog.Logger
}

func NewPortfolioStore(db *sql.DB, logger *slog.Logger) *PortfolioStore {
	return &PortfolioStore{
		db:       db,
		executor: db,
		logger:   logger,
	}
}

// withTransaction runs fn against a store bound to one transaction. With a
// single pooled connection, fn must not touch s.db directly.
func (s *PortfolioStore) withTransaction(ctx context.Context, fn func(*PortfolioStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction", "error", err)
		return errors.Wrap(errors.InternalError, "failed to begin transaction", err)
	}

	txStore := &PortfolioStore{
		db:       s.db,
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", "error", err)
		return errors.Wrap(errors.InternalError, "failed to commit transaction", err)
	}
	return nil
}

func (s *PortfolioStore) CreatePortfolio(ctx context.Context, portfolio *domain.Portfolio) error {
	now := time.Now().UTC()
	if portfolio.CreatedDate.IsZero() {
		portfolio.CreatedDate = now
	}
	portfolio.LastUpdated = now

	res, err := s.executor.ExecContext(ctx, `
		INSERT INTO portfolios (client_id, total_value, created_date, last_updated)
		VALUES (?, ?, ?, ?)`,
		portfolio.ClientID,
		portfolio.TotalValue.String(),
		formatTime(portfolio.CreatedDate),
		formatTime(portfolio.LastUpdated),
	)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Warn("Duplicate portfolio creation attempt", "client_id", portfolio.ClientID)
			return errors.ErrDuplicatePortfolio
		}
		s.logger.Error("Failed to create portfolio", "client_id", portfolio.ClientID, "error", err)
		return errors.Wrap(errors.InternalError, "failed to create portfolio", err)
	}

	portfolio.PortfolioID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to read portfolio id", err)
	}
	return nil
}

func (s *PortfolioStore) GetPortfolioByClientID(ctx context.Context, clientID int64) (*domain.Portfolio, error) {
	return s.scanPortfolio(ctx, `
		SELECT portfolio_id, client_id, total_value, created_date, last_updated
		FROM portfolios WHERE client_id = ?`, clientID)
}

func (s *PortfolioStore) getPortfolio(ctx context.Context, portfolioID int64) (*domain.Portfolio, error) {
	return s.scanPortfolio(ctx, `
		SELECT portfolio_id, client_id, total_value, created_date, last_updated
		FROM portfolios WHERE portfolio_id = ?`, portfolioID)
}

func (s *PortfolioStore) scanPortfolio(ctx context.Context, query string, arg int64) (*domain.Portfolio, error) {
	var (
		p                             domain.Portfolio
		totalValue, created, modified string
	)
	err := s.executor.QueryRowContext(ctx, query, arg).Scan(&p.PortfolioID, &p.ClientID, &totalValue, &created, &modified)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrPortfolioNotFound
		}
		s.logger.Error("Failed to get portfolio", "key", arg, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to get portfolio", err)
	}

	if p.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to parse portfolio value", err)
	}
	if p.CreatedDate, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.LastUpdated, err = parseTime(modified); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PortfolioStore) ListHoldings(ctx context.Context, portfolioID int64) ([]domain.Holding, error) {
	rows, err := s.executor.QueryContext(ctx, `
		SELECT holding_id, portfolio_id, symbol, quantity, current_price
		FROM holdings WHERE portfolio_id = ?
		ORDER BY holding_id`, portfolioID)
	if err != nil {
		s.logger.Error("Failed to list holdings", "portfolio_id", portfolioID, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to list holdings", err)
	}
	defer rows.Close()

	holdings := []domain.Holding{}
	for rows.Next() {
		var (
			h     domain.Holding
			price string
		)
		if err := rows.Scan(&h.HoldingID, &h.PortfolioID, &h.Symbol, &h.Quantity, &price); err != nil {
			return nil, errors.Wrap(errors.InternalError, "failed to scan holding", err)
		}
		if h.CurrentPrice, err = decimal.NewFromString(price); err != nil {
			return nil, errors.Wrap(errors.InternalError, "failed to parse holding price", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to list holdings", err)
	}
	return holdings, nil
}

func (s *PortfolioStore) RecordPurchase(ctx context.Context, trade *domain.Trade) (*domain.Holding, error) {
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	now := time.Now().UTC()
	holding := &domain.Holding{
		PortfolioID:  trade.PortfolioID,
		Symbol:       trade.Symbol,
		Quantity:     trade.Quantity,
		CurrentPrice: trade.Price,
	}

	err := s.withTransaction(ctx, func(tx *PortfolioStore) error {
		portfolio, err := tx.getPortfolio(ctx, trade.PortfolioID)
		if err != nil {
			return err
		}

		res, err := tx.executor.ExecContext(ctx, `
			INSERT INTO holdings (portfolio_id, symbol, quantity, current_price)
			VALUES (?, ?, ?, ?)`,
			holding.PortfolioID, holding.Symbol, holding.Quantity, holding.CurrentPrice.String())
		if err != nil {
			return errors.Wrap(errors.InternalError, "failed to insert holding", err)
		}
		if holding.HoldingID, err = res.LastInsertId(); err != nil {
			return errors.Wrap(errors.InternalError, "failed to read holding id", err)
		}

		if err := tx.setPortfolioValue(ctx, portfolio.PortfolioID, portfolio.TotalValue.Add(holding.TotalValue()), now); err != nil {
			return err
		}

		trade.HoldingID = holding.HoldingID
		trade.State = domain.TradeHoldingRecorded
		trade.CreatedAt = now
		trade.UpdatedAt = now
		return tx.insertTrade(ctx, trade)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Holding recorded",
		"trade_id", trade.ID,
		"portfolio_id", trade.PortfolioID,
		"holding_id", holding.HoldingID,
		"symbol", holding.Symbol,
		"quantity", holding.Quantity)
	return holding, nil
}

func (s *PortfolioStore) setPortfolioValue(ctx context.Context, portfolioID int64, value decimal.Decimal, now time.Time) error {
	_, err := s.executor.ExecContext(ctx,
		`UPDATE portfolios SET total_value = ?, last_updated = ? WHERE portfolio_id = ?`,
		value.String(), formatTime(now), portfolioID)
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to update portfolio value", err)
	}
	return nil
}

func (s *PortfolioStore) insertTrade(ctx context.Context, trade *domain.Trade) error {
	var key interface{}
	if trade.IdempotencyKey != nil {
		key = trade.IdempotencyKey.String()
	}

	_, err := s.executor.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID.String(),
		key,
		trade.ClientID,
		trade.PortfolioID,
		trade.HoldingID,
		trade.Symbol,
		trade.Quantity,
		trade.Price.String(),
		trade.TotalCost.String(),
		string(trade.State),
		trade.RemainingBalance.String(),
		formatTime(trade.CreatedAt),
		formatTime(trade.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Warn("Duplicate trade", "trade_id", trade.ID, "idempotency_key", key)
			return errors.ErrDuplicateTrade
		}
		return errors.Wrap(errors.InternalError, "failed to insert trade", err)
	}
	return nil
}

func (s *PortfolioStore) GetTrade(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	trade, err := s.scanTrade(s.executor.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, id.String()))
	if err == sql.ErrNoRows {
		return nil, errors.ErrTradeNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get trade", "trade_id", id, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to get trade", err)
	}
	return trade, nil
}

func (s *PortfolioStore) GetTradeByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.Trade, error) {
	trade, err := s.scanTrade(s.executor.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE idempotency_key = ?`, key.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Failed to get trade by idempotency key", "idempotency_key", key, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to get trade", err)
	}
	return trade, nil
}

func (s *PortfolioStore) ListTrades(ctx context.Context, state domain.TradeState) ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades`
	var args []interface{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at, trade_id`

	rows, err := s.executor.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to list trades", "state", state, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to list trades", err)
	}
	defer rows.Close()

	trades := []domain.Trade{}
	for rows.Next() {
		trade, err := s.scanTrade(rows)
		if err != nil {
			return nil, errors.Wrap(errors.InternalError, "failed to scan trade", err)
		}
		trades = append(trades, *trade)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to list trades", err)
	}
	return trades, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PortfolioStore) scanTrade(row rowScanner) (*domain.Trade, error) {
	var (
		t                           domain.Trade
		id, state                   string
		key                         sql.NullString
		price, totalCost, remaining string
		createdAt, updatedAt        string
	)
	if err := row.Scan(&id, &key, &t.ClientID, &t.PortfolioID, &t.HoldingID, &t.Symbol, &t.Quantity,
		&price, &totalCost, &state, &remaining, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if key.Valid {
		k, err := uuid.Parse(key.String)
		if err != nil {
			return nil, err
		}
		t.IdempotencyKey = &k
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if t.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return nil, err
	}
	if t.RemainingBalance, err = decimal.NewFromString(remaining); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	t.State = domain.TradeState(state)
	return &t, nil
}

func (s *PortfolioStore) UpdateTradeState(ctx context.Context, id uuid.UUID, state domain.TradeState, remainingBalance decimal.Decimal) error {
	res, err := s.executor.ExecContext(ctx,
		`UPDATE trades SET state = ?, remaining_balance = ?, updated_at = ? WHERE trade_id = ?`,
		string(state), remainingBalance.String(), formatTime(time.Now().UTC()), id.String())
	if err != nil {
		s.logger.Error("Failed to update trade state", "trade_id", id, "state", state, "error", err)
		return errors.Wrap(errors.InternalError, "failed to update trade state", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.ErrTradeNotFound
	}
	return nil
}

func (s *PortfolioStore) TransitionTrade(ctx context.Context, id uuid.UUID, from, to domain.TradeState) (bool, error) {
	res, err := s.executor.ExecContext(ctx,
		`UPDATE trades SET state = ?, updated_at = ? WHERE trade_id = ? AND state = ?`,
		string(to), formatTime(time.Now().UTC()), id.String(), string(from))
	if err != nil {
		s.logger.Error("Failed to transition trade", "trade_id", id, "from", from, "to", to, "error", err)
		return false, errors.Wrap(errors.InternalError, "failed to update trade state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(errors.InternalError, "failed to update trade state", err)
	}
	if n == 0 {
		if _, err := s.GetTrade(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PortfolioStore) ReverseTrade(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	var reversed *domain.Trade

	err := s.withTransaction(ctx, func(tx *PortfolioStore) error {
		trade, err := tx.GetTrade(ctx, id)
		if err != nil {
			return err
		}
		if trade.State == domain.TradeReversed {
			reversed = trade
			return nil
		}
		if trade.State != domain.TradeDebitFailed {
			return errors.ErrTradeNotReversible.WithDetails(fmt.Sprintf("trade is %s", trade.State))
		}

		if _, err := tx.executor.ExecContext(ctx, `DELETE FROM holdings WHERE holding_id = ?`, trade.HoldingID); err != nil {
			return errors.Wrap(errors.InternalError, "failed to delete holding", err)
		}

		portfolio, err := tx.getPortfolio(ctx, trade.PortfolioID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.setPortfolioValue(ctx, portfolio.PortfolioID, portfolio.TotalValue.Sub(trade.TotalCost), now); err != nil {
			return err
		}

		if _, err := tx.executor.ExecContext(ctx,
			`UPDATE trades SET state = ?, updated_at = ? WHERE trade_id = ?`,
			string(domain.TradeReversed), formatTime(now), id.String()); err != nil {
			return errors.Wrap(errors.InternalError, "failed to mark trade reversed", err)
		}

		trade.State = domain.TradeReversed
		trade.UpdatedAt = now
		reversed = trade
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Trade reversed", "trade_id", id, "holding_id", reversed.HoldingID)
	return reversed, nil
}

func (s *PortfolioStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (s *PortfolioStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if stderrors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// Fixed-width fractions keep TEXT timestamps ordered.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.InternalError, "failed to parse timestamp", err)
	}
	return t, nil
}
