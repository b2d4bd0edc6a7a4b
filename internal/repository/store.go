package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"brokerage/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	db       *sql.DB
	executor SQLExecutor
	logger   *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		db:       db,
		executor: db,
		logger:   logger,
	}
}

// Account returns the account queries bound to the current executor
func (s *Store) Account() *accountRepository {
	return newAccountRepository(s.executor, s.logger)
}

// Statement returns a StatementRepository using the current executor
func (s *Store) Statement() *statementRepository {
	return newStatementRepository(s.executor, s.logger)
}

func (s *Store) inTransaction() bool {
	_, ok := s.executor.(*sql.Tx)
	return ok
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	if s.inTransaction() {
		return errors.NewAppError(errors.InternalError, "nested transactions are not supported")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction", "error", err)
		return errors.Wrap(errors.InternalError, "failed to begin transaction", err)
	}

	txStore := &Store{
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

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
