package repository

import (
	"context"
	"log/slog"
	"time"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

var _ domain.StatementRepository = (*statementRepository)(nil)

type statementRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func newStatementRepository(db SQLExecutor, logger *slog.Logger) *statementRepository {
	return &statementRepository{
		db:     db,
		logger: logger,
	}
}

func (r *statementRepository) SaveStatement(ctx context.Context, file *domain.StatementFile) error {
	query := `
		INSERT INTO account_files (account_id, file_name, file_type, file_content, created_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING file_id
	`

	if file.CreatedDate.IsZero() {
		file.CreatedDate = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx,
		query,
		file.AccountID,
		file.FileName,
		file.FileType,
		file.Content,
		file.CreatedDate,
	).Scan(&file.FileID)
	if err != nil {
		r.logger.Error("Failed to save account file", "account_id", file.AccountID, "file_name", file.FileName, "error", err)
		return errors.Wrap(errors.InternalError, "failed to save account file", err)
	}

	r.logger.Info("Saved account file", "account_id", file.AccountID, "file_name", file.FileName, "file_id", file.FileID)
	return nil
}
