package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

const (
	statementTimeLayout = "2006-01-02 15:04:05"
	statementNameLayout = "20060102_150405"
)

var statementHeader = []string{"AccountId", "ClientId", "AccountType", "Balance", "IsActive", "CreatedDate"}

// GenerateStatement renders the client's account as a one-row CSV file and
// stores it next to the ledger.
func (s *AccountService) GenerateStatement(ctx context.Context, clientID int64) (*domain.StatementFile, error) {
	account, err := s.GetBalance(ctx, clientID)
	if err != nil {
		return nil, err
	}

	content, err := renderStatement(account)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to render statement", err)
	}

	now := time.Now().UTC()
	file := &domain.StatementFile{
		AccountID:   account.AccountID,
		FileName:    fmt.Sprintf("Account_Statement_%d_%s.csv", clientID, now.Format(statementNameLayout)),
		FileType:    "csv",
		Content:     content,
		CreatedDate: now,
	}
	if err := s.statements.SaveStatement(ctx, file); err != nil {
		return nil, err
	}

	s.logger.Info("Statement generated", "client_id", clientID, "file_name", file.FileName)
	return file, nil
}

func renderStatement(account *domain.Account) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(statementHeader); err != nil {
		return nil, err
	}
	if err := w.Write([]string{
		strconv.FormatInt(account.AccountID, 10),
		strconv.FormatInt(account.ClientID, 10),
		account.AccountType,
		account.Balance.StringFixed(2),
		activeFlag(account.IsActive),
		account.CreatedDate.UTC().Format(statementTimeLayout),
	}); err != nil {
		return nil, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// activeFlag renders the active flag capitalized, as statements always have.
func activeFlag(active bool) string {
	if active {
		return "True"
	}
	return "False"
}
