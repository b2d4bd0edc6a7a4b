// Package accountclient calls the account service over its versioned HTTP
// contract.
package accountclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"brokerage/internal/contract"
	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

// Client implements service.AccountGateway. It never retries: a debit that
// timed out may still have been applied, and the trade saga owns that
// decision, replaying it under the same reference.
type Client struct {
	client *resty.Client
	logger *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader(contract.VersionHeader, contract.Version)

	return &Client{client: client, logger: logger}
}

func (c *Client) GetAccount(ctx context.Context, clientID int64) (*domain.Account, error) {
	var snapshot contract.AccountSnapshot
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/accounts/%d", clientID), nil, &snapshot); err != nil {
		return nil, err
	}
	return toAccount(snapshot), nil
}

func (c *Client) VerifyFunds(ctx context.Context, clientID int64, required decimal.Decimal) (bool, error) {
	var resp contract.VerifyFundsResponse
	req := contract.VerifyFundsRequest{ClientID: clientID, RequiredAmount: required}
	if err := c.do(ctx, http.MethodPost, "/accounts/verify-funds", req, &resp); err != nil {
		return false, err
	}
	if resp.ClientID != clientID {
		return false, errors.NewAppErrorf(errors.UpstreamUnavailable, "verify-funds answered for client %d, asked for %d", resp.ClientID, clientID)
	}
	return resp.HasFunds, nil
}

// Withdraw debits amount. Calls repeated with the same non-empty reference
// are charged once.
func (c *Client) Withdraw(ctx context.Context, clientID int64, amount decimal.Decimal, reference string) (*domain.Account, error) {
	var snapshot contract.AccountSnapshot
	req := contract.BalanceChangeRequest{ClientID: clientID, Amount: amount, Reference: reference}
	if err := c.do(ctx, http.MethodPost, "/accounts/withdraw", req, &snapshot); err != nil {
		return nil, err
	}
	return toAccount(snapshot), nil
}

func (c *Client) Deposit(ctx context.Context, clientID int64, amount decimal.Decimal, reference string) (*domain.Account, error) {
	var snapshot contract.AccountSnapshot
	req := contract.BalanceChangeRequest{ClientID: clientID, Amount: amount, Reference: reference}
	if err := c.do(ctx, http.MethodPost, "/accounts/deposit", req, &snapshot); err != nil {
		return nil, err
	}
	return toAccount(snapshot), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	r := c.client.R().SetContext(ctx)
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	start := time.Now()
	resp, err := r.Execute(method, path)
	if err != nil {
		c.logger.Warn("Account service call failed", "method", method, "path", path, "duration", time.Since(start), "error", err)
		return errors.Wrap(errors.UpstreamUnavailable, "account service unreachable", err)
	}

	apiErr, decodeErr := contract.DecodeResponse(resp.Body(), out)
	switch {
	case apiErr != nil:
		return remoteError(resp.StatusCode(), apiErr)
	case decodeErr != nil:
		c.logger.Warn("Account service sent an unreadable response", "method", method, "path", path, "status", resp.StatusCode(), "error", decodeErr)
		return errors.Wrap(errors.UpstreamUnavailable, "unreadable account service response", decodeErr)
	case !resp.IsSuccess():
		return errors.NewAppErrorf(errors.UpstreamUnavailable, "account service answered %d", resp.StatusCode())
	}
	return nil
}

// remoteError maps an error envelope back onto the local error kinds.
func remoteError(status int, apiErr *contract.Error) error {
	switch status {
	case http.StatusNotFound:
		return errors.ErrAccountNotFound.WithDetails(apiErr.Message)
	case http.StatusUnprocessableEntity:
		if errors.ErrorCode(apiErr.Code) == errors.DepositRejected {
			return errors.ErrDepositRejected.WithDetails(apiErr.Details)
		}
		return errors.ErrWithdrawalRejected.WithDetails(apiErr.Details)
	case http.StatusBadRequest:
		return errors.NewAppError(errors.ErrorCode(apiErr.Code), apiErr.Message).WithDetails(apiErr.Details)
	}
	return errors.NewAppErrorf(errors.UpstreamUnavailable, "account service answered %d: %s", status, apiErr.Message)
}

func toAccount(s contract.AccountSnapshot) *domain.Account {
	return &domain.Account{
		AccountID:   s.AccountID,
		ClientID:    s.ClientID,
		AccountType: s.AccountType,
		Balance:     s.Balance,
		IsActive:    s.IsActive,
		CreatedDate: s.CreatedDate,
	}
}
