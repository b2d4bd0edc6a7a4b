package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	AccountNotFound     ErrorCode = "account_not_found"
	PortfolioNotFound   ErrorCode = "portfolio_not_found"
	TradeNotFound       ErrorCode = "trade_not_found"
	DuplicateAccount    ErrorCode = "duplicate_account"
	DuplicatePortfolio  ErrorCode = "duplicate_portfolio"
	DuplicateTrade      ErrorCode = "duplicate_trade"
	DuplicateReference  ErrorCode = "duplicate_reference"
	InsufficientFunds   ErrorCode = "insufficient_funds"
	WithdrawalRejected  ErrorCode = "withdrawal_rejected"
	DepositRejected     ErrorCode = "deposit_rejected"
	TradeNotReversible  ErrorCode = "trade_not_reversible"
	InvalidInput        ErrorCode = "invalid_input"
	InvalidAmount       ErrorCode = "invalid_amount"
	InvalidClientID     ErrorCode = "invalid_client_id"
	UnsupportedVersion  ErrorCode = "unsupported_version"
	UpstreamUnavailable ErrorCode = "upstream_unavailable"
	InternalError       ErrorCode = "internal_error"
)

// Kind classifies an error by what the caller should do with it.
type Kind int

const (
	// KindTransient is an infrastructure failure; the operation may be retried by the caller.
	KindTransient Kind = iota
	// KindNotFound means the referenced client, account, portfolio or trade does not exist.
	KindNotFound
	// KindRejected is a business rule refusal such as insufficient funds or invalid input.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRejected:
		return "rejected"
	default:
		return "transient"
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches on the error code so copies made by WithDetails still compare
// equal to the predefined errors.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap builds an AppError that keeps cause for errors.Is/As and for logging.
func Wrap(code ErrorCode, message string, cause error) *AppError {
	e := &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details string) *AppError {
	c := *e
	c.Details = details
	return &c
}

func (e *AppError) Kind() Kind {
	switch e.Code {
	case AccountNotFound, PortfolioNotFound, TradeNotFound:
		return KindNotFound
	case InternalError, UpstreamUnavailable:
		return KindTransient
	default:
		return KindRejected
	}
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case AccountNotFound, PortfolioNotFound, TradeNotFound:
		return http.StatusNotFound
	case DuplicateAccount, DuplicatePortfolio, DuplicateTrade, DuplicateReference, TradeNotReversible:
		return http.StatusConflict
	case InsufficientFunds, WithdrawalRejected, DepositRejected:
		return http.StatusUnprocessableEntity
	case InvalidInput, InvalidAmount, InvalidClientID, UnsupportedVersion:
		return http.StatusBadRequest
	case UpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// From returns err as an *AppError, wrapping anything else as an internal error.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(InternalError, "an unexpected error occurred", err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// KindOf classifies err. Errors that are not AppErrors are transient.
func KindOf(err error) Kind {
	return From(err).Kind()
}

// Predefined errors for common cases
var (
	ErrAccountNotFound     = NewAppError(AccountNotFound, "account not found")
	ErrPortfolioNotFound   = NewAppError(PortfolioNotFound, "portfolio not found")
	ErrTradeNotFound       = NewAppError(TradeNotFound, "trade not found")
	ErrDuplicateAccount    = NewAppError(DuplicateAccount, "account already exists")
	ErrDuplicatePortfolio  = NewAppError(DuplicatePortfolio, "portfolio already exists")
	ErrDuplicateTrade      = NewAppError(DuplicateTrade, "trade with this idempotency key already exists")
	ErrDuplicateReference  = NewAppError(DuplicateReference, "balance change reference already used by another client")
	ErrInsufficientFunds   = NewAppError(InsufficientFunds, "insufficient funds")
	ErrWithdrawalRejected  = NewAppError(WithdrawalRejected, "withdrawal rejected")
	ErrDepositRejected     = NewAppError(DepositRejected, "deposit rejected")
	ErrTradeNotReversible  = NewAppError(TradeNotReversible, "only trades whose debit failed can be reversed")
	ErrInvalidAmount       = NewAppError(InvalidAmount, "amount must be greater than zero")
	ErrInvalidClientID     = NewAppError(InvalidClientID, "client id must be a positive integer")
	ErrUnsupportedVersion  = NewAppError(UnsupportedVersion, "unsupported contract version")
	ErrUpstreamUnavailable = NewAppError(UpstreamUnavailable, "upstream service unavailable")
)
