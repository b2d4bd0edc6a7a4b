package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"brokerage/internal/contract"
	"brokerage/internal/domain"
	"brokerage/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

// Routes registers the account endpoints on router.
func (h *AccountHandler) Routes(router *mux.Router) {
	router.HandleFunc("/accounts/verify-funds", h.VerifyFunds).Methods("POST")
	router.HandleFunc("/accounts/withdraw", h.Withdraw).Methods("POST")
	router.HandleFunc("/accounts/deposit", h.Deposit).Methods("POST")
	router.HandleFunc("/accounts/{client_id:[0-9]+}", h.GetAccount).Methods("GET")
	router.HandleFunc("/accounts/{client_id:[0-9]+}/statement", h.Statement).Methods("GET")
}

func snapshot(account *domain.Account) contract.AccountSnapshot {
	return contract.AccountSnapshot{
		AccountID:   account.AccountID,
		ClientID:    account.ClientID,
		AccountType: account.AccountType,
		Balance:     account.Balance,
		IsActive:    account.IsActive,
		CreatedDate: account.CreatedDate,
	}
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	clientID, err := clientIDVar(r)
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accountService.GetBalance(r.Context(), clientID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot(account))
}

func (h *AccountHandler) VerifyFunds(w http.ResponseWriter, r *http.Request) {
	var req contract.VerifyFundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	hasFunds, err := h.accountService.VerifyFunds(r.Context(), req.ClientID, req.RequiredAmount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, contract.VerifyFundsResponse{
		ClientID: req.ClientID,
		HasFunds: hasFunds,
	})
}

func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req contract.BalanceChangeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accountService.Debit(r.Context(), req.ClientID, req.Amount, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot(account))
}

func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req contract.BalanceChangeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accountService.Credit(r.Context(), req.ClientID, req.Amount, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot(account))
}

// Statement generates a CSV statement and returns it as a download.
func (h *AccountHandler) Statement(w http.ResponseWriter, r *http.Request) {
	clientID, err := clientIDVar(r)
	if err != nil {
		writeError(w, err)
		return
	}

	file, err := h.accountService.GenerateStatement(r.Context(), clientID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Content)))
	w.WriteHeader(http.StatusOK)
	w.Write(file.Content)
}
