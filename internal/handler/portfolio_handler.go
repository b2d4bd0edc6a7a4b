package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
	"brokerage/internal/service"
)

type PortfolioHandler struct {
	portfolioService *service.PortfolioService
	tradeService     *service.TradeService
}

func NewPortfolioHandler(portfolioService *service.PortfolioService, tradeService *service.TradeService) *PortfolioHandler {
	return &PortfolioHandler{
		portfolioService: portfolioService,
		tradeService:     tradeService,
	}
}

// BuyRequest is the wire form of a buy. Field checks are left to the trade
// service so that every rejection is reported as a TradeResponse.
type BuyRequest struct {
	ClientID       int64           `json:"client_id"`
	Symbol         string          `json:"symbol"`
	Quantity       int64           `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	IdempotencyKey *uuid.UUID      `json:"idempotency_key,omitempty"`
}

// Routes registers the portfolio and trade endpoints on router.
func (h *PortfolioHandler) Routes(router *mux.Router) {
	router.HandleFunc("/portfolios/buy", h.Buy).Methods("POST")
	router.HandleFunc("/portfolios/trades", h.ListTrades).Methods("GET")
	router.HandleFunc("/portfolios/trades/{trade_id}", h.GetTrade).Methods("GET")
	router.HandleFunc("/portfolios/trades/{trade_id}/reverse", h.ReverseTrade).Methods("POST")
	router.HandleFunc("/portfolios/{client_id:[0-9]+}", h.GetPortfolio).Methods("GET")
	router.HandleFunc("/portfolios/{client_id:[0-9]+}/holdings", h.GetHoldings).Methods("GET")
}

func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	clientID, err := clientIDVar(r)
	if err != nil {
		writeError(w, err)
		return
	}

	portfolio, err := h.portfolioService.GetPortfolio(r.Context(), clientID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, portfolio)
}

func (h *PortfolioHandler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	clientID, err := clientIDVar(r)
	if err != nil {
		writeError(w, err)
		return
	}

	holdings, err := h.portfolioService.GetHoldings(r.Context(), clientID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, holdings)
}

func (h *PortfolioHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp := h.tradeService.Buy(r.Context(), domain.TradeRequest{
		ClientID:       req.ClientID,
		Symbol:         req.Symbol,
		Quantity:       req.Quantity,
		Price:          req.Price,
		IdempotencyKey: req.IdempotencyKey,
	})

	writeJSON(w, tradeStatus(resp.State), resp)
}

// tradeStatus maps the final state of a buy to its HTTP status.
func tradeStatus(state domain.TradeState) int {
	switch state {
	case domain.TradeDebited:
		return http.StatusOK
	case domain.TradeRejectedInvalid, domain.TradeRejectedNoFunds:
		return http.StatusBadRequest
	case domain.TradeRejectedNoPortfolio:
		return http.StatusNotFound
	case domain.TradeHoldingRecorded, domain.TradeReversed:
		return http.StatusConflict
	case domain.TradeIdempotencyMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *PortfolioHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	state := domain.TradeState(r.URL.Query().Get("state"))

	trades, err := h.tradeService.ListTrades(r.Context(), state)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trades)
}

func (h *PortfolioHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := tradeIDVar(r)
	if err != nil {
		writeError(w, err)
		return
	}

	trade, err := h.tradeService.GetTrade(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

func (h *PortfolioHandler) ReverseTrade(w http.ResponseWriter, r *http.Request) {
	id, err := tradeIDVar(r)
	if err != nil {
		writeError(w, err)
		return
	}

	trade, err := h.tradeService.ReverseTrade(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

func tradeIDVar(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["trade_id"])
	if err != nil {
		return uuid.Nil, errors.NewAppError(errors.InvalidInput, "invalid trade id").WithDetails(err.Error())
	}
	return id, nil
}
