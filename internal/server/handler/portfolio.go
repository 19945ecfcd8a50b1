package handler

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/brokergw/internal/api"
	"github.com/alanyoungcy/brokergw/internal/domain"
)

// PortfolioService exposes holdings, cash and the execution ledger.
type PortfolioService interface {
	Holdings() []domain.Holding
	CashBalance() domain.CashBalance
	Executions(f domain.ExecutionFilter) []domain.Execution
}

// PortfolioHandler serves portfolio endpoints.
type PortfolioHandler struct {
	portfolio PortfolioService
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(p PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{portfolio: p}
}

// ListHoldings returns every open position.
// GET /api/holdings
func (h *PortfolioHandler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"holdings": api.FromHoldings(h.portfolio.Holdings())})
}

// GetCash returns the balance of every currency.
// GET /api/cash
func (h *PortfolioHandler) GetCash(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cash": h.portfolio.CashBalance()})
}

// ListExecutions returns recorded fills in chronological order.
// GET /api/executions?symbol=&security_type=&side=&from=&to=
func (h *PortfolioHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side := domain.OrderSide(strings.ToLower(q.Get("side")))
	if side != "" && side != domain.OrderSideBuy && side != domain.OrderSideSell {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	f := domain.ExecutionFilter{
		Symbol:       strings.ToUpper(q.Get("symbol")),
		SecurityType: domain.SecurityType(q.Get("security_type")),
		Side:         side,
		From:         from,
		To:           to,
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": api.FromExecutions(h.portfolio.Executions(f))})
}
