package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// FeeService defines the methods that the fee handler requires from the
// service layer.
type FeeService interface {
	Claim(ctx context.Context, caller common.Address) (uint64, error)
	WithdrawPlatform(ctx context.Context, caller, to common.Address) (uint64, error)
	Balance(ctx context.Context, account common.Address) uint64
	Totals(ctx context.Context) domain.FeeTotals
	ListBalances(ctx context.Context, opts domain.ListOpts) ([]domain.FeeBalance, error)
}

// FeeHandler serves fee-ledger HTTP endpoints.
type FeeHandler struct {
	fees   FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler with the given service and logger.
func NewFeeHandler(fees FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{
		fees:   fees,
		logger: logger,
	}
}

// ListBalances returns nonzero claimable balances, largest first.
// GET /api/fees/balances
func (h *FeeHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.fees.ListBalances(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list balances failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list balances")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

// GetBalance returns one account's claimable balance.
// GET /api/fees/balances/{address}
func (h *FeeHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.Hex(),
		"amount":  h.fees.Balance(r.Context(), account),
	})
}

// GetTotals returns the audit totals of the fee ledger.
// GET /api/fees/totals
func (h *FeeHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fees.Totals(r.Context()))
}

// claimRequest is the JSON body of POST /api/fees/claim.
type claimRequest struct {
	Caller string `json:"caller"`
}

// Claim pays out the caller's entire accumulated balance.
// POST /api/fees/claim
func (h *FeeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.fees.Claim(r.Context(), caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}

// withdrawPlatformRequest is the JSON body of POST /api/fees/platform/withdraw.
type withdrawPlatformRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

// WithdrawPlatform sweeps accumulated platform fees to a destination account.
// Requires the treasury role.
// POST /api/fees/platform/withdraw
func (h *FeeHandler) WithdrawPlatform(w http.ResponseWriter, r *http.Request) {
	var req withdrawPlatformRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.fees.WithdrawPlatform(r.Context(), caller, to)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}
