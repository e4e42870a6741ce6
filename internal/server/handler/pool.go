package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// PoolService defines the methods that the pool handler requires from the
// service layer.
type PoolService interface {
	Create(ctx context.Context, caller common.Address, allowance uint64, args engine.CreatePoolArgs) (domain.Pool, error)
	Contribute(ctx context.Context, caller common.Address, allowance uint64, args engine.ContributeArgs) (domain.Pool, error)
	WithdrawExpired(ctx context.Context, caller common.Address, args engine.PoolIDArgs) (uint64, error)
	EarlyWithdraw(ctx context.Context, caller common.Address, args engine.PoolIDArgs) (uint64, error)
	Get(ctx context.Context, id uint64) (domain.Pool, error)
	Contributors(ctx context.Context, id uint64) ([]domain.PoolContribution, error)
	ListByOpinion(ctx context.Context, opinionID uint64, opts domain.ListOpts) ([]domain.Pool, error)
	ListByStatus(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error)
}

// PoolHandler serves pool-related HTTP endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given service and logger.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:  pools,
		logger: logger,
	}
}

// createPoolRequest is the JSON body of POST /api/pools. Deadline is RFC3339.
type createPoolRequest struct {
	Caller              string    `json:"caller"`
	Allowance           uint64    `json:"allowance"`
	OpinionID           uint64    `json:"opinion_id"`
	ProposedAnswer      string    `json:"proposed_answer"`
	Name                string    `json:"name"`
	IPFSHash            string    `json:"ipfs_hash"`
	Deadline            time.Time `json:"deadline"`
	InitialContribution uint64    `json:"initial_contribution"`
}

// CreatePool opens a crowdfunding pool for an opinion.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := h.pools.Create(r.Context(), caller, req.Allowance, engine.CreatePoolArgs{
		OpinionID:           req.OpinionID,
		ProposedAnswer:      req.ProposedAnswer,
		Name:                req.Name,
		IPFSHash:            req.IPFSHash,
		Deadline:            req.Deadline,
		InitialContribution: req.InitialContribution,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pool)
}

// ListPools returns pools filtered by opinion or status.
// GET /api/pools?opinion_id=1 or GET /api/pools?status=active
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		pools []domain.Pool
		err   error
	)
	switch {
	case q.Get("opinion_id") != "":
		var opinionID uint64
		opinionID, err = parseUint(q.Get("opinion_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid opinion_id")
			return
		}
		pools, err = h.pools.ListByOpinion(r.Context(), opinionID, opts)
	case q.Get("status") != "":
		status := domain.PoolStatus(q.Get("status"))
		switch status {
		case domain.PoolStatusActive, domain.PoolStatusExecuted, domain.PoolStatusExpired:
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		pools, err = h.pools.ListByStatus(r.Context(), status, opts)
	default:
		pools, err = h.pools.ListByStatus(r.Context(), domain.PoolStatusActive, opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list pools failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list pools")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pools":  pools,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetPool returns a single pool by its ID.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	pool, err := h.pools.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPoolID) {
			writeError(w, http.StatusNotFound, "pool not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get pool failed",
			slog.Uint64("pool_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get pool")
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

// GetContributors returns the contribution ledger of a pool.
// GET /api/pools/{id}/contributions
func (h *PoolHandler) GetContributors(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	contributions, err := h.pools.Contributors(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPoolID) {
			writeError(w, http.StatusNotFound, "pool not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get contributors failed",
			slog.Uint64("pool_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get contributors")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"contributions": contributions})
}

// contributeRequest is the JSON body of POST /api/pools/{id}/contribute.
type contributeRequest struct {
	Caller    string `json:"caller"`
	Allowance uint64 `json:"allowance"`
	Amount    uint64 `json:"amount"`
}

// Contribute adds funds to an active pool, possibly executing it.
// POST /api/pools/{id}/contribute
func (h *PoolHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	var req contributeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := h.pools.Contribute(r.Context(), caller, req.Allowance, engine.ContributeArgs{
		PoolID: id,
		Amount: req.Amount,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

// withdrawRequest is the JSON body of the pool withdraw endpoints.
type withdrawRequest struct {
	Caller string `json:"caller"`
}

// WithdrawExpired refunds the caller's contribution from an expired pool.
// POST /api/pools/{id}/withdraw
func (h *PoolHandler) WithdrawExpired(w http.ResponseWriter, r *http.Request) {
	h.withdraw(w, r, h.pools.WithdrawExpired)
}

// EarlyWithdraw refunds the caller's contribution from an active pool,
// less the early-withdrawal penalty.
// POST /api/pools/{id}/early-withdraw
func (h *PoolHandler) EarlyWithdraw(w http.ResponseWriter, r *http.Request) {
	h.withdraw(w, r, h.pools.EarlyWithdraw)
}

func (h *PoolHandler) withdraw(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, caller common.Address, args engine.PoolIDArgs) (uint64, error),
) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := fn(r.Context(), caller, engine.PoolIDArgs{PoolID: id})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}
