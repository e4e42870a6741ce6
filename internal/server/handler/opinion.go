package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// OpinionService defines the methods that the opinion handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type OpinionService interface {
	Create(ctx context.Context, caller common.Address, allowance uint64, args engine.CreateOpinionArgs) (domain.Opinion, error)
	SubmitAnswer(ctx context.Context, caller common.Address, allowance uint64, args engine.SubmitAnswerArgs) (domain.Opinion, error)
	ListForSale(ctx context.Context, caller common.Address, args engine.ListForSaleArgs) (domain.Opinion, error)
	BuyQuestion(ctx context.Context, caller common.Address, allowance uint64, args engine.BuyQuestionArgs) (domain.Opinion, error)
	Get(ctx context.Context, id uint64) (domain.Opinion, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Opinion, error)
	ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Opinion, error)
	History(ctx context.Context, opinionID uint64, opts domain.ListOpts) ([]domain.AnswerHistoryEntry, error)
	Count(ctx context.Context) (int64, error)
	Categories() []string
}

// OpinionHandler serves opinion-related HTTP endpoints.
type OpinionHandler struct {
	opinions OpinionService
	logger   *slog.Logger
}

// NewOpinionHandler creates an OpinionHandler with the given service and logger.
func NewOpinionHandler(opinions OpinionService, logger *slog.Logger) *OpinionHandler {
	return &OpinionHandler{
		opinions: opinions,
		logger:   logger,
	}
}

// listOpinionsResponse wraps the list endpoint output with metadata.
type listOpinionsResponse struct {
	Opinions []domain.Opinion `json:"opinions"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListOpinions returns opinions with pagination, optionally filtered by
// category.
// GET /api/opinions?category=crypto&limit=50&offset=0
func (h *OpinionHandler) ListOpinions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	category := r.URL.Query().Get("category")

	var (
		opinions []domain.Opinion
		err      error
	)
	if category != "" {
		opinions, err = h.opinions.ListByCategory(r.Context(), category, opts)
	} else {
		opinions, err = h.opinions.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opinions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opinions")
		return
	}

	total, err := h.opinions.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count opinions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count opinions")
		return
	}

	writeJSON(w, http.StatusOK, listOpinionsResponse{
		Opinions: opinions,
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetOpinion returns a single opinion by its ID.
// GET /api/opinions/{id}
func (h *OpinionHandler) GetOpinion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opinion id")
		return
	}

	opinion, err := h.opinions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrOpinionNotFound) || errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "opinion not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get opinion failed",
			slog.Uint64("opinion_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get opinion")
		return
	}

	writeJSON(w, http.StatusOK, opinion)
}

// GetHistory returns the answer history of an opinion, oldest first.
// GET /api/opinions/{id}/history
func (h *OpinionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opinion id")
		return
	}

	entries, err := h.opinions.History(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get history failed",
			slog.Uint64("opinion_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// GetCategories returns the configured category list.
// GET /api/categories
func (h *OpinionHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": h.opinions.Categories()})
}

// createOpinionRequest is the JSON body of POST /api/opinions.
type createOpinionRequest struct {
	Caller       string   `json:"caller"`
	Allowance    uint64   `json:"allowance"`
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Description  string   `json:"description"`
	Link         string   `json:"link"`
	IPFSHash     string   `json:"ipfs_hash"`
	InitialPrice uint64   `json:"initial_price"`
	Categories   []string `json:"categories"`
}

// CreateOpinion registers a new opinion with its initial answer.
// POST /api/opinions
func (h *OpinionHandler) CreateOpinion(w http.ResponseWriter, r *http.Request) {
	var req createOpinionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opinion, err := h.opinions.Create(r.Context(), caller, req.Allowance, engine.CreateOpinionArgs{
		Question:     req.Question,
		Answer:       req.Answer,
		Description:  req.Description,
		Link:         req.Link,
		IPFSHash:     req.IPFSHash,
		InitialPrice: req.InitialPrice,
		Categories:   req.Categories,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, opinion)
}

// submitAnswerRequest is the JSON body of POST /api/opinions/{id}/answer.
type submitAnswerRequest struct {
	Caller      string `json:"caller"`
	Allowance   uint64 `json:"allowance"`
	Answer      string `json:"answer"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// SubmitAnswer buys the answer position of an opinion at its current price.
// POST /api/opinions/{id}/answer
func (h *OpinionHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opinion id")
		return
	}
	var req submitAnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opinion, err := h.opinions.SubmitAnswer(r.Context(), caller, req.Allowance, engine.SubmitAnswerArgs{
		OpinionID:   id,
		Answer:      req.Answer,
		Description: req.Description,
		Link:        req.Link,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, opinion)
}

// listForSaleRequest is the JSON body of POST /api/opinions/{id}/sale.
// A sale price of 0 delists the question.
type listForSaleRequest struct {
	Caller    string `json:"caller"`
	SalePrice uint64 `json:"sale_price"`
}

// ListForSale lists or delists the caller's question ownership.
// POST /api/opinions/{id}/sale
func (h *OpinionHandler) ListForSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opinion id")
		return
	}
	var req listForSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opinion, err := h.opinions.ListForSale(r.Context(), caller, engine.ListForSaleArgs{
		OpinionID: id,
		SalePrice: req.SalePrice,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, opinion)
}

// buyQuestionRequest is the JSON body of POST /api/opinions/{id}/buy.
// OfferedPrice must match the listed sale price exactly.
type buyQuestionRequest struct {
	Caller       string `json:"caller"`
	Allowance    uint64 `json:"allowance"`
	OfferedPrice uint64 `json:"offered_price"`
}

// BuyQuestion transfers question ownership to the caller at the listed price.
// POST /api/opinions/{id}/buy
func (h *OpinionHandler) BuyQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opinion id")
		return
	}
	var req buyQuestionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opinion, err := h.opinions.BuyQuestion(r.Context(), caller, req.Allowance, engine.BuyQuestionArgs{
		OpinionID:    id,
		OfferedPrice: req.OfferedPrice,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, opinion)
}
