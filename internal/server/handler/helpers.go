package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps a rejected engine transition to an HTTP status. The
// engine's sentinel errors survive wrapping, so errors.Is is sufficient.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrOpinionNotFound),
		errors.Is(err, domain.ErrInvalidPoolID),
		errors.Is(err, domain.ErrNoContributionFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrTransferFailed):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrTradeThrottled),
		errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPaused),
		errors.Is(err, domain.ErrNotPaused),
		errors.Is(err, domain.ErrSameOwner),
		errors.Is(err, domain.ErrOpinionNotActive),
		errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrNotForSale),
		errors.Is(err, domain.ErrCreationDisabled),
		errors.Is(err, domain.ErrNoFeesToClaim),
		errors.Is(err, domain.ErrPoolNotActive),
		errors.Is(err, domain.ErrPoolDeadlinePassed),
		errors.Is(err, domain.ErrPoolAlreadyExecuted),
		errors.Is(err, domain.ErrPoolAlreadyFullyFunded),
		errors.Is(err, domain.ErrPoolNotExpired),
		errors.Is(err, domain.ErrAlreadyRefunded):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEmptyString),
		errors.Is(err, domain.ErrTooManyCategories),
		errors.Is(err, domain.ErrPriceOverflow),
		errors.Is(err, domain.ErrPriceBelowMinimum),
		errors.Is(err, domain.ErrDeadlineTooShort),
		errors.Is(err, domain.ErrDeadlineTooLong),
		errors.Is(err, domain.ErrContributionTooLow),
		errors.Is(err, domain.ErrProposedAnswerMatchesCurrent),
		errors.Is(err, domain.ErrPoolNameInvalid):
		status = http.StatusBadRequest
	}
	var tooLong *domain.TextTooLongError
	if errors.As(err, &tooLong) {
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a JSON request body into dst, capping the body size.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("handler: decode request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID extracts a numeric path parameter using Go 1.22+ built-in routing
// (http.Request.PathValue).
func pathID(r *http.Request, name string) (uint64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("handler: invalid %s %q", name, raw)
	}
	return id, nil
}

// parseUint parses a positive decimal identifier from a query parameter.
func parseUint(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("handler: invalid numeric value %q", s)
	}
	return n, nil
}

// parseAddress validates and decodes a 20-byte hex account address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("handler: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
