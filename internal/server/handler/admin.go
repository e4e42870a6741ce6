package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// AdminService defines the methods that the admin handler requires from the
// service layer.
type AdminService interface {
	Pause(ctx context.Context, caller common.Address) error
	Unpause(ctx context.Context, caller common.Address) error
	SetParams(ctx context.Context, caller common.Address, p engine.Params) error
	Params() engine.Params
	GrantRole(ctx context.Context, caller common.Address, role engine.Role, account common.Address) error
	RevokeRole(ctx context.Context, caller common.Address, role engine.Role, account common.Address) error
	ModerateAnswer(ctx context.Context, caller common.Address, args engine.ModerateAnswerArgs) (domain.Opinion, error)
	SetActive(ctx context.Context, caller common.Address, args engine.SetActiveArgs) (domain.Opinion, error)
}

// AdminHandler serves privileged HTTP endpoints. Role checks happen in the
// engine against the caller address; the route group is additionally behind
// the server's auth middleware.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// callerRequest is the JSON body of admin endpoints that only identify the
// caller.
type callerRequest struct {
	Caller string `json:"caller"`
}

// Pause halts all mutating engine operations.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.pauseToggle(w, r, h.admin.Pause)
}

// Unpause resumes engine operations.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.pauseToggle(w, r, h.admin.Unpause)
}

func (h *AdminHandler) pauseToggle(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, caller common.Address) error,
) {
	var req callerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := fn(r.Context(), caller); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetParams returns the live engine parameters.
// GET /api/admin/params
func (h *AdminHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Params())
}

// setParamsRequest is the JSON body of PUT /api/admin/params. The full
// parameter set is replaced atomically; partial updates are not supported.
type setParamsRequest struct {
	Caller string        `json:"caller"`
	Params engine.Params `json:"params"`
}

// SetParams replaces the engine parameter set. Admin only.
// PUT /api/admin/params
func (h *AdminHandler) SetParams(w http.ResponseWriter, r *http.Request) {
	var req setParamsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.SetParams(r.Context(), caller, req.Params); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.admin.Params())
}

// roleRequest is the JSON body of the role management endpoints.
type roleRequest struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Account string `json:"account"`
}

// GrantRole gives an account a role. Admin only.
// POST /api/admin/roles/grant
func (h *AdminHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, h.admin.GrantRole)
}

// RevokeRole removes a role from an account. Admin only.
// POST /api/admin/roles/revoke
func (h *AdminHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, h.admin.RevokeRole)
}

func (h *AdminHandler) roleChange(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, caller common.Address, role engine.Role, account common.Address) error,
) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := fn(r.Context(), caller, engine.Role(req.Role), account); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// moderateRequest is the JSON body of POST /api/admin/opinions/{id}/moderate.
type moderateRequest struct {
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

// ModerateAnswer replaces an abusive answer without a trade. Moderator only.
// POST /api/admin/opinions/{id}/moderate
func (h *AdminHandler) ModerateAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opinion id")
		return
	}
	var req moderateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opinion, err := h.admin.ModerateAnswer(r.Context(), caller, engine.ModerateAnswerArgs{
		OpinionID: id,
		Reason:    req.Reason,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opinion)
}

// setActiveRequest is the JSON body of POST /api/admin/opinions/{id}/active.
type setActiveRequest struct {
	Caller string `json:"caller"`
	Active bool   `json:"active"`
}

// SetActive activates or deactivates trading on an opinion. Moderator only.
// POST /api/admin/opinions/{id}/active
func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opinion id")
		return
	}
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opinion, err := h.admin.SetActive(r.Context(), caller, engine.SetActiveArgs{
		OpinionID: id,
		Active:    req.Active,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opinion)
}
