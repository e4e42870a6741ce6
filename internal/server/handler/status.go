package handler

import (
	"net/http"
	"time"
)

// EngineStatus is the read-only view of the live engine that the status
// endpoint needs. It is declared locally so the handler package does not
// depend on the concrete engine type.
type EngineStatus interface {
	Seq() uint64
	Paused() bool
}

// StatusHandler serves the engine status for dashboards and probes.
type StatusHandler struct {
	engine    EngineStatus
	mode      string
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler reporting the given run mode.
func NewStatusHandler(engine EngineStatus, mode string, startedAt time.Time) *StatusHandler {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &StatusHandler{engine: engine, mode: mode, startedAt: startedAt}
}

// GetStatus responds with the current run mode, pause state, and sequence
// position of the engine.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"paused":         h.engine.Paused(),
		"seq":            h.engine.Seq(),
		"uptime_seconds": uptime,
	})
}
