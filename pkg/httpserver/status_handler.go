package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/monitor"
)

type statusHandler struct {
	status StatusReporter
	logger *zap.Logger
}

func newStatusHandler(status StatusReporter, logger *zap.Logger) *statusHandler {
	return &statusHandler{status: status, logger: logger}
}

type statusResponse struct {
	Time     time.Time               `json:"time"`
	Sessions []sessionStatusResponse `json:"sessions"`
}

type sessionStatusResponse struct {
	monitor.SessionStatus
	TimeRemainingSeconds float64 `json:"time_remaining_seconds"`
}

// HandleStatus serves GET /api/status with every live monitor session.
func (h *statusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	sessions := h.status.Sessions()
	resp := statusResponse{
		Time:     now,
		Sessions: make([]sessionStatusResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, sessionStatusResponse{
			SessionStatus:        s,
			TimeRemainingSeconds: s.SettlementTime.Sub(now).Seconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("status-response-encode-failed", zap.Error(err))
	}
}
