package handler

import (
	"net/http"

	"bot-admission-gateway/internal/core"
	"bot-admission-gateway/internal/service"
	"bot-admission-gateway/pkg/response"
)

type DashboardHandler struct {
	gate *service.AdmissionGate
}

func NewDashboardHandler(gate *service.AdmissionGate) *DashboardHandler {
	return &DashboardHandler{gate: gate}
}

type statsResponse struct {
	TotalRequests  int64            `json:"total_requests"`
	BlockedIPs     int              `json:"blocked_ips"`
	BlockedIPsList []string         `json:"blocked_ips_list"`
	DetectedBots   int              `json:"detected_bots"`
	TrackedSources int              `json:"tracked_sources"`
	Logs           []core.LogRecord `json:"logs"`
	Detections     []core.Detection `json:"detections"`
}

// Stats is the single call the dashboard polls.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w)
		return
	}

	s := h.gate.Stats()
	response.JSON(w, statsResponse{
		TotalRequests:  s.TotalRequests,
		BlockedIPs:     s.BlockedCount,
		BlockedIPsList: h.gate.Ledger().BlockedIDs(),
		DetectedBots:   s.DetectionCount,
		TrackedSources: s.TrackedSources,
		Logs:           h.gate.RecentLogs(defaultLogLimit),
		Detections:     h.gate.Detections(),
	}, http.StatusOK)
}

func (h *DashboardHandler) Detections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w)
		return
	}
	response.Success(w, h.gate.Detections(), "")
}
