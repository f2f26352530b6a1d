package handler

import (
	"context"
	"net/http"
	"time"

	"bot-admission-gateway/internal/estimator"
	"bot-admission-gateway/internal/logger"
	"bot-admission-gateway/pkg/response"
)

// Pinger checks one backing store.
type Pinger func(ctx context.Context) error

type SystemHandler struct {
	provider *estimator.Provider
	stores   map[string]Pinger
	started  time.Time
}

// NewSystemHandler reports on the model and on each named store.
func NewSystemHandler(provider *estimator.Provider, stores map[string]Pinger) *SystemHandler {
	return &SystemHandler{provider: provider, stores: stores, started: time.Now()}
}

func (h *SystemHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"system": "operational",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"model":  h.modelStatus(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbs := make(map[string]string, len(h.stores))
	for name, ping := range h.stores {
		if err := ping(ctx); err != nil {
			dbs[name] = "disconnected"
			status["system"] = "degraded"
		} else {
			dbs[name] = "connected"
		}
	}
	status["db"] = dbs

	response.Success(w, status, "")
}

func (h *SystemHandler) modelStatus() map[string]interface{} {
	m := h.provider.Model()
	if m == nil {
		return map[string]interface{}{"loaded": false}
	}
	return map[string]interface{}{
		"loaded":     true,
		"version":    m.Version,
		"trees":      len(m.Trees),
		"trained_at": m.TrainedAt,
	}
}

// ReloadModel re-resolves the artifact. The old model keeps serving if the
// reload fails.
func (h *SystemHandler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.MethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.provider.Load(ctx); err != nil {
		logger.L(r.Context()).Error("model reload failed", "error", err)
		response.Command(w, false, "Model reload failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	response.Command(w, true, "Model reloaded", http.StatusOK)
}
