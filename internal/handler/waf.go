package handler

import (
	"net/http"
	"time"

	"bot-admission-gateway/internal/clientip"
	"bot-admission-gateway/internal/core"
	"bot-admission-gateway/internal/logger"
	"bot-admission-gateway/internal/service"
	"bot-admission-gateway/pkg/response"
)

// WAFHandler is the front door. Every non-API request passes through the
// admission gate before it reaches the upstream.
type WAFHandler struct {
	gate     *service.AdmissionGate
	resolver *clientip.Resolver
	upstream http.Handler
}

func NewWAFHandler(gate *service.AdmissionGate, resolver *clientip.Resolver, upstream http.Handler) *WAFHandler {
	return &WAFHandler{gate: gate, resolver: resolver, upstream: upstream}
}

func (h *WAFHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	clientIP := h.resolver.SourceID(r)

	dec := h.gate.Admit(core.AdmissionRequest{
		SourceID:  clientIP,
		Path:      r.URL.Path,
		Method:    r.Method,
		UserAgent: r.UserAgent(),
		Now:       time.Now(),
	})

	log := logger.L(r.Context())
	if !dec.Admit {
		log.Warn("request denied", "ip", clientIP, "path", r.URL.Path, "verdict", dec.Verdict, "reason", dec.Reason)
		msg := "Access Denied: IP Blocked"
		if dec.Verdict == core.Block {
			msg = "Access Denied: Your IP has been flagged as a bot."
		}
		response.JSON(w, map[string]interface{}{
			"status":       "error",
			"message":      msg,
			"reason":       dec.Reason,
			"threat_level": dec.ThreatLevel,
		}, http.StatusForbidden)
		return
	}

	if dec.Verdict == core.Suspicious {
		log.Info("request flagged", "ip", clientIP, "path", r.URL.Path, "reason", dec.Reason, "score", dec.Score)
	}

	h.upstream.ServeHTTP(w, r)
}
