package router

import (
	"net/http"

	"bot-admission-gateway/internal/handler"
	"bot-admission-gateway/internal/metrics"
	"bot-admission-gateway/internal/middleware"
	"bot-admission-gateway/pkg/response"
)

// Handlers groups everything the mux dispatches to.
type Handlers struct {
	Auth      *handler.AuthHandler
	Dashboard *handler.DashboardHandler
	Blocklist *handler.BlocklistHandler
	Logs      *handler.LogHandler
	System    *handler.SystemHandler
	WAF       *handler.WAFHandler
}

// Setup configures all API routes and returns the configured mux
func Setup(h Handlers, jwtSecret string) *http.ServeMux {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(jwtSecret)

	// System (Public)
	mux.HandleFunc("/api/status", h.System.SystemStatus)
	mux.Handle("/metrics", metrics.Handler())

	// Authentication
	mux.HandleFunc("/api/auth/login", h.Auth.Login)
	mux.HandleFunc("/api/auth/logout", h.Auth.Logout)
	mux.HandleFunc("/api/auth/check", auth(h.Auth.CheckAuth))

	// Dashboard reads
	mux.HandleFunc("/api/stats", h.Dashboard.Stats)
	mux.HandleFunc("/api/detections", h.Dashboard.Detections)
	mux.HandleFunc("/api/logs", h.Logs.RecentLogs)
	mux.HandleFunc("/api/blocklist", h.Blocklist.List)
	mux.HandleFunc("/api/blocklist/check", h.Blocklist.Check)
	mux.HandleFunc("/api/blocklist/bloom", h.Blocklist.Bloom)

	// Live streams
	mux.HandleFunc("/api/stream", h.Logs.SSEHandler)
	mux.HandleFunc("/api/ws", h.Logs.WSHandler)

	// Operator commands (Protected)
	mux.HandleFunc("/api/block", auth(h.Blocklist.Block))
	mux.HandleFunc("/api/unblock", auth(h.Blocklist.Unblock))
	mux.HandleFunc("/api/model/reload", auth(h.System.ReloadModel))

	// Unknown API paths are not site traffic
	mux.HandleFunc("/api", apiNotFound)
	mux.HandleFunc("/api/", apiNotFound)

	// WAF Handler - Catches all other traffic
	mux.HandleFunc("/", h.WAF.HandleRequest)

	return mux
}

func apiNotFound(w http.ResponseWriter, r *http.Request) {
	response.NotFound(w, "Unknown API endpoint")
}
