package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bot-admission-gateway/internal/core"
	"bot-admission-gateway/internal/logger"
	"bot-admission-gateway/internal/trafficlog"
	"bot-admission-gateway/pkg/response"

	"github.com/gorilla/websocket"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 2000
)

type LogHandler struct {
	logs     *trafficlog.Buffer
	archive  core.LogRepository
	upgrader websocket.Upgrader
}

// NewLogHandler serves the live buffer. archive may be nil.
func NewLogHandler(logs *trafficlog.Buffer, archive core.LogRepository, allowedOrigins []string) *LogHandler {
	return &LogHandler{
		logs:    logs,
		archive: archive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients
				}
				if origin == "http://"+r.Host || origin == "https://"+r.Host {
					return true
				}
				for _, o := range allowedOrigins {
					if o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// RecentLogs returns the newest records. ?source=archive reads the store.
func (h *LogHandler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))

	if r.URL.Query().Get("source") == "archive" {
		if h.archive == nil {
			response.ServiceUnavailable(w, "No log archive configured")
			return
		}
		logs, err := h.archive.RecentLogs(r.Context(), int64(limit))
		if err != nil {
			logger.L(r.Context()).Error("archive query failed", "error", err)
			response.InternalServerError(w, "Failed to fetch logs")
			return
		}
		response.Success(w, logs, "")
		return
	}

	response.Success(w, h.logs.Recent(limit), "")
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLogLimit
	}
	if n > maxLogLimit {
		return maxLogLimit
	}
	return n
}

// SSEHandler streams log records as they are appended.
func (h *LogHandler) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable Nginx buffering
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.logs.Subscribe()
	defer h.logs.Unsubscribe(ch)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()

		case rec, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// WSHandler streams the same records over a websocket.
func (h *LogHandler) WSHandler(w http.ResponseWriter, r *http.Request) {
	ch := h.logs.Subscribe()
	defer h.logs.Unsubscribe(ch)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L(r.Context()).Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// read side only tracks liveness
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return

		case rec, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				return
			}

		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
