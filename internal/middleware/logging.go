package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"bot-admission-gateway/internal/logger"
	"bot-admission-gateway/internal/metrics"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets the SSE stream push through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.Status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RequestLogger tags each request with an id, puts a request-scoped logger
// in its context and logs the outcome.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := logger.WithRequestID(logger.WithLogger(r.Context(), base), id)
			recorder := &statusRecorder{ResponseWriter: w, Status: http.StatusOK}

			next.ServeHTTP(recorder, r.WithContext(ctx))

			elapsed := time.Since(start)
			metrics.ObserveHTTP(r.Method, routeLabel(r.URL.Path), recorder.Status, elapsed)

			lvl := slog.LevelInfo
			if recorder.Status >= http.StatusInternalServerError {
				lvl = slog.LevelError
			}
			logger.L(ctx).Log(ctx, lvl, "http request",
				"method", r.Method,
				"uri", r.RequestURI,
				"remote", r.RemoteAddr,
				"status", recorder.Status,
				"duration", elapsed,
			)
		})
	}
}

func routeLabel(path string) string {
	switch {
	case path == "/metrics":
		return "metrics"
	case len(path) >= 5 && path[:5] == "/api/":
		return "api"
	default:
		return "front_door"
	}
}
