package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Response represents a standard API response structure
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CommandResult is the reply shape of block/unblock style commands.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Success sends a successful JSON response
func Success(w http.ResponseWriter, data interface{}, message string) {
	JSON(w, Response{Status: "success", Message: message, Data: data}, http.StatusOK)
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, message string, statusCode int) {
	JSON(w, Response{Status: "error", Message: message, Error: message}, statusCode)
}

// Command answers an operator command.
func Command(w http.ResponseWriter, success bool, message string, statusCode int) {
	JSON(w, CommandResult{Success: success, Message: message}, statusCode)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusBadRequest)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusUnauthorized)
}

// Forbidden sends a 403 Forbidden response
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusForbidden)
}

// InternalServerError sends a 500 Internal Server Error response
func InternalServerError(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusInternalServerError)
}

// MethodNotAllowed sends a 405 Method Not Allowed response
func MethodNotAllowed(w http.ResponseWriter) {
	Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// NotFound sends a 404 Not Found response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusNotFound)
}

// ServiceUnavailable sends a 503 Service Unavailable response
func ServiceUnavailable(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusServiceUnavailable)
}

// JSON sends a custom JSON response with the given status code
func JSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Warn("error encoding JSON response", "error", err)
	}
}
