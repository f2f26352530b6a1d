package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"bot-admission-gateway/internal/limiter"
	"bot-admission-gateway/internal/logger"
	"bot-admission-gateway/internal/middleware"
	"bot-admission-gateway/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const sessionTTL = 24 * time.Hour

// AuthConfig describes the single operator account.
type AuthConfig struct {
	User         string
	PasswordHash string
	JWTSecret    string
	SecureCookie bool

	// Attempts throttles logins per client; nil disables throttling.
	Attempts *limiter.Limiter
	ClientID func(*http.Request) string
}

// AuthHandler signs a single operator in against a bcrypt hash from config.
type AuthHandler struct {
	user         string
	passwordHash []byte
	jwtSecret    []byte
	secure       bool
	attempts     *limiter.Limiter
	clientID     func(*http.Request) string
}

func NewAuthHandler(cfg AuthConfig) *AuthHandler {
	clientID := cfg.ClientID
	if clientID == nil {
		clientID = func(r *http.Request) string { return r.RemoteAddr }
	}
	return &AuthHandler{
		user:         cfg.User,
		passwordHash: []byte(cfg.PasswordHash),
		jwtSecret:    []byte(cfg.JWTSecret),
		secure:       cfg.SecureCookie,
		attempts:     cfg.Attempts,
		clientID:     clientID,
	}
}

type loginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.MethodNotAllowed(w)
		return
	}

	var input loginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "Invalid JSON")
		return
	}

	if len(h.jwtSecret) == 0 || len(h.passwordHash) == 0 {
		response.ServiceUnavailable(w, "Login is not configured")
		return
	}

	client := h.clientID(r)
	if h.attempts != nil && !h.attempts.Allow(client) {
		logger.L(r.Context()).Warn("login throttled", "ip", client)
		response.Error(w, "Too many login attempts, try again later", http.StatusTooManyRequests)
		return
	}

	hashErr := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(input.Password))
	if input.Username != h.user || hashErr != nil {
		logger.L(r.Context()).Warn("failed login", "username", input.Username, "ip", client)
		response.Unauthorized(w, "Invalid username or password")
		return
	}
	if h.attempts != nil {
		h.attempts.Reset(client)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   h.user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	})
	signed, err := token.SignedString(h.jwtSecret)
	if err != nil {
		response.InternalServerError(w, "Could not create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    signed,
		Expires:  now.Add(sessionTTL),
		HttpOnly: true,
		Path:     "/",
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	response.Success(w, map[string]string{"user": h.user}, "Login successful")
}

func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{
		"status": "authenticated",
		"user":   middleware.Operator(r.Context()),
	}, "")
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	response.Success(w, nil, "Logged out")
}
