package middleware

import (
	"context"
	"net/http"

	"bot-admission-gateway/pkg/response"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName carries the operator session token.
const CookieName = "auth_token"

type ctxKey string

const operatorKey ctxKey = "operator"

// Operator returns the authenticated operator name, if any.
func Operator(ctx context.Context) string {
	name, _ := ctx.Value(operatorKey).(string)
	return name
}

// AuthMiddleware guards dashboard routes. An empty secret disables the check.
func AuthMiddleware(jwtSecret string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if jwtSecret == "" {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CookieName)
			if err != nil {
				response.Unauthorized(w, "Unauthorized: No session cookie")
				return
			}

			token, err := jwt.Parse(cookie.Value, func(token *jwt.Token) (interface{}, error) {
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				response.Unauthorized(w, "Unauthorized: Invalid token")
				return
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				response.Unauthorized(w, "Unauthorized: Invalid claims")
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, sub)
			next(w, r.WithContext(ctx))
		}
	}
}
