// Control-plane bearer-token auth, grounded on the teacher's
// internal/webhooks/auth.go AuthMiddleware — its JWT leg kept nearly
// verbatim (HMAC-only parsing, `sub` claim as the caller identity), its
// API-key leg dropped since Uho has no API-key store to back it: the
// control-plane mutating routes (registerProgram, setStatus,
// createBackfill, createWebhook, ...) are the only ones that require a
// caller identity at all; the public query and WebSocket surface (§6)
// is read-only and unauthenticated by design.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerIDKey contextKey = "uho_caller_id"

// AuthMiddleware validates a `Bearer` JWT signed with HMAC using secret,
// attaching the token's `sub` claim to the request context as the
// caller id.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

func (a *AuthMiddleware) extractCallerID(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid JWT claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("JWT missing sub claim")
	}
	return sub, nil
}

// Middleware rejects any non-OPTIONS request lacking a valid bearer
// token before it reaches a control-plane handler.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		callerID, err := a.extractCallerID(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "UNAUTHORIZED", "message": err.Error()})
			return
		}
		ctx := context.WithValue(r.Context(), callerIDKey, callerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(callerIDKey).(string)
	return v
}
