package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity established by a delegated-credentials token.
type Claims struct {
	Permalink string
	AccountID string
	ClientID  string
}

// JWTValidator validates delegated-credentials tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Validator checks HS256 tokens minted by the auth manager.
type Validator struct {
	key []byte
}

func NewValidator(key []byte) *Validator {
	return &Validator{key: key}
}

func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	account, _ := claims["account"].(string)
	clientID, _ := claims["client_id"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	return &Claims{Permalink: sub, AccountID: account, ClientID: clientID}, nil
}

type contextKeyPermalink struct{}
type contextKeyAccountID struct{}
type contextKeyClientID struct{}

// GetPermalink retrieves the authenticated permalink from the context.
func GetPermalink(ctx context.Context) string {
	p, ok := ctx.Value(contextKeyPermalink{}).(string)
	if !ok {
		return ""
	}
	return p
}

func GetAccountID(ctx context.Context) string {
	a, ok := ctx.Value(contextKeyAccountID{}).(string)
	if !ok {
		return ""
	}
	return a
}

func GetClientID(ctx context.Context) string {
	c, ok := ctx.Value(contextKeyClientID{}).(string)
	if !ok {
		return ""
	}
	return c
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token's identity in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				unauthorized(w, "missing or malformed Authorization header")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "invalid token",
					"request_id", GetRequestID(r.Context()),
					"error", err,
				)
				unauthorized(w, "invalid or expired token")
				return
			}
			ctx := r.Context()
			ctx = context.WithValue(ctx, contextKeyPermalink{}, claims.Permalink)
			ctx = context.WithValue(ctx, contextKeyAccountID{}, claims.AccountID)
			ctx = context.WithValue(ctx, contextKeyClientID{}, claims.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
