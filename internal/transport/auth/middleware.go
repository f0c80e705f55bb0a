package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"debt-titles/internal/domain"
)

type ctxKey string

const UserIDKey ctxKey = "userID"

type TokenFinder interface {
	FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.AccessToken, error)
}

// TokenMiddleware authenticates with "Authorization: Bearer <token>" and falls
// back to the ?token= query parameter used by websocket clients.
func TokenMiddleware(tokens TokenFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pat := lookup(r, tokens)
			if pat == nil {
				log.Printf("[AUTH] %s %s from %s: no valid token", r.Method, r.URL.Path, r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if pat.Expired(time.Now()) {
				log.Printf("[AUTH] token id=%d expired at %v", pat.ID, pat.ExpiresAt)
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), pat.UserID)))
		})
	}
}

func lookup(r *http.Request, tokens TokenFinder) *domain.AccessToken {
	var candidates []string
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		candidates = append(candidates, strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	}
	if q := r.URL.Query().Get("token"); q != "" {
		candidates = append(candidates, q)
	}

	for _, plain := range candidates {
		if plain == "" {
			continue
		}
		pat, err := tokens.FindTokenByPlainToken(r.Context(), plain)
		if err != nil {
			log.Printf("[AUTH] token lookup error: %v", err)
			continue
		}
		return pat
	}
	return nil
}

// StaticUserMiddleware puts a fixed user into every request. Used when auth is disabled.
func StaticUserMiddleware(userID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	if !ok {
		return 0, errors.New("userID not found in context")
	}
	return userID, nil
}
