package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorKey contextKey = "actor"

// throttleMiddleware applies the API-wide token bucket.
func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates the bearer token and puts the subject on the
// request context as the audited actor.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}

		token, err := jwt.Parse(
			strings.TrimPrefix(header, "Bearer "),
			func(t *jwt.Token) (interface{}, error) {
				return []byte(s.config.JWTSecret), nil
			},
			jwt.WithValidMethods([]string{"HS256"}),
		)
		if err != nil || !token.Valid {
			s.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			s.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "token missing subject"})
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom returns the authenticated operator identity.
func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}
