package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/auth"
	"lv-tradecore/internal/httputil"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

func WithAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				httputil.WriteError(w, r, apperr.Authentication("missing bearer token"))
				return
			}
			userID, err := svc.ParseToken(strings.TrimSpace(parts[1]))
			if err != nil {
				httputil.WriteError(w, r, apperr.Authentication("invalid token"))
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserID(r *http.Request) (string, bool) {
	v := r.Context().Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// InternalAuth admits service callers presenting the token whose bcrypt
// hash is configured.
func InternalAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.VerifyInternalToken(tokenHash, r.Header.Get("X-Internal-Token")) {
				httputil.WriteError(w, r, apperr.Authentication("invalid internal token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Correlation tags the request with the caller's X-Request-ID or a fresh
// one, and echoes it back.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := httputil.NewCorrelationID(strings.TrimSpace(r.Header.Get("X-Request-ID")))
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(httputil.WithCorrelationID(r.Context(), id)))
	})
}

func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("correlation_id", httputil.CorrelationID(r.Context())),
			)
		})
	}
}

// withUser adapts a handler that needs the authenticated caller.
func withUser(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteError(w, r, apperr.Authentication("unauthorized"))
			return
		}
		fn(w, r, userID)
	}
}
