package http

import (
	"bytes"
	"crypto/rsa"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/seat-booking/internal/idempotency"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/rateLimit"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.WithFields(map[string]interface{}{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request")
		})
	}
}

// MetricsMiddleware counts requests by route pattern so path parameters do not explode cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status()), r.Method).Inc()
	})
}

// JWTMiddleware admits requests bearing an RS256 token with role=admin. A nil key disables the check.
func JWTMiddleware(key *rsa.PublicKey) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing bearer token"})
				return
			}
			claims := jwt.MapClaims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "invalid token"})
				return
			}
			if role, _ := claims["role"].(string); role != "admin" {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "admin role required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParsePublicKey reads a PEM encoded RSA public key; empty input yields nil.
func ParsePublicKey(pem string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(pem) == "" {
		return nil, nil
	}
	return jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
}

// IdempotencyMiddleware replays the stored response for a repeated Idempotency-Key on POST
// and PUT requests. Requests without a key are passed through.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idemp == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < 16 {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Message: "invalid Idempotency-Key"})
				return
			}
			scoped := r.Method + " " + r.URL.Path + " " + key

			existing, err := idemp.Get(r.Context(), scoped)
			if err != nil {
				logger.WithError(err).Warn("idempotency lookup failed")
			}
			if existing != nil {
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.Status)
				w.Write(existing.Result)
				return
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			// Server errors and retryable failures are not remembered so the client can retry.
			if ww.Status() >= 500 {
				return
			}
			resp := idempotency.Response{Status: ww.Status(), ContentType: ww.Header().Get("Content-Type"), Result: body.Bytes()}
			if err := idemp.Set(r.Context(), scoped, resp); err != nil {
				logger.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

func RateLimitMiddleware(rl *rateLimit.RateLimiter, rate int, period time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !rl.Allow(r.Context(), "ip:"+ip, rate, period) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
