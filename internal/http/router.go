package http

import (
	"crypto/rsa"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/seat-booking/internal/idempotency"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/rateLimit"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RouterDeps are the optional cross-cutting pieces; nil members are skipped.
type RouterDeps struct {
	Logger      observability.Logger
	RateLimiter *rateLimit.RateLimiter
	Idempotency *idempotency.Idempotency
	AdminKey    *rsa.PublicKey
}

func SetupRouter(h *Handlers, deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(deps.RateLimiter, 100, time.Minute))
		r.Use(IdempotencyMiddleware(deps.Idempotency, deps.Logger))

		r.Get("/v1/showings/{showingID}/seats", h.ListSeats)
		r.Post("/v1/orders", h.CreateOrder)
		r.Get("/v1/orders/{orderNo}", h.GetOrder)
		r.Post("/v1/orders/{orderNo}/cancel", h.CancelOrder)
		r.Put("/v1/orders/{orderNo}/seats", h.ChangeSeats)
		r.Post("/v1/payments/callback", h.PaymentCallback)
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(deps.AdminKey))
		r.Use(IdempotencyMiddleware(deps.Idempotency, deps.Logger))

		r.Post("/v1/showings", h.OpenShowing)
		r.Post("/v1/showings/{showingID}/no-shows", h.MarkNoShows)
		r.Post("/v1/orders/{orderNo}/book", h.MarkBooked)
		r.Post("/v1/orders/{orderNo}/check-in", h.CheckIn)
		r.Post("/v1/referrers", h.RegisterReferrer)
		r.Get("/v1/referrers/{code}/commission", h.Commission)
		r.Post("/v1/referrers/{code}/adjustments", h.AdjustCommission)
	})

	return otelhttp.NewHandler(r, "seatbook-api")
}
