package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

type routerOptions struct {
	limiter *rate.Limiter
}

// Option configures NewRouter.
type Option func(*routerOptions)

// WithRateLimit caps the service at limit requests per second with the
// given burst. Requests over budget get 429.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *routerOptions) {
		o.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewRouter registers the user routes on a mux router and wraps it in the
// middleware chain. The chain sits outside the router so unmatched routes
// are logged too.
func NewRouter(h *Handler, logger *slog.Logger, opts ...Option) http.Handler {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := mux.NewRouter()
	r.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	r.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}", h.GetUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.UpdateUser).Methods(http.MethodPut)
	r.HandleFunc("/users/{id}", h.DeleteUser).Methods(http.MethodDelete)

	var handler http.Handler = r
	if o.limiter != nil {
		handler = rateLimit(o.limiter)(handler)
	}
	handler = recoverer(logger)(handler)
	handler = accessLog(logger)(handler)
	handler = requestID(handler)
	return handler
}
