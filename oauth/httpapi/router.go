package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/oauth"
)

// AuthorizationServer is the part of oauth.Server the handlers call.
type AuthorizationServer interface {
	ValidateClient(ctx context.Context, clientID, redirectURI string) (oauth.Client, bool, error)
	GenerateAuthorizationCode(ctx context.Context, client oauth.Client, userID string, scopes []string) (string, error)
	ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (oauth.TokenBundle, error)
	RevokeToken(ctx context.Context, token string) error
}

// UserResolver returns the authenticated resource owner for an authorize
// request. ok=false means nobody is signed in.
type UserResolver func(r *http.Request) (userID string, ok bool)

type Option func(*Handler)

func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		h.observer.Logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(h *Handler) {
		h.observer.Metrics = recorder
	}
}

// WithMiddleware runs mw in front of every oauth route, e.g. a rate limiter.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.middleware = append(h.middleware, mw...)
	}
}

type Handler struct {
	server     AuthorizationServer
	users      UserResolver
	observer   core.Observer
	middleware []func(http.Handler) http.Handler
}

func NewHandler(server AuthorizationServer, users UserResolver, opts ...Option) (*Handler, error) {
	if server == nil {
		return nil, fmt.Errorf("httpapi: authorization server is required")
	}
	if users == nil {
		return nil, fmt.Errorf("httpapi: user resolver is required")
	}
	h := &Handler{
		server:   server,
		users:    users,
		observer: core.NewObserver(nil, nil, "integrations.oauth.http"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Routes mounts GET /authorize, POST /token and POST /revoke on a router
// meant to live under /oauth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.middleware...)
	r.Use(noStore)
	r.Get("/authorize", h.authorize)
	r.Post("/token", h.token)
	r.Post("/revoke", h.revoke)
	return r
}

// NewRouter returns a root router with the oauth routes under /oauth.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Mount("/oauth", h.Routes())
	return r
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}
