package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisbric/connectkit"
	ckerrors "github.com/wisbric/connectkit/errors"
	"github.com/wisbric/connectkit/pkg/oauth"
)

// Server is the reference demo host: a chi router exposing connectkit's
// connect/callback/fetch/disconnect lifecycle plus health and metrics.
type Server struct {
	Router    *chi.Mux
	sdk       *connectkit.SDK
	logger    *slog.Logger
	startedAt time.Time
}

// NewServer builds the router and mounts every route over sdk.
func NewServer(sdk *connectkit.SDK, logger *slog.Logger, allowedOrigins []string) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		sdk:       sdk,
		logger:    logger,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)

	if reg := sdk.MetricsRegistry(); reg != nil {
		s.Router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.Router.Get("/connect/{provider}", s.handleConnect)
	s.Router.Get("/callback/{provider}", s.handleCallback)
	s.Router.Get("/fetch/{provider}", s.handleFetch)
	s.Router.Post("/disconnect/{provider}", s.handleDisconnect)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.Router.ServeHTTP(w, r) }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	health := s.sdk.GetHealth(r.Context())
	if !health.DistributedLocks.Healthy {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "distributed lock backend not ready")
		return
	}
	Respond(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"distributedLocks": health.DistributedLocks,
	})
}

func userIDFor(r *http.Request) string {
	if u := r.URL.Query().Get("user_id"); u != "" {
		return u
	}
	return "demo-user"
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	authURL, err := s.sdk.Connect(r.Context(), provider, userIDFor(r), connectOptionsFromQuery(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()
	params := map[string]string{
		"code":              q.Get("code"),
		"state":             q.Get("state"),
		"error":             q.Get("error"),
		"error_description": q.Get("error_description"),
	}

	tokens, err := s.sdk.HandleCallback(r.Context(), provider, userIDFor(r), params)
	if err != nil {
		s.respondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{
		"provider":  provider,
		"connected": true,
		"hasScope":  tokens.Scope != "",
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	params := map[string]string{}
	for k := range r.URL.Query() {
		params[k] = r.URL.Query().Get(k)
	}

	items, err := s.sdk.Fetch(r.Context(), provider, userIDFor(r), params)
	if err != nil {
		s.respondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := s.sdk.Disconnect(r.Context(), provider, userIDFor(r)); err != nil {
		s.respondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"provider": provider, "disconnected": "true"})
}

func connectOptionsFromQuery(r *http.Request) (opts oauth.ConnectOptions) {
	if scope := r.URL.Query().Get("scope"); scope != "" {
		opts.Scopes = []string{scope}
	}
	return opts
}

// respondError maps connectkit's typed error taxonomy onto HTTP status
// codes. Unrecognized errors fall back to 500.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var oauthErr *ckerrors.OAuthError
	var expiredErr *ckerrors.TokenExpiredError
	var notFoundErr *ckerrors.TokenNotFoundError
	var circuitErr *ckerrors.CircuitOpenError
	var rateLimitErr *ckerrors.RateLimitError
	var configErr *ckerrors.ConfigError
	var apiClientErr *ckerrors.ApiClientError
	var apiServerErr *ckerrors.ApiServerError

	switch {
	case errors.As(err, &oauthErr):
		status := http.StatusBadGateway
		if oauthErr.Denied {
			status = http.StatusForbidden
		}
		RespondError(w, status, "oauth_error", oauthErr.Error())
	case errors.As(err, &expiredErr):
		RespondError(w, http.StatusUnauthorized, "reconnect_required", expiredErr.Error())
	case errors.As(err, &notFoundErr):
		RespondError(w, http.StatusNotFound, "not_connected", notFoundErr.Error())
	case errors.As(err, &circuitErr):
		RespondError(w, http.StatusServiceUnavailable, "upstream_unavailable", circuitErr.Error())
	case errors.As(err, &rateLimitErr):
		RespondError(w, http.StatusTooManyRequests, "rate_limited", rateLimitErr.Error())
	case errors.As(err, &configErr):
		RespondError(w, http.StatusBadRequest, "invalid_request", configErr.Error())
	case errors.As(err, &apiClientErr):
		RespondError(w, http.StatusBadGateway, "provider_rejected_request", apiClientErr.Error())
	case errors.As(err, &apiServerErr):
		RespondError(w, http.StatusBadGateway, "provider_unavailable", apiServerErr.Error())
	default:
		s.logger.Error("unhandled request error", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

