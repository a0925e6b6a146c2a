// Package server exposes the relay's operational HTTP surface: health,
// metrics, source status, manual runs, the delivery log and owner
// identity documents.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"fedifeed/relay/internal/server/api"
	"fedifeed/relay/internal/storage"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Store    Pinger
	Gatherer prometheus.Gatherer
	Attempts storage.AttemptRepository
	Sources  api.SourceReader
	Runs     api.RunTrigger
	Owners   api.OwnerLookup
	Identity api.IdentityBuilder
}

// NewRouter builds the routes and the request logging chain.
func NewRouter(deps Deps, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.MethodHandler("method"))
	r.Use(hlog.URLHandler("url"))
	r.Use(hlog.RemoteAddrHandler("remote_addr"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP Request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthCheckHandler(deps.Store))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	sources := api.NewSourcesHandler(deps.Sources, deps.Runs)
	attempts := api.NewAttemptsHandler(deps.Attempts)
	identity := api.NewIdentityHandler(deps.Owners, deps.Identity)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources", sources.List)
		r.Post("/sources/{id}/run", sources.Run)
		r.Get("/delivery-attempts", attempts.List)
	})
	r.Get("/users/{username}", identity.Get)

	return r
}

// RunServer serves handler on listenAddr until ctx is done, then shuts
// down gracefully.
func RunServer(ctx context.Context, listenAddr string, handler http.Handler, logger zerolog.Logger) error {
	logger = logger.With().Str("service", "relay-ops").Logger()

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("Ops server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed to start")
		}
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler responds 200 OK while the store answers and 503 otherwise.
func healthCheckHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)

		if err := store.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		}
	}
}
