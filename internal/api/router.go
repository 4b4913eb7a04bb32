// Package api serves nearby-event search and catalog statistics over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/search"
)

// Searcher runs nearby searches.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
	Config() search.Config
}

// StatsProvider reports catalog statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (search.Snapshot, error)
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Gatherer may be nil, in
// which case /metrics is not mounted.
type Deps struct {
	Search      Searcher
	Stats       StatsProvider
	Store       Pinger
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

// Handler holds route handlers.
type Handler struct {
	search Searcher
	stats  StatsProvider
	store  Pinger
	log    *zap.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) http.Handler {
	h := &Handler{
		search: d.Search,
		stats:  d.Stats,
		store:  d.Store,
		log:    zap.L().With(zap.String("component", "api")),
	}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))
		r.Get("/events/nearby", h.Nearby)
		r.Get("/stats", h.Stats)
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, codeNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, r.Method+" not allowed")
	})
	return r
}

// requestLogger logs one line per request at debug level, and at warn level
// for server errors.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Warn("request failed", fields...)
				return
			}
			log.Debug("request", fields...)
		})
	}
}
