// Package api exposes the entries API over HTTP. Write routes pass through
// the abuse gate before touching the store; read routes bypass it.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/entry"
	"github.com/securelog/entries-api/internal/gate"
	"github.com/securelog/entries-api/internal/metrics"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 10 << 10

// Config holds HTTP surface settings.
type Config struct {
	CORSOrigins    []string
	StreamInterval time.Duration // status stream push period
	WriteTimeout   time.Duration // per-frame write deadline on the stream
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		CORSOrigins:    []string{"*"},
		StreamInterval: time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	gate  *gate.Gate
	store entry.Store
	clock clock.Clock
	cfg   Config
}

// NewServer creates a Server. Zero Config fields take DefaultConfig values.
func NewServer(g *gate.Gate, store entry.Store, clk clock.Clock, cfg Config) *Server {
	def := DefaultConfig()
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = def.CORSOrigins
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = def.StreamInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Server{gate: g, store: store, clock: clk, cfg: cfg}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))
	r.Use(instrument)
	r.Use(limitBody)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1/entries", func(r chi.Router) {
		r.Get("/", s.listEntries)
		r.Post("/", s.createEntry)
		r.Get("/cooldown/status", s.cooldownStatus)
		r.Get("/cooldown/stream", s.streamStatus)
		r.Post("/report-attack", s.reportAttack)
		r.Get("/{id}", s.getEntry)
		r.Put("/{id}", s.updateEntry)
		r.Delete("/{id}", s.deleteEntry)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, failureBody("Route not found", r.URL.Path))
	})
	return r
}

// instrument records handler latency by route pattern and status.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			// Hijacked for the status stream.
			status = http.StatusSwitchingProtocols
		}
		metrics.RequestLatency.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
