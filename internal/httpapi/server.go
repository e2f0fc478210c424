// Package httpapi is the HTTP surface of the voice cloning service: a demo
// page, the synthesis endpoint and health probes, routed with chi.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxUploadBytes = 20 << 20
	multipartMemoryBytes  = 8 << 20
	shutdownTimeout       = 10 * time.Second
)

// Construction errors.
var (
	ErrMissingSynthesizer = errors.New("httpapi: synthesizer is required")
	ErrMissingLogger      = errors.New("httpapi: logger is required")
)

// Synthesizer is the inference handler the API delegates to.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.Request) (*core.Result, error)
}

// Checker reports whether a dependency is ready to serve.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Options configures the API.
type Options struct {
	Synthesizer        Synthesizer
	Checks             map[string]Checker
	Examples           []config.Example
	MaxConcurrent      int
	RateLimitPerMinute int
	AllowedOrigins     []string
	MaxUploadBytes     int64
	Log                *logger.Logger
}

// Server holds the routed handler and its queue.
type Server struct {
	synthesizer    Synthesizer
	checks         map[string]Checker
	examples       []config.Example
	queue          *semaphore.Weighted
	maxUploadBytes int64
	log            *logger.Logger
	router         chi.Router
}

// New builds the API from opts.
func New(opts Options) (*Server, error) {
	if opts.Synthesizer == nil {
		return nil, ErrMissingSynthesizer
	}

	if opts.Log == nil {
		return nil, ErrMissingLogger
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrent
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	s := &Server{
		synthesizer:    opts.Synthesizer,
		checks:         opts.Checks,
		examples:       opts.Examples,
		queue:          semaphore.NewWeighted(int64(maxConcurrent)),
		maxUploadBytes: maxUpload,
		log:            opts.Log,
	}

	s.router = s.routes(opts)

	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/", s.index)
	r.Get("/examples/{index}/reference", s.exampleReference)

	r.Group(func(r chi.Router) {
		if opts.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(
				opts.RateLimitPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, kindRateLimited, msgRateLimited)
				}),
			))
		}

		r.Post("/api/synthesize", s.synthesize)
	})

	return r
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// the server down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, cfg config.ServerConfig) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return shutdownErr
	}

	err := <-errChan
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Info("%s %s %d %dB %s", r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(),
			time.Since(started).Round(time.Millisecond))
	})
}
