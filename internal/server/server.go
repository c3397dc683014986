// Package server exposes captcha generation over HTTP.
//
// Routes:
//
//	GET  /healthz                liveness check
//	POST /v1/captchas            JSON config overlay in, JSON with base64 artifact out
//	GET  /v1/captchas/{format}   raw artifact, ground truth in X-Captcha-Text
//
// The API is meant to sit behind a trusted backend that keeps the ground
// truth and checks user answers itself; the server never verifies answers.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/observability"
	"github.com/matzehuels/animcaptcha/pkg/pipeline"
)

// Limits bound what a single request may ask for. A zero field is unlimited
// beyond what config validation allows.
type Limits struct {
	MaxWidth         int
	MaxHeight        int
	MaxFrames        int
	MaxNoiseScale    int
	MaxFontSize      int
	MaxDecoyCanvas   int
	MaxInitialDecoys int
}

// DefaultLimits allows up to 1280x720 and 20 seconds at 30 fps.
var DefaultLimits = Limits{
	MaxWidth:         1280,
	MaxHeight:        720,
	MaxFrames:        600,
	MaxNoiseScale:    12,
	MaxFontSize:      256,
	MaxDecoyCanvas:   256,
	MaxInitialDecoys: 500,
}

const (
	maxBodyBytes    = 64 << 10
	requestTimeout  = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// Server serves the generation API.
type Server struct {
	runner *pipeline.Runner
	base   config.Config
	limits Limits
	logger *log.Logger
	router chi.Router
}

// New returns a server whose requests start from base. Requests never write
// files: export settings in base other than the format are ignored.
func New(runner *pipeline.Runner, base config.Config, limits Limits, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		runner: runner,
		base:   base,
		limits: limits,
		logger: logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1/captchas", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/{format}", s.handleArtifact)
	})
	return r
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// observe reports requests to the HTTP hooks and logs them.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		observability.HTTP().OnRequest(r.Context(), r.Method, r.URL.Path)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		observability.HTTP().OnResponse(r.Context(), r.Method, r.URL.Path, ww.Status(), elapsed)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", elapsed.Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
