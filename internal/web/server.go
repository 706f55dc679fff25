// Package web serves the JSON API and the server-rendered review page.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/dailyreview/internal/config"
	"github.com/conorfennell/dailyreview/internal/deck"
)

//go:embed all:static
var staticFiles embed.FS

//go:embed all:templates
var templateFiles embed.FS

// OwnerHeader names the request header that selects the card owner.
const OwnerHeader = "X-Owner"

// Server holds the dependencies for the HTTP server.
type Server struct {
	deck      *deck.Service
	owner     string
	logger    *slog.Logger
	validate  *validator.Validate
	router    *http.ServeMux
	templates *template.Template
	handler   http.Handler
}

// NewServer creates and configures a new server. Requests without an
// X-Owner header act on behalf of defaultOwner.
func NewServer(svc *deck.Service, defaultOwner string, logger *slog.Logger) (*Server, error) {
	tpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		deck:      svc,
		owner:     defaultOwner,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		router:    http.NewServeMux(),
		templates: tpl,
	}
	if err := s.routes(); err != nil {
		return nil, err
	}
	s.handler = s.logRequests(securityHeaders(s.router))
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return err
	}
	s.router.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFS)))

	s.router.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/review", http.StatusFound)
	})
	s.router.HandleFunc("GET /review", s.handleReviewPage)
	s.router.HandleFunc("POST /review/{id}", s.handleReviewForm)

	s.router.HandleFunc("POST /api/cards", s.handleCreate)
	s.router.HandleFunc("GET /api/cards", s.handleList)
	s.router.HandleFunc("GET /api/cards/counts", s.handleCounts)
	s.router.HandleFunc("GET /api/cards/due", s.handleDue)
	s.router.HandleFunc("GET /api/cards/{id}", s.handleGet)
	s.router.HandleFunc("PATCH /api/cards/{id}", s.handleEdit)
	s.router.HandleFunc("DELETE /api/cards/{id}", s.handleDelete)
	s.router.HandleFunc("POST /api/cards/{id}/accept", s.handleAccept)
	s.router.HandleFunc("POST /api/cards/{id}/skip", s.handleSkip)
	s.router.HandleFunc("POST /api/cards/{id}/review", s.handleReview)
	s.router.HandleFunc("POST /api/cards/{id}/evaluate", s.handleEvaluate)
	s.router.HandleFunc("GET /api/cards/{id}/preview", s.handlePreview)
	s.router.HandleFunc("GET /api/cards/{id}/reviews", s.handleHistory)
	s.router.HandleFunc("GET /api/sources", s.handleSources)
	return nil
}

// ownerOf picks the owner for a request.
func (s *Server) ownerOf(r *http.Request) string {
	if o := r.Header.Get(OwnerHeader); o != "" {
		return o
	}
	return s.owner
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// NewHTTPServer wraps h with the configured address and timeouts.
func NewHTTPServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout.
func Run(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, srv, ln, shutdownTimeout, logger)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
