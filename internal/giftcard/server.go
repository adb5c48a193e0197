package giftcard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookie = "giftcard_session"

	// CredentialStorageKey is the localStorage key the UI keeps the user's API key under
	CredentialStorageKey = "giftcard-ocr.apiKey"

	// apiKeyHeader carries the user's API key when starting a batch
	apiKeyHeader = "X-Api-Key"

	defaultMaxUpload = int64(50 << 20) // 50MB
)

// Options configures a Server
type Options struct {
	Version   string
	MaxUpload int64 // bytes per upload request
}

// Server handles HTTP requests for the extractor UI and API
type Server struct {
	service *Service
	opts    Options
	mux     *http.ServeMux

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, opts Options) *Server {
	return NewServerWithMux(service, opts, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, opts Options, mux *http.ServeMux) *Server {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = defaultMaxUpload
	}
	s := &Server{
		service: service,
		opts:    opts,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// workspaceHandler is a handler that operates on the caller's workspace
type workspaceHandler func(w http.ResponseWriter, r *http.Request, ws *Workspace)

// withWorkspace resolves the session cookie to a workspace, issuing a new cookie when needed
func (s *Server) withWorkspace(next workspaceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(sessionCookie); err == nil {
			id = c.Value
		}

		ws := s.service.Workspace(id)
		if ws.ID != id {
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    ws.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next(w, r, ws)
	}
}

// registerRoutes registers all routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.handleStaticCSS)
	s.mux.HandleFunc("GET /static/app.js", s.handleStaticJS)

	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("GET /api/state", s.withWorkspace(s.handleState))

	// Upload surface
	s.mux.HandleFunc("GET /api/files/{id}", s.withWorkspace(s.handleGetFile))
	s.mux.HandleFunc("POST /api/files", s.withWorkspace(s.handleAddFiles))
	s.mux.HandleFunc("DELETE /api/files", s.withWorkspace(s.handleClear))

	// Batches and results
	s.mux.HandleFunc("POST /api/runs", s.withWorkspace(s.handleStartRun))
	s.mux.HandleFunc("GET /api/results/export", s.withWorkspace(s.handleExport))
	s.mux.HandleFunc("GET /api/results", s.withWorkspace(s.handleResults))
	s.mux.HandleFunc("GET /api/previews/{id}", s.withWorkspace(s.handlePreview))

	// Static HTML interface
	s.mux.HandleFunc("GET /index.html", s.handleIndex)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
