package results

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/codescan/internal/scanner"
)

// Controller is the part of the scanner the HTTP API drives
type Controller interface {
	Submit(frame scanner.Frame) scanner.Admission
	Pause()
	Resume()
	Stats() scanner.Stats
}

// Server handles HTTP requests for the scanner and its results
type Server struct {
	service    *Service
	controller Controller
	basicAuth  BasicAuth
	mux        *http.ServeMux
	server     *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, controller Controller, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, controller, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, controller Controller, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:    service,
		controller: controller,
		basicAuth:  basicAuth,
		mux:        mux,
	}
	s.registerRoutes()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
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

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="codescan"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Scanner control
	s.mux.HandleFunc("POST /api/frames", s.requireAuth(s.handleSubmitFrame))
	s.mux.HandleFunc("POST /api/scanner/pause", s.requireAuth(s.handlePause))
	s.mux.HandleFunc("POST /api/scanner/resume", s.requireAuth(s.handleResume))
	s.mux.HandleFunc("GET /api/scanner/stats", s.requireAuth(s.handleStats))

	// Results
	s.mux.HandleFunc("GET /api/results/{id}", s.requireAuth(s.handleGetRecord))
	s.mux.HandleFunc("DELETE /api/results/{id}", s.requireAuth(s.handleDeleteRecord))
	s.mux.HandleFunc("GET /api/results", s.requireAuth(s.handleListRecords))

	// Timed out frames
	s.mux.HandleFunc("GET /api/timeouts", s.requireAuth(s.handleListTimeouts))
	s.mux.HandleFunc("GET /api/snapshots/{name}", s.requireAuth(s.handleGetSnapshot))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start listens on addr and blocks until the server stops. It returns nil
// after Shutdown, including when Shutdown ran first.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("Starting server", "address", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. A later Start returns at once.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
