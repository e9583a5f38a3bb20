package transaction

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// UserIDHeader carries the caller identity when basic auth is not configured
const UserIDHeader = "X-User-ID"

// Server handles HTTP requests for receipt scans and transactions
type Server struct {
	service *Service
	config  Config
	mux     *http.ServeMux
	http    *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Config controls request limits and authentication
type Config struct {
	BasicAuth BasicAuth
	// MaxUploadBytes is the normalizer limit; request bodies are capped at a multiple of it
	MaxUploadBytes int64
	// ScanTimeout bounds a whole scan request
	ScanTimeout time.Duration
}

type ctxKey struct{}

// NewServer creates a new Server with default mux
func NewServer(service *Service, cfg Config) *Server {
	return NewServerWithMux(service, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, cfg Config, mux *http.ServeMux) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 2 * time.Minute
	}
	s := &Server{
		service: service,
		config:  cfg,
		mux:     mux,
	}
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Scans may run for the full scan timeout plus upload time
		WriteTimeout: cfg.ScanTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	s.registerRoutes()
	return s
}

// identify resolves the caller. With basic auth configured the username is the
// user id; otherwise the upstream auth proxy supplies X-User-ID.
func (s *Server) identify(r *http.Request) (string, bool) {
	if s.config.BasicAuth.Username != "" || s.config.BasicAuth.Password != "" {
		user, pass, ok := r.BasicAuth()
		if !ok {
			return "", false
		}
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.config.BasicAuth.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.config.BasicAuth.Password)) == 1
		return user, userOK && passOK
	}

	id := strings.TrimSpace(r.Header.Get(UserIDHeader))
	return id, id != ""
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

// requireUser middleware
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.identify(r)
		if !ok {
			if s.config.BasicAuth.Username != "" {
				w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Ledger"`)
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func userFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/receipts/scan", s.requireUser(s.handleScanReceipt))

	s.mux.HandleFunc("POST /api/transactions/batch", s.requireUser(s.handleSaveAll))
	s.mux.HandleFunc("GET /api/transactions/{id}", s.requireUser(s.handleGetTransaction))
	s.mux.HandleFunc("DELETE /api/transactions/{id}", s.requireUser(s.handleDeleteTransaction))
	s.mux.HandleFunc("GET /api/transactions", s.requireUser(s.handleListTransactions))
	s.mux.HandleFunc("POST /api/transactions", s.requireUser(s.handleCreateTransaction))
}

// Start serves HTTP on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	slog.Info("Starting server", "address", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down server")
	return s.http.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
