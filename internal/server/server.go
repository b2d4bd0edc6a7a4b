package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"brokerage/internal/config"
	"brokerage/internal/handler"
	"brokerage/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// pinger is the health check of whatever store backs a service.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server represents one HTTP service together with the resources it owns.
type Server struct {
	name    string
	router  *mux.Router
	server  *http.Server
	closers []io.Closer
	logger  *slog.Logger
	port    string
}

// newServer builds the router shared by both services: request logging,
// contract version checks and a health endpoint backed by store.
func newServer(name string, store pinger, logger *slog.Logger) *Server {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))
	router.Use(handler.RequireContractVersion)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(ctx); err != nil {
			logger.Warn("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "store unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"service":   name,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		name:   name,
		router: router,
		logger: logger,
	}
}

// loggingMiddleware logs every request with its status and a request id,
// taken from X-Request-ID or generated.
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port. Port "0" picks a free one.
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains in-flight requests, then releases the store and log file.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
	s.closers = nil
	return err
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) GetPort() string {
	return s.port
}

func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// serverLogger discards logs for test servers (port "0") and otherwise
// builds the configured JSON logger. The closer must be released on Stop.
func serverLogger(cfg *config.Config, service string) (*slog.Logger, io.Closer) {
	if cfg.ServerPort == "0" {
		return logging.Discard(), nil
	}
	return logging.New(cfg, service)
}

// StartAccountServer builds and starts the account service.
func StartAccountServer(ctx context.Context, cfg *config.Config) (*Server, string, error) {
	logger, closer := serverLogger(cfg, "account-service")

	s, err := NewAccountServer(ctx, cfg, logger)
	if err != nil {
		closeQuietly(closer)
		return nil, "", err
	}
	return start(s, cfg.ServerPort, closer)
}

// StartPortfolioServer builds and starts the portfolio service.
func StartPortfolioServer(ctx context.Context, cfg *config.Config) (*Server, string, error) {
	logger, closer := serverLogger(cfg, "portfolio-service")

	s, err := NewPortfolioServer(ctx, cfg, logger)
	if err != nil {
		closeQuietly(closer)
		return nil, "", err
	}
	return start(s, cfg.ServerPort, closer)
}

func start(s *Server, port string, logCloser io.Closer) (*Server, string, error) {
	if logCloser != nil {
		s.closers = append([]io.Closer{logCloser}, s.closers...)
	}

	actual, err := s.Start(port)
	if err != nil {
		s.Stop(context.Background())
		return nil, "", err
	}
	return s, actual, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		c.Close()
	}
}
