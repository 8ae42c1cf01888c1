package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payment-orchestrator/internal/config"
	"payment-orchestrator/internal/handler"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	app    *App
	logger *slog.Logger
	port   string
}

// NewServer wires the application and its routes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	app, err := NewApp(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize handlers
	paymentHandler := handler.NewPaymentHandler(app.Payments)
	easypaisaHandler := handler.NewEasypaisaHandler(app.Easypaisa)
	bulkHandler := handler.NewBulkHandler(app.Batches)

	// Setup router
	router := mux.NewRouter()
	// Add middleware for logging and metrics
	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware)

	// Payment routes
	payments := router.PathPrefix("/payments").Subrouter()
	payments.HandleFunc("/hold", paymentHandler.Hold).Methods("POST")
	payments.HandleFunc("/release", paymentHandler.Release).Methods("POST")
	payments.HandleFunc("/charge", paymentHandler.Charge).Methods("POST")
	payments.HandleFunc("/rollback", paymentHandler.Rollback).Methods("POST")
	payments.HandleFunc("/topup", paymentHandler.TopUp).Methods("POST")
	payments.HandleFunc("/cancel", paymentHandler.Cancel).Methods("POST")
	payments.HandleFunc("/status", paymentHandler.Status).Methods("GET")
	payments.HandleFunc("/intent-status", paymentHandler.IntentStatus).Methods("GET")
	payments.HandleFunc("/bulk-adjustment", bulkHandler.BulkAdjustment).Methods("POST")
	payments.HandleFunc("/sadad/notification", paymentHandler.SadadNotification).Methods("POST")
	payments.HandleFunc("/topup-intents", paymentHandler.CreateTopupIntent).Methods("POST")
	payments.HandleFunc("/topup-intents", paymentHandler.FetchTopupIntent).Methods("GET")

	// Easypaisa biller callbacks
	router.HandleFunc("/easypaisa/BillInquiry", easypaisaHandler.BillInquiry).Methods("POST")
	router.HandleFunc("/easypaisa/BillPayment", easypaisaHandler.BillPayment).Methods("POST")

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Check database connectivity when running on Postgres
		if app.DB != nil {
			if err := app.DB.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router: router,
		app:    app,
		logger: logger,
	}, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
				"idempotency_key", r.Header.Get("idempotency-key"),
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

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	// Get the actual port being used
	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	// Create HTTP server
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	// Start server in background
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains HTTP traffic, then waits for running batches and closes the
// database.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	// Shutdown HTTP server
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	// Wait for batches and close the database, bounded by ctx
	done := make(chan error, 1)
	go func() { done <- s.app.Close() }()
	select {
	case closeErr := <-done:
		if err == nil {
			err = closeErr
		}
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// NewLogger returns a JSON logger on stdout, or a discarding one when port is
// "0" (tests).
func NewLogger(port string) *slog.Logger {
	if port == "0" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	// Initialize logger - discard output for tests
	logger := NewLogger(cfg.ServerPort)

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	// Start the server and get the actual port
	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
