// Package httpserver exposes the payment, access, auth and admin operations
// over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/auth"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/checkout"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/entitlement"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/payments"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

const maxBodyBytes = 64 << 10

// Store is the persistence the handlers read and write directly.
type Store interface {
	Ping(ctx context.Context) error
	GetMaterial(ctx context.Context, id string) (*repo.Material, error)
	UpsertMaterial(ctx context.Context, m repo.Material) (*repo.Material, error)
	DeleteMaterial(ctx context.Context, id string) error
	ListPurchasesByUser(ctx context.Context, userID string) ([]repo.Purchase, error)
	ListRecentPurchases(ctx context.Context, limit int) ([]repo.Purchase, error)
	InsertAuditLog(ctx context.Context, entry repo.AuditEntry) error
}

// MaterialCache drops cached material metadata after an admin write.
type MaterialCache interface {
	Invalidate(ctx context.Context, id string) error
}

// Dependencies groups the services the routes call into.
type Dependencies struct {
	Store         Store
	Payments      *payments.Service
	Access        *entitlement.Checker
	Materials     MaterialCache
	Authenticator *auth.Authenticator
	OTP           *auth.OTPService
	Roles         *auth.RoleService
	// RazorpayWebhook is mounted at /webhook/razorpay when set.
	RazorpayWebhook http.Handler
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	validate   *validator.Validate
	basePath   string
}

// New creates a new HTTP server listening on addr.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		validate: validator.New(),
		basePath: normaliseBasePath(basePath),
	}

	server.handler = mountWithBasePath(server.basePath, server.routes())
	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Handler returns the root handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthHandler)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	if s.deps.RazorpayWebhook != nil {
		r.Handle("/webhook/razorpay", s.deps.RazorpayWebhook)
	}

	authn := s.deps.Authenticator
	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Post("/otp/send", s.handleOTPSend)
		r.Post("/otp/verify", s.handleOTPVerify)

		r.Group(func(r chi.Router) {
			if authn != nil {
				r.Use(authn.Optional)
			}
			r.Get("/materials/{id}/access", s.handleAccess)
		})

		r.Group(func(r chi.Router) {
			if authn != nil {
				r.Use(authn.Required)
			}
			r.Post("/orders", s.handleCreateOrder)
			r.Get("/checkout/{orderId}", s.handleCheckoutOptions)
			r.Post("/payments/verify", s.handleVerifyPayment)
			r.Post("/payments/cancel", s.handleCancelCheckout)
			r.Post("/payments/googlepay", s.handleGooglePay)
			r.Get("/purchases", s.handleListPurchases)
			r.Post("/profile", s.handleProfile)
			r.Get("/admin/verify", s.handleAdminVerify)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/admin/purchases", s.handleAdminPurchases)
				r.Post("/admin/materials", s.handleAdminMaterials)
			})
		})
	})

	return r
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			s.metrics.HTTPLatency.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			s.writeError(w, apperr.ErrAuthRequired)
			return
		}
		if s.deps.Roles == nil {
			s.writeError(w, apperr.ErrForbidden)
			return
		}
		isAdmin, err := s.deps.Roles.IsAdmin(r.Context(), id)
		if err != nil {
			s.logger.Error("role lookup failed", "error", err, "user_id", id.UserID)
			s.writeError(w, fmt.Errorf("%w: %w", apperr.ErrPersistence, err))
			return
		}
		if !isAdmin {
			s.logger.Warn("non-admin attempted admin route", "user_id", id.UserID, "path", r.URL.Path)
			s.writeError(w, apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			writeStatusJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// writeError maps err onto the error taxonomy and writes the JSON envelope.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, message := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "status", status)
		s.metrics.IncError("http")
	}
	writeStatusJSON(w, status, map[string]any{"success": false, "error": message})
}

func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, checkout.ErrSessionNotFound):
		return http.StatusNotFound, "Checkout session not found"
	case errors.Is(err, checkout.ErrInvalidTransition):
		return http.StatusConflict, "Checkout already completed"
	case errors.Is(err, checkout.ErrNoOutcome), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out. Please try again"
	}
	return apperr.HTTPStatus(err), apperr.Message(err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: malformed json body", apperr.ErrInvalidInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, data any) {
	writeStatusJSON(w, http.StatusOK, data)
}

func writeStatusJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Warn("failed to encode json response", "error", err)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
