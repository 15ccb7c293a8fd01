package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-api/internal/auth"
	"github.com/vaidashi/storefront-api/internal/config"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/internal/realtime"
	"github.com/vaidashi/storefront-api/internal/service"
	"github.com/vaidashi/storefront-api/pkg/circuitbreaker"
	"github.com/vaidashi/storefront-api/pkg/logger"
	"github.com/vaidashi/storefront-api/pkg/middleware"
	"github.com/vaidashi/storefront-api/pkg/ratelimit"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Pinger is satisfied by database.Database
type Pinger interface {
	Ping(ctx context.Context) error
}

// DeadLetterLister is satisfied by repository.DeadLetterRepository
type DeadLetterLister interface {
	List(ctx context.Context, status models.DeadLetterStatus, limit, offset int) ([]*models.DeadLetterMessage, error)
	CountByStatus(ctx context.Context) (map[models.DeadLetterStatus]int, error)
}

// DeadLetterReplayer is satisfied by outbox.DeadLetterProcessor
type DeadLetterReplayer interface {
	Replay(ctx context.Context, id int64) error
	Discard(ctx context.Context, id int64, reason string) error
}

// Deps are the collaborators the HTTP layer dispatches to. DB, Hub, the
// dead-letter pair and PaymentBreaker are optional.
type Deps struct {
	Orders   *service.OrderService
	Payments *service.PaymentService
	Auth     *service.AuthService
	Accounts *service.AccountService
	Catalog  *service.CatalogService
	Tokens   *auth.JWTService

	Hub            *realtime.Hub
	DB             Pinger
	DeadLetters    DeadLetterLister
	Replayer       DeadLetterReplayer
	PaymentBreaker *circuitbreaker.CircuitBreaker
}

type Server struct {
	config     *config.Config
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server
	deps       Deps
	validate   *validator.Validate

	authLimiter *ratelimit.KeyedLimiter
	payLimiter  *ratelimit.KeyedLimiter
	authLimit   *middleware.RateLimiterMiddleware
	payLimit    *middleware.RateLimiterMiddleware

	onShutdown []func(ctx context.Context)
}

// NewServer creates a new API server with the given configuration and logger.
func NewServer(cfg *config.Config, deps Deps, logger logger.Logger) *Server {
	r := mux.NewRouter()
	idle := 10 * time.Minute

	authLimiter := ratelimit.NewKeyedLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, idle)
	payLimiter := ratelimit.NewKeyedLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, idle)

	server := &Server{
		config: cfg,
		logger: logger,
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:        deps,
		validate:    newValidator(),
		authLimiter: authLimiter,
		payLimiter:  payLimiter,
		authLimit:   middleware.NewRateLimiterMiddleware(authLimiter, cfg.RateLimit.TrustForwardedFor, logger),
		payLimit:    middleware.NewRateLimiterMiddleware(payLimiter, cfg.RateLimit.TrustForwardedFor, logger),
	}

	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// OnShutdown registers fn to run, in registration order, before the HTTP server stops
func (s *Server) OnShutdown(fn func(ctx context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.authLimiter.StartCleanup(time.Minute)
	s.payLimiter.StartCleanup(time.Minute)

	s.logger.Info("Server is starting", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.authLimiter.Stop()
	s.payLimiter.Stop()

	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}

	err := s.httpServer.Shutdown(ctx)

	for _, fn := range s.onShutdown {
		fn(ctx)
	}

	return err
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.loggingMiddleware)

	if s.deps.Hub != nil {
		s.router.Handle("/pay-hub", s.deps.Hub)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	authRoutes := api.PathPrefix("/auth").Subrouter()
	authRoutes.Use(s.authLimit.Middleware)
	authRoutes.HandleFunc("/register", s.registerHandler).Methods(http.MethodPost)
	authRoutes.HandleFunc("/verify-email", s.verifyEmailHandler).Methods(http.MethodGet)
	authRoutes.HandleFunc("/login", s.loginHandler).Methods(http.MethodPost)
	authRoutes.HandleFunc("/refresh-token", s.refreshTokenHandler).Methods(http.MethodPost)
	authRoutes.Handle("/logout", s.authenticated(s.logoutHandler)).Methods(http.MethodPost)

	api.HandleFunc("/products", s.listProductsHandler).Methods(http.MethodGet)
	api.HandleFunc("/products/{id:[0-9]+}", s.getProductHandler).Methods(http.MethodGet)
	api.Handle("/products", s.adminOnly(s.createProductHandler)).Methods(http.MethodPost)
	api.Handle("/products/{id:[0-9]+}", s.adminOnly(s.updateProductHandler)).Methods(http.MethodPut)
	api.Handle("/products/{id:[0-9]+}", s.adminOnly(s.archiveProductHandler)).Methods(http.MethodDelete)
	api.Handle("/products/{id:[0-9]+}/stock", s.adminOnly(s.updateStockHandler)).Methods(http.MethodPut)
	api.Handle("/products/{id:[0-9]+}/images", s.adminOnly(s.addProductImageHandler)).Methods(http.MethodPost)
	api.Handle("/products/{id:[0-9]+}/images/{imageId:[0-9]+}", s.adminOnly(s.removeProductImageHandler)).Methods(http.MethodDelete)

	api.HandleFunc("/categories", s.listCategoriesHandler).Methods(http.MethodGet)
	api.HandleFunc("/categories/{id:[0-9]+}", s.getCategoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/categories/{id:[0-9]+}/products", s.listCategoryProductsHandler).Methods(http.MethodGet)
	api.Handle("/categories", s.adminOnly(s.createCategoryHandler)).Methods(http.MethodPost)
	api.Handle("/categories/{id:[0-9]+}", s.adminOnly(s.updateCategoryHandler)).Methods(http.MethodPut)
	api.Handle("/categories/{id:[0-9]+}", s.adminOnly(s.archiveCategoryHandler)).Methods(http.MethodDelete)

	api.Handle("/users/me", s.authenticated(s.getProfileHandler)).Methods(http.MethodGet)
	api.Handle("/users/me", s.authenticated(s.updateProfileHandler)).Methods(http.MethodPut)
	api.Handle("/users/me", s.authenticated(s.archiveAccountHandler)).Methods(http.MethodDelete)
	api.Handle("/users/me/password", s.authenticated(s.changePasswordHandler)).Methods(http.MethodPut)
	api.Handle("/users", s.adminOnly(s.listUsersHandler)).Methods(http.MethodGet)
	api.Handle("/users/{id:[0-9]+}/role", s.adminOnly(s.changeRoleHandler)).Methods(http.MethodPut)

	api.Handle("/order/create-order", s.withRole(s.createOrderHandler, models.RoleCustomer)).Methods(http.MethodPost)
	api.Handle("/order/my-orders", s.authenticated(s.myOrdersHandler)).Methods(http.MethodGet)
	api.Handle("/order/{id:[0-9]+}", s.authenticated(s.getOrderHandler)).Methods(http.MethodGet)
	api.Handle("/order/{id:[0-9]+}/cancel", s.authenticated(s.cancelOrderHandler)).Methods(http.MethodPost)
	api.Handle("/order/{id:[0-9]+}/status", s.adminOnly(s.updateOrderStatusHandler)).Methods(http.MethodPatch)
	api.Handle("/order/{id:[0-9]+}", s.adminOnly(s.deleteOrderHandler)).Methods(http.MethodDelete)
	api.Handle("/orders", s.adminOnly(s.listOrdersHandler)).Methods(http.MethodGet)

	payment := api.PathPrefix("/payment").Subrouter()
	payment.Handle("/pay/{orderId:[0-9]+}",
		s.payLimit.Middleware(middleware.NoCache(http.HandlerFunc(s.payHandler)))).Methods(http.MethodPost)
	payment.HandleFunc("/pay-callback", s.paymentCallbackHandler).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Handle("/dead-letters", s.adminOnly(s.getDeadLettersHandler)).Methods(http.MethodGet)
	admin.Handle("/dead-letters/{id:[0-9]+}/retry", s.adminOnly(s.retryDeadLetterHandler)).Methods(http.MethodPost)
	admin.Handle("/dead-letters/{id:[0-9]+}/discard", s.adminOnly(s.discardDeadLetterHandler)).Methods(http.MethodPost)
	admin.Handle("/payment-gateway", s.adminOnly(s.getCircuitBreakerStatusHandler)).Methods(http.MethodGet)
	admin.Handle("/payment-gateway/reset", s.adminOnly(s.resetCircuitBreakerHandler)).Methods(http.MethodPost)
	admin.Handle("/rate-limits", s.adminOnly(s.getRateLimitsHandler)).Methods(http.MethodGet)
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}

// recoverMiddleware turns a handler panic into a 500
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("Handler panicked", "panic", rec, "method", r.Method, "path", r.URL.Path)
				s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

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

// Hijack lets the websocket upgrade pass through the logging middleware
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)

	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}

	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
