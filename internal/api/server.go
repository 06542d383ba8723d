// Package api exposes the ops and read surface over HTTP: health and
// worker status, ranked leaderboard pages, per-account views, and the
// account registration lifecycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/trader-mirror/internal/leaderboard"
	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/queue"
	"github.com/trader-mirror/internal/storage"
)

// LeaderboardService serves the cached read paths
type LeaderboardService interface {
	GetRanking(ctx context.Context, q storage.RankingQuery) ([]*models.PerformanceSnapshot, error)
	GetStats(ctx context.Context) (*storage.RankingStats, error)
	GetProfile(ctx context.Context, accountID string) (*leaderboard.Profile, error)
	GetTrades(ctx context.Context, accountID string, limit, offset int) ([]models.Trade, error)
	GetEquity(ctx context.Context, accountID string, days int) ([]models.EquityHistoryPoint, error)
}

// RegistryService manages the account lifecycle
type RegistryService interface {
	Register(ctx context.Context, token string) (*models.Account, error)
	Reauthorize(ctx context.Context, accountID, token string) error
	Revoke(ctx context.Context, accountID string) error
}

// PolicyStore reads and writes per-tier cadence overrides
type PolicyStore interface {
	List(ctx context.Context) ([]models.SyncPolicy, error)
	Upsert(ctx context.Context, policy *models.SyncPolicy) error
}

// QueueStatus reports the state of the sync schedule
type QueueStatus interface {
	Pending(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error)
}

// AccountCounter reports cohort size for the status endpoint
type AccountCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

// Server is the HTTP ops server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	leaderboard LeaderboardService
	registry    RegistryService
	policies    PolicyStore
	queue       QueueStatus
	accounts    AccountCounter
	logger      *logging.Logger
	config      *ServerConfig
	startedAt   time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
}

func applyServerDefaults(config *ServerConfig) {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 20
	}
	if config.Burst <= 0 {
		config.Burst = 40
	}
}

// NewServer creates a new ops server instance.
func NewServer(
	config *ServerConfig,
	leaderboardService LeaderboardService,
	registryService RegistryService,
	policyStore PolicyStore,
	queueStatus QueueStatus,
	accountCounter AccountCounter,
	logger *logging.Logger,
) *Server {
	applyServerDefaults(config)

	s := &Server{
		router:      mux.NewRouter(),
		leaderboard: leaderboardService,
		registry:    registryService,
		policies:    policyStore,
		queue:       queueStatus,
		accounts:    accountCounter,
		logger:      logger,
		config:      config,
		startedAt:   time.Now(),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Middleware order matters: requests are logged and recovered before
	// they can be rejected by the limiter.
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Leaderboard reads
	api.HandleFunc("/rankings", s.handleGetRankings).Methods("GET")
	api.HandleFunc("/rankings/stats", s.handleGetStats).Methods("GET")

	// Per-account views
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{id}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/accounts/{id}/equity", s.handleGetEquity).Methods("GET")

	// Account lifecycle
	api.HandleFunc("/accounts", s.handleRegister).Methods("POST")
	api.HandleFunc("/accounts/{id}/reauthorize", s.handleReauthorize).Methods("POST")
	api.HandleFunc("/accounts/{id}", s.handleRevoke).Methods("DELETE")

	// Sync policy overrides
	api.HandleFunc("/policies", s.handleListPolicies).Methods("GET")
	api.HandleFunc("/policies/{tier}", s.handleUpsertPolicy).Methods("PUT")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "trader-mirror",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting ops server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}
