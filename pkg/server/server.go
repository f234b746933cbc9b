package server

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadwatch/core/internal/config"
	"github.com/leadwatch/core/pkg/database/pool"
	"github.com/leadwatch/core/pkg/handlers/health"
	"github.com/leadwatch/core/pkg/handlers/jobs"
	"github.com/leadwatch/core/pkg/handlers/watches"
	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/middleware"
	"github.com/leadwatch/core/pkg/repository"
	"github.com/leadwatch/core/pkg/repository/postgres"
)

// Stores are the read paths the ops API serves from
type Stores struct {
	Jobs    repository.JobStore
	Watches repository.WatchStore
	// DB is pinged by /health; nil skips the check
	DB health.Pinger
}

// Server represents the API server
type Server struct {
	router   *http.ServeMux
	addr     string
	logger   *logger.Logger
	dbPool   *pgxpool.Pool
	handlers struct {
		health  *health.Handler
		jobs    *jobs.Handler
		watches *watches.Handler
	}
}

// New connects to Postgres and creates a server backed by it
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	dbPool, err := pool.New(context.Background(), cfg.DatabaseURL(), pool.APIConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := testDatabaseConnection(dbPool, log); err != nil {
		dbPool.Close()
		return nil, err
	}

	store := postgres.New(dbPool)
	srv := NewWithStores(":"+cfg.Server.Port, Stores{Jobs: store, Watches: store, DB: dbPool}, log)
	srv.dbPool = dbPool

	log.Info().
		Str("action", "db_connected").
		Msg("Database connection pool established")

	return srv, nil
}

// NewWithStores creates a server over already opened stores
func NewWithStores(addr string, stores Stores, log *logger.Logger) *Server {
	s := &Server{
		router: http.NewServeMux(),
		addr:   addr,
		logger: log,
	}

	s.handlers.health = health.NewHandler(stores.DB, log)
	s.handlers.jobs = jobs.NewHandler(stores.Jobs, log)
	s.handlers.watches = watches.NewHandler(stores.Watches, log)

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", middleware.CORS(s.handlers.health.HealthCheck))

	s.router.HandleFunc("GET /api/jobs/{id}", middleware.CORS(s.handlers.jobs.Get))
	s.router.HandleFunc("GET /api/jobs/{id}/executions", middleware.CORS(s.handlers.jobs.Executions))

	s.router.HandleFunc("GET /api/watches/{id}", middleware.CORS(s.handlers.watches.Get))
	s.router.HandleFunc("GET /api/watches/{id}/triggers", middleware.CORS(s.handlers.watches.Triggers))

	s.router.HandleFunc("OPTIONS /api/", middleware.Preflight())
}

// Handler exposes the router with request logging applied
func (s *Server) Handler() http.Handler {
	return middleware.RequestLogger(s.logger)(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("action", "server_start").
			Str("addr", s.addr).
			Msg("Starting API server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "server failed to start on %s", s.addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	s.logger.Info().Str("action", "server_stopped").Msg("API server stopped")
	return nil
}

// Close closes database connections
func (s *Server) Close() {
	if s.dbPool != nil {
		s.dbPool.Close()
		s.logger.Info().Str("action", "db_closed").Msg("Database connection pool closed")
	}
}

// testDatabaseConnection pings the database with retries
func testDatabaseConnection(dbPool *pgxpool.Pool, log *logger.Logger) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := dbPool.Ping(ctx)
		cancel()

		if err == nil {
			return nil
		}
		if i == maxRetries-1 {
			return errors.Wrapf(err, "failed to ping database after %d retries", maxRetries)
		}

		log.Warn().
			Err(err).
			Int("attempt", i+1).
			Str("action", "db_ping_retry").
			Msg("Retrying database connection")
		time.Sleep(2 * time.Second)
	}
	return nil
}
