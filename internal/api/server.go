package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/triggerflow-core/internal/automation"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/config"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/triggerflow-core/internal/notification"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the orchestrator surface the API drives.
// *automation.Orchestrator satisfies it.
type Engine interface {
	Process(ctx context.Context, userID string, payload automation.TriggerPayload) automation.ProcessingResult
	ProcessManualByID(ctx context.Context, userID, ruleID, userContext string, history []automation.ConversationTurn) automation.ManualResult
	ProcessScheduled(ctx context.Context) automation.ScheduledSummary
}

// RuleReader resolves a rule for its owner.
type RuleReader interface {
	GetByIDAndUser(ctx context.Context, id, userID string) (*automation.ExecutionRule, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DBStatser exposes connection pool statistics. *sql.DB satisfies it.
type DBStatser interface {
	Stats() sql.DBStats
}

// ConnState reports broker connectivity. *mqtt.Client satisfies it.
type ConnState interface {
	IsConnected() bool
}

// Deps holds the dependencies of the API server. Logger and Engine are
// required; nil optional dependencies disable the routes that need them.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Engine        Engine
	Rules         RuleReader
	Logs          automation.ExecutionLogStore
	Notifications notification.Repository

	// Metrics serves GET /metrics.
	Metrics http.Handler

	// Health is consulted by GET /api/v1/health, keyed by component name.
	Health map[string]HealthChecker

	DB      DBStatser
	MQTT    ConnState
	Version string
}

// Server is the HTTP API server.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	cfg           config.APIConfig
	jwt           config.JWTConfig
	logger        *logging.Logger
	engine        Engine
	rules         RuleReader
	logs          automation.ExecutionLogStore
	notifications notification.Repository
	metrics       http.Handler
	health        map[string]HealthChecker
	db            DBStatser
	mqtt          ConnState
	version       string
	startTime     time.Time
	now           func() time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, errors.New("api: jwt secret is required")
	}

	return &Server{
		cfg:           deps.Config,
		jwt:           deps.Security.JWT,
		logger:        deps.Logger,
		engine:        deps.Engine,
		rules:         deps.Rules,
		logs:          deps.Logs,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		health:        deps.Health,
		db:            deps.DB,
		mqtt:          deps.MQTT,
		version:       deps.Version,
		startTime:     time.Now(),
		now:           time.Now,
	}, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts the server down, waiting up to 10 seconds for
// in-flight requests. Manual invocations can outlive that window; their
// contexts are cancelled when the connections are torn down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
