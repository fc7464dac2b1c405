// Package main is the entry point for the Agentdeck backend.
// The server supervises coding-agent sessions and exposes WebSocket and
// HTTP endpoints for the local dashboard.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/approval"
	"github.com/agentdeck/agentdeck/internal/agent/manager"
	"github.com/agentdeck/agentdeck/internal/agent/registry"
	"github.com/agentdeck/agentdeck/internal/agent/runner"
	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/db"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	gateway "github.com/agentdeck/agentdeck/internal/gateway/websocket"
	"github.com/agentdeck/agentdeck/internal/persistence"
	ws "github.com/agentdeck/agentdeck/pkg/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Agentdeck...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus (in-memory by default, NATS if configured)
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		defer natsEventBus.Close()
		log.Info("Connected to NATS event bus")
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	// 4. Persistence
	var database *sqlx.DB
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := db.OpenPostgres(cfg.Database.DSN, 0, 0)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		database = pg
		log.Info("Connected to Postgres")
	default:
		sq, err := db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			log.Fatal("Failed to open SQLite database", zap.Error(err), zap.String("path", cfg.Database.Path))
		}
		database = sq
		log.Info("SQLite database initialized", zap.String("path", cfg.Database.Path))
	}
	defer database.Close()

	store, err := persistence.NewSQLStore(database)
	if err != nil {
		log.Fatal("Failed to initialize session store", zap.Error(err))
	}

	// 5. Role presets
	roles := registry.New()
	if cfg.Agent.RolesFile != "" {
		if err := roles.LoadFile(cfg.Agent.RolesFile); err != nil {
			log.Fatal("Failed to load roles file", zap.Error(err), zap.String("path", cfg.Agent.RolesFile))
		}
		log.Info("Loaded role presets", zap.String("path", cfg.Agent.RolesFile), zap.Int("roles", len(roles.List())))
	}

	// 6. Agent runner
	gate := approval.NewGate(cfg.Agent.ApprovalTimeoutDuration(), log)
	var agentRunner runner.Runner
	switch cfg.Agent.Runner {
	case "sdk":
		agentRunner = runner.NewSDKRunner(cfg.Agent.Model, cfg.Agent.MaxTokens, gate, log)
		log.Info("Using SDK runner", zap.String("model", cfg.Agent.Model))
	default:
		agentRunner = runner.NewSubprocessRunner(cfg.Agent.ClaudePath, gate, log)
		log.Info("Using subprocess runner", zap.String("claude_path", cfg.Agent.ClaudePath))
	}

	// 7. Session manager
	sessions := manager.NewManager(agentRunner, eventBus, store, cfg.Agent.BufferSize, log)
	if err := sessions.Recover(ctx); err != nil {
		log.Fatal("Failed to recover persisted sessions", zap.Error(err))
	}
	sessions.Run()
	defer sessions.Close()
	log.Info("Session manager initialized", zap.Int("sessions", len(sessions.ListSessions())))

	// 8. WebSocket gateway
	dispatcher := ws.NewDispatcher()
	gateway.RegisterHealthHandler(dispatcher)
	gateway.RegisterSessionHandlers(dispatcher, sessions, roles)
	hub := gateway.NewHub(dispatcher, log)
	hub.SetReplayProvider(func(agentID string) []string {
		lines, err := sessions.GetOutput(agentID)
		if err != nil {
			return nil
		}
		return lines
	})
	go hub.Run(ctx)
	wsHandler := gateway.NewHandler(hub, log)

	broadcaster := gateway.RegisterNotifications(ctx, eventBus, hub, log)
	defer broadcaster.Close()

	// 9. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/ws", wsHandler.HandleConnection)
	api.SetupRoutes(router.Group("/api/v1"), sessions, roles, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "agentdeck",
			"sessions": len(sessions.ListSessions()),
			"clients":  hub.GetClientCount(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("http", "/api/v1"),
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Agentdeck...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop running agents before the manager's event loop goes away so their
	// final state lands in the store.
	for _, s := range sessions.ListSessions() {
		if s.Status != manager.StatusRunning {
			continue
		}
		if err := sessions.StopSession(shutdownCtx, s.ID); err != nil {
			log.Error("Failed to stop session", zap.String("agent_id", s.ID), zap.Error(err))
		}
	}

	cancel()
	log.Info("Agentdeck stopped")
}

// corsMiddleware allows the dashboard frontend served from another local
// port to reach the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
