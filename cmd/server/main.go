package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terminal-relay/backend/api/handlers"
	"github.com/terminal-relay/backend/internal/buffer"
	"github.com/terminal-relay/backend/internal/capture"
	"github.com/terminal-relay/backend/internal/clock"
	"github.com/terminal-relay/backend/internal/config"
	"github.com/terminal-relay/backend/internal/db"
	"github.com/terminal-relay/backend/internal/logging"
	"github.com/terminal-relay/backend/internal/pty"
	"github.com/terminal-relay/backend/internal/repository"
	"github.com/terminal-relay/backend/internal/router"
	"github.com/terminal-relay/backend/internal/session"
	"github.com/terminal-relay/backend/internal/worker"
	"github.com/terminal-relay/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		log.Fatal("failed to create database directory", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.Storage.CastDir, 0755); err != nil {
		log.Fatal("failed to create cast directory", zap.Error(err))
	}

	// Initialize database
	database, err := db.InitDB(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.CloseDB()

	sessionRepo := repository.NewSessionRepository(database)

	// Resolve host capabilities once; every component that wraps
	// commands or looks up working directories shares this table.
	platform := pty.ResolvePlatform()
	spawner := pty.NewSpawner(platform)

	// Session registry over real PTY processes
	wsServiceRef := &eventProxy{}
	registry := session.NewRegistry(
		func(opts pty.SpawnOptions) (session.Terminal, error) {
			return spawner.Spawn(opts)
		},
		sessionRepo, wsServiceRef, log.Named("session"),
		session.Config{
			CastDir:     cfg.Storage.CastDir,
			HistoryMax:  buffer.DefaultHistoryMax,
			HistoryKeep: buffer.DefaultHistoryKeep,
			Platform:    platform,
		},
	)
	defer registry.Shutdown()

	// WebSocket service: the outbound half of the event channel
	wsService := ws.NewService(registry, log.Named("ws"))
	defer wsService.Close()
	wsServiceRef.Events = wsService

	// Output router: every PTY chunk lands in history, then goes either
	// straight to clients or through the capture debounce buffer.
	outputRouter := router.New(registry, wsService, clock.Real{},
		buffer.DefaultCoalesceDelay, log.Named("router"))
	registry.SetOutputSink(outputRouter.HandleOutput)

	// Command capture runner
	runner := capture.NewRunner(registry, outputRouter, platform,
		capture.Config{}, log.Named("capture"))

	// Worker supervisor
	supervisor := worker.NewSupervisor(
		worker.NewExecLauncher(log.Named("worker")),
		clock.Real{},
		worker.Config{Entry: cfg.Worker.Entry},
		log.Named("worker"),
	)
	defer supervisor.Stop()

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(registry, runner, wsService)
	wsHandler := handlers.NewWebSocketHandler(registry, wsService.Handler())
	workerHandler := handlers.NewWorkerHandler(supervisor, cfg.Worker.Port)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
		workerHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down server")
		supervisor.Stop()
		registry.Shutdown()
		wsService.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	log.Info("starting server", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}

// eventProxy breaks the construction cycle between the registry and the
// WebSocket service: the registry needs an Events at construction time,
// the service needs the registry. Events only flow once both exist.
type eventProxy struct {
	Events session.Events
}

func (p *eventProxy) Output(sessionID string, data []byte) {
	if p.Events != nil {
		p.Events.Output(sessionID, data)
	}
}

func (p *eventProxy) Exit(sessionID string, exitCode int) {
	if p.Events != nil {
		p.Events.Exit(sessionID, exitCode)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
