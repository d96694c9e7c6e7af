package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"stagepass/ticket-marketplace/marketplace-backend/internal/config"
	"stagepass/ticket-marketplace/marketplace-backend/internal/container"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
	"stagepass/ticket-marketplace/marketplace-backend/internal/marketplace"
	"stagepass/ticket-marketplace/marketplace-backend/internal/notifications"
	"stagepass/ticket-marketplace/marketplace-backend/internal/orchestrator"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	if os.Getenv("APP_ENV") == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&marketplace.Event{},
		&marketplace.TicketClass{},
		&marketplace.Listing{},
		&orchestrator.RunRecord{},
	); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Ledger gateway and sequencing
	ledgerClient := ledger.NewGatewayClient(ledger.GatewayConfig{
		BaseURL: cfg.Ledger.BaseURL,
		APIKey:  cfg.Ledger.APIKey,
		Timeout: cfg.Ledger.Timeout,
	}, logger)
	resolver := container.NewResolver(ledgerClient, logger)
	runStore := orchestrator.NewGormStore(db)

	hub := notifications.NewHub(logger)
	defer hub.Close()

	sequencer := orchestrator.New(ledgerClient, resolver, runStore, hub, orchestrator.Config{
		VisibilityInterval: cfg.Sequencer.VisibilityInterval,
		VisibilityAttempts: cfg.Sequencer.VisibilityAttempts,
	}, logger)

	// Marketplace module
	repo := marketplace.NewGormRepository(db)
	service := marketplace.NewService(repo, sequencer, runStore, cfg.Marketplace.Origin, logger)
	handler := marketplace.NewHandler(service, logger)

	// Sweeper: resume runs whose stage completed but whose visibility
	// confirmation timed out
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Sequencer.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if resumed := service.ResumeInterrupted(ctx); resumed > 0 {
			logger.Info("resumed interrupted runs", zap.Int("count", resumed))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule run sweeper", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Setup Router
	router := gin.Default()

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	{
		handler.RegisterRoutes(api)
	}

	// Live run progress feed
	router.GET("/ws/runs", func(c *gin.Context) {
		if err := hub.HandleConnection(c.Writer, c.Request); err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
		}
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	srv := &http.Server{
		Addr:    cfg.Server.GetServerAddr(),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", cfg.Server.GetServerAddr()))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
