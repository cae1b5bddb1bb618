package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio-trader-go/internal/analytics"
	"portfolio-trader-go/internal/api"
	"portfolio-trader-go/internal/autotrade"
	"portfolio-trader-go/internal/config"
	"portfolio-trader-go/internal/database"
	"portfolio-trader-go/internal/exchange"
	"portfolio-trader-go/internal/logger"
	"portfolio-trader-go/internal/marketdata"
	"portfolio-trader-go/internal/pricefeed"
	"portfolio-trader-go/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Order execution port
	var executor exchange.Executor
	if cfg.Trading.DryRun {
		executor = exchange.NewDryRunExecutor(log)
	} else {
		executor = exchange.NewRestClient(&cfg.Exchange, log)
	}

	marketClient := marketdata.NewClient(&cfg.MarketData, log)
	trader := autotrade.NewOrchestrator(db, log, executor)

	// Scheduling pipeline
	tracker := scheduler.NewTracker(db)
	logs := scheduler.NewLogWriter(db, log)
	batch := scheduler.NewBatchProcessor(
		db, log, marketClient, tracker, logs,
		cfg.Scheduler.BatchSize,
		time.Duration(cfg.Scheduler.BatchDelayMs)*time.Millisecond,
		cfg.Scheduler.HistoryDays,
	)
	provider := analytics.NewIndicators(db, log)
	orchestrator := scheduler.NewOrchestrator(db, log, cfg.Scheduler, tracker, logs, batch, provider)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Daily scheduling trigger
	cron := gocron.NewScheduler(time.UTC)
	_, err = cron.Every(1).Day().At(cfg.Scheduler.DailyAt).Do(func() {
		summary, err := orchestrator.Run(ctx, false)
		if err != nil {
			log.Error("Scheduled run failed", zap.Error(err))
			return
		}
		log.Info(summary.String())
	})
	if err != nil {
		log.Fatal("Failed to schedule daily run", zap.Error(err))
	}
	cron.StartAsync()
	log.Info("Daily scheduler started", zap.String("at", cfg.Scheduler.DailyAt))

	// Live price feed driving auto-trade evaluation, or quote polling when no
	// stream is configured.
	if cfg.PriceFeed.URL != "" {
		feed := pricefeed.NewFeed(cfg.PriceFeed, db, log, trader)
		go feed.Run(ctx)
	} else {
		poller := pricefeed.NewPoller(cfg.PriceFeed, db, log, marketClient, trader)
		go poller.Run(ctx)
	}

	// HTTP API
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := api.NewHandler(log, db, tracker, orchestrator, trader)
	handler.Register(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Info("Starting web server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Web server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	cron.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}

	log.Info("Server has been shut down.")
}
