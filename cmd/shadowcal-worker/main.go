package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/config"
	"github.com/vipul43/shadowcal-worker/internal/database"
	"github.com/vipul43/shadowcal-worker/internal/gcal"
	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/outlook"
	"github.com/vipul43/shadowcal-worker/internal/report"
	"github.com/vipul43/shadowcal-worker/internal/repository"
	"github.com/vipul43/shadowcal-worker/internal/scheduler"
	"github.com/vipul43/shadowcal-worker/internal/service"
	"github.com/vipul43/shadowcal-worker/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Println("Database connected successfully")

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db.Gorm)
	calendarRepo := repository.NewCalendarRepository(db.Gorm)
	eventRepo := repository.NewEventRepository(db.Gorm)
	syncPairRepo := repository.NewSyncPairRepository(db.Gorm)
	syncJobRepo := repository.NewSyncJobRepository(db.SQL)

	repos := service.Repositories{
		Accounts:  accountRepo,
		Calendars: calendarRepo,
		Events:    eventRepo,
		SyncPairs: syncPairRepo,
		Tx:        repository.NewTransactor(db.Gorm),
	}

	// Initialize provider clients
	providers := service.ProviderRegistry{
		models.ProviderGoogle:  gcal.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret),
		models.ProviderOutlook: outlook.NewClient(cfg.OutlookClientID, cfg.OutlookClientSecret),
	}

	// Initialize services
	tokens := service.NewTokenManager(accountRepo, providers)
	accountProcessor := service.NewAccountProcessor(accountRepo, calendarRepo, providers, tokens)
	engine := service.NewShadowEngine(repos, providers, tokens, cfg.CastBatchSize)

	reporter := report.NewLogReporter()
	snapshots := report.NewSnapshots(accountRepo, calendarRepo, syncPairRepo)

	// Initialize watcher and scheduler
	w := watcher.New(cfg, syncJobRepo, accountProcessor, engine, reporter, snapshots)
	s := scheduler.New(cfg, syncPairRepo, accountRepo, syncJobRepo, tokens)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start watcher and scheduler in goroutines
	errChan := make(chan error, 2)
	go func() {
		errChan <- w.Start(ctx)
	}()
	go func() {
		errChan <- s.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
		cancel()

		// Wait for graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		for stopped := 0; stopped < 2; stopped++ {
			select {
			case <-shutdownCtx.Done():
				log.Println("Shutdown timeout exceeded")
				return nil
			case err := <-errChan:
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("Worker error: %v", err)
				}
			}
		}

		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
