package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "github.com/lib/pq"

	"github.com/ignite/deliverability-guard/internal/api"
	"github.com/ignite/deliverability-guard/internal/classifier"
	"github.com/ignite/deliverability-guard/internal/config"
	"github.com/ignite/deliverability-guard/internal/mailbox"
	"github.com/ignite/deliverability-guard/internal/pkg/secrets"
	"github.com/ignite/deliverability-guard/internal/reputation"
	"github.com/ignite/deliverability-guard/internal/repository/postgres"
	"github.com/ignite/deliverability-guard/internal/scheduler"
	"github.com/ignite/deliverability-guard/internal/service/bouncelog"
	"github.com/ignite/deliverability-guard/internal/service/credentials"
	"github.com/ignite/deliverability-guard/internal/service/suppression"
	"github.com/ignite/deliverability-guard/internal/training"
)

func main() {
	log.Println("Starting Deliverability Guard...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database connection
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	// Redis connection
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("Failed to ping redis: %v", err)
	}
	cancel()
	log.Println("Connected to redis")

	// Secret cipher for mailbox passwords
	if cfg.Mailbox.EncryptionKey == "" {
		log.Fatal("MAILBOX_ENCRYPTION_KEY is required")
	}
	cipher, err := secrets.New(cfg.Mailbox.EncryptionKey)
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}

	// Repositories
	suppRepo := postgres.NewSuppressionRepo(db)
	logRepo := postgres.NewBounceLogRepo(db)
	credRepo := postgres.NewCredentialRepo(db)
	repRepo := postgres.NewReputationRepo(db)
	trainRepo := postgres.NewTrainingRepo(db)
	domainRepo := postgres.NewDomainRepo(db)
	deliveryRepo := postgres.NewDeliveryRepo(db)

	// Services
	suppSvc := suppression.NewService(suppRepo)
	logSvc := bouncelog.NewService(logRepo)
	resolver := credentials.NewResolver(credRepo)
	thresholds := reputation.RiskThresholds{
		High:   cfg.Scoring.HighRiskBelow,
		Medium: cfg.Scoring.MediumRiskBelow,
	}
	scorer := reputation.NewScorer(logSvc, repRepo, thresholds)
	controller := training.NewController(trainRepo)
	limiter := training.NewLimiter(redisClient, controller)
	bounceClassifier := classifier.New(logSvc, suppSvc)

	fetchers := mailbox.NewFactory(
		mailbox.NewIMAPFetcher(mailbox.WithIMAPDialTimeout(cfg.Mailbox.DialTimeout())),
		mailbox.NewPOP3Fetcher(mailbox.WithPOP3DialTimeout(cfg.Mailbox.DialTimeout())),
	)

	// Scheduler
	sched := scheduler.New(scheduler.Deps{
		Domains:    domainRepo,
		Resolver:   resolver,
		Cipher:     cipher,
		Fetchers:   fetchers,
		Classifier: bounceClassifier,
		Scorer:     scorer,
		TrainRepo:  trainRepo,
		Controller: controller,
		Delivery:   deliveryRepo,
		Redis:      redisClient,
	}, scheduler.Config{
		TickInterval:             cfg.Scheduler.TickInterval(),
		MaxConcurrent:            cfg.Scheduler.MaxConcurrent,
		DefaultCheckInterval:     cfg.Scheduler.CheckInterval(),
		DefaultAnalysisFrequency: cfg.Training.AnalysisFrequency(),
		LockTTL:                  cfg.Scheduler.LockTTL(),
	})
	sched.Start()

	// HTTP API
	router := api.SetupRoutes(&api.Handlers{
		Suppression: api.NewSuppressionAPI(suppSvc),
		Reputation:  api.NewReputationAPI(scorer, logSvc),
		Training:    api.NewTrainingAPI(trainRepo, controller, limiter),
		Credentials: api.NewCredentialAPI(credRepo),
	}, cfg.Server.AllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	sched.Stop()
	log.Println("Shutdown complete")
}
