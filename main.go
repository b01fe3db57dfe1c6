package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"kostfinder/internal/api"
	"kostfinder/internal/auth"
	"kostfinder/internal/cache"
	"kostfinder/internal/config"
	"kostfinder/internal/db"
	"kostfinder/internal/email"
	"kostfinder/internal/listing"
	"kostfinder/internal/logging"
	"kostfinder/internal/services"
	"kostfinder/internal/storage"
	"kostfinder/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'img' (image processing), 'all' (default)")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	if err := logging.WithFile(logger, cfg.LogFile); err != nil {
		logger.WithError(err).Fatal("Failed to set up log file")
	}

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient, logger); err != nil {
			logger.WithError(err).Error("Error disconnecting from MongoDB")
		}
	}()

	ctxIdx, cancelIdx := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(ctxIdx, mongoDb); err != nil {
		logger.WithError(err).Fatal("Failed to create indexes")
	}
	cancelIdx()

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient, logger); err != nil {
			logger.WithError(err).Error("Error disconnecting from Redis")
		}
	}()

	imageStore, err := storage.NewImageStore(context.Background(), cfg, mongoDb)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize image storage")
	}
	logger.WithField("provider", imageStore.Provider()).Info("Image storage ready")

	// Initialize Email Sender
	var primaryEmailSender email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		logger.Info("MOCK_SERVICES enabled: using Redis email sender")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg.SmtpFromAddress, logger)
	} else {
		primaryEmailSender = email.NewSMTPSender(cfg, logger)
	}
	compositeSender := email.NewCompositeEmailSender(primaryEmailSender)
	if logEmailsPath := os.Getenv("LOG_EMAILS"); logEmailsPath != "" {
		fileSender, err := email.NewFileEmailSender(logEmailsPath)
		if err != nil {
			logger.WithError(err).WithField("path", logEmailsPath).Warn("Proceeding without file email log")
		} else {
			compositeSender.AddSender(fileSender)
			logger.WithField("path", logEmailsPath).Info("File email logger added")
		}
	}

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	taskProcessor := tasks.NewTaskProcessor(cfg, logger, compositeSender, imageStore)

	var wg sync.WaitGroup

	// Channel to signal shutdown from Service API
	shutdownChan := make(chan struct{}, 1)

	// Service API always runs
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(logger, redisClient, shutdownChan),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("Service API listening on :%s", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Service API ListenAndServe error")
		}
		logger.Info("Service API server stopped")
	}()

	// --- Mode-specific servers ---
	var mainApiSrv *http.Server
	var taskSrv *asynq.Server
	ctxFeed, cancelFeed := context.WithCancel(context.Background())
	defer cancelFeed()

	logger.Infof("Starting application in '%s' mode", cfg.RunMode)

	apiMode := func() {
		listingService := services.NewListingService(mongoDb, logger)
		store := listing.NewStore(listing.NewMongoFeed(mongoDb, logger), listingService, logger)
		store.Subscribe(ctxFeed)

		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: api.SetupRouter(cfg, logger, mongoDb, redisClient, store, imageStore, taskClient),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Infof("Main API listening on :%s", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Fatal("Main API ListenAndServe error")
			}
			logger.Info("Main API server stopped")
		}()
	}

	workerMode := func(isImageWorker, isBgWorker bool) {
		srv, mux := tasks.SetupServer(redisClient, taskProcessor, isImageWorker, isBgWorker)
		if srv == nil {
			return
		}
		taskSrv = srv
		if isBgWorker {
			events, err := auth.NewRedisEvents(redisClient, logger).Subscribe(ctxFeed)
			if err != nil {
				logger.WithError(err).Error("Auth event log disabled")
			} else {
				wg.Add(1)
				go func() {
					defer wg.Done()
					auth.LogEvents(events, logger)
				}()
			}
		}
		logger.WithFields(logrus.Fields{"bg": isBgWorker, "images": isImageWorker}).Info("Task server starting")
		// Start does not block; Shutdown below stops it.
		if err := srv.Start(mux); err != nil {
			logger.WithError(err).Fatal("Task server error")
		}
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		workerMode(false, true)
	case "img":
		workerMode(true, false)
	case "all":
		apiMode()
		workerMode(true, true)
	default:
		logger.Fatalf("Invalid run mode specified: %s", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Infof("Received signal: %s. Shutting down gracefully", sig)
	case <-shutdownChan:
		logger.Info("Shutdown requested via Service API. Shutting down gracefully")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		logger.WithError(err).Error("Service API server shutdown error")
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			logger.WithError(err).Error("Main API server shutdown error")
		}
	}
	cancelFeed()
	if taskSrv != nil {
		taskSrv.Shutdown()
		logger.Info("Task server stopped")
	}

	logger.Info("Waiting for servers to stop")
	wg.Wait()
	logger.Info("Server gracefully stopped")
}
