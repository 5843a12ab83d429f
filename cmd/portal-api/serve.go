package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"incubator-portal/portal-backend/internal/funding"
	"incubator-portal/portal-backend/internal/messaging"
	"incubator-portal/portal-backend/internal/realtime"
	"incubator-portal/portal-backend/internal/scheduler"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext(cmd)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	// Publishers
	var publishers funding.MultiPublisher
	var stream *realtime.Manager
	if cfg.Events.WebSocket {
		stream = realtime.NewManager(logger.Named("realtime"), allowOrigins(cfg.Server.AllowedOrigins))
		defer stream.Close()
		publishers = append(publishers, stream)
	}
	if cfg.Events.SNSTopicARN != "" {
		client, err := messaging.NewSNSClient(ctx, cfg.Events.AWSRegion)
		if err != nil {
			return err
		}
		snsPublisher, err := messaging.NewSNSPublisher(client, cfg.Events.SNSTopicARN, logger.Named("sns"))
		if err != nil {
			return err
		}
		publishers = append(publishers, snsPublisher)
	}

	fundingService := funding.NewService(repo, publishers, logger.Named("funding"))

	var streamServer funding.StreamServer
	if stream != nil {
		streamServer = stream
	}
	fundingHandler := funding.NewHandler(fundingService, streamServer, logger.Named("funding"))

	if cfg.Scheduler.DriftEnabled {
		drift := scheduler.NewDriftReporter(fundingService, cfg.Scheduler.DriftSchedule, logger.Named("drift"))
		if err := drift.Start(ctx); err != nil {
			return err
		}
		defer drift.Stop()
	}

	// Setup Router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors(cfg.Server.AllowedOrigins))

	api := router.Group("/api/v1")
	{
		fundingHandler.RegisterRoutes(api)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"storage":   cfg.Storage.Driver,
			"timestamp": time.Now(),
		})
	})

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("storage", cfg.Storage.Driver))

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
	return nil
}
