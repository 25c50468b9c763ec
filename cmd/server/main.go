// Package main runs the live activity HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atl-live/backend/config"
	"github.com/atl-live/backend/internal/activities"
	"github.com/atl-live/backend/internal/auth"
	"github.com/atl-live/backend/internal/middleware"
	"github.com/atl-live/backend/internal/models"
	"github.com/atl-live/backend/internal/realtime"
	"github.com/atl-live/backend/internal/session"
	"github.com/atl-live/backend/internal/worker"
	"github.com/atl-live/backend/pkg/mongodb"
	"github.com/atl-live/backend/pkg/queue"
	"github.com/atl-live/backend/pkg/redis"
	"github.com/atl-live/backend/pkg/response"
	"github.com/atl-live/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	db, disconnect, err := mongodb.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	if err != nil {
		logger.Fatal("mongodb", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = disconnect(closeCtx)
	}()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	repo := activities.NewRepository(db)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Session archives: persist first, export to S3 in the background.
	archiveSink := func(archive *models.SessionArchive) {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repo.SaveArchive(saveCtx, archive); err != nil {
			logger.Error("save archive", zap.Error(err), zap.String("activity_id", archive.ActivityID))
			return
		}
		if s3Client == nil {
			return
		}
		err := jobQueue.EnqueueArchiveExport(saveCtx, queue.ArchiveExportPayload{
			ArchiveID:  archive.ID,
			ActivityID: archive.ActivityID,
		})
		if err != nil {
			logger.Error("enqueue archive export", zap.Error(err))
		}
	}

	registry := session.NewRegistry(repo, hub, archiveSink, session.Config{
		PresenceGrace: time.Duration(cfg.Session.PresenceGraceSec) * time.Second,
		IdleTimeout:   time.Duration(cfg.Session.IdleTimeoutSec) * time.Second,
		SweepInterval: time.Duration(cfg.Session.SweepIntervalSec) * time.Second,
		HeartbeatIdle: time.Duration(cfg.Session.HeartbeatIdleSec) * time.Second,
	}, logger)
	defer registry.Close()

	handler := activities.NewHandler(registry, repo, s3Client, logger)

	jwtValidate := func(token string) (userID, nickname, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", "", err
		}
		return claims.UserID, claims.Nickname, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	handler.RegisterRoutes(router, jwtService)

	// Operational stats, admin only.
	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(auth.RoleAdmin))
	admin.GET("/sessions", func(c *gin.Context) {
		response.OK(c, gin.H{"liveSessions": registry.Count()})
	})

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, registry, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Lifecycle sweeps: poll expiry, presence grace, idle teardown.
	go registry.Run(bgCtx)

	// Archive export worker (in-process; cmd/worker runs it standalone).
	if s3Client != nil {
		processor := worker.NewArchiveProcessor(repo, s3Client, jobQueue, logger)
		go processor.Run(bgCtx)
		logger.Info("archive worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
