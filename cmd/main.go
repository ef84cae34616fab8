package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/oksasatya/emailme/config"
	"github.com/oksasatya/emailme/internal/container"
	"github.com/oksasatya/emailme/internal/interface/middleware"
	"github.com/oksasatya/emailme/internal/router"
	"github.com/oksasatya/emailme/pkg/helpers"
	"github.com/oksasatya/emailme/pkg/messaging"
	"github.com/oksasatya/emailme/pkg/validation"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName, cfg.Env, cfg.LogLevel)
	gin.SetMode(cfg.GinMode)
	validation.Init()

	// Redis backs the form rate limit; without it the limit is off
	rdb := helpers.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		if err := helpers.PingRedis(context.Background(), rdb, 3*time.Second); err != nil {
			logger.WithError(err).Warn("redis unreachable, rate limit fails open")
		}
	}

	// The producer connects on the first publish
	dispatcher := messaging.NewDispatcher(logger,
		messaging.WithAppName(cfg.AppName+"-web"),
		messaging.WithDialRetry(cfg.MQDialRetries, cfg.MQDialBackoff),
	)
	if err := dispatcher.Configure(cfg.Broker); err != nil {
		log.Fatalf("invalid broker configuration: %v", err)
	}

	// Provide infra singletons to container for registry auto-wiring
	container.SetConfig(cfg)
	container.SetLogger(logger)
	container.SetRedis(rdb)
	container.SetDispatcher(dispatcher)

	// Gin engine and global middleware
	r := gin.New()
	if err := middleware.ConfigureClientIP(r, cfg.TrustedProxyList(), cfg.TrustedPlatform); err != nil {
		log.Fatalf("invalid client IP configuration: %v", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.RealIP())
	corsCfg := cors.Config{
		AllowOrigins:  cfg.CORSOrigins(),
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.HeaderRequestID},
		ExposeHeaders: []string{"Content-Length", middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))
	if cfg.HTTPLogEnabled || cfg.Env == "development" {
		r.Use(middleware.RequestLogger(logger))
	}

	// Registry: auto-register modules using container
	reg := router.NewRegistry(r)
	router.InitModules(reg)
	reg.RegisterAll()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %s\n", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	if err := dispatcher.Stop(ctxShutdown); err != nil {
		logger.WithError(err).Error("dispatcher stop")
	}
	logger.Info("server exited properly")
}
