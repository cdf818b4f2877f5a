package main // Entry point package

import (
	"context"   // root context for streams and consumer
	"errors"    // errors matches http.ErrServerClosed
	"net"       // net.Listener for the server base context
	"net/http"  // http.ErrServerClosed
	"os"        // os.Interrupt
	"os/signal" // signal.NotifyContext for graceful shutdown
	"syscall"   // SIGTERM
	"time"      // shutdown grace period

	"github.com/iliyamo/taskpulse/internal/config"     // environment configuration
	"github.com/iliyamo/taskpulse/internal/database"   // MySQL connection and schema
	"github.com/iliyamo/taskpulse/internal/handler"    // HTTP handlers
	"github.com/iliyamo/taskpulse/internal/logger"     // logrus setup
	"github.com/iliyamo/taskpulse/internal/queue"      // domain event consumer
	"github.com/iliyamo/taskpulse/internal/repository" // Redis and MySQL stores
	"github.com/iliyamo/taskpulse/internal/router"     // Echo wiring
	"github.com/iliyamo/taskpulse/internal/service"    // publisher and stream gateway
	"github.com/iliyamo/taskpulse/internal/utils"      // password hashing
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg := config.Load()                    // Load environment config
	log := logger.New(cfg.Env, cfg.LogLevel) // Process-wide logger

	// Cancelled on SIGINT/SIGTERM; every stream and the consumer derive from it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("redis unavailable")
	}
	defer rdb.Close()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("schema migration failed")
	}

	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(rdb, cfg.SessionTTL, log)
	records := repository.NewNotificationRepo(rdb, log)
	publisher := service.NewPublisher(records, rdb, log)
	gateway := service.NewGateway(rdb, cfg.StreamHeartbeat, log)

	deps := router.Deps{
		Log:           log,
		Redis:         rdb,
		RateLimit:     cfg.RateLimit,
		Sessions:      sessions,
		Users:         users,
		Health:        &handler.HealthHandler{Redis: handler.RedisPinger{Client: rdb}, Streams: gateway},
		Auth:          handler.NewAuthHandler(users, sessions, utils.NewPasswordHasher(cfg.ScryptN), cfg.CookieSecure, log),
		Notifications: handler.NewNotificationHandler(records, log),
		Stream:        handler.NewStreamHandler(gateway, cfg.StreamTrustQueryUser, log),
	}
	if cfg.DemoEndpoints {
		deps.Demo = handler.NewDemoHandler(publisher, log)
		log.Warn("demo notification endpoints enabled")
	}
	e := router.New(deps)

	// Request contexts hang off ctx so open streams end when shutdown starts;
	// Shutdown alone would wait for them until the grace period expires.
	e.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		c := queue.NewConsumer(cfg.RabbitURL, cfg.EventsQueue, publisher, log)
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("event consumer stopped")
		}
	}()

	addr := ":" + cfg.Port
	go func() {
		log.WithField("addr", addr).WithField("env", cfg.Env).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	<-consumerDone
	log.WithField("active_streams", gateway.Active()).Info("stopped")
}
