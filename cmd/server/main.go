package main // Entry point package

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Divkix/pickmyclass/internal/breaker"
	"github.com/Divkix/pickmyclass/internal/cache"
	"github.com/Divkix/pickmyclass/internal/config"
	"github.com/Divkix/pickmyclass/internal/database"
	"github.com/Divkix/pickmyclass/internal/fetcher"
	"github.com/Divkix/pickmyclass/internal/handler"
	"github.com/Divkix/pickmyclass/internal/lock"
	"github.com/Divkix/pickmyclass/internal/notifier"
	"github.com/Divkix/pickmyclass/internal/obs"
	"github.com/Divkix/pickmyclass/internal/queue"
	"github.com/Divkix/pickmyclass/internal/repository"
	"github.com/Divkix/pickmyclass/internal/router"
	"github.com/Divkix/pickmyclass/internal/scheduler"
	"github.com/Divkix/pickmyclass/internal/worker"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly

	cfg := config.Load()
	mon := config.LoadMonitorConfig()

	logger := obs.NewLogger()
	metrics := obs.NewMetrics()
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis backs the dispatch lock, the state cache and the enqueue
	// guard.  A nil client degrades the cache to pass-through and
	// makes dispatch fail closed.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: state cache disabled, dispatch will fail closed until it returns")
	}

	states := repository.NewClassStateRepo(db)
	watches := repository.NewWatchRepo(db)
	receipts := repository.NewNotificationRepo(db)

	stateCache := cache.New(rdb, states, mon.CacheTTL, logger)

	brk := breaker.New(breaker.Config{
		FailureThreshold: mon.BreakerFailureThreshold,
		ResetTimeout:     mon.BreakerResetTimeout,
		SuccessThreshold: mon.BreakerSuccessThreshold,
		CallTimeout:      mon.BreakerCallTimeout,
	})

	fetch := fetcher.New(cfg.ScraperURL, cfg.ScraperTimeout)
	mail := notifier.New(notifier.Config{
		Host:             mon.SMTPHost,
		Port:             mon.SMTPPort,
		Username:         mon.SMTPUsername,
		Password:         mon.SMTPPassword,
		From:             mon.MailFrom,
		SendDelay:        mon.SendDelay,
		RetryFailedSends: mon.RetryFailedSends,
	}, logger)

	checker := worker.New(states, stateCache, fetch, brk, watches, receipts, mail,
		mon.ReceiptTTLHours, logger, metrics)

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		URL:         cfg.AMQPURL,
		Workers:     mon.QueueWorkers,
		Prefetch:    mon.QueuePrefetch,
		MaxAttempts: mon.QueueMaxAttempts,
		BackoffBase: mon.QueueBackoffBase,
		BackoffCap:  mon.QueueBackoffCap,
	}, checker.HandleJob, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("consumer: %v", err)
		}
	}()

	locks := lock.New(rdb)
	pub := queue.NewPublisher(cfg.AMQPURL, rdb, mon.CheckInterval, logger)
	sched := scheduler.New(locks, states, pub, mon.LockTTL, logger, metrics)

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e,
		handler.NewHealthHandler(db, rdb, brk),
		handler.NewDispatchHandler(sched),
		registry,
		cfg.CronJWTSecret, cfg.CronSecretHash,
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	// Wait for in-flight checks to drain before closing the clients
	// they share; the queue redelivers anything still unacked if the
	// drain window runs out.
	select {
	case <-consumerDone:
	case <-time.After(30 * time.Second):
		log.Printf("consumer did not drain in time")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
