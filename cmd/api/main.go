package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/config"
	"github.com/ariefcatur/fulfillment-ops/internal/httpx"
	"github.com/ariefcatur/fulfillment-ops/internal/inventory"
	kafkax "github.com/ariefcatur/fulfillment-ops/internal/kafka"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/ariefcatur/fulfillment-ops/internal/postgres"
	"github.com/ariefcatur/fulfillment-ops/internal/procurement"
	"github.com/ariefcatur/fulfillment-ops/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := config.NewLogger(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores
	var (
		orderStore orders.Store
		poStore    procurement.Store
	)
	switch cfg.StoreDriver {
	case "memory":
		orderStore, poStore = orders.NewMemRepo(), procurement.NewMemRepo()
		log.Warn("using in-memory stores, data is lost on restart")
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.Options{
			MaxConns: int32(cfg.PostgresMaxConns),
			Attempts: 10,
			Log:      log,
		})
		if err != nil {
			log.WithError(err).Fatal("db connect")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.WithError(err).Fatal("db migrate")
		}
		orderStore, poStore = &orders.Repo{DB: db}, &procurement.Repo{DB: db}
	}

	// Redis is optional: without it orders run unlocked and uncached
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	var (
		locker inventory.Locker
		cache  *redis.Client
	)
	if redisx.Available(ctx, rdb) {
		locker, cache = redisx.NewLocker(rdb, cfg.OrderLockTTL), rdb
	} else {
		log.WithField("addr", cfg.RedisAddr).Warn("redis unreachable, order locks and status cache disabled")
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	inv := &inventory.Service{
		Store:       orderStore,
		Locker:      locker,
		Publisher:   prod,
		Log:         log,
		ServiceName: cfg.ServiceName,
	}
	proc := &procurement.Service{
		Store:       poStore,
		Publisher:   prod,
		Log:         log,
		ServiceName: cfg.ServiceName,
		Tolerance:   cfg.AmountTolerance,
		DefaultGst:  cfg.DefaultPOGst,
	}

	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{Inventory: inv, Store: orderStore, Redis: cache, Log: log}).Register(router)
	(&httpx.ProcurementHandler{Service: proc, Log: log}).Register(router)
	(&httpx.TotalsHandler{Tolerance: cfg.AmountTolerance, Log: log}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()          // stop producer loop, it drains the inbox
	prod.WaitClosed() // drain
}
