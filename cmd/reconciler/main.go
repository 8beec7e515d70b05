package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/fulfillment-ops/internal/config"
	"github.com/ariefcatur/fulfillment-ops/internal/inventory"
	kafkax "github.com/ariefcatur/fulfillment-ops/internal/kafka"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/ariefcatur/fulfillment-ops/internal/postgres"
	"github.com/ariefcatur/fulfillment-ops/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := config.NewLogger(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.Options{
		MaxConns: int32(cfg.PostgresMaxConns),
		Attempts: 10,
		Log:      log,
	})
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	service := cfg.ServiceName + "-reconciler"
	handler := &inventory.StatusRequests{
		Service: &inventory.Service{
			Store:       &orders.Repo{DB: db},
			Locker:      redisx.NewLocker(rdb, cfg.OrderLockTTL),
			Publisher:   prod,
			Log:         log,
			ServiceName: service,
		},
		Dedup: redisx.NewDedup(rdb, service),
		Log:   log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, orders.TopicOrderStatusRequested, cfg.ReconcilerWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.WithFields(logrus.Fields{
			"group":   cfg.ReconcilerGroup,
			"topic":   orders.TopicOrderStatusRequested,
			"workers": cfg.ReconcilerWorkers,
		}).Info("reconciler consumer started")
		if err := cons.Start(ctx, handler.Handle); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer...")
	cancel()
	<-done
	prod.WaitClosed()
}
