package main

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-cardstore/internal/config"
	"github.com/ariefcatur/go-cardstore/internal/delivery"
	"github.com/ariefcatur/go-cardstore/internal/expiry"
	kafkax "github.com/ariefcatur/go-cardstore/internal/kafka"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/postgres"
	"github.com/ariefcatur/go-cardstore/internal/redisx"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.ServiceName += "-delivery"

	log, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("delivery exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.Options{MaxConns: int32(cfg.DBMaxConns), PingRetries: 5}, log)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: delivered & cancelled (reserve ulang bisa memicu reconcile)
	pDelivered := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderDelivered, 1024, log)
	pDelivered.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	pCancelled.Start(ctx)

	cards := &orders.CardRepo{DB: db}
	stockSvc := stock.NewService(cards, log.Named("stock"))
	stockSvc.OnExpired = (&expiry.Notifier{
		Redis: rdb, Producer: pCancelled, ServiceName: cfg.ServiceName, Log: log.Named("expiry"),
	}).Notify

	svc := &delivery.Service{
		Orders:      &orders.Repo{DB: db},
		Cards:       cards,
		Stock:       stockSvc,
		Redis:       rdb,
		Producer:    pDelivered,
		ServiceName: cfg.ServiceName,
		Clock:       stock.SystemClock,
		Log:         log.Named("delivery"),
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.DeliveryGroup, orders.TopicOrderPaid, cfg.DeliveryWorkers, log)
	log.Info("delivery consumer started",
		zap.String("group", cfg.DeliveryGroup), zap.String("topic", orders.TopicOrderPaid), zap.Int("workers", cfg.DeliveryWorkers))
	err = cons.Start(ctx, svc.HandleOrderPaid)
	log.Info("shutting down consumer...")

	pDelivered.Close()
	pCancelled.Close()
	pDelivered.WaitClosed()
	pCancelled.WaitClosed()
	return err
}
