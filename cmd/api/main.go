package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-cardstore/internal/checkout"
	"github.com/ariefcatur/go-cardstore/internal/config"
	"github.com/ariefcatur/go-cardstore/internal/expiry"
	"github.com/ariefcatur/go-cardstore/internal/httpx"
	kafkax "github.com/ariefcatur/go-cardstore/internal/kafka"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/postgres"
	"github.com/ariefcatur/go-cardstore/internal/redisx"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
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

	// Producers, satu per topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log)
	pPaid := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPaid, 1024, log)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	producers := []*kafkax.Producer{pCreated, pPaid, pCancelled}
	for _, p := range producers {
		p.Start(ctx)
	}

	// Services
	repo := &orders.Repo{DB: db}
	stockSvc := stock.NewService(&orders.CardRepo{DB: db}, log.Named("stock"))
	stockSvc.OnExpired = (&expiry.Notifier{
		Redis: rdb, Producer: pCancelled, ServiceName: cfg.ServiceName, Log: log.Named("expiry"),
	}).Notify
	shop := &checkout.Service{
		Orders:        repo,
		Catalog:       repo,
		Customers:     repo,
		Stock:         stockSvc,
		Redis:         rdb,
		Events:        checkout.Publishers{Created: pCreated, Paid: pPaid, Cancelled: pCancelled},
		ServiceName:   cfg.ServiceName,
		Clock:         stock.SystemClock,
		Log:           log.Named("checkout"),
		CheckinReward: cfg.CheckinReward,
	}

	// HTTP
	router := httpx.NewRouter(log.Named("http"))
	(&httpx.OrdersHandler{Shop: shop, Log: log, AdminToken: cfg.AdminToken}).Register(router)
	(&httpx.AdminHandler{Admin: shop, Token: cfg.AdminToken, Log: log}).Register(router)
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN empty, admin endpoints disabled")
	}
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()

	// tutup inbox -> flush & close writer
	for _, p := range producers {
		p.Close()
	}
	for _, p := range producers {
		p.WaitClosed()
	}
	return err
}
