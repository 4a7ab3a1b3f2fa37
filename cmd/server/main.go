package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lexpay/internal/config"
	"lexpay/internal/fee"
	"lexpay/internal/gateway/registry"
	"lexpay/internal/handler"
	"lexpay/internal/infrastructure/cache"
	"lexpay/internal/infrastructure/database"
	"lexpay/internal/infrastructure/lock"
	"lexpay/internal/infrastructure/logger"
	"lexpay/internal/infrastructure/mq"
	"lexpay/internal/job"
	"lexpay/internal/repository"
	"lexpay/internal/service"
	"lexpay/pkg/idgen"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	locker := lock.NewRedisLocker(rdb)

	rail, err := registry.New(cfg.Rail)
	if err != nil {
		return err
	}

	surcharge, platformFee, err := cfg.Fees.Rates()
	if err != nil {
		return err
	}
	calc, err := fee.NewCalculator(surcharge, platformFee, cfg.Fees.MinAmount)
	if err != nil {
		return err
	}

	ids, err := idgen.NewSnowflake(1)
	if err != nil {
		return err
	}

	loc, err := cfg.Payout.Location()
	if err != nil {
		return err
	}
	weekStart, err := cfg.Payout.Weekday()
	if err != nil {
		return err
	}

	var publisher job.Publisher = mq.LogPublisher{Log: log}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher = producer
	}

	ledger := repository.NewGormLedger(db)
	topic := cfg.Kafka.Topic

	checkout := service.NewCheckoutService(ledger, rail, calc, ids, locker, service.CheckoutConfig{
		Basis:       fee.Basis(cfg.Fees.AmountBasis),
		Currency:    cfg.Fees.Currency,
		PendingTTL:  time.Duration(cfg.Business.PendingExpiryMinutes) * time.Minute,
		RailTimeout: cfg.Rail.Timeout,
		Topic:       topic,
		SuccessURL:  cfg.Rail.SuccessURL,
		FailureURL:  cfg.Rail.FailureURL,
		PendingURL:  cfg.Rail.PendingURL,
	}, log.Named("checkout"))
	webhooks := service.NewWebhookService(ledger, rail, topic, log.Named("webhook"))
	refunds := service.NewRefundService(ledger, rail, topic, cfg.Rail.Timeout, log.Named("refund"))
	payouts := service.NewPayoutService(ledger, rail, repository.NewProviderAccountRepository(db), locker, service.PayoutConfig{
		WeekStart:       weekStart,
		Location:        loc,
		MaxAttempts:     cfg.Payout.MaxAttempts,
		Concurrency:     cfg.Payout.Concurrency,
		LockTTL:         cfg.Payout.LockTTL,
		TransferTimeout: cfg.Payout.TransferTimeout,
		Topic:           topic,
	}, log.Named("payout"))

	outboxSender := job.NewOutboxSender(repository.NewOutboxRepository(db), publisher,
		cfg.Business.OutboxInterval, cfg.Business.MaxRetryCount, log)
	go outboxSender.Start(ctx)

	expiryJob := job.NewPaymentExpiryJob(checkout, cfg.Business.ExpiryCheckInterval, log)
	go expiryJob.Start(ctx)

	if cfg.Payout.SchedulerEnabled {
		scheduler := job.NewPayoutScheduler(payouts, cfg.Payout.CheckInterval, weekStart, loc, log)
		go scheduler.Start(ctx)
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(handler.Services{
		Checkout: checkout,
		Payments: service.NewPaymentService(ledger),
		Refunds:  refunds,
		Webhooks: webhooks,
		Payouts:  payouts,
	}, log)
	router := handler.SetupRouter(h, cfg.Server, cfg.Payout.Secret, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.Int("port", cfg.Server.Port), zap.String("rail", cfg.Rail.Provider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
