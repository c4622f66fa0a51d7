package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mtaufanr/go-merch-checkout/internal/config"
	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	kafkax "github.com/mtaufanr/go-merch-checkout/internal/kafka"
	"github.com/mtaufanr/go-merch-checkout/internal/notify"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
	"github.com/mtaufanr/go-merch-checkout/internal/payments"
	"github.com/mtaufanr/go-merch-checkout/internal/postgres"
	"github.com/mtaufanr/go-merch-checkout/internal/redisx"
	"github.com/mtaufanr/go-merch-checkout/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName + "-payments")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicEmail, 1024)
	prod.Start(ctx)

	proc := &payments.Processor{
		Orders:  &orders.PGStore{DB: db},
		Ledger:  &inventory.PGStore{DB: db},
		Notify:  &notify.KafkaDispatcher{Producer: prod, Service: cfg.ServiceName + "-payments"},
		Redis:   rdb,
		Service: cfg.ServiceName + "-payments",
	}

	group := getenv("PAYMENTS_GROUP", "payments-svc")
	workers := mustAtoi(os.Getenv("PAYMENTS_WORKERS"), "8")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, payments.TopicPaymentEvents, workers)

	go func() {
		slog.Info("payment event consumer started",
			"group", group, "topic", payments.TopicPaymentEvents, "workers", workers)
		if err := cons.Start(ctx, payments.ConsumerHandler(proc)); err != nil {
			slog.Error("consumer exit", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down consumer")
	cancel()
	time.Sleep(500 * time.Millisecond)
	prod.Close()
	prod.WaitClosed()
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
