package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mtaufanr/go-merch-checkout/internal/catalog"
	"github.com/mtaufanr/go-merch-checkout/internal/checkout"
	"github.com/mtaufanr/go-merch-checkout/internal/config"
	"github.com/mtaufanr/go-merch-checkout/internal/httpx"
	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	kafkax "github.com/mtaufanr/go-merch-checkout/internal/kafka"
	"github.com/mtaufanr/go-merch-checkout/internal/metrics"
	"github.com/mtaufanr/go-merch-checkout/internal/notify"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
	"github.com/mtaufanr/go-merch-checkout/internal/payments"
	"github.com/mtaufanr/go-merch-checkout/internal/postgres"
	"github.com/mtaufanr/go-merch-checkout/internal/pricing"
	"github.com/mtaufanr/go-merch-checkout/internal/redisx"
	"github.com/mtaufanr/go-merch-checkout/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName)
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

	m := metrics.NewCoreMetrics("api")
	ledger := &inventory.PGStore{DB: db}
	orderStore := &orders.PGStore{DB: db}
	dispatcher := &notify.KafkaDispatcher{Producer: prod, Service: cfg.ServiceName}

	calc := &pricing.Calculator{
		Catalog: &catalog.PGReader{DB: db},
		Promos:  &catalog.PGPromos{DB: db},
		Stock:   ledger,
		Rules:   pricing.DefaultRules(),
	}
	orch := &checkout.Orchestrator{
		Calc:           calc,
		Ledger:         ledger,
		Orders:         orderStore,
		Gateway:        checkout.InstrumentGateway(checkout.FakeGateway{}, m.GatewayLatencyMS),
		Redis:          rdb,
		GatewayTimeout: cfg.GatewayTimeout,
		Currency:       cfg.Currency,
	}
	proc := &payments.Processor{
		Orders:  orderStore,
		Ledger:  ledger,
		Notify:  dispatcher,
		Redis:   rdb,
		Metrics: m,
		Service: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	h := &httpx.Handler{
		Orchestrator: orch,
		Processor:    proc,
		Orders:       orderStore,
		Ledger:       ledger,
		Redis:        rdb,
		Metrics:      m,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	cancel()
	prod.WaitClosed()
}
