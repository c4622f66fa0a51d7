package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mtaufanr/go-merch-checkout/internal/config"
	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
	"github.com/mtaufanr/go-merch-checkout/internal/postgres"
	"github.com/mtaufanr/go-merch-checkout/internal/sweeper"
	"github.com/mtaufanr/go-merch-checkout/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName + "-sweeper")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sw := &sweeper.Sweeper{
		Orders: &orders.PGStore{DB: db},
		Ledger: &inventory.PGStore{DB: db},
		Expiry: cfg.ReservationExpiry,
	}

	go func() {
		slog.Info("expiry sweeper started",
			"expiry", cfg.ReservationExpiry, "interval", cfg.SweepInterval)
		sw.Run(ctx, cfg.SweepInterval)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down sweeper")
	cancel()
}
