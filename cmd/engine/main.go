// The engine binary: creates the shared-memory channels, runs the
// matching engine with its publishers, and drives a synthetic order
// flow until signalled. It takes no arguments; see config for the
// HERMES_* environment keys.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hermes/config"
	"hermes/domain/book"
	"hermes/infra/hostprobe"
	"hermes/infra/sequence"
	"hermes/service"
	"hermes/telemetry"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load()

	probe, err := hostprobe.New("/proc")
	if err != nil {
		log.Warn("host probe unavailable", zap.Error(err))
		probe = nil
	}
	tc := telemetry.New(probe, log)

	eng, err := service.New(service.Config{
		Symbol:           cfg.Symbol,
		SnapshotRegion:   cfg.SnapshotRegion,
		MetricsRegion:    cfg.MetricsRegion,
		TradesRegion:     cfg.TradesRegion,
		RingSlots:        cfg.RingSlots,
		SnapshotInterval: cfg.SnapshotInterval,
		MetricsInterval:  cfg.MetricsInterval,
	}, tc, log)
	if err != nil {
		log.Fatal("engine bootstrap failed", zap.Error(err))
	}
	eng.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("engine running",
		zap.String("symbol", cfg.Symbol),
		zap.String("orderbook", cfg.SnapshotRegion),
		zap.String("metrics", cfg.MetricsRegion),
		zap.String("trades", cfg.TradesRegion))

	driveOrders(ctx, eng, cfg.Symbol, log)

	log.Info("shutting down")
	eng.Close()
}

// driveOrders feeds the engine a synthetic limit-order flow: uniform
// prices between $50,000 and $60,000 in cents, quantities 1-100,
// random side, 1-10ms apart, with an occasional cancel of a recent
// order.
func driveOrders(ctx context.Context, eng *service.Engine, symbol string, log *zap.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ids := sequence.New(0)

	recent := make([]book.OrderID, 0, 128)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if len(recent) > 0 && rng.Intn(100) < 5 {
			i := rng.Intn(len(recent))
			eng.Cancel(recent[i])
			recent = append(recent[:i], recent[i+1:]...)
		} else {
			id := ids.Next()
			side := book.Buy
			if rng.Intn(2) == 1 {
				side = book.Sell
			}
			o := &book.Order{
				ID:       id,
				Side:     side,
				Type:     book.Limit,
				Price:    int64(50000+rng.Intn(10001)) * 100,
				Quantity: uint32(1 + rng.Intn(100)),
			}
			if err := eng.Submit(o); err != nil {
				log.Warn("order rejected", zap.Uint64("id", id), zap.Error(err))
			}
			if len(recent) == cap(recent) {
				recent = recent[1:]
			}
			recent = append(recent, id)
		}

		delay := time.Duration(1+rng.Intn(10)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
