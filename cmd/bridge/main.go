// The bridge binary: attaches to a running engine's shared-memory
// channels and serves the websocket/JSON projection. One optional
// positional argument overrides the listen port (default 8080).
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"hermes/config"
	"hermes/gateway"
	"hermes/infra/tradelog"
	"hermes/jobs/relay"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load()
	port := cfg.BridgePort
	if len(os.Args) > 1 {
		p, err := strconv.Atoi(os.Args[1])
		if err != nil || p <= 0 || p > 65535 {
			log.Fatal("invalid port", zap.String("arg", os.Args[1]))
		}
		port = p
	}

	var archive *tradelog.Store
	if cfg.ArchiveDir != "" {
		archive, err = tradelog.Open(cfg.ArchiveDir)
		if err != nil {
			log.Fatal("archive open failed", zap.Error(err))
		}
		defer archive.Close()
		log.Info("archiving trades", zap.String("dir", cfg.ArchiveDir))
	}

	var rel *relay.Relay
	if len(cfg.KafkaBrokers) > 0 {
		rel, err = relay.New(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Fatal("kafka relay failed", zap.Error(err))
		}
		defer rel.Close()
		log.Info("relaying trades",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	srv, err := gateway.New(gateway.Config{
		Port:           port,
		SnapshotRegion: cfg.SnapshotRegion,
		MetricsRegion:  cfg.MetricsRegion,
		TradesRegion:   cfg.TradesRegion,
		RingSlots:      cfg.RingSlots,
		BookPoll:       cfg.BookPoll,
		MetricsPoll:    cfg.MetricsPoll,
		TradePoll:      cfg.TradePoll,
	}, archive, rel, log)
	if err != nil {
		log.Fatal("bridge bootstrap failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatal("bridge exited", zap.Error(err))
	}
}
