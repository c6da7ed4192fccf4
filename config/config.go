// Package config resolves settings for both binaries from the
// environment (prefix HERMES_), with defaults matching the published
// wire contract.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Symbol string

	SnapshotRegion string
	MetricsRegion  string
	TradesRegion   string
	RingSlots      int

	SnapshotInterval time.Duration
	MetricsInterval  time.Duration

	BridgePort  int
	BookPoll    time.Duration
	MetricsPoll time.Duration
	TradePoll   time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	ArchiveDir   string
}

// Load reads the environment. Every key has a default; Load cannot
// fail on missing configuration, only report what it resolved.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("HERMES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("symbol", "BTCUSD")
	v.SetDefault("region.orderbook", "/hft_orderbook")
	v.SetDefault("region.metrics", "/hft_metrics")
	v.SetDefault("region.trades", "/hft_trades")
	v.SetDefault("ring.slots", 1024)
	v.SetDefault("snapshot.interval", 100*time.Microsecond)
	v.SetDefault("metrics.interval", 100*time.Millisecond)
	v.SetDefault("bridge.port", 8080)
	v.SetDefault("bridge.book.poll", 50*time.Millisecond)
	v.SetDefault("bridge.metrics.poll", time.Second)
	v.SetDefault("bridge.trade.poll", 10*time.Millisecond)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "hermes.trades")
	v.SetDefault("archive.dir", "")

	var brokers []string
	if raw := v.GetString("kafka.brokers"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return &Config{
		Symbol:           v.GetString("symbol"),
		SnapshotRegion:   v.GetString("region.orderbook"),
		MetricsRegion:    v.GetString("region.metrics"),
		TradesRegion:     v.GetString("region.trades"),
		RingSlots:        v.GetInt("ring.slots"),
		SnapshotInterval: v.GetDuration("snapshot.interval"),
		MetricsInterval:  v.GetDuration("metrics.interval"),
		BridgePort:       v.GetInt("bridge.port"),
		BookPoll:         v.GetDuration("bridge.book.poll"),
		MetricsPoll:      v.GetDuration("bridge.metrics.poll"),
		TradePoll:        v.GetDuration("bridge.trade.poll"),
		KafkaBrokers:     brokers,
		KafkaTopic:       v.GetString("kafka.topic"),
		ArchiveDir:       v.GetString("archive.dir"),
	}
}
