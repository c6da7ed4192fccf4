// Package telemetry accumulates per-operation latency, engine
// counters and host samples, and merges them into the Metrics record
// published through the shared-memory metrics slot.
package telemetry

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hermes/infra/hostprobe"
)

// HistogramBuckets uniform buckets cover [0, 1ms); anything slower
// lands in the last bucket.
const (
	HistogramBuckets = 50
	histogramRangeNs = 1_000_000
)

// Metrics is the fixed-layout record published through the metrics
// slot. CPUUsage is in tenths of a percent (0-1000); NetSent/NetRecv
// are deltas since the previous host sample.
type Metrics struct {
	Timestamp    uint64
	CPUUsage     float64
	MemoryBytes  uint64
	NetSent      uint64
	NetRecv      uint64
	Orders       uint32
	Trades       uint32
	AvgLatencyNs uint64
	MaxLatencyNs uint64
	MinLatencyNs uint64
}

// Collector is safe for concurrent use: every accumulator is atomic.
// Readers of Metrics may observe counters one sample ahead of the
// averages; the metrics channel is advisory and tolerates that skew.
type Collector struct {
	log   *zap.Logger
	probe *hostprobe.Probe

	orders  atomic.Uint32
	trades  atomic.Uint32
	dropped atomic.Uint32

	latencySum atomic.Uint64
	samples    atomic.Uint64
	minLatency atomic.Uint64
	maxLatency atomic.Uint64
	histogram  [HistogramBuckets]atomic.Uint32

	// latest host sample, refreshed by SampleHost
	cpuBits  atomic.Uint64
	rssBytes atomic.Uint64
	netSent  atomic.Uint64
	netRecv  atomic.Uint64

	probeWarn sync.Once
}

// New creates a collector. probe may be nil, in which case host
// fields stay zero (the probe failure is reported once at sample
// time).
func New(probe *hostprobe.Probe, log *zap.Logger) *Collector {
	c := &Collector{log: log, probe: probe}
	c.minLatency.Store(math.MaxUint64)
	return c
}

// RecordLatency folds one operation latency into the running sum,
// min/max and histogram.
func (c *Collector) RecordLatency(ns uint64) {
	c.latencySum.Add(ns)
	c.samples.Add(1)

	for {
		cur := c.minLatency.Load()
		if ns >= cur || c.minLatency.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := c.maxLatency.Load()
		if ns <= cur || c.maxLatency.CompareAndSwap(cur, ns) {
			break
		}
	}

	bucket := ns * HistogramBuckets / histogramRangeNs
	if bucket >= HistogramBuckets {
		bucket = HistogramBuckets - 1
	}
	c.histogram[bucket].Add(1)
}

// IncOrdersProcessed bumps the lifetime order counter.
func (c *Collector) IncOrdersProcessed() { c.orders.Add(1) }

// IncTradesExecuted bumps the lifetime trade counter.
func (c *Collector) IncTradesExecuted() { c.trades.Add(1) }

// IncTradesDropped counts a trade the ring refused; drops are
// legitimate under backpressure but never silent.
func (c *Collector) IncTradesDropped() { c.dropped.Add(1) }

// TradesDropped returns the drop counter.
func (c *Collector) TradesDropped() uint32 { return c.dropped.Load() }

// SampleHost refreshes the cached CPU/memory/network figures. Called
// from the metrics publisher cadence only. A failing probe yields
// zeros and logs once.
func (c *Collector) SampleHost() {
	if c.probe == nil {
		c.warnProbe(nil)
		return
	}
	cpu, err := c.probe.CPU()
	if err != nil {
		c.warnProbe(err)
		cpu = 0
	}
	rss, err := c.probe.Memory()
	if err != nil {
		c.warnProbe(err)
		rss = 0
	}
	sent, recv, err := c.probe.Network()
	if err != nil {
		c.warnProbe(err)
		sent, recv = 0, 0
	}
	c.cpuBits.Store(math.Float64bits(cpu))
	c.rssBytes.Store(rss)
	c.netSent.Store(sent)
	c.netRecv.Store(recv)
}

// Metrics merges counters, latency stats and the latest host sample.
func (c *Collector) Metrics() Metrics {
	m := Metrics{
		Timestamp:   uint64(time.Now().UnixNano()),
		CPUUsage:    math.Float64frombits(c.cpuBits.Load()),
		MemoryBytes: c.rssBytes.Load(),
		NetSent:     c.netSent.Load(),
		NetRecv:     c.netRecv.Load(),
		Orders:      c.orders.Load(),
		Trades:      c.trades.Load(),
	}
	if samples := c.samples.Load(); samples > 0 {
		m.AvgLatencyNs = c.latencySum.Load() / samples
		m.MinLatencyNs = c.minLatency.Load()
		m.MaxLatencyNs = c.maxLatency.Load()
	}
	return m
}

// Histogram copies out the latency histogram.
func (c *Collector) Histogram() [HistogramBuckets]uint32 {
	var out [HistogramBuckets]uint32
	for i := range c.histogram {
		out[i] = c.histogram[i].Load()
	}
	return out
}

func (c *Collector) warnProbe(err error) {
	c.probeWarn.Do(func() {
		if c.log == nil {
			return
		}
		if err != nil {
			c.log.Warn("host probe failed, reporting zeros", zap.Error(err))
		} else {
			c.log.Warn("no host probe configured, reporting zeros")
		}
	})
}
