// Package service is the engine harness: the only write entry point
// into the book, plus the publication loops that fan state out
// through the shared-memory channels.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hermes/domain/book"
	"hermes/infra/shm"
	"hermes/telemetry"
)

// Config sizes and paces one engine instance.
type Config struct {
	Symbol string

	SnapshotRegion string
	MetricsRegion  string
	TradesRegion   string
	RingSlots      int

	SnapshotInterval time.Duration
	MetricsInterval  time.Duration
}

// Engine owns the book, the telemetry collector and the producer side
// of all three shared-memory channels.
//
// Concurrency: the submit path is the sole book mutator and the
// snapshot publisher its sole concurrent reader; both hold mu for the
// duration of the book operation, nothing more. The trade callback
// runs on the submitting goroutine and only does a ring push and
// counter bumps.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu   sync.Mutex
	book *book.Book
	tc   *telemetry.Collector

	snapRegion *shm.Region
	metRegion  *shm.Region
	trdRegion  *shm.Region

	snapSlot *shm.Slot[book.Snapshot]
	metSlot  *shm.Slot[telemetry.Metrics]
	ring     *shm.TradeRing

	dropOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates the three regions and wires book, collector and
// channels together. Any bootstrap failure unwinds regions already
// created; the caller treats it as fatal.
func New(cfg Config, tc *telemetry.Collector, log *zap.Logger) (*Engine, error) {
	if cfg.RingSlots == 0 {
		cfg.RingSlots = shm.DefaultRingSlots
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 100 * time.Microsecond
	}
	if cfg.MetricsInterval == 0 {
		cfg.MetricsInterval = 100 * time.Millisecond
	}

	e := &Engine{cfg: cfg, log: log, tc: tc}

	var err error
	defer func() {
		if err != nil {
			e.teardown()
		}
	}()

	e.snapRegion, err = shm.Create(cfg.SnapshotRegion, shm.SlotSize[book.Snapshot]())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.metRegion, err = shm.Create(cfg.MetricsRegion, shm.SlotSize[telemetry.Metrics]())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.trdRegion, err = shm.Create(cfg.TradesRegion, shm.RingSize(cfg.RingSlots))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if e.snapSlot, err = shm.NewSlot[book.Snapshot](e.snapRegion); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if e.metSlot, err = shm.NewSlot[telemetry.Metrics](e.metRegion); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if e.ring, err = shm.NewTradeRing(e.trdRegion, cfg.RingSlots); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e.book = book.NewBook(cfg.Symbol)
	e.book.SetTradeCallback(e.handleTrade)
	return e, nil
}

// Start launches the snapshot and metrics publishers.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(2)
	go e.publishSnapshots(ctx)
	go e.publishMetrics(ctx)
}

// Submit admits one order: stamps the start time, drives the book
// under the lock, then records the operation latency. Duplicate-id
// rejections surface to the caller and still count as processed.
func (e *Engine) Submit(o *book.Order) error {
	start := time.Now()
	e.mu.Lock()
	err := e.book.AddOrder(o)
	e.mu.Unlock()
	e.tc.RecordLatency(uint64(time.Since(start).Nanoseconds()))
	e.tc.IncOrdersProcessed()
	return err
}

// Cancel removes the order with this id, if live.
func (e *Engine) Cancel(id book.OrderID) {
	start := time.Now()
	e.mu.Lock()
	e.book.CancelOrder(id)
	e.mu.Unlock()
	e.tc.RecordLatency(uint64(time.Since(start).Nanoseconds()))
}

// Modify reprices the order with this id, losing time priority.
func (e *Engine) Modify(id book.OrderID, price book.Price, qty book.Quantity) {
	start := time.Now()
	e.mu.Lock()
	e.book.ModifyOrder(id, price, qty)
	e.mu.Unlock()
	e.tc.RecordLatency(uint64(time.Since(start).Nanoseconds()))
}

// Snapshot returns a self-consistent book snapshot.
func (e *Engine) Snapshot() book.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.GetSnapshot()
}

// Collector exposes the telemetry collector.
func (e *Engine) Collector() *telemetry.Collector { return e.tc }

// Close stops the publishers, unmaps the regions and unlinks their
// names.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
	}
	e.teardown()
}

func (e *Engine) handleTrade(t book.Trade) {
	if !e.ring.Push(&t) {
		e.tc.IncTradesDropped()
		e.dropOnce.Do(func() {
			e.log.Warn("trade ring full, dropping trades",
				zap.String("region", e.cfg.TradesRegion))
		})
	}
	e.tc.IncTradesExecuted()
}

func (e *Engine) publishSnapshots(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.Snapshot()
			e.snapSlot.Write(&snap)
		}
	}
}

func (e *Engine) publishMetrics(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tc.SampleHost()
			m := e.tc.Metrics()
			e.metSlot.Write(&m)
		}
	}
}

func (e *Engine) teardown() {
	for _, r := range []*shm.Region{e.snapRegion, e.metRegion, e.trdRegion} {
		if r == nil {
			continue
		}
		name := r.Name()
		if err := r.Close(); err != nil {
			e.log.Warn("unmap failed", zap.String("region", name), zap.Error(err))
		}
		if err := shm.Unlink(name); err != nil {
			e.log.Warn("unlink failed", zap.String("region", name), zap.Error(err))
		}
	}
	e.snapRegion, e.metRegion, e.trdRegion = nil, nil, nil
}
