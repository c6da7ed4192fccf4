// Package gateway is the out-of-process bridge: it attaches to the
// engine's shared-memory channels and projects them as JSON over
// websocket, with optional pebble archival and Kafka relay of the
// trade stream. It is the sole consumer of the trade ring.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hermes/domain/book"
	"hermes/infra/shm"
	"hermes/infra/tradelog"
	"hermes/jobs/relay"
	"hermes/telemetry"
)

// Config paces the bridge's pollers and names its inputs.
type Config struct {
	Port int

	SnapshotRegion string
	MetricsRegion  string
	TradesRegion   string
	RingSlots      int

	BookPoll    time.Duration
	MetricsPoll time.Duration
	TradePoll   time.Duration
}

type serverMetrics struct {
	clients       prometheus.Gauge
	messages      *prometheus.CounterVec
	trades        prometheus.Counter
	archiveErrors prometheus.Counter
	relayErrors   prometheus.Counter
}

func newServerMetrics(reg *prometheus.Registry) *serverMetrics {
	m := &serverMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hermes_bridge_clients",
			Help: "Connected websocket clients.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_bridge_messages_total",
			Help: "Messages broadcast, by channel.",
		}, []string{"channel"}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_bridge_trades_total",
			Help: "Trades consumed from the shared-memory ring.",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_bridge_archive_errors_total",
			Help: "Failed archive appends.",
		}),
		relayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_bridge_relay_errors_total",
			Help: "Failed Kafka publishes.",
		}),
	}
	reg.MustRegister(m.clients, m.messages, m.trades, m.archiveErrors, m.relayErrors)
	return m
}

// Server owns the bridge's reader side and HTTP surface.
type Server struct {
	cfg Config
	log *zap.Logger

	snapRegion *shm.Region
	metRegion  *shm.Region
	trdRegion  *shm.Region

	snapSlot *shm.Slot[book.Snapshot]
	metSlot  *shm.Slot[telemetry.Metrics]
	ring     *shm.TradeRing

	hub      *Hub
	metrics  *serverMetrics
	registry *prometheus.Registry
	upgrader websocket.Upgrader

	archive *tradelog.Store
	relay   *relay.Relay

	lastBookSeq    uint64
	lastMetricsSeq uint64
}

// New attaches to the engine's regions. archive and rel may be nil.
func New(cfg Config, archive *tradelog.Store, rel *relay.Relay, log *zap.Logger) (*Server, error) {
	if cfg.RingSlots == 0 {
		cfg.RingSlots = shm.DefaultRingSlots
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		archive:  archive,
		relay:    rel,
		registry: prometheus.NewRegistry(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.metrics = newServerMetrics(s.registry)
	s.hub = NewHub(log, s.metrics.clients)

	var err error
	if s.snapRegion, err = shm.Open(cfg.SnapshotRegion, shm.SlotSize[book.Snapshot]()); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if s.metRegion, err = shm.Open(cfg.MetricsRegion, shm.SlotSize[telemetry.Metrics]()); err != nil {
		s.closeRegions()
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if s.trdRegion, err = shm.Open(cfg.TradesRegion, shm.RingSize(cfg.RingSlots)); err != nil {
		s.closeRegions()
		return nil, fmt.Errorf("gateway: %w", err)
	}

	if s.snapSlot, err = shm.NewSlot[book.Snapshot](s.snapRegion); err != nil {
		s.closeRegions()
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if s.metSlot, err = shm.NewSlot[telemetry.Metrics](s.metRegion); err != nil {
		s.closeRegions()
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if s.ring, err = shm.NewTradeRing(s.trdRegion, cfg.RingSlots); err != nil {
		s.closeRegions()
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return s, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: r,
	}

	go s.pollBook(ctx)
	go s.pollMetrics(ctx)
	go s.pumpTrades(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("bridge listening", zap.Int("port", s.cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.hub.CloseAll()
		s.closeRegions()
		return nil
	case err := <-errCh:
		s.closeRegions()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Register(conn)
	// Drain control frames; clients talk only by disconnecting.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Unregister(conn)
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","timestamp":%d}`, time.Now().UnixMilli())
}

// pollBook rebroadcasts the snapshot slot whenever its sequence
// advances. Latest-wins: intermediate snapshots may be skipped.
func (s *Server) pollBook(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BookPoll)
	defer ticker.Stop()
	var snap book.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq, ok := s.snapSlot.Read(&snap)
			if !ok || seq == s.lastBookSeq {
				continue
			}
			s.lastBookSeq = seq
			payload, err := marshalBook(&snap)
			if err != nil {
				continue
			}
			s.hub.Broadcast(payload)
			s.metrics.messages.WithLabelValues("orderbook").Inc()
		}
	}
}

func (s *Server) pollMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MetricsPoll)
	defer ticker.Stop()
	var m telemetry.Metrics
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq, ok := s.metSlot.Read(&m)
			if !ok || seq == s.lastMetricsSeq {
				continue
			}
			s.lastMetricsSeq = seq
			payload, err := marshalMetrics(&m)
			if err != nil {
				continue
			}
			s.hub.Broadcast(payload)
			s.metrics.messages.WithLabelValues("metrics").Inc()
		}
	}
}

// pumpTrades drains the ring in FIFO order and fans each trade out to
// the hub, the archive and the relay.
func (s *Server) pumpTrades(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TradePoll)
	defer ticker.Stop()
	var t book.Trade
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for s.ring.Pop(&t) {
				s.handleTrade(&t)
			}
		}
	}
}

func (s *Server) handleTrade(t *book.Trade) {
	s.metrics.trades.Inc()
	payload, err := marshalTrade(t)
	if err != nil {
		return
	}
	s.hub.Broadcast(payload)
	s.metrics.messages.WithLabelValues("trade").Inc()

	if s.archive != nil {
		if err := s.archive.Append(t); err != nil {
			s.metrics.archiveErrors.Inc()
			s.log.Warn("archive append failed", zap.Error(err))
		}
	}
	if s.relay != nil {
		if err := s.relay.Publish([]byte(book.SymbolString(t.Symbol)), payload); err != nil {
			s.metrics.relayErrors.Inc()
			s.log.Warn("relay publish failed", zap.Error(err))
		}
	}
}

func (s *Server) closeRegions() {
	for _, r := range []*shm.Region{s.snapRegion, s.metRegion, s.trdRegion} {
		if r != nil {
			r.Close()
		}
	}
	s.snapRegion, s.metRegion, s.trdRegion = nil, nil, nil
}
