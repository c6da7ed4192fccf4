package service

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hermes/domain/book"
	"hermes/infra/shm"
	"hermes/telemetry"
)

func testEngine(t *testing.T) (*Engine, Config) {
	t.Helper()
	suffix := fmt.Sprintf("%d_%s", os.Getpid(), t.Name())
	cfg := Config{
		Symbol:           "BTCUSD",
		SnapshotRegion:   "/hermes_ob_" + suffix,
		MetricsRegion:    "/hermes_mx_" + suffix,
		TradesRegion:     "/hermes_tr_" + suffix,
		RingSlots:        64,
		SnapshotInterval: time.Millisecond,
		MetricsInterval:  5 * time.Millisecond,
	}
	eng, err := New(cfg, telemetry.New(nil, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng, cfg
}

func TestSubmitMatchAndRing(t *testing.T) {
	eng, cfg := testEngine(t)

	require.NoError(t, eng.Submit(&book.Order{ID: 1, Side: book.Buy, Type: book.Limit, Price: 10000, Quantity: 5}))
	require.NoError(t, eng.Submit(&book.Order{ID: 2, Side: book.Sell, Type: book.Limit, Price: 10000, Quantity: 3}))

	// The trade callback pushed straight into the shared ring; read it
	// back through a second attachment, as the bridge would.
	region, err := shm.Open(cfg.TradesRegion, shm.RingSize(cfg.RingSlots))
	require.NoError(t, err)
	defer region.Close()
	ring, err := shm.NewTradeRing(region, cfg.RingSlots)
	require.NoError(t, err)

	var tr book.Trade
	require.True(t, ring.Pop(&tr))
	assert.Equal(t, uint64(1), tr.BuyID)
	assert.Equal(t, uint64(2), tr.SellID)
	assert.Equal(t, int64(10000), tr.Price)
	assert.Equal(t, uint32(3), tr.Quantity)
	assert.Equal(t, "BTCUSD", book.SymbolString(tr.Symbol))
	assert.False(t, ring.Pop(&tr))

	m := eng.Collector().Metrics()
	assert.Equal(t, uint32(2), m.Orders)
	assert.Equal(t, uint32(1), m.Trades)
	assert.Positive(t, m.MaxLatencyNs)
}

func TestDuplicateIDSurfaces(t *testing.T) {
	eng, _ := testEngine(t)

	require.NoError(t, eng.Submit(&book.Order{ID: 7, Side: book.Buy, Type: book.Limit, Price: 10000, Quantity: 5}))
	err := eng.Submit(&book.Order{ID: 7, Side: book.Buy, Type: book.Limit, Price: 10001, Quantity: 5})
	require.ErrorIs(t, err, book.ErrDuplicateOrderID)
}

func TestPublishersWriteSlots(t *testing.T) {
	eng, cfg := testEngine(t)
	eng.Start()

	require.NoError(t, eng.Submit(&book.Order{ID: 1, Side: book.Buy, Type: book.Limit, Price: 10000, Quantity: 5}))

	obRegion, err := shm.Open(cfg.SnapshotRegion, shm.SlotSize[book.Snapshot]())
	require.NoError(t, err)
	defer obRegion.Close()
	obSlot, err := shm.NewSlot[book.Snapshot](obRegion)
	require.NoError(t, err)

	mxRegion, err := shm.Open(cfg.MetricsRegion, shm.SlotSize[telemetry.Metrics]())
	require.NoError(t, err)
	defer mxRegion.Close()
	mxSlot, err := shm.NewSlot[telemetry.Metrics](mxRegion)
	require.NoError(t, err)

	var snap book.Snapshot
	require.Eventually(t, func() bool {
		_, ok := obSlot.Read(&snap)
		return ok && snap.BidCount == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int64(10000), snap.Bids[0].Price)
	assert.Equal(t, uint32(5), snap.Bids[0].Quantity)
	assert.Equal(t, "BTCUSD", book.SymbolString(snap.Symbol))

	var m telemetry.Metrics
	require.Eventually(t, func() bool {
		_, ok := mxSlot.Read(&m)
		return ok && m.Orders == 1
	}, time.Second, time.Millisecond)
}

func TestRingOverflowCountsDrops(t *testing.T) {
	suffix := fmt.Sprintf("%d_%s", os.Getpid(), t.Name())
	cfg := Config{
		Symbol:         "BTCUSD",
		SnapshotRegion: "/hermes_ob_" + suffix,
		MetricsRegion:  "/hermes_mx_" + suffix,
		TradesRegion:   "/hermes_tr_" + suffix,
		RingSlots:      3, // holds two trades
	}
	eng, err := New(cfg, telemetry.New(nil, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	defer eng.Close()

	// Four crossing pairs with no consumer: two trades ride the ring,
	// two are dropped and counted.
	for i := uint64(0); i < 4; i++ {
		require.NoError(t, eng.Submit(&book.Order{ID: 10 + i, Side: book.Buy, Type: book.Limit, Price: 10000, Quantity: 1}))
		require.NoError(t, eng.Submit(&book.Order{ID: 20 + i, Side: book.Sell, Type: book.Limit, Price: 10000, Quantity: 1}))
	}

	m := eng.Collector().Metrics()
	assert.Equal(t, uint32(4), m.Trades)
	assert.Equal(t, uint32(2), eng.Collector().TradesDropped())
}

func TestModifyThroughEngine(t *testing.T) {
	eng, _ := testEngine(t)

	require.NoError(t, eng.Submit(&book.Order{ID: 1, Side: book.Buy, Type: book.Limit, Price: 10000, Quantity: 5}))
	eng.Modify(1, 10050, 7)

	snap := eng.Snapshot()
	require.Equal(t, uint32(1), snap.BidCount)
	assert.Equal(t, int64(10050), snap.Bids[0].Price)
	assert.Equal(t, uint32(7), snap.Bids[0].Quantity)

	eng.Cancel(1)
	snap = eng.Snapshot()
	assert.Zero(t, snap.BidCount)
}

func TestCloseUnlinksRegions(t *testing.T) {
	suffix := fmt.Sprintf("%d_%s", os.Getpid(), t.Name())
	cfg := Config{
		Symbol:         "BTCUSD",
		SnapshotRegion: "/hermes_ob_" + suffix,
		MetricsRegion:  "/hermes_mx_" + suffix,
		TradesRegion:   "/hermes_tr_" + suffix,
	}
	eng, err := New(cfg, telemetry.New(nil, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	eng.Start()
	eng.Close()

	_, err = shm.Open(cfg.SnapshotRegion, shm.SlotSize[book.Snapshot]())
	assert.Error(t, err)
	_, err = shm.Open(cfg.TradesRegion, shm.RingSize(shm.DefaultRingSlots))
	assert.Error(t, err)
}
