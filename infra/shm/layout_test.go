package shm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"hermes/domain/book"
	"hermes/telemetry"
)

// The region layouts are a cross-process contract; these sizes are
// load-bearing for every consumer that maps the regions.
func TestWireLayout(t *testing.T) {
	assert.Equal(t, uintptr(16), unsafe.Sizeof(book.Level{}))
	assert.Equal(t, uintptr(672), unsafe.Sizeof(book.Snapshot{}))
	assert.Equal(t, uintptr(56), unsafe.Sizeof(book.Trade{}))
	assert.Equal(t, uintptr(72), unsafe.Sizeof(telemetry.Metrics{}))

	assert.Equal(t, 16+672, SlotSize[book.Snapshot]())
	assert.Equal(t, 16+72, SlotSize[telemetry.Metrics]())
	assert.Equal(t, 8+1024*56, RingSize(DefaultRingSlots))
}

func TestTradeFieldOffsets(t *testing.T) {
	var tr book.Trade
	assert.Equal(t, uintptr(0), unsafe.Offsetof(tr.BuyID))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(tr.SellID))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(tr.Price))
	assert.Equal(t, uintptr(24), unsafe.Offsetof(tr.Quantity))
	assert.Equal(t, uintptr(32), unsafe.Offsetof(tr.Timestamp))
	assert.Equal(t, uintptr(40), unsafe.Offsetof(tr.Symbol))
}
