package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"hermes/domain/book"
)

// Ring header: head u32 at offset 0, tail u32 at offset 4, entries
// follow. Trade begins with a u64, so the 8-byte entry offset keeps
// the array aligned.
const ringHeaderSize = 8

// DefaultRingSlots is the wire-format trade ring array length. One
// slot always stays empty to distinguish full from empty, so the ring
// holds DefaultRingSlots-1 trades.
const DefaultRingSlots = 1024

// TradeRing is a bounded single-producer/single-consumer FIFO of
// trades over a region. The producer never overwrites unread entries:
// Push reports false on a full ring (drop-newest).
type TradeRing struct {
	region  *Region
	head    *uint32
	tail    *uint32
	entries []book.Trade
	slots   uint32
}

// RingSize returns the region size needed for a ring with the given
// array length.
func RingSize(slots int) int {
	return ringHeaderSize + slots*int(unsafe.Sizeof(book.Trade{}))
}

// NewTradeRing lays a ring with slots array entries over r.
func NewTradeRing(r *Region, slots int) (*TradeRing, error) {
	if slots < 2 {
		return nil, fmt.Errorf("shm: ring over %s: need at least 2 slots", r.name)
	}
	if len(r.data) < RingSize(slots) {
		return nil, fmt.Errorf("shm: ring over %s: %w", r.name, ErrTooSmall)
	}
	return &TradeRing{
		region:  r,
		head:    (*uint32)(unsafe.Pointer(&r.data[0])),
		tail:    (*uint32)(unsafe.Pointer(&r.data[4])),
		entries: unsafe.Slice((*book.Trade)(unsafe.Pointer(&r.data[ringHeaderSize])), slots),
		slots:   uint32(slots),
	}, nil
}

// Push appends *t. Returns false when the ring is full; the trade is
// dropped and the caller accounts for it. Producer side only.
func (r *TradeRing) Push(t *book.Trade) bool {
	tail := atomic.LoadUint32(r.tail)
	next := (tail + 1) % r.slots
	if next == atomic.LoadUint32(r.head) {
		return false
	}
	r.entries[tail] = *t
	atomic.StoreUint32(r.tail, next)
	return true
}

// Pop copies the oldest unread trade into out. Returns false when the
// ring is empty. Consumer side only.
func (r *TradeRing) Pop(out *book.Trade) bool {
	head := atomic.LoadUint32(r.head)
	if head == atomic.LoadUint32(r.tail) {
		return false
	}
	*out = r.entries[head]
	atomic.StoreUint32(r.head, (head+1)%r.slots)
	return true
}

// Len reports the number of unread trades.
func (r *TradeRing) Len() int {
	head := atomic.LoadUint32(r.head)
	tail := atomic.LoadUint32(r.tail)
	return int((tail + r.slots - head) % r.slots)
}
