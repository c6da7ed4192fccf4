package shm

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Slot header: sequence u64 at offset 0, ready flag (u8 stored in a
// u64 word) at offset 8, payload at offset 16.
const slotHeaderSize = 16

// maxReadRetries bounds how long a reader chases a writer before
// giving up the round; the next poll simply tries again.
const maxReadRetries = 64

// Slot is a latest-wins single-producer channel over a region.
//
// The producer publishes with a seqlock: it stores an odd sequence,
// copies the payload, then stores the next even sequence. A reader
// trusts a copy only if the sequence it saw before the copy is even
// and unchanged after it.
type Slot[T any] struct {
	region  *Region
	seq     *uint64
	ready   *uint64
	payload *T
}

// SlotSize returns the region size needed for a Slot of T.
func SlotSize[T any]() int {
	var v T
	return slotHeaderSize + int(unsafe.Sizeof(v))
}

// NewSlot lays a Slot over r. The same call attaches producer and
// reader sides; the single-producer contract is the caller's.
func NewSlot[T any](r *Region) (*Slot[T], error) {
	if len(r.data) < SlotSize[T]() {
		return nil, fmt.Errorf("shm: slot over %s: %w", r.name, ErrTooSmall)
	}
	return &Slot[T]{
		region:  r,
		seq:     (*uint64)(unsafe.Pointer(&r.data[0])),
		ready:   (*uint64)(unsafe.Pointer(&r.data[8])),
		payload: (*T)(unsafe.Pointer(&r.data[slotHeaderSize])),
	}, nil
}

// Write publishes *v. Producer side only.
func (s *Slot[T]) Write(v *T) {
	seq := atomic.LoadUint64(s.seq) &^ 1
	atomic.StoreUint64(s.seq, seq+1)
	*s.payload = *v
	atomic.StoreUint64(s.seq, seq+2)
	atomic.StoreUint64(s.ready, 1)
}

// Read copies the latest stable payload into out and returns its
// sequence. ok is false when nothing has been published yet or the
// writer kept invalidating the copy within the retry budget.
func (s *Slot[T]) Read(out *T) (seq uint64, ok bool) {
	if atomic.LoadUint64(s.ready) == 0 {
		return 0, false
	}
	for i := 0; i < maxReadRetries; i++ {
		s1 := atomic.LoadUint64(s.seq)
		if s1&1 != 0 {
			runtime.Gosched()
			continue
		}
		*out = *s.payload
		if atomic.LoadUint64(s.seq) == s1 {
			return s1, true
		}
	}
	return 0, false
}

// Sequence returns the current raw sequence word.
func (s *Slot[T]) Sequence() uint64 {
	return atomic.LoadUint64(s.seq)
}
