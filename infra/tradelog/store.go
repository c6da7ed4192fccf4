// Package tradelog archives the published trade stream in a local
// pebble store, keyed by a monotonically increasing archive sequence.
// It sits downstream of the trade ring; the book itself is never
// persisted.
package tradelog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"hermes/domain/book"
)

const recordLen = 52

var ErrCorruptRecord = errors.New("tradelog: corrupt record")

// Store is a pebble-backed append-only trade archive.
type Store struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// Open opens (or creates) the archive in dir and resumes the sequence
// after the last stored record.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("tradelog: open: %w", err)
	}
	s := &Store{db: db}

	iter, err := db.NewIter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tradelog: iter: %w", err)
	}
	if iter.Last() && len(iter.Key()) == 8 {
		s.seq.Store(binary.BigEndian.Uint64(iter.Key()))
	}
	if err := iter.Close(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tradelog: iter: %w", err)
	}
	return s, nil
}

// Append stores one trade under the next sequence.
func (s *Store) Append(t *book.Trade) error {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, s.seq.Add(1))
	return s.db.Set(key, encodeTrade(t), pebble.Sync)
}

// Scan replays all archived trades in sequence order.
func (s *Store) Scan(fn func(seq uint64, t book.Trade) error) error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("tradelog: iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if len(iter.Key()) != 8 {
			return ErrCorruptRecord
		}
		t, err := decodeTrade(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(binary.BigEndian.Uint64(iter.Key()), t); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Len returns the last assigned sequence (the number of archived
// trades when the archive started empty).
func (s *Store) Len() uint64 { return s.seq.Load() }

func (s *Store) Close() error { return s.db.Close() }

// binary layout: buy(8) sell(8) price(8) qty(4) time(8) symbol(16)
func encodeTrade(t *book.Trade) []byte {
	buf := make([]byte, recordLen)
	binary.LittleEndian.PutUint64(buf[0:8], t.BuyID)
	binary.LittleEndian.PutUint64(buf[8:16], t.SellID)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(t.Price))
	binary.LittleEndian.PutUint32(buf[24:28], t.Quantity)
	binary.LittleEndian.PutUint64(buf[28:36], t.Timestamp)
	copy(buf[36:52], t.Symbol[:])
	return buf
}

func decodeTrade(b []byte) (book.Trade, error) {
	if len(b) != recordLen {
		return book.Trade{}, ErrCorruptRecord
	}
	var t book.Trade
	t.BuyID = binary.LittleEndian.Uint64(b[0:8])
	t.SellID = binary.LittleEndian.Uint64(b[8:16])
	t.Price = int64(binary.LittleEndian.Uint64(b[16:24]))
	t.Quantity = binary.LittleEndian.Uint32(b[24:28])
	t.Timestamp = binary.LittleEndian.Uint64(b[28:36])
	copy(t.Symbol[:], b[36:52])
	return t, nil
}
