package tradelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes/domain/book"
)

func sampleTrade(i int) book.Trade {
	return book.Trade{
		BuyID:     uint64(i),
		SellID:    uint64(i + 1000),
		Price:     int64(10000 + i),
		Quantity:  uint32(1 + i),
		Timestamp: uint64(777 + i),
		Symbol:    book.MakeSymbol("BTCUSD"),
	}
}

func TestAppendScanRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 10; i++ {
		tr := sampleTrade(i)
		require.NoError(t, s.Append(&tr))
	}
	assert.Equal(t, uint64(10), s.Len())

	var seqs []uint64
	var got []book.Trade
	require.NoError(t, s.Scan(func(seq uint64, tr book.Trade) error {
		seqs = append(seqs, seq)
		got = append(got, tr)
		return nil
	}))
	require.Len(t, got, 10)
	for i, tr := range got {
		assert.Equal(t, uint64(i+1), seqs[i])
		assert.Equal(t, sampleTrade(i), tr)
	}
}

func TestSequenceResumesAfterReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		tr := sampleTrade(i)
		require.NoError(t, s.Append(&tr))
	}
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint64(5), s.Len())

	tr := sampleTrade(5)
	require.NoError(t, s.Append(&tr))

	var last uint64
	require.NoError(t, s.Scan(func(seq uint64, _ book.Trade) error {
		last = seq
		return nil
	}))
	assert.Equal(t, uint64(6), last)
}

func TestCodecRejectsShortRecord(t *testing.T) {
	_, err := decodeTrade([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
