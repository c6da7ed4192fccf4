package book

import (
	"math"
	"time"
)

// Book is the live order book for one symbol. It performs no locking
// and no I/O; a single goroutine must own all mutations (the harness
// enforces this with a short mutex shared with the snapshot reader).
type Book struct {
	symbol  [16]byte
	bids    *levelTree
	asks    *levelTree
	orders  map[OrderID]*Order
	onTrade func(Trade)
}

// NewBook creates an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: MakeSymbol(symbol),
		bids:   newLevelTree(),
		asks:   newLevelTree(),
		orders: make(map[OrderID]*Order),
	}
}

// SetTradeCallback installs the execution callback. It runs on the
// matching goroutine and must not block or panic.
func (b *Book) SetTradeCallback(fn func(Trade)) { b.onTrade = fn }

// AddOrder admits o and matches to fixpoint. Zero or more trades are
// emitted through the callback before it returns; on return the book
// is quiescent (no bid price crosses any ask price).
//
// Market orders match at an extremal price and any unmatched residue
// is discarded. Stop orders are accepted and indexed so they can be
// cancelled, but rest on neither side and never match; triggering is
// left to the caller.
//
// Returns ErrDuplicateOrderID when o.ID is already live. The book
// takes ownership of o.
func (b *Book) AddOrder(o *Order) error {
	if _, live := b.orders[o.ID]; live {
		return ErrDuplicateOrderID
	}
	if o.Timestamp == 0 {
		o.Timestamp = nowNanos()
	}
	o.Symbol = b.symbol
	b.orders[o.ID] = o

	if o.Type == Stop {
		return nil
	}
	if o.Type == Market {
		if o.Side == Buy {
			o.Price = math.MaxInt64
		} else {
			o.Price = math.MinInt64
		}
	}

	b.side(o.Side).GetOrCreate(o.Price).enqueue(o)
	b.match()

	// Market residue does not rest.
	if o.Type == Market && o.Quantity > 0 {
		b.remove(o)
	}
	return nil
}

// CancelOrder removes the live order with this id. Unknown ids are a
// no-op; no matching is triggered.
func (b *Book) CancelOrder(id OrderID) {
	o, live := b.orders[id]
	if !live {
		return
	}
	if o.Type == Stop {
		delete(b.orders, id)
		return
	}
	b.remove(o)
}

// ModifyOrder is cancel followed by re-admission under the same id
// with a fresh arrival timestamp, so the order drops to the back of
// its new price level. Unknown ids are a no-op.
func (b *Book) ModifyOrder(id OrderID, newPrice Price, newQty Quantity) {
	o, live := b.orders[id]
	if !live {
		return
	}
	side, typ := o.Side, o.Type
	b.CancelOrder(id)
	_ = b.AddOrder(&Order{
		ID:       id,
		Side:     side,
		Type:     typ,
		Price:    newPrice,
		Quantity: newQty,
	})
}

// GetSnapshot captures up to MaxBookLevels aggregated levels per side,
// bids descending and asks ascending.
func (b *Book) GetSnapshot() Snapshot {
	s := Snapshot{Symbol: b.symbol, Timestamp: nowNanos()}
	b.bids.Descend(func(lvl *PriceLevel) bool {
		if s.BidCount == MaxBookLevels {
			return false
		}
		s.Bids[s.BidCount] = aggregate(lvl)
		s.BidCount++
		return true
	})
	b.asks.Ascend(func(lvl *PriceLevel) bool {
		if s.AskCount == MaxBookLevels {
			return false
		}
		s.Asks[s.AskCount] = aggregate(lvl)
		s.AskCount++
		return true
	})
	return s
}

// BestBid returns the highest bid price, if any bid level exists.
func (b *Book) BestBid() (Price, bool) {
	lvl := b.bids.Max()
	if lvl == nil {
		return 0, false
	}
	return lvl.Price, true
}

// BestAsk returns the lowest ask price, if any ask level exists.
func (b *Book) BestAsk() (Price, bool) {
	lvl := b.asks.Min()
	if lvl == nil {
		return 0, false
	}
	return lvl.Price, true
}

// MidPrice returns the midpoint of the best bid and ask, or 0 when
// either side is empty.
func (b *Book) MidPrice() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return (float64(bid) + float64(ask)) / 2
}

// Spread returns best ask minus best bid, or 0 when either side is
// empty.
func (b *Book) Spread() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return float64(ask - bid)
}

// LiveOrders reports the number of live order ids (resting plus inert
// stops).
func (b *Book) LiveOrders() int { return len(b.orders) }

// match runs the crossing loop to fixpoint.
//
// The trade price is the resting order's price: the front order with
// the earlier arrival timestamp. Equal timestamps resolve to the buy
// price.
func (b *Book) match() {
	for {
		bid := b.bids.Max()
		ask := b.asks.Min()
		if bid == nil || ask == nil || bid.Price < ask.Price {
			return
		}

		bo := bid.Front()
		so := ask.Front()

		price := so.Price
		if bo.Timestamp <= so.Timestamp {
			price = bo.Price
		}
		qty := bo.Quantity
		if so.Quantity < qty {
			qty = so.Quantity
		}

		if b.onTrade != nil {
			b.onTrade(Trade{
				BuyID:     bo.ID,
				SellID:    so.ID,
				Price:     price,
				Quantity:  qty,
				Timestamp: nowNanos(),
				Symbol:    b.symbol,
			})
		}

		bo.Quantity -= qty
		so.Quantity -= qty
		bid.TotalQty -= uint64(qty)
		ask.TotalQty -= uint64(qty)

		if bo.Quantity == 0 {
			bid.unlink(bo)
			delete(b.orders, bo.ID)
			if bid.empty() {
				b.bids.Delete(bid.Price)
			}
		}
		if so.Quantity == 0 {
			ask.unlink(so)
			delete(b.orders, so.ID)
			if ask.empty() {
				b.asks.Delete(ask.Price)
			}
		}
	}
}

// remove unlinks a resting order and drops its id.
func (b *Book) remove(o *Order) {
	tree := b.side(o.Side)
	if lvl := tree.Find(o.Price); lvl != nil {
		lvl.unlink(o)
		if lvl.empty() {
			tree.Delete(lvl.Price)
		}
	}
	delete(b.orders, o.ID)
}

func (b *Book) side(s Side) *levelTree {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

func aggregate(lvl *PriceLevel) Level {
	qty := lvl.TotalQty
	if qty > math.MaxUint32 {
		qty = math.MaxUint32
	}
	return Level{
		Price:      lvl.Price,
		Quantity:   Quantity(qty),
		OrderCount: lvl.OrderCount,
	}
}

func nowNanos() uint64 {
	return uint64(time.Now().UnixNano())
}
