package book

// PriceLevel is all orders resting at one price on one side, FIFO by
// arrival. TotalQty is the sum of the remaining quantities of the
// linked orders; the level is removed from its side the moment the
// list empties.
type PriceLevel struct {
	Price      Price
	TotalQty   uint64
	OrderCount uint32

	head *Order
	tail *Order
}

// Front returns the order with time priority at this level.
func (l *PriceLevel) Front() *Order { return l.head }

func (l *PriceLevel) empty() bool { return l.head == nil }

func (l *PriceLevel) enqueue(o *Order) {
	if l.head == nil {
		l.head = o
		l.tail = o
	} else {
		l.tail.next = o
		o.prev = l.tail
		l.tail = o
	}
	l.TotalQty += uint64(o.Quantity)
	l.OrderCount++
}

// unlink removes o from the FIFO and charges its remaining quantity
// against the aggregate.
func (l *PriceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.next = nil
	o.prev = nil
	l.TotalQty -= uint64(o.Quantity)
	l.OrderCount--
}
