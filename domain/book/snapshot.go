package book

// MaxBookLevels is the depth captured per side in a Snapshot.
const MaxBookLevels = 20

// Level is one aggregated price level as published on the wire.
type Level struct {
	Price      Price
	Quantity   Quantity
	OrderCount uint32
}

// Snapshot is the fixed-layout top-of-book view published through the
// shared-memory snapshot slot. Bids are ordered best (highest) first,
// asks best (lowest) first.
type Snapshot struct {
	Symbol    [16]byte
	Timestamp uint64
	Bids      [MaxBookLevels]Level
	Asks      [MaxBookLevels]Level
	BidCount  uint32
	AskCount  uint32
}

// Trade is one execution, fixed-layout for the shared-memory ring.
type Trade struct {
	BuyID     OrderID
	SellID    OrderID
	Price     Price
	Quantity  Quantity
	_         [4]byte
	Timestamp uint64
	Symbol    [16]byte
}
