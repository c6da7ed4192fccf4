package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"hermes/domain/book"
	"hermes/telemetry"
)

func init() {
	// Prices go out as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// priceMajor converts integer minor units to major units (cents to
// dollars) without a float round trip.
func priceMajor(p book.Price) decimal.Decimal {
	return decimal.New(p, -2)
}

type bookMessage struct {
	Type      string   `json:"type"`
	Symbol    string   `json:"symbol"`
	Timestamp uint64   `json:"timestamp"`
	Bids      [][3]any `json:"bids"`
	Asks      [][3]any `json:"asks"`
}

func marshalBook(s *book.Snapshot) ([]byte, error) {
	msg := bookMessage{
		Type:      "orderbook",
		Symbol:    book.SymbolString(s.Symbol),
		Timestamp: s.Timestamp,
		Bids:      make([][3]any, 0, s.BidCount),
		Asks:      make([][3]any, 0, s.AskCount),
	}
	for _, lvl := range s.Bids[:s.BidCount] {
		msg.Bids = append(msg.Bids, [3]any{priceMajor(lvl.Price), lvl.Quantity, lvl.OrderCount})
	}
	for _, lvl := range s.Asks[:s.AskCount] {
		msg.Asks = append(msg.Asks, [3]any{priceMajor(lvl.Price), lvl.Quantity, lvl.OrderCount})
	}
	return json.Marshal(msg)
}

type tradeMessage struct {
	Type        string          `json:"type"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Quantity    uint32          `json:"quantity"`
	Timestamp   uint64          `json:"timestamp"`
	BuyOrderID  uint64          `json:"buy_order_id"`
	SellOrderID uint64          `json:"sell_order_id"`
}

func marshalTrade(t *book.Trade) ([]byte, error) {
	return json.Marshal(tradeMessage{
		Type:        "trade",
		Symbol:      book.SymbolString(t.Symbol),
		Price:       priceMajor(t.Price),
		Quantity:    t.Quantity,
		Timestamp:   t.Timestamp,
		BuyOrderID:  t.BuyID,
		SellOrderID: t.SellID,
	})
}

type metricsMessage struct {
	Type            string  `json:"type"`
	Timestamp       uint64  `json:"timestamp"`
	CPUUsage        float64 `json:"cpu_usage"`
	MemoryUsage     uint64  `json:"memory_usage"`
	NetworkSent     uint64  `json:"network_sent"`
	NetworkRecv     uint64  `json:"network_recv"`
	OrdersProcessed uint32  `json:"orders_processed"`
	TradesExecuted  uint32  `json:"trades_executed"`
	AvgLatencyNs    uint64  `json:"avg_latency_ns"`
	MinLatencyNs    uint64  `json:"min_latency_ns"`
	MaxLatencyNs    uint64  `json:"max_latency_ns"`
}

func marshalMetrics(m *telemetry.Metrics) ([]byte, error) {
	return json.Marshal(metricsMessage{
		Type:            "metrics",
		Timestamp:       m.Timestamp,
		CPUUsage:        m.CPUUsage / 10, // collector reports tenths of a percent
		MemoryUsage:     m.MemoryBytes,
		NetworkSent:     m.NetSent,
		NetworkRecv:     m.NetRecv,
		OrdersProcessed: m.Orders,
		TradesExecuted:  m.Trades,
		AvgLatencyNs:    m.AvgLatencyNs,
		MinLatencyNs:    m.MinLatencyNs,
		MaxLatencyNs:    m.MaxLatencyNs,
	})
}
