package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the cold-path aggregated-trade record.
type Trade struct {
	Symbol       string          `json:"symbol"`
	AggTradeID   int64           `json:"agg_trade_id"` // unique per symbol, increasing
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Timestamp    time.Time       `json:"timestamp"`
	IsBuyerMaker bool            `json:"is_buyer_maker"`
}

// FastTrade is the hot-path aggregated-trade record consumed by the
// position tracker's inner loop.
type FastTrade struct {
	Symbol       string
	AggTradeID   int64
	Price        float64
	Quantity     float64
	Timestamp    float64 // unix seconds
	IsBuyerMaker bool
}

// ToFast converts a cold Trade to its hot-path form. One-way, explicit,
// called exactly once per boundary crossing (ingest -> tracker).
func (t *Trade) ToFast() FastTrade {
	price, _ := t.Price.Float64()
	qty, _ := t.Quantity.Float64()
	return FastTrade{
		Symbol:       t.Symbol,
		AggTradeID:   t.AggTradeID,
		Price:        price,
		Quantity:     qty,
		Timestamp:    float64(t.Timestamp.UnixNano()) / 1e9,
		IsBuyerMaker: t.IsBuyerMaker,
	}
}
