package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"msrengine/internal/model"
)

// TradeFeed implements model.TradeSource over a JSON-over-WebSocket
// connection. The wire format is model.Trade's own JSON encoding, one
// aggregated trade per text frame.
type TradeFeed struct {
	cfg Config
	log *slog.Logger

	OnReconnect func()
}

// NewTradeFeed creates a TradeFeed dialing cfg.URL.
func NewTradeFeed(cfg Config, logger *slog.Logger) *TradeFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeFeed{cfg: cfg, log: logger}
}

// OnTrade implements model.TradeSource: blocks until ctx is cancelled,
// invoking handler for every well-formed trade frame received.
func (f *TradeFeed) OnTrade(ctx context.Context, handler func(model.Trade)) error {
	return dialLoop(ctx, f.cfg, f.log, f.OnReconnect, func(raw []byte) {
		var t model.Trade
		if err := json.Unmarshal(raw, &t); err != nil {
			f.log.Warn("feed: malformed trade frame, skipping", "error", err)
			return
		}
		if t.Symbol == "" {
			f.log.Warn("feed: skipping trade with empty symbol")
			return
		}
		handler(t)
	})
}
