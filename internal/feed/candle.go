package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"msrengine/internal/model"
)

// CandleFeed implements model.CandleSource over a JSON-over-WebSocket
// connection. The wire format is model.Candle's own JSON encoding, one
// candle object per text frame.
type CandleFeed struct {
	cfg Config
	log *slog.Logger

	// OnReconnect, if set, is called each time the connection drops and
	// a reconnect attempt begins.
	OnReconnect func()
}

// NewCandleFeed creates a CandleFeed dialing cfg.URL.
func NewCandleFeed(cfg Config, logger *slog.Logger) *CandleFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &CandleFeed{cfg: cfg, log: logger}
}

// OnCandle implements model.CandleSource: blocks until ctx is cancelled,
// invoking handler for every well-formed candle frame received.
// Malformed frames are logged and skipped; they never tear down the
// connection.
func (f *CandleFeed) OnCandle(ctx context.Context, handler func(model.Candle)) error {
	return dialLoop(ctx, f.cfg, f.log, f.OnReconnect, func(raw []byte) {
		var c model.Candle
		if err := json.Unmarshal(raw, &c); err != nil {
			f.log.Warn("feed: malformed candle frame, skipping", "error", err)
			return
		}
		if c.Low.GreaterThan(c.High) {
			f.log.Warn("feed: impossible candle (low>high), skipping", "symbol", c.Symbol, "timeframe", c.Timeframe)
			return
		}
		handler(c)
	})
}
