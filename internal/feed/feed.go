// Package feed is a generic JSON-over-WebSocket adapter implementing
// the core's abstract model.CandleSource and model.TradeSource ports,
// used by the live engine (cmd/engine) in place of an
// exchange-specific WebSocket client. One JSON object per text frame;
// reconnects with exponential backoff.
package feed

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Config configures a WebSocket feed connection.
type Config struct {
	URL string // e.g. "ws://localhost:9001/candles" or ".../trades"

	ReconnectDelay    time.Duration // defaults to 2s
	MaxReconnectDelay time.Duration // defaults to 30s
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// dialLoop connects to cfg.URL and calls readOne in a loop, reconnecting
// with exponential backoff on any read/dial error until ctx is
// cancelled. readOne receives raw frame bytes; a parse failure inside
// it is logged and skipped, never a reason to tear down the connection.
func dialLoop(ctx context.Context, cfg Config, log *slog.Logger, onReconnect func(), readOne func([]byte)) error {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return err
	}

	delay := cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := runOnce(ctx, cfg.URL, log, readOne)
		if err == nil {
			return nil
		}

		log.Warn("feed: disconnected, reconnecting", "url", cfg.URL, "error", err, "delay", delay)
		if onReconnect != nil {
			onReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxReconnectDelay {
			delay = cfg.MaxReconnectDelay
		}
	}
}

func runOnce(ctx context.Context, wsURL string, log *slog.Logger, readOne func([]byte)) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info("feed: connected", "url", wsURL)

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		readOne(raw)
	}
}
