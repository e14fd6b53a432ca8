// cmd/status reports the signal store's aggregate counts: how many
// signals are ACTIVE, how many resolved TP, how many resolved SL.
//
// Usage:
//
//	go run ./cmd/status
//
// Exit codes: 0 success, 1 operational error, 2 configuration error.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"msrengine/config"
	"msrengine/internal/logger"
	"msrengine/internal/store/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	log := logger.Init("status", slog.LevelWarn)

	store, err := sqlite.Open(sqlite.Config{DBPath: cfg.SQLitePath}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[status] open sqlite failed: %v\n", err)
		return 1
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "[status] stats query failed: %v\n", err)
		return 1
	}

	total := stats.TP + stats.SL
	winRate := 0.0
	if total > 0 {
		winRate = float64(stats.TP) / float64(total) * 100
	}

	fmt.Printf("active: %d\n", stats.Active)
	fmt.Printf("tp:     %d\n", stats.TP)
	fmt.Printf("sl:     %d\n", stats.SL)
	fmt.Printf("win rate: %.2f%%\n", winRate)
	return 0
}
