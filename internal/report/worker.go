package report

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/lore-mcp/pkg/types"
)

// StatsSource represents the aggregate view needed by the worker.
type StatsSource interface {
	Stats() types.MemoryStats
}

// Start launches a periodic compression report worker. It only reads cached
// state; re-tiering itself happens on access.
func Start(ctx context.Context, logger *log.Logger, interval time.Duration, source StatsSource) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := source.Stats()
			if stats.Total == 0 {
				continue
			}
			logger.Info("compression report",
				"entities", stats.Total,
				"compressed", stats.CompressedCount,
				"current_tokens", stats.CurrentTokens,
				"implied_tokens", stats.ImpliedTokens,
				"token_reduction_pct", stats.TokenReductionPc,
			)
		}
	}
}
