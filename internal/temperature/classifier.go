// Package temperature maps time-since-last-access onto a fidelity tier.
package temperature

import (
	"time"

	"github.com/xiy/lore-mcp/internal/config"
	"github.com/xiy/lore-mcp/pkg/types"
)

// Classify returns the tier implied by how long ago an entity was last
// accessed. Boundaries are half-open [prev, next): an elapsed time exactly
// on a threshold belongs to the colder tier. The warm threshold is
// configured in hours and the colder thresholds in days, so everything is
// normalized to hours before comparing.
func Classify(elapsed time.Duration, cfg config.Temperature) types.Tier {
	hours := elapsed.Hours()
	if hours < 0 {
		hours = 0
	}

	switch {
	case hours < cfg.WarmAfterHours:
		return types.TierHot
	case hours < cfg.CoolAfterDays*24:
		return types.TierWarm
	case hours < cfg.ColdAfterDays*24:
		return types.TierCool
	case hours < cfg.FrozenAfterDays*24:
		return types.TierCold
	default:
		return types.TierFrozen
	}
}
