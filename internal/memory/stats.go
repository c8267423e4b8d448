package memory

import (
	"github.com/xiy/lore-mcp/pkg/types"
)

// Stats makes a single read-only pass over the cached entities and reports
// the tier distribution and aggregate savings. The reduction percentage
// compares current derived sizes against implied originals reconstructed
// from each entity's last compression ratio; hot entities and entities
// never compressed count at face value on both sides.
func (s *Service) Stats() types.MemoryStats {
	entities := s.cache.Entities()

	stats := types.MemoryStats{
		Total:   int64(len(entities)),
		PerTier: make(map[types.Tier]int64, len(types.Tiers)),
	}
	for _, tier := range types.Tiers {
		stats.PerTier[tier] = 0
	}

	var (
		current   float64
		implied   float64
		ratioSum  float64
		withRatio int64
	)
	for _, e := range entities {
		stats.PerTier[e.Tier]++

		if e.CompressionRatio != nil {
			ratioSum += *e.CompressionRatio
			withRatio++
		}

		tokens := float64(e.TokenCount)
		if e.Tier == types.TierHot || e.CompressionRatio == nil || *e.CompressionRatio <= 0 {
			current += tokens
			implied += tokens
			continue
		}
		current += tokens
		implied += tokens / *e.CompressionRatio
	}

	stats.CompressedCount = withRatio
	if withRatio > 0 {
		stats.AverageRatio = ratioSum / float64(withRatio)
	}
	stats.CurrentTokens = int64(current)
	stats.ImpliedTokens = int64(implied)
	if implied > 0 {
		stats.TokenReductionPc = (1 - current/implied) * 100
	}
	return stats
}
