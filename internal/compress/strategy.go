// Package compress implements the per-tier lossy reduction strategies and
// the token estimator they report savings with.
package compress

import (
	"errors"
	"strings"

	"github.com/xiy/lore-mcp/pkg/types"
)

// ErrUnknownTier is returned when compression is requested for a tier that
// has no strategy (hot or an unrecognized label).
var ErrUnknownTier = errors.New("no compression strategy for tier")

const (
	coolSentenceLimit = 3
	coldTokenLimit    = 8
	frozenTokenLimit  = 3
	ellipsis          = "..."
)

// narrativeKeys are long-form fields dropped at warm; structured fields
// survive untouched.
var narrativeKeys = map[string]bool{
	"description": true,
	"desc":        true,
	"notes":       true,
	"note":        true,
	"background":  true,
	"backstory":   true,
	"biography":   true,
	"bio":         true,
	"history":     true,
	"lore":        true,
	"narrative":   true,
	"story":       true,
	"details":     true,
	"appearance":  true,
	"personality": true,
	"dialogue":    true,
}

// coolKeys is the whitelist of high-value fields kept at cool.
var coolKeys = map[string]bool{
	"id":       true,
	"name":     true,
	"type":     true,
	"kind":     true,
	"level":    true,
	"rank":     true,
	"class":    true,
	"status":   true,
	"location": true,
}

// coldKeyMap renames the minimal field set at cold to trim key overhead;
// frozenKeyMap shrinks the same set to single characters.
var coldKeyMap = map[string]string{
	"id":       "id",
	"name":     "nm",
	"level":    "lvl",
	"class":    "cls",
	"location": "loc",
	"status":   "st",
}

var frozenKeyMap = map[string]string{
	"id":       "i",
	"name":     "n",
	"level":    "l",
	"class":    "c",
	"location": "p",
	"status":   "s",
}

type strategy func(p types.Payload, retention float64) types.Payload

// strategies is the tier-to-transform table. It is built once at package
// init and never mutated afterwards.
var strategies = map[types.Tier]strategy{
	types.TierWarm:   warmStrategy,
	types.TierCool:   coolStrategy,
	types.TierCold:   coldStrategy,
	types.TierFrozen: frozenStrategy,
}

// defaultRetention backs direct calls that bypass config validation.
var defaultRetention = map[types.Tier]float64{
	types.TierWarm:   0.7,
	types.TierCool:   0.4,
	types.TierCold:   0.15,
	types.TierFrozen: 0.05,
}

// Compress runs the strategy for the target tier against a canonical
// payload and reports the outcome. The transform is a pure function of the
// payload, tier and retention hint: the same input always yields a
// byte-identical snapshot and ratio. The ratio is always computed against
// the canonical payload, never a previously derived one.
func Compress(canonical types.Payload, tier types.Tier, retention map[types.Tier]float64) (types.CompressionResult, error) {
	st, ok := strategies[tier]
	if !ok {
		return types.CompressionResult{}, ErrUnknownTier
	}

	frac, ok := retention[tier]
	if !ok || frac <= 0 || frac > 1 {
		frac = defaultRetention[tier]
	}

	out := st(canonical, frac)
	origTokens := EstimateTokens(canonical)
	outTokens := EstimateTokens(out)
	ratio := float64(outTokens) / float64(origTokens)
	if ratio > 1 {
		ratio = 1
	}

	return types.CompressionResult{
		CompressedData:       out,
		OriginalTokenCount:   origTokens,
		CompressedTokenCount: outTokens,
		CompressionRatio:     ratio,
		Tier:                 tier,
	}, nil
}

// Supported reports whether a compression strategy exists for the tier.
func Supported(tier types.Tier) bool {
	_, ok := strategies[tier]
	return ok
}

func warmStrategy(p types.Payload, retention float64) types.Payload {
	switch p.Kind {
	case types.PayloadText:
		runes := []rune(p.Text)
		keep := int(float64(len(runes)) * retention)
		if keep >= len(runes) {
			return p
		}
		return types.TextPayload(string(runes[:keep]))
	case types.PayloadRecord:
		out := make(map[string]any, len(p.Record))
		for k, v := range p.Record {
			if narrativeKeys[strings.ToLower(k)] {
				continue
			}
			out[k] = v
		}
		return types.RecordPayload(out)
	default:
		return p
	}
}

func coolStrategy(p types.Payload, _ float64) types.Payload {
	switch p.Kind {
	case types.PayloadText:
		sentences := splitSentences(p.Text)
		if len(sentences) > coolSentenceLimit {
			sentences = sentences[:coolSentenceLimit]
		}
		if len(sentences) == 0 {
			return types.TextPayload("")
		}
		return types.TextPayload(strings.Join(sentences, ". ") + ".")
	case types.PayloadRecord:
		out := make(map[string]any, len(coolKeys))
		for k, v := range p.Record {
			if coolKeys[strings.ToLower(k)] {
				out[k] = v
			}
		}
		return types.RecordPayload(out)
	default:
		return p
	}
}

func coldStrategy(p types.Payload, _ float64) types.Payload {
	switch p.Kind {
	case types.PayloadText:
		return types.TextPayload(truncateTokens(p.Text, coldTokenLimit))
	case types.PayloadRecord:
		return types.RecordPayload(remapKeys(p.Record, coldKeyMap))
	default:
		return p
	}
}

func frozenStrategy(p types.Payload, _ float64) types.Payload {
	switch p.Kind {
	case types.PayloadText:
		return types.TextPayload(truncateTokens(p.Text, frozenTokenLimit))
	case types.PayloadRecord:
		return types.RecordPayload(remapKeys(p.Record, frozenKeyMap))
	default:
		return p
	}
}

func splitSentences(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func truncateTokens(s string, limit int) string {
	fields := strings.Fields(s)
	if len(fields) <= limit {
		return s
	}
	return strings.Join(fields[:limit], " ") + ellipsis
}

func remapKeys(rec map[string]any, keyMap map[string]string) map[string]any {
	out := make(map[string]any, len(keyMap))
	for k, v := range rec {
		if short, ok := keyMap[strings.ToLower(k)]; ok {
			out[short] = v
		}
	}
	return out
}
