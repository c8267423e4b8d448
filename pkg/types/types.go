package types

import (
	"fmt"
	"time"
)

// Tier is the discrete fidelity class of a cached entity, ordered
// hot > warm > cool > cold > frozen.
type Tier string

const (
	TierHot    Tier = "hot"
	TierWarm   Tier = "warm"
	TierCool   Tier = "cool"
	TierCold   Tier = "cold"
	TierFrozen Tier = "frozen"
)

// Tiers lists all tiers from hottest to coldest.
var Tiers = []Tier{TierHot, TierWarm, TierCool, TierCold, TierFrozen}

var tierRanks = map[Tier]int{
	TierHot:    4,
	TierWarm:   3,
	TierCool:   2,
	TierCold:   1,
	TierFrozen: 0,
}

// Rank returns the tier's position in the temperature order; hotter is
// higher. Unknown tiers rank below frozen.
func (t Tier) Rank() int {
	r, ok := tierRanks[t]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether t is one of the five known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// EntityKind classifies a tracked game object.
type EntityKind string

const (
	KindCharacter    EntityKind = "character"
	KindLocation     EntityKind = "location"
	KindRelationship EntityKind = "relationship"
	KindItem         EntityKind = "item"
	KindEvent        EntityKind = "event"
)

var entityKinds = map[EntityKind]bool{
	KindCharacter:    true,
	KindLocation:     true,
	KindRelationship: true,
	KindItem:         true,
	KindEvent:        true,
}

// Valid reports whether k is one of the five known kinds.
func (k EntityKind) Valid() bool {
	return entityKinds[k]
}

// MemoryEntity is one tracked game object with its temperature bookkeeping.
// Canonical is the full-fidelity source of truth and is never discarded by
// this subsystem; Snapshot is the most recently derived compressed view and
// may be stale if Canonical changed since it was computed.
type MemoryEntity struct {
	ID               string     `json:"id"`
	Kind             EntityKind `json:"kind"`
	Canonical        Payload    `json:"canonical"`
	Snapshot         *Payload   `json:"snapshot,omitempty"`
	Tier             Tier       `json:"tier"`
	LastAccessedAt   time.Time  `json:"last_accessed_at"`
	AccessCount      int64      `json:"access_count"`
	TokenCount       int        `json:"token_count"`
	CompressionRatio *float64   `json:"compression_ratio,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// View returns the payload a downstream consumer should read at the entity's
// current tier: the canonical record while hot, otherwise the derived
// snapshot when one exists.
func (e *MemoryEntity) View() Payload {
	if e.Tier != TierHot && e.Snapshot != nil {
		return *e.Snapshot
	}
	return e.Canonical
}

// CompressionResult reports one lossy compression outcome.
type CompressionResult struct {
	CompressedData       Payload `json:"compressed_data"`
	OriginalTokenCount   int     `json:"original_token_count"`
	CompressedTokenCount int     `json:"compressed_token_count"`
	CompressionRatio     float64 `json:"compression_ratio"`
	Tier                 Tier    `json:"tier"`
}

// MemoryStats summarizes the cached population for dashboards and reports.
type MemoryStats struct {
	Total            int64          `json:"total"`
	PerTier          map[Tier]int64 `json:"per_tier"`
	CompressedCount  int64          `json:"compressed_count"`
	AverageRatio     float64        `json:"average_ratio"`
	CurrentTokens    int64          `json:"current_tokens"`
	ImpliedTokens    int64          `json:"implied_tokens"`
	TokenReductionPc float64        `json:"token_reduction_pct"`
}

// AccessInput signals that an entity was touched by the game layer.
type AccessInput struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

// TrackInput registers or replaces an entity's canonical payload.
type TrackInput struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
	Data Payload    `json:"data"`
}

// CompressInput requests an explicit compression to a target tier.
type CompressInput struct {
	ID   string `json:"id"`
	Tier Tier   `json:"tier"`
}

// ExpandInput requests restoration of the canonical view.
type ExpandInput struct {
	ID string `json:"id"`
}
