// Package memory owns the temperature state machine: it classifies entities
// by recency of access, applies the per-tier lossy compression strategies
// and keeps the bookkeeping consistent across cache and store.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/lore-mcp/internal/compress"
	"github.com/xiy/lore-mcp/internal/config"
	"github.com/xiy/lore-mcp/internal/events"
	"github.com/xiy/lore-mcp/internal/store"
	"github.com/xiy/lore-mcp/internal/temperature"
	"github.com/xiy/lore-mcp/pkg/types"
)

// ErrEntityNotFound is returned for operations on an id the store cannot
// resolve and that the operation is not allowed to create.
var ErrEntityNotFound = errors.New("entity not found")

// ErrUnknownTier mirrors the compression-layer sentinel for callers that
// only import this package.
var ErrUnknownTier = compress.ErrUnknownTier

// Service orchestrates tier transitions. All mutations to one entity are
// serialized behind its cache slot; nothing here runs on a timer — tier
// re-evaluation is strictly access-triggered.
type Service struct {
	store  store.Store
	cache  *Cache
	cfg    config.Config
	pub    events.Publisher
	logger *log.Logger
	now    func() time.Time
}

// NewService constructs a memory service.
func NewService(st store.Store, cfg config.Config, pub events.Publisher, logger *log.Logger) *Service {
	return &Service{
		store:  st,
		cache:  NewCache(),
		cfg:    cfg,
		pub:    pub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Access records that the game layer touched an entity: re-evaluate its
// tier from elapsed time, transition if needed, then update the access
// bookkeeping and persist.
func (s *Service) Access(ctx context.Context, in types.AccessInput) (types.MemoryEntity, error) {
	if err := validateID(in.ID); err != nil {
		return types.MemoryEntity{}, err
	}
	if !in.Kind.Valid() {
		return types.MemoryEntity{}, fmt.Errorf("invalid entity kind %q", in.Kind)
	}

	slot := s.cache.acquire(in.ID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if err := s.fillSlot(ctx, slot, in.ID, in.Kind, true); err != nil {
		return types.MemoryEntity{}, err
	}
	e := &slot.e

	if !s.cfg.Temperature.Enabled {
		return *e, nil
	}

	now := s.now()
	target := temperature.Classify(now.Sub(e.LastAccessedAt), s.cfg.Temperature)
	if target != e.Tier {
		if err := s.transition(e, target); err != nil {
			return types.MemoryEntity{}, err
		}
	}

	e.LastAccessedAt = now
	e.AccessCount++

	if err := s.store.Save(ctx, *e); err != nil {
		return types.MemoryEntity{}, fmt.Errorf("save entity %s: %w", e.ID, err)
	}
	return *e, nil
}

// Track registers or replaces an entity's canonical payload. The new
// canonical data supersedes any derived snapshot, so the entity returns to
// full fidelity.
func (s *Service) Track(ctx context.Context, in types.TrackInput) (types.MemoryEntity, error) {
	if err := validateID(in.ID); err != nil {
		return types.MemoryEntity{}, err
	}
	if !in.Kind.Valid() {
		return types.MemoryEntity{}, fmt.Errorf("invalid entity kind %q", in.Kind)
	}
	if in.Data.IsZero() {
		return types.MemoryEntity{}, errors.New("data is required")
	}

	slot := s.cache.acquire(in.ID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if err := s.fillSlot(ctx, slot, in.ID, in.Kind, true); err != nil {
		return types.MemoryEntity{}, err
	}
	e := &slot.e

	oldTier := e.Tier
	now := s.now()
	e.Canonical = in.Data
	e.Snapshot = nil
	e.CompressionRatio = nil
	e.Tier = types.TierHot
	e.TokenCount = compress.EstimateTokens(e.Canonical)
	e.LastAccessedAt = now
	e.AccessCount++

	if err := s.store.Save(ctx, *e); err != nil {
		return types.MemoryEntity{}, fmt.Errorf("save entity %s: %w", e.ID, err)
	}
	if oldTier != types.TierHot {
		s.publishTemperatureChanged(e, oldTier)
	}
	return *e, nil
}

// Compress applies the target tier's strategy directly, without touching
// access bookkeeping. Intended for administrative or batch compaction.
func (s *Service) Compress(ctx context.Context, in types.CompressInput) (types.MemoryEntity, error) {
	if err := validateID(in.ID); err != nil {
		return types.MemoryEntity{}, err
	}
	if !compress.Supported(in.Tier) {
		return types.MemoryEntity{}, fmt.Errorf("compress to %q: %w", in.Tier, ErrUnknownTier)
	}
	return s.retier(ctx, in.ID, in.Tier)
}

// Expand restores the canonical view of an entity, without touching access
// bookkeeping.
func (s *Service) Expand(ctx context.Context, in types.ExpandInput) (types.MemoryEntity, error) {
	if err := validateID(in.ID); err != nil {
		return types.MemoryEntity{}, err
	}
	return s.retier(ctx, in.ID, types.TierHot)
}

func (s *Service) retier(ctx context.Context, id string, target types.Tier) (types.MemoryEntity, error) {
	slot := s.cache.acquire(id)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if err := s.fillSlot(ctx, slot, id, "", false); err != nil {
		return types.MemoryEntity{}, err
	}
	e := &slot.e

	if !s.cfg.Temperature.Enabled || target == e.Tier {
		return *e, nil
	}

	if err := s.transition(e, target); err != nil {
		return types.MemoryEntity{}, err
	}
	if err := s.store.Save(ctx, *e); err != nil {
		return types.MemoryEntity{}, fmt.Errorf("save entity %s: %w", e.ID, err)
	}
	return *e, nil
}

// fillSlot loads the slot's entity from the store on first use. When create
// is false a missing row surfaces as ErrEntityNotFound.
func (s *Service) fillSlot(ctx context.Context, slot *entry, id string, kind types.EntityKind, create bool) error {
	if slot.loaded {
		return nil
	}
	if create {
		e, created, err := s.store.Load(ctx, id, kind, s.now())
		if err != nil {
			return fmt.Errorf("load entity %s: %w", id, err)
		}
		if created {
			s.logger.Info("tracking new entity", "id", id, "kind", kind)
		}
		slot.e = e
		slot.loaded = true
		return nil
	}

	e, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entity %s: %w", id, ErrEntityNotFound)
		}
		return fmt.Errorf("load entity %s: %w", id, err)
	}
	slot.e = e
	slot.loaded = true
	return nil
}

// transition moves an entity to the target tier. Any non-hot target runs
// that tier's compression strategy against the canonical payload, so a
// warming entity is re-compressed at the milder level rather than keeping
// its colder snapshot. The hot target restores the canonical view. Boundary
// events are emitted either way; their delivery never rolls back the tier
// change.
func (s *Service) transition(e *types.MemoryEntity, target types.Tier) error {
	old := e.Tier

	if target != types.TierHot {
		res, err := compress.Compress(e.Canonical, target, s.cfg.Temperature.Retention)
		if err != nil {
			return fmt.Errorf("compress entity %s to %s: %w", e.ID, target, err)
		}
		snap := res.CompressedData
		ratio := res.CompressionRatio
		e.Snapshot = &snap
		e.TokenCount = res.CompressedTokenCount
		e.CompressionRatio = &ratio
		e.Tier = target

		s.logger.Debug("compressed entity",
			"id", e.ID, "tier", target, "ratio", fmt.Sprintf("%.3f", ratio),
			"tokens", res.CompressedTokenCount, "original_tokens", res.OriginalTokenCount)
		s.pub.Publish(events.Event{
			Type:     events.TypeCompressed,
			EntityID: e.ID,
			Kind:     e.Kind,
			OldTier:  old,
			NewTier:  target,
			Result:   &res,
		})
	} else {
		e.Tier = target
		e.Snapshot = nil
		e.CompressionRatio = nil
		e.TokenCount = compress.EstimateTokens(e.Canonical)
		s.logger.Debug("restored entity", "id", e.ID, "tier", target)
	}

	s.publishTemperatureChanged(e, old)
	return nil
}

func (s *Service) publishTemperatureChanged(e *types.MemoryEntity, old types.Tier) {
	s.pub.Publish(events.Event{
		Type:     events.TypeTemperatureChanged,
		EntityID: e.ID,
		Kind:     e.Kind,
		OldTier:  old,
		NewTier:  e.Tier,
	})
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	return nil
}
