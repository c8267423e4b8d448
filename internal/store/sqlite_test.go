package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/lore-mcp/pkg/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	dbPath := filepath.Join(t.TempDir(), "entities.db")
	st, err := OpenSQLite(context.Background(), dbPath, logger)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStore_LoadCreatesFreshHotEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now().UTC()

	e, created, err := st.Load(ctx, "npc-1", types.KindCharacter, now)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !created {
		t.Fatal("expected fresh entity to be created")
	}
	if e.Tier != types.TierHot {
		t.Fatalf("fresh tier = %s, want hot", e.Tier)
	}
	if e.AccessCount != 0 {
		t.Fatalf("fresh access count = %d, want 0", e.AccessCount)
	}

	again, created, err := st.Load(ctx, "npc-1", types.KindCharacter, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Load() second call error = %v", err)
	}
	if created {
		t.Fatal("expected existing entity, not a new one")
	}
	if again.ID != "npc-1" || again.Kind != types.KindCharacter {
		t.Fatalf("unexpected entity %+v", again)
	}
}

func TestSQLiteStore_SaveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	snap := types.TextPayload("Mira the ranger...")
	ratio := 0.21
	e := types.MemoryEntity{
		ID:               "npc-2",
		Kind:             types.KindCharacter,
		Canonical:        types.RecordPayload(map[string]any{"name": "Mira", "level": float64(12)}),
		Snapshot:         &snap,
		Tier:             types.TierCold,
		LastAccessedAt:   now,
		AccessCount:      7,
		TokenCount:       5,
		CompressionRatio: &ratio,
		CreatedAt:        now.Add(-48 * time.Hour),
	}
	if err := st.Save(ctx, e); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := st.Get(ctx, "npc-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Tier != types.TierCold {
		t.Fatalf("tier = %s, want cold", got.Tier)
	}
	if got.Canonical.Kind != types.PayloadRecord || got.Canonical.Record["name"] != "Mira" {
		t.Fatalf("canonical payload did not round-trip: %+v", got.Canonical)
	}
	if got.Snapshot == nil || got.Snapshot.Text != "Mira the ranger..." {
		t.Fatalf("snapshot payload did not round-trip: %+v", got.Snapshot)
	}
	if got.CompressionRatio == nil || *got.CompressionRatio != 0.21 {
		t.Fatalf("compression ratio did not round-trip: %+v", got.CompressionRatio)
	}
	if !got.LastAccessedAt.Equal(now) {
		t.Fatalf("last accessed = %v, want %v", got.LastAccessedAt, now)
	}

	// Upsert path: tier change overwrites the row.
	e.Tier = types.TierHot
	e.Snapshot = nil
	if err := st.Save(ctx, e); err != nil {
		t.Fatalf("Save() upsert error = %v", err)
	}
	got, err = st.Get(ctx, "npc-2")
	if err != nil {
		t.Fatalf("Get() after upsert error = %v", err)
	}
	if got.Tier != types.TierHot || got.Snapshot != nil {
		t.Fatalf("upsert did not overwrite: tier=%s snapshot=%v", got.Tier, got.Snapshot)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	_, err := st.Get(context.Background(), "ghost")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestSQLiteStore_StatsAndLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	ratio := 0.1
	rows := []types.MemoryEntity{
		{ID: "a", Kind: types.KindCharacter, Canonical: types.TextPayload("a"), Tier: types.TierHot, LastAccessedAt: base, TokenCount: 10, CreatedAt: base},
		{ID: "b", Kind: types.KindLocation, Canonical: types.TextPayload("b"), Tier: types.TierCool, LastAccessedAt: base.Add(time.Minute), TokenCount: 4, CompressionRatio: &ratio, CreatedAt: base},
		{ID: "c", Kind: types.KindItem, Canonical: types.TextPayload("c"), Tier: types.TierCool, LastAccessedAt: base.Add(2 * time.Minute), TokenCount: 3, CompressionRatio: &ratio, CreatedAt: base},
	}
	for _, e := range rows {
		if err := st.Save(ctx, e); err != nil {
			t.Fatalf("Save(%s) error = %v", e.ID, err)
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("total = %d, want 3", stats.Total)
	}
	if stats.PerTier[types.TierCool] != 2 {
		t.Fatalf("cool count = %d, want 2", stats.PerTier[types.TierCool])
	}
	if stats.Compressed != 2 {
		t.Fatalf("compressed = %d, want 2", stats.Compressed)
	}

	if err := st.InsertTransitionLog(ctx, TransitionLog{
		EventID:   "ev-1",
		EntityID:  "b",
		Kind:      types.KindLocation,
		EventType: "memory.temperature_changed",
		OldTier:   types.TierHot,
		NewTier:   types.TierCool,
		CreatedAt: base,
	}); err != nil {
		t.Fatalf("InsertTransitionLog() error = %v", err)
	}
	trans, err := st.RecentTransitions(ctx, 5)
	if err != nil {
		t.Fatalf("RecentTransitions() error = %v", err)
	}
	if len(trans) != 1 || trans[0].NewTier != types.TierCool {
		t.Fatalf("unexpected transitions %+v", trans)
	}

	if err := st.InsertRPCRequestLog(ctx, RPCRequestLog{Method: "tools/call", ToolName: "lore_access", Success: true, DurationMS: 3, CreatedAt: base}); err != nil {
		t.Fatalf("InsertRPCRequestLog() error = %v", err)
	}
	logs, err := st.RecentRPCRequestLogs(ctx, 5)
	if err != nil {
		t.Fatalf("RecentRPCRequestLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].ToolName != "lore_access" {
		t.Fatalf("unexpected request logs %+v", logs)
	}

	recent, err := st.RecentEntities(ctx, 5)
	if err != nil {
		t.Fatalf("RecentEntities() error = %v", err)
	}
	if len(recent) != 3 || recent[0].ID != "c" {
		t.Fatalf("expected most recently accessed first, got %+v", recent)
	}
}
