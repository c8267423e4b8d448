package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/xiy/lore-mcp/internal/compress"
	"github.com/xiy/lore-mcp/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// Stats summarizes database counters for admin dashboards.
type Stats struct {
	Total      int64
	PerTier    map[types.Tier]int64
	Compressed int64
}

// TransitionLog captures one persisted tier-transition event.
type TransitionLog struct {
	EventID          string
	EntityID         string
	Kind             types.EntityKind
	EventType        string
	OldTier          types.Tier
	NewTier          types.Tier
	CompressionRatio *float64
	CreatedAt        time.Time
}

// RPCRequestLog captures one incoming JSON-RPC request handled by the server.
type RPCRequestLog struct {
	ID         int64
	Method     string
	ToolName   string
	Success    bool
	ErrorText  string
	DurationMS int64
	CreatedAt  time.Time
}

// RecentEntity is a compact entity row for admin dashboards.
type RecentEntity struct {
	ID             string
	Kind           types.EntityKind
	Tier           types.Tier
	AccessCount    int64
	TokenCount     int
	LastAccessedAt time.Time
}

// Store represents persistence operations used by the memory service.
// Load creates a fresh hot entry when the id is new to the store; Get never
// creates and reports a miss via sql.ErrNoRows.
type Store interface {
	Load(ctx context.Context, id string, kind types.EntityKind, now time.Time) (types.MemoryEntity, bool, error)
	Get(ctx context.Context, id string) (types.MemoryEntity, error)
	Save(ctx context.Context, e types.MemoryEntity) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// SQLiteStore is a SQLite-backed entity store.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenSQLite opens and initializes the SQLite store.
func OpenSQLite(ctx context.Context, dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, stmt := range splitSQLStatements(schemaSQL) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}
	return nil
}

func splitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

// Load fetches an entity, creating and persisting a fresh hot entry when
// the id is unknown. The boolean reports whether a new row was created.
func (s *SQLiteStore) Load(ctx context.Context, id string, kind types.EntityKind, now time.Time) (types.MemoryEntity, bool, error) {
	e, err := s.Get(ctx, id)
	if err == nil {
		return e, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.MemoryEntity{}, false, err
	}

	canonical := types.RecordPayload(map[string]any{})
	fresh := types.MemoryEntity{
		ID:             id,
		Kind:           kind,
		Canonical:      canonical,
		Tier:           types.TierHot,
		LastAccessedAt: now.UTC(),
		AccessCount:    0,
		TokenCount:     compress.EstimateTokens(canonical),
		CreatedAt:      now.UTC(),
	}
	if err := s.Save(ctx, fresh); err != nil {
		return types.MemoryEntity{}, false, err
	}
	s.logger.Debug("created fresh entity", "id", id, "kind", kind)
	return fresh, true, nil
}

// Get fetches an entity by id; sql.ErrNoRows when absent.
func (s *SQLiteStore) Get(ctx context.Context, id string) (types.MemoryEntity, error) {
	const q = `SELECT id, kind, canonical_json, snapshot_json, tier, last_accessed_at,
       access_count, token_count, compression_ratio, created_at
FROM entities WHERE id = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, id)
	e, err := scanEntityRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// Save upserts an entity row.
func (s *SQLiteStore) Save(ctx context.Context, e types.MemoryEntity) error {
	canonicalJSON, err := json.Marshal(e.Canonical)
	if err != nil {
		return fmt.Errorf("marshal canonical payload: %w", err)
	}

	snapshotJSON := sql.NullString{}
	if e.Snapshot != nil {
		b, err := json.Marshal(e.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot payload: %w", err)
		}
		snapshotJSON = sql.NullString{String: string(b), Valid: true}
	}
	ratio := sql.NullFloat64{}
	if e.CompressionRatio != nil {
		ratio = sql.NullFloat64{Float64: *e.CompressionRatio, Valid: true}
	}

	const q = `INSERT INTO entities (
		id, kind, canonical_json, snapshot_json, tier, last_accessed_at,
		access_count, token_count, compression_ratio, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		kind = excluded.kind,
		canonical_json = excluded.canonical_json,
		snapshot_json = excluded.snapshot_json,
		tier = excluded.tier,
		last_accessed_at = excluded.last_accessed_at,
		access_count = excluded.access_count,
		token_count = excluded.token_count,
		compression_ratio = excluded.compression_ratio`
	_, err = s.db.ExecContext(ctx, q,
		e.ID,
		string(e.Kind),
		string(canonicalJSON),
		snapshotJSON,
		string(e.Tier),
		e.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		e.AccessCount,
		e.TokenCount,
		ratio,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save entity: %w", err)
	}
	return nil
}

// Stats counts entities per tier.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{PerTier: make(map[types.Tier]int64, len(types.Tiers))}

	rows, err := s.db.QueryContext(ctx, `SELECT tier, count(*) FROM entities GROUP BY tier`)
	if err != nil {
		return st, fmt.Errorf("tier counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return st, fmt.Errorf("scan tier count: %w", err)
		}
		st.PerTier[types.Tier(tier)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM entities WHERE compression_ratio IS NOT NULL`,
	).Scan(&st.Compressed); err != nil {
		return st, fmt.Errorf("compressed count: %w", err)
	}
	return st, nil
}

// InsertTransitionLog stores one transition event for admin observability.
func (s *SQLiteStore) InsertTransitionLog(ctx context.Context, rec TransitionLog) error {
	ts := rec.CreatedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	ratio := sql.NullFloat64{}
	if rec.CompressionRatio != nil {
		ratio = sql.NullFloat64{Float64: *rec.CompressionRatio, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO transitions (
		event_id, entity_id, kind, event_type, old_tier, new_tier, compression_ratio, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID,
		rec.EntityID,
		string(rec.Kind),
		rec.EventType,
		string(rec.OldTier),
		string(rec.NewTier),
		ratio,
		ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transition log: %w", err)
	}
	return nil
}

// RecentTransitions returns the most recent transition events newest-first.
func (s *SQLiteStore) RecentTransitions(ctx context.Context, limit int) ([]TransitionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, entity_id, kind, event_type, old_tier, new_tier, compression_ratio, created_at
FROM transitions
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	items := make([]TransitionLog, 0, limit)
	for rows.Next() {
		var (
			row       TransitionLog
			kind      string
			oldTier   string
			newTier   string
			ratio     sql.NullFloat64
			createdAt string
		)
		if err := rows.Scan(&row.EventID, &row.EntityID, &kind, &row.EventType, &oldTier, &newTier, &ratio, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		row.Kind = types.EntityKind(kind)
		row.OldTier = types.Tier(oldTier)
		row.NewTier = types.Tier(newTier)
		if ratio.Valid {
			r := ratio.Float64
			row.CompressionRatio = &r
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			row.CreatedAt = ts
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

// InsertRPCRequestLog stores one request event for admin observability.
func (s *SQLiteStore) InsertRPCRequestLog(ctx context.Context, rec RPCRequestLog) error {
	ts := rec.CreatedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO rpc_requests (
		method, tool_name, success, error_text, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(rec.Method),
		strings.TrimSpace(rec.ToolName),
		success,
		strings.TrimSpace(rec.ErrorText),
		rec.DurationMS,
		ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert rpc request log: %w", err)
	}
	return nil
}

// RecentRPCRequestLogs returns most recent request events newest-first.
func (s *SQLiteStore) RecentRPCRequestLogs(ctx context.Context, limit int) ([]RPCRequestLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, method, tool_name, success, error_text, duration_ms, created_at
FROM rpc_requests
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rpc request logs: %w", err)
	}
	defer rows.Close()

	items := make([]RPCRequestLog, 0, limit)
	for rows.Next() {
		var (
			row          RPCRequestLog
			successAsInt int
			createdAt    string
		)
		if err := rows.Scan(&row.ID, &row.Method, &row.ToolName, &successAsInt, &row.ErrorText, &row.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rpc request log: %w", err)
		}
		row.Success = successAsInt == 1
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			row.CreatedAt = ts
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

// RecentEntities returns compact entity rows, most recently accessed first.
func (s *SQLiteStore) RecentEntities(ctx context.Context, limit int) ([]RecentEntity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, tier, access_count, token_count, last_accessed_at
FROM entities
ORDER BY last_accessed_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent entities: %w", err)
	}
	defer rows.Close()

	items := make([]RecentEntity, 0, limit)
	for rows.Next() {
		var (
			row            RecentEntity
			kind           string
			tier           string
			lastAccessedAt string
		)
		if err := rows.Scan(&row.ID, &kind, &tier, &row.AccessCount, &row.TokenCount, &lastAccessedAt); err != nil {
			return nil, fmt.Errorf("scan recent entity: %w", err)
		}
		row.Kind = types.EntityKind(kind)
		row.Tier = types.Tier(tier)
		if ts, err := time.Parse(time.RFC3339Nano, lastAccessedAt); err == nil {
			row.LastAccessedAt = ts
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntityRow(sc scanner) (types.MemoryEntity, error) {
	var (
		e              types.MemoryEntity
		kind           string
		canonicalJSON  string
		snapshotJSON   sql.NullString
		tier           string
		lastAccessedAt string
		ratio          sql.NullFloat64
		createdAt      string
	)
	err := sc.Scan(
		&e.ID,
		&kind,
		&canonicalJSON,
		&snapshotJSON,
		&tier,
		&lastAccessedAt,
		&e.AccessCount,
		&e.TokenCount,
		&ratio,
		&createdAt,
	)
	if err != nil {
		return e, err
	}

	e.Kind = types.EntityKind(kind)
	e.Tier = types.Tier(tier)
	if err := json.Unmarshal([]byte(canonicalJSON), &e.Canonical); err != nil {
		return e, fmt.Errorf("unmarshal canonical payload: %w", err)
	}
	if snapshotJSON.Valid {
		var snap types.Payload
		if err := json.Unmarshal([]byte(snapshotJSON.String), &snap); err != nil {
			return e, fmt.Errorf("unmarshal snapshot payload: %w", err)
		}
		e.Snapshot = &snap
	}
	if ratio.Valid {
		r := ratio.Float64
		e.CompressionRatio = &r
	}

	last, err := time.Parse(time.RFC3339Nano, lastAccessedAt)
	if err != nil {
		return e, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return e, err
	}
	e.LastAccessedAt = last
	e.CreatedAt = created
	return e, nil
}
