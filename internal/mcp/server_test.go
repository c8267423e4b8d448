package mcp

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/lore-mcp/internal/config"
	"github.com/xiy/lore-mcp/internal/events"
	"github.com/xiy/lore-mcp/internal/memory"
	"github.com/xiy/lore-mcp/internal/store"
	"github.com/xiy/lore-mcp/pkg/types"
)

type fakeStore struct {
	rows map[string]types.MemoryEntity
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]types.MemoryEntity)}
}

func (f *fakeStore) Load(_ context.Context, id string, kind types.EntityKind, now time.Time) (types.MemoryEntity, bool, error) {
	if e, ok := f.rows[id]; ok {
		return e, false, nil
	}
	fresh := types.MemoryEntity{
		ID:             id,
		Kind:           kind,
		Canonical:      types.RecordPayload(map[string]any{}),
		Tier:           types.TierHot,
		LastAccessedAt: now,
		TokenCount:     1,
		CreatedAt:      now,
	}
	f.rows[id] = fresh
	return fresh, true, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (types.MemoryEntity, error) {
	e, ok := f.rows[id]
	if !ok {
		return types.MemoryEntity{}, sql.ErrNoRows
	}
	return e, nil
}

func (f *fakeStore) Save(_ context.Context, e types.MemoryEntity) error {
	f.rows[e.ID] = e
	return nil
}

func (f *fakeStore) Stats(_ context.Context) (store.Stats, error) {
	return store.Stats{}, nil
}

func (f *fakeStore) Close() error { return nil }

type captureSink struct {
	rows []store.RPCRequestLog
}

func (c *captureSink) InsertRPCRequestLog(_ context.Context, rec store.RPCRequestLog) error {
	c.rows = append(c.rows, rec)
	return nil
}

func newTestServer(sink RequestLogSink) *Server {
	logger := log.NewWithOptions(io.Discard, log.Options{})
	svc := memory.NewService(newFakeStore(), config.Default(), events.NewBus(), logger)
	return NewServer(svc, logger, sink)
}

func TestHandle_ToolsList(t *testing.T) {
	t.Parallel()
	srv := newTestServer(nil)

	resp, ok := srv.handle(context.Background(), request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/list",
	})
	if !ok {
		t.Fatal("expected response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	tools, ok := result["tools"].([]ToolDefinition)
	if !ok || len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %v", result["tools"])
	}
}

func TestHandle_AccessAndCompressRoundTrip(t *testing.T) {
	t.Parallel()
	srv := newTestServer(nil)
	ctx := context.Background()

	res, err := srv.handleToolCall(ctx, json.RawMessage(`{
		"name": "lore_track",
		"arguments": {"id": "npc-1", "kind": "character", "data": {"name": "Mira", "level": 3, "description": "A long story."}}
	}`))
	if err != nil {
		t.Fatalf("lore_track error = %v", err)
	}
	if res["isError"] != false {
		t.Fatalf("lore_track result flagged as error: %v", res)
	}

	res, err = srv.handleToolCall(ctx, json.RawMessage(`{
		"name": "lore_compress",
		"arguments": {"id": "npc-1", "tier": "cold"}
	}`))
	if err != nil {
		t.Fatalf("lore_compress error = %v", err)
	}
	e, ok := res["structuredContent"].(types.MemoryEntity)
	if !ok {
		t.Fatalf("unexpected structured content %T", res["structuredContent"])
	}
	if e.Tier != types.TierCold || e.Snapshot == nil {
		t.Fatalf("expected cold entity with snapshot, got %+v", e)
	}

	res, err = srv.handleToolCall(ctx, json.RawMessage(`{"name": "lore_stats", "arguments": {}}`))
	if err != nil {
		t.Fatalf("lore_stats error = %v", err)
	}
	stats, ok := res["structuredContent"].(types.MemoryStats)
	if !ok {
		t.Fatalf("unexpected structured content %T", res["structuredContent"])
	}
	if stats.Total != 1 || stats.PerTier[types.TierCold] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHandleToolCall_UnknownTool(t *testing.T) {
	t.Parallel()
	srv := newTestServer(nil)
	if _, err := srv.handleToolCall(context.Background(), json.RawMessage(`{"name": "lore_divine"}`)); err == nil {
		t.Fatal("expected unknown tool error")
	}
}

func TestReadWriteFramedMessage(t *testing.T) {
	t.Parallel()
	resp := response{JSONRPC: "2.0", ID: 1, Result: map[string]any{"ok": true}}
	var payloadBuf bytes.Buffer
	bw := bufio.NewWriter(&payloadBuf)
	if err := writeFramedMessage(bw, resp); err != nil {
		t.Fatalf("writeFramedMessage() error = %v", err)
	}
	br := bufio.NewReader(bytes.NewReader(payloadBuf.Bytes()))
	payload, err := readFramedMessage(br)
	if err != nil {
		t.Fatalf("readFramedMessage() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got["jsonrpc"] != "2.0" {
		t.Fatalf("expected jsonrpc 2.0, got %v", got["jsonrpc"])
	}
}

func TestServe_JSONLineInitialize(t *testing.T) {
	t.Parallel()
	srv := newTestServer(nil)

	in := bytes.NewBufferString("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"initialize\",\"params\":{\"protocolVersion\":\"2024-11-05\"}}\n")
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	line := bytes.TrimSpace(out.Bytes())
	if len(line) == 0 {
		t.Fatal("expected JSON-line response, got empty output")
	}
	if bytes.Contains(line, []byte("Content-Length:")) {
		t.Fatalf("expected JSON-line response, got framed output: %q", string(line))
	}

	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("json.Unmarshal(response) error = %v", err)
	}
	if resp["jsonrpc"] != "2.0" {
		t.Fatalf("expected jsonrpc 2.0, got %v", resp["jsonrpc"])
	}
}

func TestServe_LogsRequestEvents(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	srv := newTestServer(sink)

	in := bytes.NewBufferString("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"tools/call\",\"params\":{\"name\":\"lore_compress\",\"arguments\":{\"id\":\"ghost\",\"tier\":\"cold\"}}}\n")
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	if len(sink.rows) != 1 {
		t.Fatalf("expected 1 request log row, got %d", len(sink.rows))
	}
	got := sink.rows[0]
	if got.Method != "tools/call" || got.ToolName != "lore_compress" {
		t.Fatalf("unexpected request log %+v", got)
	}
	if got.Success {
		t.Fatal("expected failure: entity does not exist")
	}
	if got.ErrorText == "" {
		t.Fatal("expected non-empty error text")
	}
}
