package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusString string

func seed(t *testing.T, s *MemoryStore, collection string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.Set(context.Background(), collection, id, map[string]any{"status": "New", "n": 1}))
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "awbs", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "awbs", "a1", "a2")

	err := s.Batch(ctx, []Op{
		Update("awbs", "a1", map[string]any{"status": "Queued"}),
		Update("awbs", "missing", map[string]any{"status": "Queued"}),
		Update("awbs", "a2", map[string]any{"status": "Queued"}),
	})
	require.ErrorIs(t, err, ErrNotFound)

	for _, id := range []string{"a1", "a2"} {
		r, err := s.Get(ctx, "awbs", id)
		require.NoError(t, err)
		assert.Equal(t, "New", r["status"], id)
	}
}

func TestMemoryStoreBatchRejectsOversizedBatch(t *testing.T) {
	ops := make([]Op, MaxBatchOps+1)
	for i := range ops {
		ops[i] = Set("awbs", fmt.Sprintf("a%d", i), map[string]any{})
	}
	s := NewMemoryStore()
	require.ErrorIs(t, s.Batch(context.Background(), ops), ErrBatchTooLarge)

	all, err := s.Query(context.Background(), "awbs")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStoreBatchChunked(t *testing.T) {
	ops := make([]Op, 1201)
	for i := range ops {
		ops[i] = Set("recipients", fmt.Sprintf("r%04d", i), map[string]any{"shipmentId": "S1"})
	}
	s := NewMemoryStore()
	require.NoError(t, BatchChunked(context.Background(), s, ops))

	all, err := s.Query(context.Background(), "recipients", Eq("shipmentId", "S1"))
	require.NoError(t, err)
	assert.Len(t, all, 1201)
}

func TestMemoryStoreDottedUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "recipients", "r1")

	err := s.Batch(ctx, []Op{Update("recipients", "r1", map[string]any{
		"documents.pv.status": "Generated",
		"documents.pv.url":    "https://docs/1",
	})})
	require.NoError(t, err)

	r, err := s.Get(ctx, "recipients", "r1")
	require.NoError(t, err)
	docs := r["documents"].(map[string]any)
	assert.Equal(t, "Generated", docs["pv"].(map[string]any)["status"])
	assert.Equal(t, "https://docs/1", docs["pv"].(map[string]any)["url"])
	assert.Equal(t, "New", r["status"])

	found, err := s.Query(ctx, "recipients", Eq("documents.pv.status", "Generated"))
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "awbs", "a1", map[string]any{"shipmentId": "S1", "status": "New"}))
	require.NoError(t, s.Set(ctx, "awbs", "a2", map[string]any{"shipmentId": "S1", "status": "Queued"}))
	require.NoError(t, s.Set(ctx, "awbs", "a3", map[string]any{"shipmentId": "S2", "status": "Queued"}))

	got, err := s.Query(ctx, "awbs", Eq("shipmentId", "S1"), Eq("status", statusString("Queued")))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID())

	got, err = s.Query(ctx, "awbs", In("_id", "a1", "a3", "zz"))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, "awbs", Eq("n", 0))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreUpdateIf(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "awbs", "a1")

	require.NoError(t, s.UpdateIf(ctx, "awbs", "a1", map[string]any{"status": "New"}, map[string]any{"status": "Queued"}))
	err := s.UpdateIf(ctx, "awbs", "a1", map[string]any{"status": "New"}, map[string]any{"status": "Queued"})
	assert.True(t, errors.Is(err, ErrConflict))

	err = s.UpdateIf(ctx, "awbs", "zz", map[string]any{"status": "New"}, map[string]any{"status": "Queued"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEncodeDecodeStruct(t *testing.T) {
	type doc struct {
		ID    string `bson:"_id"`
		Count int    `bson:"count"`
	}
	r, err := Encode(doc{ID: "x", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "x", r.ID())

	var out doc
	require.NoError(t, Decode(r, &out))
	assert.Equal(t, doc{ID: "x", Count: 3}, out)
}
