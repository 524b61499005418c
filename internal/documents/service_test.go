package documents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/storage"
	"ExpeditionFlow/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) (*StaticService, *records.Repository, *storage.MemoryStore) {
	t.Helper()
	repo := records.NewRepository(store.NewMemoryStore(), nil, zap.NewNop())
	objects := storage.NewMemoryStore("bucket")
	svc := NewStaticService(repo, objects, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC) }
	return svc, repo, objects
}

func addRecipients(t *testing.T, repo *records.Repository, ids ...string) {
	t.Helper()
	for _, id := range ids {
		rec, err := store.Encode(records.Recipient{ID: id, ShipmentID: "S1", Documents: map[records.DocumentType]records.DocumentState{}})
		require.NoError(t, err)
		require.NoError(t, repo.Store().Set(context.Background(), records.RecipientsCollection, id, rec))
	}
}

func TestUploadStatic(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	doc, err := svc.UploadStatic(ctx, Upload{
		Kind:        records.StaticInventory,
		FileName:    "C:\\docs\\inventar.pdf",
		ContentType: "application/pdf",
		Body:        strings.NewReader("pdf"),
	})
	require.NoError(t, err)
	assert.Equal(t, "static/inventory/inventar.pdf", doc.Path)
	assert.Equal(t, "inventar.pdf", doc.Name)
	assert.Equal(t, "https://storage.local/bucket/static/inventory/inventar.pdf", doc.URL)

	stored, err := repo.StaticDocument(ctx, records.StaticInventory)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, doc.URL, stored.URL)
}

func TestUploadStaticRejectsUnknownKind(t *testing.T) {
	svc, repo, _ := newService(t)

	_, err := svc.UploadStatic(context.Background(), Upload{Kind: "invoice", FileName: "a.pdf", Body: strings.NewReader("x")})
	var kerr *InvalidKindError
	require.True(t, errors.As(err, &kerr))

	doc, err := repo.StaticDocument(context.Background(), "invoice")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSyncStaticIsIdempotent(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	addRecipients(t, repo, "R1", "R2", "R3")

	for _, kind := range []records.StaticKind{records.StaticInventory, records.StaticInstructions} {
		_, err := svc.UploadStatic(ctx, Upload{Kind: kind, FileName: string(kind) + ".pdf", Body: strings.NewReader("x")})
		require.NoError(t, err)
	}

	first, err := svc.SyncStatic(ctx)
	require.NoError(t, err)
	afterFirst, err := repo.AllRecipients(ctx)
	require.NoError(t, err)

	second, err := svc.SyncStatic(ctx)
	require.NoError(t, err)
	afterSecond, err := repo.AllRecipients(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, first.Recipients)
	assert.Equal(t, first, second)
	assert.Equal(t, afterFirst, afterSecond)

	r1, err := repo.Recipient(ctx, "R1")
	require.NoError(t, err)
	inv, ok := r1.Document(records.DocInventory)
	require.True(t, ok)
	assert.Equal(t, records.DocumentGenerated, inv.Status)
	assert.Equal(t, "https://storage.local/bucket/static/inventory/inventory.pdf", inv.URL)
	assert.Equal(t, "inventory.pdf", inv.Name)
	instr, ok := r1.Document(records.DocInstructions)
	require.True(t, ok)
	assert.Equal(t, "instructions.pdf", instr.Name)
}

func TestSyncStaticWithoutUploads(t *testing.T) {
	svc, repo, _ := newService(t)
	addRecipients(t, repo, "R1")

	res, err := svc.SyncStatic(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Recipients)
	assert.Empty(t, res.Kinds)
}
