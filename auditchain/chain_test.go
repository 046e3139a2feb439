package auditchain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/heirloomvault/custody-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, log), store
}

func testActor(tenant string) interfaces.Identity {
	return interfaces.Identity{UserID: "user-1", TenantID: tenant}
}

func TestAppendLinksEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	actor := testActor("tenant-a")

	first, err := svc.Append(ctx, actor, "PLAN_CREATED", "plan", "plan-1", map[string]string{"name": "estate"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Empty(t, first.PreviousHash, "the first entry has no predecessor")
	assert.Len(t, first.CurrentHash, hex.EncodedLen(sha256.Size))

	second, err := svc.Append(ctx, actor, "PLAN_TRIGGERED", "plan", "plan-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, first.CurrentHash, second.PreviousHash, "each entry must link to its predecessor")
	assert.NotEqual(t, first.CurrentHash, second.CurrentHash)
}

func TestAppendValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, interfaces.Identity{UserID: "u"}, "ACTION", "plan", "p", nil)
	assert.True(t, interfaces.IsValidation(err), "missing tenant must be rejected")

	_, err = svc.Append(ctx, testActor("t"), "", "plan", "p", nil)
	assert.True(t, interfaces.IsValidation(err), "missing action must be rejected")
}

func TestVerifyChainIntact(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	actor := testActor("tenant-a")

	for i := 0; i < 100; i++ {
		_, err := svc.Append(ctx, actor, "ITEM_UPLOADED", "item", fmt.Sprintf("item-%d", i), nil)
		require.NoError(t, err)
	}

	n, err := svc.VerifyChain(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestVerifyChainEmptyTenant(t *testing.T) {
	svc, _ := newTestService(t)

	n, err := svc.VerifyChain(context.Background(), "nobody")
	require.NoError(t, err, "an empty chain is trivially valid")
	assert.Equal(t, int64(0), n)
}

func TestVerifyChainDetectsFieldMutation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	actor := testActor("tenant-a")

	for i := 0; i < 10; i++ {
		_, err := svc.Append(ctx, actor, "ITEM_UPLOADED", "item", fmt.Sprintf("item-%d", i), nil)
		require.NoError(t, err)
	}

	// Rewrite a single payload field of entry 4 behind the service's back.
	require.True(t, store.MutateEntry("tenant-a", 4, func(e *interfaces.AuditEntry) {
		e.Action = "ITEM_DELETED"
	}))

	n, err := svc.VerifyChain(ctx, "tenant-a")
	var corruption *interfaces.CorruptionError
	require.ErrorAs(t, err, &corruption)
	assert.Equal(t, int64(4), corruption.Seq, "the first corrupt entry must be reported")
	assert.Equal(t, "tenant-a", corruption.TenantID)
	assert.Equal(t, int64(3), n, "entries before the corruption verify clean")
}

func TestVerifyChainDetectsRelinkedHashes(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	actor := testActor("tenant-a")

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, actor, "ITEM_UPLOADED", "item", fmt.Sprintf("item-%d", i), nil)
		require.NoError(t, err)
	}

	// Mutate entry 3 and recompute its own hash. The forgery is internally
	// consistent but entry 4 still links to the old hash.
	require.True(t, store.MutateEntry("tenant-a", 3, func(e *interfaces.AuditEntry) {
		e.ResourceID = "item-forged"
		h, err := entryHash(*e)
		require.NoError(t, err)
		e.CurrentHash = h
	}))

	_, err := svc.VerifyChain(ctx, "tenant-a")
	var corruption *interfaces.CorruptionError
	require.ErrorAs(t, err, &corruption)
	assert.Equal(t, int64(4), corruption.Seq, "the successor exposes the re-hashed forgery")
}

func TestConcurrentAppendsStayLinear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	actor := testActor("tenant-a")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Append(ctx, actor, "ITEM_UPLOADED", "item", fmt.Sprintf("item-%d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	verified, err := svc.VerifyChain(ctx, "tenant-a")
	require.NoError(t, err, "concurrent appends must still form one linear chain")
	assert.Equal(t, int64(n), verified)
}

func TestTenantChainsAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, testActor("tenant-a"), "PLAN_CREATED", "plan", "p1", nil)
	require.NoError(t, err)
	b1, err := svc.Append(ctx, testActor("tenant-b"), "PLAN_CREATED", "plan", "p2", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), b1.Seq, "each tenant starts its own chain at 1")
	assert.Empty(t, b1.PreviousHash)
}

func TestQueryFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	actor := testActor("tenant-a")

	_, err := svc.Append(ctx, actor, "PLAN_CREATED", "plan", "p1", nil)
	require.NoError(t, err)
	_, err = svc.Append(ctx, actor, "PLAN_TRIGGERED", "plan", "p1", nil)
	require.NoError(t, err)
	_, err = svc.Append(ctx, actor, "ITEM_UPLOADED", "item", "i1", nil)
	require.NoError(t, err)

	byAction, err := svc.Query(ctx, interfaces.AuditFilter{TenantID: "tenant-a", Action: "PLAN_TRIGGERED"})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "p1", byAction[0].ResourceID)

	byType, err := svc.Query(ctx, interfaces.AuditFilter{TenantID: "tenant-a", ResourceType: "plan"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	_, err = svc.Query(ctx, interfaces.AuditFilter{})
	assert.True(t, interfaces.IsValidation(err), "tenant is required")
}

func TestExportCSV(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	actor := testActor("tenant-a")

	_, err := svc.Append(ctx, actor, "PLAN_CREATED", "plan", "p1", map[string]string{"name": "estate"})
	require.NoError(t, err)
	_, err = svc.Append(ctx, actor, "PLAN_CANCELLED", "plan", "p1", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = svc.ExportCSV(ctx, &buf, interfaces.AuditFilter{TenantID: "tenant-a"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "header plus two entries")
	assert.Contains(t, lines[0], "previousHash")
	assert.Contains(t, lines[1], "PLAN_CREATED")
	assert.Contains(t, lines[1], `"{""name"":""estate""}"`)
	assert.Contains(t, lines[2], "PLAN_CANCELLED")
}

func TestCanonicalHashIsStable(t *testing.T) {
	entry := interfaces.AuditEntry{
		TenantID:     "t",
		UserID:       "u",
		Action:       "A",
		ResourceType: "plan",
		ResourceID:   "p",
		Details:      map[string]string{"b": "2", "a": "1"},
		Timestamp:    "2026-01-02T03:04:05Z",
		PreviousHash: "prev",
	}

	h1, err := entryHash(entry)
	require.NoError(t, err)
	h2, err := entryHash(entry)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "hashing must be deterministic regardless of map order")

	entry.Details["a"] = "changed"
	h3, err := entryHash(entry)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
