package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultpay-hq/facilitator/pkg/models"
)

const (
	testVault    = "0x2222222222222222222222222222222222222222"
	otherVault   = "0x9999999999999999999999999999999999999999"
	testChainID  = 8453
	otherChainID = 84532
)

func testRecord(vault string, chainID int) models.QueueRecord {
	return models.QueueRecord{
		Scheme:  models.SchemeDeferred,
		ChainID: chainID,
		Vault:   vault,
		Buyer:   "0x4444444444444444444444444444444444444444",
		Seller:  "0x3333333333333333333333333333333333333333",
		Amount:  "1000000",
		Token:   "0x5555555555555555555555555555555555555555",
		Nonce:   "0x0101010101010101010101010101010101010101010101010101010101010101",
	}
}

func TestAddAssignsOrderableIDs(t *testing.T) {
	q := New()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, q.Add(testRecord(testVault, testChainID)))
	}

	seen := map[string]bool{}
	for i, id := range ids {
		assert.False(t, seen[id], "ids must be unique")
		seen[id] = true
		if i > 0 {
			assert.Greater(t, id, ids[i-1], "ids must be orderable by creation")
		}
	}

	record, ok := q.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, record.Status)
	assert.False(t, record.CreatedAt.IsZero())
}

func TestGetPendingExcludesTerminalRecords(t *testing.T) {
	q := New()
	settled := q.Add(testRecord(testVault, testChainID))
	failed := q.Add(testRecord(testVault, testChainID))
	pending := q.Add(testRecord(testVault, testChainID))

	require.NoError(t, q.MarkSettled(settled, "0xabc"))
	require.NoError(t, q.MarkFailed(failed, "insufficient balance"))

	got := q.GetPending()
	require.Len(t, got, 1)
	assert.Equal(t, pending, got[0].ID)
}

func TestGetPendingForFiltersByVaultAndChain(t *testing.T) {
	q := New()
	q.Add(testRecord(testVault, testChainID))
	q.Add(testRecord(otherVault, testChainID))
	q.Add(testRecord(testVault, otherChainID))

	got := q.GetPendingFor(testVault, testChainID)
	require.Len(t, got, 1)
	assert.Equal(t, testChainID, got[0].ChainID)
	assert.Equal(t, testVault, got[0].Vault)

	// vault addresses compare case-insensitively
	got = q.GetPendingFor("0x2222222222222222222222222222222222222222", testChainID)
	assert.Len(t, got, 1)
}

func TestTerminalMarksAreIdempotent(t *testing.T) {
	q := New()
	id := q.Add(testRecord(testVault, testChainID))

	require.NoError(t, q.MarkSettled(id, "0xabc"))

	// repeated and conflicting marks do not change the first outcome
	require.NoError(t, q.MarkSettled(id, "0xdef"))
	require.NoError(t, q.MarkFailed(id, "late revert"))

	record, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusSettled, record.Status)
	assert.Equal(t, "0xabc", record.TxRef)
	assert.Empty(t, record.Error)
}

func TestMarkUnknownRecordFails(t *testing.T) {
	q := New()
	assert.Error(t, q.MarkSettled("rec-00000042", "0xabc"))
	assert.Error(t, q.MarkFailed("rec-00000042", "nope"))
}

func TestStats(t *testing.T) {
	q := New()
	settled := q.Add(testRecord(testVault, testChainID))
	failed := q.Add(testRecord(testVault, testChainID))
	q.Add(testRecord(testVault, testChainID))

	require.NoError(t, q.MarkSettled(settled, "0xabc"))
	require.NoError(t, q.MarkFailed(failed, "reverted"))

	stats := q.Stats()
	assert.Equal(t, models.QueueStats{Total: 3, Pending: 1, Settled: 1, Failed: 1}, stats)
}

func TestCleanupRemovesOnlyOldTerminalRecords(t *testing.T) {
	q := New()
	settled := q.Add(testRecord(testVault, testChainID))
	pending := q.Add(testRecord(testVault, testChainID))
	require.NoError(t, q.MarkSettled(settled, "0xabc"))

	// nothing is old enough yet
	assert.Equal(t, 0, q.Cleanup(time.Hour))

	// pending records survive any retention window
	removed := q.Cleanup(0)
	assert.Equal(t, 1, removed)

	_, ok := q.Get(settled)
	assert.False(t, ok)
	got := q.GetPending()
	require.Len(t, got, 1)
	assert.Equal(t, pending, got[0].ID)
}

func TestIndependentInstances(t *testing.T) {
	a := New()
	b := New()

	id := a.Add(testRecord(testVault, testChainID))
	_, ok := b.Get(id)
	assert.False(t, ok, "queues must not share state")
	assert.Equal(t, 0, b.Stats().Total)
}

func TestCleanupZeroAgeKeepsRecentPendingOrdering(t *testing.T) {
	q := New()
	for i := 0; i < 3; i++ {
		q.Add(testRecord(testVault, testChainID))
	}
	q.Cleanup(0)

	got := q.GetPending()
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].ID < got[i].ID, fmt.Sprintf("order broken at %d", i))
	}
}
