// Package queue is the in-process settlement queue: an ordered, mutable
// record store for validated intents awaiting batch settlement. Instances
// are independent; the process-wide queue is wired at the entry point only,
// so tests can construct isolated copies.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpay-hq/facilitator/pkg/models"
)

// Queue is a session-lifetime record store keyed by id. Records are created
// pending, transition to settled or failed exactly once, and are removed
// only by Cleanup once terminal.
type Queue struct {
	mu      sync.Mutex
	seq     int
	records map[string]*models.QueueRecord
	order   []string
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		records: make(map[string]*models.QueueRecord),
	}
}

// Add inserts a record, assigns a unique orderable id and timestamps, and
// forces the status to pending. It returns the assigned id.
func (q *Queue) Add(record models.QueueRecord) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	id := fmt.Sprintf("rec-%08d", q.seq)

	now := time.Now()
	record.ID = id
	record.Status = models.StatusPending
	record.CreatedAt = now
	record.UpdatedAt = now

	q.records[id] = &record
	q.order = append(q.order, id)
	return id
}

// Get returns a copy of the record with the given id.
func (q *Queue) Get(id string) (models.QueueRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, ok := q.records[id]
	if !ok {
		return models.QueueRecord{}, false
	}
	return *record, true
}

// GetPending returns all pending records in insertion order. Terminal
// records are never included.
func (q *Queue) GetPending() []models.QueueRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := []models.QueueRecord{}
	for _, id := range q.order {
		if record, ok := q.records[id]; ok && record.Status == models.StatusPending {
			pending = append(pending, *record)
		}
	}
	return pending
}

// GetPendingFor returns pending records for one (vault, chain) group in
// insertion order. Vault addresses are compared case-insensitively.
func (q *Queue) GetPendingFor(vault string, chainID int) []models.QueueRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	want := common.HexToAddress(vault)
	pending := []models.QueueRecord{}
	for _, id := range q.order {
		record, ok := q.records[id]
		if !ok || record.Status != models.StatusPending {
			continue
		}
		if record.ChainID == chainID && common.HexToAddress(record.Vault) == want {
			pending = append(pending, *record)
		}
	}
	return pending
}

// MarkSettled transitions a pending record to settled with the settlement
// transaction reference. Marking an already terminal record is a no-op.
func (q *Queue) MarkSettled(id, txRef string) error {
	return q.markTerminal(id, models.StatusSettled, txRef, "")
}

// MarkFailed transitions a pending record to failed with the chain-reported
// reason. Marking an already terminal record is a no-op.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.markTerminal(id, models.StatusFailed, "", reason)
}

func (q *Queue) markTerminal(id string, status models.RecordStatus, txRef, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, ok := q.records[id]
	if !ok {
		return fmt.Errorf("unknown record id: %s", id)
	}
	if record.Terminal() {
		return nil
	}

	record.Status = status
	record.TxRef = txRef
	record.Error = reason
	record.UpdatedAt = time.Now()
	return nil
}

// Stats returns record counts per status.
func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := models.QueueStats{Total: len(q.records)}
	for _, record := range q.records {
		switch record.Status {
		case models.StatusPending:
			stats.Pending++
		case models.StatusSettled:
			stats.Settled++
		case models.StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Cleanup removes terminal records whose last update is older than maxAge
// and returns the number removed. Pending records are never removed,
// regardless of age.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	remaining := q.order[:0]
	for _, id := range q.order {
		record, ok := q.records[id]
		if !ok {
			continue
		}
		if record.Terminal() && record.UpdatedAt.Before(cutoff) {
			delete(q.records, id)
			removed++
			continue
		}
		remaining = append(remaining, id)
	}
	q.order = remaining
	return removed
}
