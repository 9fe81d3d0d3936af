package facilitator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultpay-hq/facilitator/pkg/circuitbreaker"
	"github.com/vaultpay-hq/facilitator/pkg/ledger"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/metrics"
	"github.com/vaultpay-hq/facilitator/pkg/models"
	"github.com/vaultpay-hq/facilitator/pkg/nonces"
	"github.com/vaultpay-hq/facilitator/pkg/queue"
	"github.com/vaultpay-hq/facilitator/pkg/vault"
)

// Settler drains the settlement queue: collect pending records, group
// them by (vault, chain), submit one batch call per group and reconcile
// the outcome onto every record in the group. Runs are single-flight; a
// run triggered while another holds the lock returns immediately as
// skipped instead of racing it on-chain.
type Settler struct {
	queue    *queue.Queue
	vaults   map[int]vault.Vault
	cache    *nonces.Cache
	breakers map[int]*circuitbreaker.CircuitBreaker
	book     *ledger.Book
	log      logger.Logger
	mu       sync.Mutex
}

// NewSettler creates a batch settler over the configured vaults.
func NewSettler(q *queue.Queue, vaults map[int]vault.Vault, cache *nonces.Cache, breakers map[int]*circuitbreaker.CircuitBreaker, log logger.Logger) *Settler {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Settler{
		queue:    q,
		vaults:   vaults,
		cache:    cache,
		breakers: breakers,
		log:      log,
	}
}

// SetBook attaches an accounting book; every batch outcome is recorded
// in it per record.
func (s *Settler) SetBook(book *ledger.Book) {
	s.book = book
}

// Run executes one settler pass and reports per-group outcomes.
func (s *Settler) Run(ctx context.Context) models.RunReport {
	report := models.RunReport{RunID: uuid.New().String(), Groups: []models.GroupReport{}}

	if !s.mu.TryLock() {
		s.log.Notice("Settler run %s skipped, another run in progress", report.RunID)
		metrics.SettlerRuns.WithLabelValues("skipped").Inc()
		report.Skipped = true
		return report
	}
	defer s.mu.Unlock()

	for chainID, pool := range s.vaults {
		pending := s.queue.GetPendingFor(pool.Address(), chainID)
		if len(pending) == 0 {
			continue
		}
		report.Groups = append(report.Groups, s.settleGroup(ctx, chainID, pool, pending))
	}

	metrics.PendingRecords.Set(float64(s.queue.Stats().Pending))
	metrics.SettlerRuns.WithLabelValues("completed").Inc()
	return report
}

// settleGroup submits one (vault, chain) group. The vault call is
// all-or-nothing, so the outcome applies to every submitted record: all
// settled with the shared transaction reference, or all failed with the
// chain-reported reason.
func (s *Settler) settleGroup(ctx context.Context, chainID int, pool vault.Vault, pending []models.QueueRecord) models.GroupReport {
	chainLabel := fmt.Sprintf("%d", chainID)
	group := models.GroupReport{Vault: pool.Address(), ChainID: chainID}

	breaker := s.breakers[chainID]
	if breaker != nil {
		if breaker.IsOpen() {
			metrics.CircuitBreakerOpen.WithLabelValues(chainLabel).Set(1)
			s.log.NoticeWithChain(chainID, "Circuit open, leaving %d records pending", len(pending))
			group.Skipped = len(pending)
			group.Error = "circuit breaker open"
			return group
		}
		metrics.CircuitBreakerOpen.WithLabelValues(chainLabel).Set(0)
	}

	// Pre-submission reconciliation against the authoritative on-chain
	// used-set. A nonce consumed while we were not looking (an earlier
	// run that crashed after submitting, or an exact-path settlement)
	// means the record is already settled; resubmitting it would revert
	// the whole batch. Duplicates within the group are deferred to the
	// next run rather than poisoning this one.
	var records []models.QueueRecord
	seen := make(map[string]bool)
	for _, record := range pending {
		used, err := pool.NonceUsed(ctx, record.Buyer, record.Nonce)
		if err != nil {
			s.log.ErrorWithChain(chainID, "Nonce recheck failed for %s, leaving pending: %v", record.ID, err)
			group.Skipped++
			continue
		}
		if used {
			s.log.NoticeWithChain(chainID, "Record %s already consumed on-chain, marking settled", record.ID)
			if err := s.queue.MarkSettled(record.ID, "recovered: nonce consumed on-chain"); err != nil {
				s.log.ErrorWithChain(chainID, "Failed to mark %s settled: %v", record.ID, err)
			}
			s.cache.MarkUsed(chainID, record.Buyer, record.Nonce)
			group.Settled++
			continue
		}
		dedupeKey := strings.ToLower(record.Buyer) + ":" + strings.ToLower(record.Nonce)
		if seen[dedupeKey] {
			s.log.NoticeWithChain(chainID, "Record %s duplicates a nonce in this group, deferring", record.ID)
			group.Skipped++
			continue
		}
		seen[dedupeKey] = true
		records = append(records, record)
	}
	if len(records) == 0 {
		return group
	}

	intents := make([]models.PaymentIntent, len(records))
	signatures := make([]string, len(records))
	for i, record := range records {
		intents[i] = record.Intent
		signatures[i] = record.Signature
	}
	group.Submitted = len(records)
	metrics.BatchSize.WithLabelValues(chainLabel).Observe(float64(len(records)))

	started := time.Now()
	txRef, err := pool.BatchWithdraw(ctx, intents, signatures)
	if err != nil {
		if breaker != nil && breaker.RecordFailure() {
			metrics.CircuitBreakerOpen.WithLabelValues(chainLabel).Set(1)
		}
		if !vault.IsRevert(err) {
			// Chain unreachable, submission failed or confirmation timed
			// out. The batch may still have landed, so the records stay
			// pending; the next run reconciles against the on-chain
			// used-set before resubmitting.
			s.log.ErrorWithChain(chainID, "Batch of %d not confirmed, leaving pending: %v", len(records), err)
			metrics.BatchesSubmitted.WithLabelValues(chainLabel, "error").Inc()
			group.Skipped += len(records)
			group.Error = err.Error()
			return group
		}
		// No partial attribution: the revert fails every record in the
		// group for this run, reason propagated verbatim.
		s.log.ErrorWithChain(chainID, "Batch of %d reverted: %v", len(records), err)
		metrics.BatchesSubmitted.WithLabelValues(chainLabel, "failed").Inc()
		for _, record := range records {
			if markErr := s.queue.MarkFailed(record.ID, err.Error()); markErr != nil {
				s.log.ErrorWithChain(chainID, "Failed to mark %s failed: %v", record.ID, markErr)
			}
			s.record(record, "failed", "", err.Error())
		}
		metrics.FailedRecords.WithLabelValues(chainLabel).Add(float64(len(records)))
		group.Failed = len(records)
		group.Error = err.Error()
		return group
	}
	metrics.BatchSettlementTime.WithLabelValues(chainLabel).Observe(time.Since(started).Seconds())
	metrics.BatchesSubmitted.WithLabelValues(chainLabel, "settled").Inc()
	if breaker != nil {
		breaker.RecordSuccess()
	}

	for _, record := range records {
		if err := s.queue.MarkSettled(record.ID, txRef); err != nil {
			s.log.ErrorWithChain(chainID, "Failed to mark %s settled: %v", record.ID, err)
			continue
		}
		s.cache.MarkUsed(chainID, record.Buyer, record.Nonce)
		s.record(record, "settled", txRef, "")
	}
	metrics.SettledRecords.WithLabelValues(chainLabel).Add(float64(len(records)))
	group.Settled += len(records)
	group.TxRef = txRef
	s.log.InfoWithChain(chainID, "Settled batch of %d intents: %s", len(records), txRef)
	return group
}

// record appends a batch outcome for one record to the accounting book.
func (s *Settler) record(r models.QueueRecord, status, txRef, detail string) {
	if s.book == nil {
		return
	}
	err := s.book.Append(ledger.Entry{
		ChainID: r.ChainID,
		Scheme:  r.Scheme,
		Buyer:   r.Buyer,
		Seller:  r.Seller,
		Amount:  r.Amount,
		Token:   r.Token,
		Nonce:   r.Nonce,
		Status:  status,
		TxRef:   txRef,
		Detail:  detail,
	})
	if err != nil {
		s.log.ErrorWithChain(r.ChainID, "Failed to record settlement in accounting book: %v", err)
	}
}

// ResetBreaker manually resets the circuit breaker for one chain.
func (s *Settler) ResetBreaker(chainID int) bool {
	breaker, ok := s.breakers[chainID]
	if !ok {
		return false
	}
	breaker.Reset()
	metrics.CircuitBreakerOpen.WithLabelValues(fmt.Sprintf("%d", chainID)).Set(0)
	return true
}

// Breakers exposes the per-chain circuit breakers for status reporting.
func (s *Settler) Breakers() map[int]*circuitbreaker.CircuitBreaker {
	return s.breakers
}

// CachedNonces returns how many consumed nonces the in-memory cache has
// observed for a chain, for status reporting.
func (s *Settler) CachedNonces(chainID int) int {
	return s.cache.Count(chainID)
}
