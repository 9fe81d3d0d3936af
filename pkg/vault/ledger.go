package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpay-hq/facilitator/pkg/domains"
	"github.com/vaultpay-hq/facilitator/pkg/eip712"
	"github.com/vaultpay-hq/facilitator/pkg/models"
)

type nonceEntry struct {
	buyer common.Address
	nonce common.Hash
}

// SettledEvent mirrors the per-intent settlement event: one per intent in
// a successful batch.
type SettledEvent struct {
	Buyer  string
	Seller string
	Amount *big.Int
	Nonce  string
	TxRef  string
}

// BatchEvent mirrors the aggregate event emitted once per successful batch.
type BatchEvent struct {
	Count int
	Total *big.Int
	TxRef string
}

// Ledger is an in-memory vault with the full on-chain verification
// semantics: ordered per-intent checks, per-buyer aggregation, and an
// all-or-nothing commit. It backs local development and tests where no
// deployed contract is available.
type Ledger struct {
	address string
	token   string
	chainID int

	mu       sync.Mutex
	balances map[common.Address]*big.Int
	used     map[nonceEntry]bool
	settled  []SettledEvent
	batches  []BatchEvent
	txSeq    int

	now func() time.Time
}

var _ Vault = (*Ledger)(nil)

// NewLedger creates an empty ledger bound to one settlement token on one
// chain.
func NewLedger(chainID int, address, token string) *Ledger {
	return &Ledger{
		address:  address,
		token:    token,
		chainID:  chainID,
		balances: make(map[common.Address]*big.Int),
		used:     make(map[nonceEntry]bool),
		now:      time.Now,
	}
}

func (l *Ledger) Address() string { return l.address }
func (l *Ledger) ChainID() int    { return l.chainID }
func (l *Ledger) Token() string   { return l.token }

// Deposit credits a buyer's pool balance. The caller is authenticated by
// the call itself; no signature is involved.
func (l *Ledger) Deposit(buyer string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := common.HexToAddress(buyer)
	balance, ok := l.balances[key]
	if !ok {
		balance = new(big.Int)
		l.balances[key] = balance
	}
	balance.Add(balance, amount)
	return nil
}

// Deposits returns a buyer's current pool balance.
func (l *Ledger) Deposits(_ context.Context, buyer string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[common.HexToAddress(buyer)]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

// NonceUsed reports whether the (buyer, nonce) pair has been consumed.
func (l *Ledger) NonceUsed(_ context.Context, buyer, nonce string) (bool, error) {
	hash, err := models.ParseNonce(nonce)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[nonceEntry{common.HexToAddress(buyer), hash}], nil
}

// BatchWithdraw verifies every intent in order, aggregates the requested
// amount per buyer across the whole batch, and commits only if every
// buyer's aggregate is covered by their deposit. Any failure reverts the
// entire batch with no balance change for any party.
func (l *Ledger) BatchWithdraw(_ context.Context, intents []models.PaymentIntent, signatures []string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(intents) == 0 {
		return "", ErrEmptyBatch
	}
	if len(intents) != len(signatures) {
		return "", fmt.Errorf("%w: %d intents, %d signatures", ErrLengthMismatch, len(intents), len(signatures))
	}

	domain := domains.Vault(l.chainID, l.address)
	now := l.now().Unix()

	// Per-intent verification, in order. Nonces are staged so a duplicate
	// inside the batch fails like a replay.
	staged := make(map[nonceEntry]bool, len(intents))
	entries := make([]nonceEntry, len(intents))
	for i, intent := range intents {
		if common.HexToAddress(intent.Token) != common.HexToAddress(l.token) {
			return "", fmt.Errorf("%w: intent %d has token %s", ErrWrongToken, i, intent.Token)
		}
		if intent.ChainID != l.chainID {
			return "", fmt.Errorf("%w: intent %d targets chain %d", ErrWrongChain, i, intent.ChainID)
		}
		if now > intent.Expiry {
			return "", fmt.Errorf("%w: intent %d expired at %d", ErrExpired, i, intent.Expiry)
		}

		hash, err := intent.NonceHash()
		if err != nil {
			return "", err
		}
		entry := nonceEntry{common.HexToAddress(intent.Buyer), hash}
		if l.used[entry] || staged[entry] {
			return "", fmt.Errorf("%w: intent %d nonce %s", ErrNonceUsed, i, intent.Nonce)
		}
		staged[entry] = true
		entries[i] = entry

		recovered, err := eip712.RecoverIntent(intent, domain, signatures[i])
		if err != nil {
			return "", fmt.Errorf("%w: intent %d: %v", ErrInvalidSignature, i, err)
		}
		if recovered != entry.buyer {
			return "", fmt.Errorf("%w: intent %d recovered %s", ErrInvalidSignature, i, recovered.Hex())
		}
	}

	// Solvency: the whole-batch aggregate per buyer must be covered. One
	// under-funded buyer anywhere reverts everything.
	aggregates := make(map[common.Address]*big.Int)
	total := new(big.Int)
	for i, intent := range intents {
		amount, err := intent.AmountBig()
		if err != nil {
			return "", err
		}
		buyer := entries[i].buyer
		if aggregates[buyer] == nil {
			aggregates[buyer] = new(big.Int)
		}
		aggregates[buyer].Add(aggregates[buyer], amount)
		total.Add(total, amount)
	}
	for buyer, aggregate := range aggregates {
		balance := l.balances[buyer]
		if balance == nil || balance.Cmp(aggregate) < 0 {
			return "", fmt.Errorf("%w: buyer %s needs %s", ErrInsufficientBalance, buyer.Hex(), aggregate.String())
		}
	}

	// Commit.
	l.txSeq++
	txRef := fmt.Sprintf("ledger-tx-%08d", l.txSeq)

	for buyer, aggregate := range aggregates {
		l.balances[buyer].Sub(l.balances[buyer], aggregate)
	}
	for i, intent := range intents {
		amount, _ := intent.AmountBig()
		seller := common.HexToAddress(intent.Seller)
		if l.balances[seller] == nil {
			l.balances[seller] = new(big.Int)
		}
		l.balances[seller].Add(l.balances[seller], amount)
		l.used[entries[i]] = true
		l.settled = append(l.settled, SettledEvent{
			Buyer:  intent.Buyer,
			Seller: intent.Seller,
			Amount: amount,
			Nonce:  intent.Nonce,
			TxRef:  txRef,
		})
	}
	l.batches = append(l.batches, BatchEvent{Count: len(intents), Total: total, TxRef: txRef})
	return txRef, nil
}

// SettledEvents returns every per-intent settlement event in commit order.
func (l *Ledger) SettledEvents() []SettledEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SettledEvent(nil), l.settled...)
}

// BatchEvents returns every aggregate batch event in commit order.
func (l *Ledger) BatchEvents() []BatchEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]BatchEvent(nil), l.batches...)
}
