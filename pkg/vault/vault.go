// Package vault models the pooled settlement vault: buyer deposits, a
// permanent (buyer, nonce) used-set, and an all-or-nothing batch
// withdrawal. Two implementations exist, an in-memory ledger with the
// full verification semantics and a binding-backed one for deployed
// contracts.
package vault

import (
	"context"
	"errors"
	"math/big"

	"github.com/vaultpay-hq/facilitator/pkg/models"
)

// Batch failure reasons. Each one reverts the whole call; no partial
// settlement exists.
var (
	ErrEmptyBatch          = errors.New("empty batch")
	ErrLengthMismatch      = errors.New("intents and signatures length mismatch")
	ErrWrongToken          = errors.New("wrong settlement token")
	ErrWrongChain          = errors.New("wrong chain id")
	ErrExpired             = errors.New("intent expired")
	ErrNonceUsed           = errors.New("nonce already used")
	ErrInvalidSignature    = errors.New("signature does not recover to buyer")
	ErrInsufficientBalance = errors.New("insufficient deposit balance")

	// ErrReverted marks a batch the chain executed and rejected. Every
	// other BatchWithdraw error is an infrastructure failure and the
	// batch may still succeed on a later attempt.
	ErrReverted = errors.New("batch reverted")
)

var revertReasons = []error{
	ErrEmptyBatch,
	ErrLengthMismatch,
	ErrWrongToken,
	ErrWrongChain,
	ErrExpired,
	ErrNonceUsed,
	ErrInvalidSignature,
	ErrInsufficientBalance,
	ErrReverted,
}

// IsRevert reports whether a BatchWithdraw error is a definitive
// rejection of the batch rather than an infrastructure failure. Only a
// revert may terminally fail queued records; anything else leaves them
// pending for the next run.
func IsRevert(err error) bool {
	for _, reason := range revertReasons {
		if errors.Is(err, reason) {
			return true
		}
	}
	return false
}

// Vault is the settlement surface the facilitator consumes. Deposits and
// NonceUsed are reads; BatchWithdraw settles every intent or none and
// returns a transaction reference shared by the whole batch.
type Vault interface {
	Address() string
	ChainID() int
	Token() string
	Deposits(ctx context.Context, buyer string) (*big.Int, error)
	NonceUsed(ctx context.Context, buyer, nonce string) (bool, error)
	BatchWithdraw(ctx context.Context, intents []models.PaymentIntent, signatures []string) (string, error)
}
