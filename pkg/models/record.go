package models

import "time"

// RecordStatus is the settlement state of a queued intent.
type RecordStatus string

const (
	// StatusPending indicates the intent awaits batch settlement.
	StatusPending RecordStatus = "pending"
	// StatusSettled indicates the intent was settled on-chain.
	StatusSettled RecordStatus = "settled"
	// StatusFailed indicates the intent's batch reverted.
	StatusFailed RecordStatus = "failed"
)

// QueueRecord is a settlement-queue entry for a validated deferred intent.
// It is created by the deferred validator and mutated only by the batch
// settler; a record reaches settled or failed exactly once.
type QueueRecord struct {
	ID        string        `json:"id"`
	Scheme    string        `json:"scheme"`
	ChainID   int           `json:"chainId"`
	Vault     string        `json:"vault"`
	Buyer     string        `json:"buyer"`
	Seller    string        `json:"seller"`
	Amount    string        `json:"amount"`
	Token     string        `json:"token"`
	Nonce     string        `json:"nonce"`
	Resource  string        `json:"resource"`
	Intent    PaymentIntent `json:"intent"`
	Signature string        `json:"signature"`
	Status    RecordStatus  `json:"status"`
	TxRef     string        `json:"txRef,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Terminal reports whether the record can no longer change state.
func (r QueueRecord) Terminal() bool {
	return r.Status == StatusSettled || r.Status == StatusFailed
}
