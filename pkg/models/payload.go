package models

import "encoding/json"

// Scheme tags dispatched through the facilitator's validator registry.
const (
	SchemeExact    = "exact"
	SchemeDeferred = "deferred"
)

// PaymentPayload is the envelope a payer submits to the facilitator. The
// scheme tag selects the validator; Data holds the scheme-specific payload.
type PaymentPayload struct {
	Scheme       string              `json:"scheme"`
	Data         json.RawMessage     `json:"data"`
	Requirements PaymentRequirements `json:"requirements"`
}

// ExactPayload carries both signatures of the synchronous path: the
// resource-binding intent signature and the token-level EIP-3009 signature,
// bound by a shared nonce.
type ExactPayload struct {
	Intent           PaymentIntent         `json:"intent"`
	X402Signature    string                `json:"x402Signature"`
	TransferAuth     TransferAuthorization `json:"transferAuth"`
	EIP3009Signature string                `json:"eip3009Signature"`
}

// DeferredPayload carries the single vault-domain intent signature of the
// escrow-deferred path.
type DeferredPayload struct {
	Intent    PaymentIntent `json:"intent"`
	Signature string        `json:"signature"`
}
