package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpay-hq/facilitator/pkg/domains"
	"github.com/vaultpay-hq/facilitator/pkg/eip712"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/metrics"
	"github.com/vaultpay-hq/facilitator/pkg/models"
	"github.com/vaultpay-hq/facilitator/pkg/nonces"
	"github.com/vaultpay-hq/facilitator/pkg/queue"
	"github.com/vaultpay-hq/facilitator/pkg/vault"
)

// DeferredValidator is the escrow-deferred admission path. A payment that
// passes lands in the settlement queue with status pending and the caller
// may release content immediately; value moves later in a batch. It only
// inspects vault state, never the token contract.
type DeferredValidator struct {
	queue  *queue.Queue
	vaults map[int]vault.Vault
	cache  *nonces.Cache
	log    logger.Logger
}

var _ SchemeHandler = (*DeferredValidator)(nil)

// NewDeferredValidator creates the deferred-path handler over per-chain
// vaults.
func NewDeferredValidator(q *queue.Queue, vaults map[int]vault.Vault, cache *nonces.Cache, log logger.Logger) *DeferredValidator {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &DeferredValidator{
		queue:  q,
		vaults: vaults,
		cache:  cache,
		log:    log,
	}
}

// Scheme returns the tag this handler is registered under.
func (v *DeferredValidator) Scheme() string {
	return models.SchemeDeferred
}

// Process validates one deferred intent and enqueues it on success.
// Rejections carry a specific reason and leave no state behind.
func (v *DeferredValidator) Process(ctx context.Context, payload models.PaymentPayload) (interface{}, error) {
	var data models.DeferredPayload
	if err := json.Unmarshal(payload.Data, &data); err != nil {
		return nil, fmt.Errorf("malformed deferred payload: %v", err)
	}

	chainLabel := fmt.Sprintf("%d", payload.Requirements.ChainID)
	response := v.validate(ctx, data, payload.Requirements)
	metrics.PaymentsValidated.WithLabelValues(chainLabel, models.SchemeDeferred, response.Status).Inc()
	return response, nil
}

func (v *DeferredValidator) validate(ctx context.Context, data models.DeferredPayload, req models.PaymentRequirements) models.ValidateResponse {
	intent := data.Intent

	fail := func(reason string, format string, args ...interface{}) models.ValidateResponse {
		v.log.DebugWithChain(req.ChainID, "Deferred intent rejected (%s): "+format,
			append([]interface{}{reason}, args...)...)
		metrics.ValidationErrors.WithLabelValues(fmt.Sprintf("%d", req.ChainID), models.SchemeDeferred, reason).Inc()
		return models.ValidateResponse{
			Status: "failed",
			Error:  fmt.Sprintf("%s: "+format, append([]interface{}{reason}, args...)...),
		}
	}

	if err := intent.Validate(); err != nil {
		return fail("malformed_intent", "%v", err)
	}

	pool, ok := v.vaults[intent.ChainID]
	if !ok {
		return fail("unsupported_chain", "chain %d is not configured", intent.ChainID)
	}

	// Ordered checks: expiry, token, vault presence, nonce, signature,
	// then the deposit read.
	if time.Now().Unix() > intent.Expiry {
		return fail("expired", "intent expired at %d", intent.Expiry)
	}
	if !sameAddress(intent.Token, pool.Token()) {
		return fail("token_mismatch", "intent token %s is not the vault settlement token", intent.Token)
	}
	if req.Vault != "" && !sameAddress(req.Vault, pool.Address()) {
		return fail("vault_mismatch", "requirements name vault %s, configured is %s", req.Vault, pool.Address())
	}
	if reason, detail := checkRequirementBinding(intent, req, pool.Token()); reason != "" {
		return fail(reason, "%s", detail)
	}

	if reason, detail := v.checkNonceUnused(ctx, pool, intent); reason != "" {
		metrics.NonceReplaysBlocked.WithLabelValues(fmt.Sprintf("%d", intent.ChainID)).Inc()
		return fail(reason, "%s", detail)
	}

	recovered, err := eip712.RecoverIntent(intent, domains.Vault(intent.ChainID, pool.Address()), data.Signature)
	if err != nil {
		return fail("invalid_signature", "%v", err)
	}
	if recovered != common.HexToAddress(intent.Buyer) {
		return fail("invalid_signature", "signature recovers to %s, not buyer", recovered.Hex())
	}

	// Solvency read against the pool. A balance covering this intent does
	// not reserve funds; the batch itself re-verifies on-chain.
	deposit, err := pool.Deposits(ctx, intent.Buyer)
	if err != nil {
		return fail("chain_unreachable", "deposit read: %v", err)
	}
	amount, _ := intent.AmountBig()
	if deposit.Cmp(amount) < 0 {
		return fail("insufficient_deposit", "deposit %s below %s", deposit.String(), amount.String())
	}

	id := v.queue.Add(models.QueueRecord{
		Scheme:    models.SchemeDeferred,
		ChainID:   intent.ChainID,
		Vault:     pool.Address(),
		Buyer:     intent.Buyer,
		Seller:    intent.Seller,
		Amount:    intent.Amount,
		Token:     intent.Token,
		Nonce:     intent.Nonce,
		Resource:  intent.Resource,
		Intent:    intent,
		Signature: data.Signature,
	})
	metrics.PendingRecords.Set(float64(v.queue.Stats().Pending))
	v.log.InfoWithChain(intent.ChainID, "Enqueued deferred intent %s for %s to %s", id, intent.Amount, intent.Seller)

	return models.ValidateResponse{
		Status:      "pending",
		IntentNonce: intent.Nonce,
	}
}

// checkNonceUnused rejects a nonce that was already consumed on-chain,
// observed consumed by this process, or is sitting in the queue as a
// pending record. The last case keeps an intra-batch duplicate from
// poisoning a whole group.
func (v *DeferredValidator) checkNonceUnused(ctx context.Context, pool vault.Vault, intent models.PaymentIntent) (string, string) {
	if v.cache.Used(intent.ChainID, intent.Buyer, intent.Nonce) {
		return "nonce_used", "nonce already consumed"
	}

	used, err := pool.NonceUsed(ctx, intent.Buyer, intent.Nonce)
	if err != nil {
		return "chain_unreachable", fmt.Sprintf("nonce state read: %v", err)
	}
	if used {
		return "nonce_used", "nonce already consumed on-chain"
	}

	buyer := common.HexToAddress(intent.Buyer)
	for _, record := range v.queue.GetPendingFor(pool.Address(), intent.ChainID) {
		if common.HexToAddress(record.Buyer) == buyer && strings.EqualFold(record.Nonce, intent.Nonce) {
			return "nonce_pending", fmt.Sprintf("nonce already pending as record %s", record.ID)
		}
	}
	return "", ""
}
