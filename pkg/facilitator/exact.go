package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpay-hq/facilitator/pkg/domains"
	"github.com/vaultpay-hq/facilitator/pkg/eip712"
	"github.com/vaultpay-hq/facilitator/pkg/ledger"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/metrics"
	"github.com/vaultpay-hq/facilitator/pkg/models"
	"github.com/vaultpay-hq/facilitator/pkg/nonces"
)

// Token is the settlement-token surface the exact path consumes: domain
// metadata, the pre-submission reads that let a doomed call fail before
// spending gas, and the authorization transfer itself.
type Token interface {
	domains.TokenMetadata
	Address() string
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
	AuthorizationUsed(ctx context.Context, authorizer, nonce string) (bool, error)
	TransferWithAuthorization(ctx context.Context, auth models.TransferAuthorization, signature string) (string, error)
}

// ExactSettler is the synchronous settlement path. It verifies the two
// independent signatures bound by a shared nonce, fails fast on reads,
// then submits the token's authorization transfer and waits for it.
type ExactSettler struct {
	tokens   map[int]Token
	resolver *domains.Resolver
	cache    *nonces.Cache
	book     *ledger.Book
	log      logger.Logger
}

var _ SchemeHandler = (*ExactSettler)(nil)

// NewExactSettler creates the exact-path handler over per-chain tokens.
func NewExactSettler(tokens map[int]Token, resolver *domains.Resolver, cache *nonces.Cache, log logger.Logger) *ExactSettler {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &ExactSettler{
		tokens:   tokens,
		resolver: resolver,
		cache:    cache,
		log:      log,
	}
}

// SetBook attaches an accounting book; every submitted settlement
// outcome is recorded in it.
func (s *ExactSettler) SetBook(book *ledger.Book) {
	s.book = book
}

// Scheme returns the tag this handler is registered under.
func (s *ExactSettler) Scheme() string {
	return models.SchemeExact
}

// Process validates and settles one exact payment. Validation failures
// come back as a failed SettleResponse with a reason; an error return
// means the request itself was malformed.
func (s *ExactSettler) Process(ctx context.Context, payload models.PaymentPayload) (interface{}, error) {
	var data models.ExactPayload
	if err := json.Unmarshal(payload.Data, &data); err != nil {
		return nil, fmt.Errorf("malformed exact payload: %v", err)
	}

	chainLabel := fmt.Sprintf("%d", payload.Requirements.ChainID)
	response := s.settle(ctx, data, payload.Requirements)
	metrics.ExactSettlements.WithLabelValues(chainLabel, response.Status).Inc()
	metrics.PaymentsValidated.WithLabelValues(chainLabel, models.SchemeExact, response.Status).Inc()
	return response, nil
}

func (s *ExactSettler) settle(ctx context.Context, data models.ExactPayload, req models.PaymentRequirements) models.SettleResponse {
	intent := data.Intent
	auth := data.TransferAuth

	fail := func(reason string, format string, args ...interface{}) models.SettleResponse {
		s.log.DebugWithChain(req.ChainID, "Exact payment rejected (%s): "+format,
			append([]interface{}{reason}, args...)...)
		metrics.ValidationErrors.WithLabelValues(fmt.Sprintf("%d", req.ChainID), models.SchemeExact, reason).Inc()
		return models.SettleResponse{
			Scheme: models.SchemeExact,
			Status: "failed",
			Error:  fmt.Sprintf("%s: "+format, append([]interface{}{reason}, args...)...),
		}
	}

	if err := intent.Validate(); err != nil {
		return fail("malformed_intent", "%v", err)
	}
	if err := auth.Validate(); err != nil {
		return fail("malformed_authorization", "%v", err)
	}

	token, ok := s.tokens[intent.ChainID]
	if !ok {
		return fail("unsupported_chain", "chain %d is not configured", intent.ChainID)
	}

	// Binding: the intent must match what the resource server asked for,
	// and the authorization must mirror the intent.
	if reason, detail := checkRequirementBinding(intent, req, token.Address()); reason != "" {
		return fail(reason, "%s", detail)
	}
	if !sameAddress(auth.From, intent.Buyer) {
		return fail("authorization_mismatch", "from %s is not the intent buyer", auth.From)
	}
	if !sameAddress(auth.To, intent.Seller) {
		return fail("authorization_mismatch", "to %s is not the intent seller", auth.To)
	}
	if auth.Value != intent.Amount {
		return fail("authorization_mismatch", "value %s differs from intent amount %s", auth.Value, intent.Amount)
	}
	if !strings.EqualFold(auth.Nonce, intent.Nonce) {
		return fail("nonce_mismatch", "authorization and intent nonces differ")
	}

	now := time.Now().Unix()
	if now > intent.Expiry {
		return fail("expired", "intent expired at %d", intent.Expiry)
	}
	if now <= auth.ValidAfter || now >= auth.ValidBefore {
		return fail("expired", "authorization window [%d, %d] does not cover now", auth.ValidAfter, auth.ValidBefore)
	}

	// Replay fast path. The token's authorization state stays
	// authoritative and is re-checked below.
	if s.cache.Used(intent.ChainID, intent.Buyer, intent.Nonce) {
		metrics.NonceReplaysBlocked.WithLabelValues(fmt.Sprintf("%d", intent.ChainID)).Inc()
		return fail("nonce_used", "nonce already consumed")
	}

	// Resource-binding signature: scopes the payment to this resource and
	// token deployment, so a captured authorization cannot be replayed
	// against anything else.
	recovered, err := eip712.RecoverIntent(intent, domains.Intent(intent.ChainID, token.Address()), data.X402Signature)
	if err != nil {
		return fail("invalid_signature", "intent signature: %v", err)
	}
	if recovered != common.HexToAddress(intent.Buyer) {
		return fail("invalid_signature", "intent signature recovers to %s, not buyer", recovered.Hex())
	}

	// Token-level authorization signature under the token's own domain.
	tokenDomain, err := s.resolver.Token(ctx, intent.ChainID, token.Address(), token)
	if err != nil {
		return fail("domain_unavailable", "%v", err)
	}
	recovered, err = eip712.RecoverAuthorization(auth, tokenDomain, data.EIP3009Signature)
	if err != nil {
		return fail("invalid_signature", "authorization signature: %v", err)
	}
	if recovered != common.HexToAddress(auth.From) {
		return fail("invalid_signature", "authorization signature recovers to %s, not payer", recovered.Hex())
	}

	// Pre-submission reads: reject a doomed transfer before spending gas.
	used, err := token.AuthorizationUsed(ctx, auth.From, auth.Nonce)
	if err != nil {
		return fail("chain_unreachable", "authorization state read: %v", err)
	}
	if used {
		metrics.NonceReplaysBlocked.WithLabelValues(fmt.Sprintf("%d", intent.ChainID)).Inc()
		return fail("nonce_used", "authorization already consumed on-chain")
	}
	balance, err := token.BalanceOf(ctx, auth.From)
	if err != nil {
		return fail("chain_unreachable", "balance read: %v", err)
	}
	value, _ := auth.ValueBig()
	if balance.Cmp(value) < 0 {
		return fail("insufficient_funds", "balance %s below %s", balance.String(), value.String())
	}

	started := time.Now()
	txRef, err := token.TransferWithAuthorization(ctx, auth, data.EIP3009Signature)
	if err != nil {
		s.record(intent, "failed", "", err.Error())
		return fail("settlement_failed", "%v", err)
	}
	metrics.ExactSettlementTime.WithLabelValues(fmt.Sprintf("%d", intent.ChainID)).Observe(time.Since(started).Seconds())

	s.cache.MarkUsed(intent.ChainID, intent.Buyer, intent.Nonce)
	s.record(intent, "settled", txRef, "")
	s.log.InfoWithChain(intent.ChainID, "Settled exact payment of %s to %s: %s", intent.Amount, intent.Seller, txRef)

	return models.SettleResponse{
		Scheme: models.SchemeExact,
		Status: "settled",
		TxRef:  txRef,
	}
}

// record appends a submitted settlement outcome to the accounting book.
func (s *ExactSettler) record(intent models.PaymentIntent, status, txRef, detail string) {
	if s.book == nil {
		return
	}
	err := s.book.Append(ledger.Entry{
		ChainID: intent.ChainID,
		Scheme:  models.SchemeExact,
		Buyer:   intent.Buyer,
		Seller:  intent.Seller,
		Amount:  intent.Amount,
		Token:   intent.Token,
		Nonce:   intent.Nonce,
		Status:  status,
		TxRef:   txRef,
		Detail:  detail,
	})
	if err != nil {
		s.log.ErrorWithChain(intent.ChainID, "Failed to record settlement in accounting book: %v", err)
	}
}

// checkRequirementBinding compares the signed intent against the resource
// server's expectations. An empty reason means the intent is bound.
func checkRequirementBinding(intent models.PaymentIntent, req models.PaymentRequirements, configuredToken string) (string, string) {
	if req.ChainID != 0 && req.ChainID != intent.ChainID {
		return "chain_mismatch", fmt.Sprintf("intent targets chain %d, requirements say %d", intent.ChainID, req.ChainID)
	}
	if !sameAddress(intent.Token, configuredToken) {
		return "token_mismatch", fmt.Sprintf("intent token %s is not the settlement token", intent.Token)
	}
	if req.TokenAddress != "" && !sameAddress(intent.Token, req.TokenAddress) {
		return "token_mismatch", fmt.Sprintf("intent token %s differs from required %s", intent.Token, req.TokenAddress)
	}
	if req.Seller != "" && !sameAddress(intent.Seller, req.Seller) {
		return "seller_mismatch", fmt.Sprintf("intent pays %s, requirements say %s", intent.Seller, req.Seller)
	}
	if req.Amount != "" && req.Amount != intent.Amount {
		return "amount_mismatch", fmt.Sprintf("intent amount %s differs from required %s", intent.Amount, req.Amount)
	}
	if req.Resource != "" && req.Resource != intent.Resource {
		return "resource_mismatch", fmt.Sprintf("intent resource %q differs from required %q", intent.Resource, req.Resource)
	}
	return "", ""
}

func sameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
