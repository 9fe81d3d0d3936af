// Package domains resolves EIP-712 signing domains. Protocol-owned domains
// (vault, resource-binding intent) are fixed by convention; token domains
// are self-reported by each deployment and must be queried live, cached,
// and backed by a table of previously observed values.
package domains

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpay-hq/facilitator/pkg/eip712"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/metrics"
)

const (
	vaultName    = "SettlementVault"
	vaultVersion = "1"

	intentName    = "X402ExactPayment"
	intentVersion = "1"
)

// Vault returns the signing domain for deferred-path intents. It is fixed
// by protocol convention and bound to the vault deployment.
func Vault(chainID int, vaultAddress string) eip712.Domain {
	return eip712.Domain{
		Name:              vaultName,
		Version:           vaultVersion,
		ChainID:           big.NewInt(int64(chainID)),
		VerifyingContract: vaultAddress,
	}
}

// Intent returns the resource-binding domain for exact-path intents. The
// verifying contract is the settlement token, which scopes a captured
// intent to one token deployment.
func Intent(chainID int, tokenAddress string) eip712.Domain {
	return eip712.Domain{
		Name:              intentName,
		Version:           intentVersion,
		ChainID:           big.NewInt(int64(chainID)),
		VerifyingContract: tokenAddress,
	}
}

// TokenMetadata is the live query surface a token exposes for its own
// signing domain.
type TokenMetadata interface {
	Name(opts *bind.CallOpts) (string, error)
	Version(opts *bind.CallOpts) (string, error)
}

type tokenDomainKey struct {
	chainID int
	address common.Address
}

type knownDomain struct {
	name    string
	version string
}

// knownTokenDomains holds previously observed (name, version) pairs for
// tokens whose deployments disagree across chains. Used only when the
// live query fails.
var knownTokenDomains = map[tokenDomainKey]knownDomain{
	{1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")}:        {"USD Coin", "2"},
	{137, common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")}:      {"USD Coin", "2"},
	{42161, common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")}:    {"USD Coin", "2"},
	{43114, common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E")}:    {"USD Coin", "2"},
	{8453, common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")}:     {"USD Coin", "2"},
	{84532, common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")}:    {"USDC", "2"},
	{11155111, common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")}: {"USDC", "2"},
}

// Resolver memoizes token signing domains by (chainId, address). A domain
// is immutable per deployed contract, so entries live for the process
// lifetime and staleness is not a concern.
type Resolver struct {
	mu    sync.Mutex
	cache map[tokenDomainKey]eip712.Domain
	log   logger.Logger
}

// NewResolver creates a resolver with an empty cache.
func NewResolver(log logger.Logger) *Resolver {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Resolver{
		cache: make(map[tokenDomainKey]eip712.Domain),
		log:   log,
	}
}

// Token resolves the signing domain of a token deployment. It queries the
// token's self-reported name and version, falls back to the table of known
// deployments when the query fails, and errors only when both fail. A
// wrong domain never raises at sign time, it recovers to the wrong
// address, so a cached or previously observed value beats a fresh failure.
func (r *Resolver) Token(ctx context.Context, chainID int, tokenAddress string, meta TokenMetadata) (eip712.Domain, error) {
	key := tokenDomainKey{chainID, common.HexToAddress(tokenAddress)}

	chainLabel := fmt.Sprintf("%d", chainID)

	r.mu.Lock()
	if domain, ok := r.cache[key]; ok {
		r.mu.Unlock()
		metrics.DomainLookups.WithLabelValues(chainLabel, "cache").Inc()
		return domain, nil
	}
	r.mu.Unlock()

	source := "live"
	name, version, err := queryToken(ctx, meta)
	if err != nil {
		known, ok := knownTokenDomains[key]
		if !ok {
			return eip712.Domain{}, fmt.Errorf("failed to resolve token domain for %s on chain %d: %v",
				tokenAddress, chainID, err)
		}
		r.log.DebugWithChain(chainID, "Token domain query failed for %s, using known values: %v",
			tokenAddress, err)
		name, version = known.name, known.version
		source = "known"
	}
	metrics.DomainLookups.WithLabelValues(chainLabel, source).Inc()

	domain := eip712.Domain{
		Name:              name,
		Version:           version,
		ChainID:           big.NewInt(int64(chainID)),
		VerifyingContract: strings.ToLower(tokenAddress),
	}

	r.mu.Lock()
	r.cache[key] = domain
	r.mu.Unlock()

	r.log.DebugWithChain(chainID, "Resolved token domain %s v%s for %s", name, version, tokenAddress)
	return domain, nil
}

func queryToken(ctx context.Context, meta TokenMetadata) (string, string, error) {
	if meta == nil {
		return "", "", fmt.Errorf("no token metadata source")
	}
	opts := &bind.CallOpts{Context: ctx}

	name, err := meta.Name(opts)
	if err != nil {
		return "", "", fmt.Errorf("name() call failed: %v", err)
	}

	// Some deployments omit version(); the observed convention for
	// EIP-3009 tokens is "2".
	version, err := meta.Version(opts)
	if err != nil || version == "" {
		version = "2"
	}
	return name, version, nil
}
