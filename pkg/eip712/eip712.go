// Package eip712 is the intent and authorization codec. It deterministically
// encodes both payment structures as EIP-712 typed data, signs digests with a
// payer key and recovers signer addresses from signatures. The type tables
// below must stay byte-identical with every other signer and verifier of the
// protocol, on-chain verifiers included: a divergence does not error, it
// silently recovers a different address.
package eip712

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/vaultpay-hq/facilitator/pkg/models"
)

// Domain holds the EIP-712 signing-domain parameters scoping a signature to
// one deployment of one verifying contract on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

const (
	intentPrimaryType        = "PaymentIntent"
	authorizationPrimaryType = "TransferWithAuthorization"
)

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var intentType = []apitypes.Type{
	{Name: "seller", Type: "address"},
	{Name: "buyer", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "token", Type: "address"},
	{Name: "nonce", Type: "bytes32"},
	{Name: "expiry", Type: "uint256"},
	{Name: "resource", Type: "string"},
	{Name: "chainId", Type: "uint256"},
}

var authorizationType = []apitypes.Type{
	{Name: "from", Type: "address"},
	{Name: "to", Type: "address"},
	{Name: "value", Type: "uint256"},
	{Name: "validAfter", Type: "uint256"},
	{Name: "validBefore", Type: "uint256"},
	{Name: "nonce", Type: "bytes32"},
}

// HashIntent computes the EIP-712 digest of a payment intent under the given
// domain.
func HashIntent(intent models.PaymentIntent, domain Domain) ([]byte, error) {
	amount, err := intent.AmountBig()
	if err != nil {
		return nil, err
	}
	nonce, err := intent.NonceHash()
	if err != nil {
		return nil, err
	}

	message := apitypes.TypedDataMessage{
		"seller":   common.HexToAddress(intent.Seller).Hex(),
		"buyer":    common.HexToAddress(intent.Buyer).Hex(),
		"amount":   amount,
		"token":    common.HexToAddress(intent.Token).Hex(),
		"nonce":    nonce.Bytes(),
		"expiry":   big.NewInt(intent.Expiry),
		"resource": intent.Resource,
		"chainId":  big.NewInt(int64(intent.ChainID)),
	}

	return hashTypedData(domain, intentPrimaryType, intentType, message)
}

// HashAuthorization computes the EIP-712 digest of an EIP-3009 transfer
// authorization under the given domain (normally the token's own domain).
func HashAuthorization(auth models.TransferAuthorization, domain Domain) ([]byte, error) {
	value, err := auth.ValueBig()
	if err != nil {
		return nil, err
	}
	nonce, err := models.ParseNonce(auth.Nonce)
	if err != nil {
		return nil, err
	}

	message := apitypes.TypedDataMessage{
		"from":        common.HexToAddress(auth.From).Hex(),
		"to":          common.HexToAddress(auth.To).Hex(),
		"value":       value,
		"validAfter":  big.NewInt(auth.ValidAfter),
		"validBefore": big.NewInt(auth.ValidBefore),
		"nonce":       nonce.Bytes(),
	}

	return hashTypedData(domain, authorizationPrimaryType, authorizationType, message)
}

// SignIntent signs a payment intent with the holder's key and returns a
// 65-byte hex signature with v in {27, 28}.
func SignIntent(intent models.PaymentIntent, domain Domain, key *ecdsa.PrivateKey) (string, error) {
	digest, err := HashIntent(intent, domain)
	if err != nil {
		return "", err
	}
	return signDigest(digest, key)
}

// RecoverIntent recovers the address that signed the intent under the given
// domain. A wrong domain or a perturbed field yields a different address,
// not an error.
func RecoverIntent(intent models.PaymentIntent, domain Domain, signature string) (common.Address, error) {
	digest, err := HashIntent(intent, domain)
	if err != nil {
		return common.Address{}, err
	}
	return recoverDigest(digest, signature)
}

// SignAuthorization signs a transfer authorization with the holder's key.
func SignAuthorization(auth models.TransferAuthorization, domain Domain, key *ecdsa.PrivateKey) (string, error) {
	digest, err := HashAuthorization(auth, domain)
	if err != nil {
		return "", err
	}
	return signDigest(digest, key)
}

// RecoverAuthorization recovers the address that signed the authorization
// under the given domain.
func RecoverAuthorization(auth models.TransferAuthorization, domain Domain, signature string) (common.Address, error) {
	digest, err := HashAuthorization(auth, domain)
	if err != nil {
		return common.Address{}, err
	}
	return recoverDigest(digest, signature)
}

// hashTypedData builds the EIP-712 digest:
// keccak256(0x19 0x01 || domainSeparator || structHash)
func hashTypedData(domain Domain, primaryType string, fields []apitypes.Type, message apitypes.TypedDataMessage) ([]byte, error) {
	if domain.ChainID == nil {
		return nil, fmt.Errorf("domain chain id is required")
	}
	chainID := math.HexOrDecimal256(*domain.ChainID)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primaryType:    fields,
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           &chainID,
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %v", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %v", primaryType, err)
	}

	rawData := append(append([]byte("\x19\x01"), domainSeparator...), structHash...)
	return crypto.Keccak256(rawData), nil
}

func signDigest(digest []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %v", err)
	}
	// recovery id on the wire is 27/28
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

func recoverDigest(digest []byte, signature string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %v", err)
	}
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}

	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id: %d", raw[64])
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
