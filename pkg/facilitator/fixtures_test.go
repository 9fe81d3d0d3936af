package facilitator

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/vaultpay-hq/facilitator/pkg/models"
)

const (
	testChainID = 8453
	testVault   = "0x2222222222222222222222222222222222222222"
	testToken   = "0x5555555555555555555555555555555555555555"
	testSeller  = "0x3333333333333333333333333333333333333333"

	nonceOne = "0x0101010101010101010101010101010101010101010101010101010101010101"
	nonceTwo = "0x0202020202020202020202020202020202020202020202020202020202020202"
)

func generateKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func makeIntent(buyer, nonce, amount string) models.PaymentIntent {
	return models.PaymentIntent{
		Seller:   testSeller,
		Buyer:    buyer,
		Amount:   amount,
		Token:    testToken,
		Nonce:    nonce,
		Expiry:   time.Now().Add(time.Hour).Unix(),
		Resource: "https://example.com/article/42",
		ChainID:  testChainID,
	}
}

func makeRequirements(scheme string) models.PaymentRequirements {
	return models.PaymentRequirements{
		Scheme:       scheme,
		Network:      "base",
		Token:        "USDC",
		TokenAddress: testToken,
		Seller:       testSeller,
		Resource:     "https://example.com/article/42",
		ChainID:      testChainID,
		Vault:        testVault,
	}
}

func payloadFor(t *testing.T, scheme string, data interface{}, req models.PaymentRequirements) models.PaymentPayload {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return models.PaymentPayload{
		Scheme:       scheme,
		Data:         raw,
		Requirements: req,
	}
}

// fakeToken is an in-memory Token for exercising the exact path without
// a chain.
type fakeToken struct {
	address     string
	name        string
	version     string
	balances    map[common.Address]*big.Int
	authUsed    map[string]bool
	transfers   []models.TransferAuthorization
	transferErr error
	txSeq       int
}

var _ Token = (*fakeToken)(nil)

func newFakeToken() *fakeToken {
	return &fakeToken{
		address:  testToken,
		name:     "USD Coin",
		version:  "2",
		balances: make(map[common.Address]*big.Int),
		authUsed: make(map[string]bool),
	}
}

func (f *fakeToken) Address() string { return f.address }

func (f *fakeToken) Name(_ *bind.CallOpts) (string, error) { return f.name, nil }

func (f *fakeToken) Version(_ *bind.CallOpts) (string, error) { return f.version, nil }

func (f *fakeToken) BalanceOf(_ context.Context, account string) (*big.Int, error) {
	balance, ok := f.balances[common.HexToAddress(account)]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

func (f *fakeToken) AuthorizationUsed(_ context.Context, authorizer, nonce string) (bool, error) {
	return f.authUsed[authKey(authorizer, nonce)], nil
}

func (f *fakeToken) TransferWithAuthorization(_ context.Context, auth models.TransferAuthorization, _ string) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.transfers = append(f.transfers, auth)
	f.authUsed[authKey(auth.From, auth.Nonce)] = true
	f.txSeq++
	return fmt.Sprintf("0xtx%04d", f.txSeq), nil
}

func authKey(authorizer, nonce string) string {
	return common.HexToAddress(authorizer).Hex() + ":" + nonce
}
