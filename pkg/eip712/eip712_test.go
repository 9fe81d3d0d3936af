package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultpay-hq/facilitator/pkg/models"
)

func testDomain() Domain {
	return Domain{
		Name:              "SettlementVault",
		Version:           "1",
		ChainID:           big.NewInt(8453),
		VerifyingContract: "0x2222222222222222222222222222222222222222",
	}
}

func testIntent() models.PaymentIntent {
	return models.PaymentIntent{
		Seller:   "0x3333333333333333333333333333333333333333",
		Buyer:    "0x4444444444444444444444444444444444444444",
		Amount:   "1000000",
		Token:    "0x5555555555555555555555555555555555555555",
		Nonce:    "0x0101010101010101010101010101010101010101010101010101010101010101",
		Expiry:   1900000000,
		Resource: "https://example.com/article/42",
		ChainID:  8453,
	}
}

func testAuthorization() models.TransferAuthorization {
	return models.TransferAuthorization{
		From:        "0x4444444444444444444444444444444444444444",
		To:          "0x3333333333333333333333333333333333333333",
		Value:       "1000000",
		ValidAfter:  0,
		ValidBefore: 1900000000,
		Nonce:       "0x0101010101010101010101010101010101010101010101010101010101010101",
	}
}

func TestIntentSignRecoverRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignIntent(testIntent(), testDomain(), key)
	require.NoError(t, err)

	recovered, err := RecoverIntent(testIntent(), testDomain(), sig)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)
}

func TestAuthorizationSignRecoverRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	domain := Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(8453),
		VerifyingContract: "0x5555555555555555555555555555555555555555",
	}

	sig, err := SignAuthorization(testAuthorization(), domain, key)
	require.NoError(t, err)

	recovered, err := RecoverAuthorization(testAuthorization(), domain, sig)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)
}

// Every field of the intent and every component of the domain must be bound
// by the signature: perturbing any one of them changes the recovered address.
func TestIntentPerturbationChangesRecoveredAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignIntent(testIntent(), testDomain(), key)
	require.NoError(t, err)

	tests := []struct {
		name   string
		intent func(models.PaymentIntent) models.PaymentIntent
		domain func(Domain) Domain
	}{
		{
			name: "seller changed",
			intent: func(i models.PaymentIntent) models.PaymentIntent {
				i.Seller = "0x6666666666666666666666666666666666666666"
				return i
			},
		},
		{
			name: "buyer changed",
			intent: func(i models.PaymentIntent) models.PaymentIntent {
				i.Buyer = "0x6666666666666666666666666666666666666666"
				return i
			},
		},
		{
			name: "amount changed",
			intent: func(i models.PaymentIntent) models.PaymentIntent {
				i.Amount = "1000001"
				return i
			},
		},
		{
			name: "token changed",
			intent: func(i models.PaymentIntent) models.PaymentIntent {
				i.Token = "0x6666666666666666666666666666666666666666"
				return i
			},
		},
		{
			name: "nonce changed",
			intent: func(i models.PaymentIntent) models.PaymentIntent {
				i.Nonce = "0x0202020202020202020202020202020202020202020202020202020202020202"
				return i
			},
		},
		{
			name: "expiry changed",
			intent: func(i models.PaymentIntent) models.PaymentIntent {
				i.Expiry++
				return i
			},
		},
		{
			name: "resource changed",
			intent: func(i models.PaymentIntent) models.PaymentIntent {
				i.Resource = "https://example.com/article/43"
				return i
			},
		},
		{
			name: "chain id changed",
			intent: func(i models.PaymentIntent) models.PaymentIntent {
				i.ChainID = 1
				return i
			},
		},
		{
			name: "domain name changed",
			domain: func(d Domain) Domain {
				d.Name = "SomeOtherVault"
				return d
			},
		},
		{
			name: "domain version changed",
			domain: func(d Domain) Domain {
				d.Version = "2"
				return d
			},
		},
		{
			name: "domain chain id changed",
			domain: func(d Domain) Domain {
				d.ChainID = big.NewInt(1)
				return d
			},
		},
		{
			name: "verifying contract changed",
			domain: func(d Domain) Domain {
				d.VerifyingContract = "0x9999999999999999999999999999999999999999"
				return d
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			intent := testIntent()
			domain := testDomain()
			if tc.intent != nil {
				intent = tc.intent(intent)
			}
			if tc.domain != nil {
				domain = tc.domain(domain)
			}

			recovered, err := RecoverIntent(intent, domain, sig)
			require.NoError(t, err)
			assert.NotEqual(t, signer, recovered, "perturbation must change the recovered address")
		})
	}
}

// Field-order regression: swapping the values of two same-typed fields must
// break recovery. If seller and buyer ever collapsed to the same encoding
// slot, this would pass recovery and mis-bind payments.
func TestSameTypedFieldSwapBreaksRecovery(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignIntent(testIntent(), testDomain(), key)
	require.NoError(t, err)

	swapped := testIntent()
	swapped.Seller, swapped.Buyer = swapped.Buyer, swapped.Seller

	recovered, err := RecoverIntent(swapped, testDomain(), sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer, recovered)
}

func TestRecoverRejectsMalformedSignatures(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{name: "not hex", signature: "0xzz"},
		{name: "too short", signature: "0x0101"},
		{name: "bad recovery id", signature: "0x" + repeatHex("01", 64) + "05"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RecoverIntent(testIntent(), testDomain(), tc.signature)
			assert.Error(t, err)
		})
	}
}

func repeatHex(b string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += b
	}
	return out
}
