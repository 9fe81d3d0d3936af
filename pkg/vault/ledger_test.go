package vault

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultpay-hq/facilitator/pkg/domains"
	"github.com/vaultpay-hq/facilitator/pkg/eip712"
	"github.com/vaultpay-hq/facilitator/pkg/models"
)

const (
	ledgerVault = "0x2222222222222222222222222222222222222222"
	ledgerToken = "0x5555555555555555555555555555555555555555"
	ledgerChain = 8453

	sellerOne = "0x3333333333333333333333333333333333333333"
	sellerTwo = "0x7777777777777777777777777777777777777777"
)

func newBuyer(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func signedIntent(t *testing.T, key *ecdsa.PrivateKey, buyer, seller, amount, nonce string) (models.PaymentIntent, string) {
	t.Helper()
	intent := models.PaymentIntent{
		Seller:   seller,
		Buyer:    buyer,
		Amount:   amount,
		Token:    ledgerToken,
		Nonce:    nonce,
		Expiry:   time.Now().Add(time.Hour).Unix(),
		Resource: "https://example.com/article/42",
		ChainID:  ledgerChain,
	}
	sig, err := eip712.SignIntent(intent, domains.Vault(ledgerChain, ledgerVault), key)
	require.NoError(t, err)
	return intent, sig
}

func balance(t *testing.T, l *Ledger, account string) *big.Int {
	t.Helper()
	b, err := l.Deposits(context.Background(), account)
	require.NoError(t, err)
	return b
}

// Buyer deposits 100, one intent for 10 settles: buyer 90, seller +10,
// nonce used, shared transaction reference on the events.
func TestSingleIntentSettlement(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	key, buyer := newBuyer(t)
	require.NoError(t, l.Deposit(buyer, big.NewInt(100)))

	intent, sig := signedIntent(t, key, buyer, sellerOne, "10",
		"0x0101010101010101010101010101010101010101010101010101010101010101")

	txRef, err := l.BatchWithdraw(context.Background(), []models.PaymentIntent{intent}, []string{sig})
	require.NoError(t, err)
	require.NotEmpty(t, txRef)

	assert.Equal(t, int64(90), balance(t, l, buyer).Int64())
	assert.Equal(t, int64(10), balance(t, l, sellerOne).Int64())

	used, err := l.NonceUsed(context.Background(), buyer, intent.Nonce)
	require.NoError(t, err)
	assert.True(t, used)

	settled := l.SettledEvents()
	require.Len(t, settled, 1)
	assert.Equal(t, txRef, settled[0].TxRef)

	batches := l.BatchEvents()
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Count)
	assert.Equal(t, int64(10), batches[0].Total.Int64())
}

// Two intents from the same buyer in one batch: the buyer is debited by
// the whole-batch aggregate and each seller is credited per intent.
func TestSameBuyerAggregation(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	key, buyer := newBuyer(t)
	require.NoError(t, l.Deposit(buyer, big.NewInt(100)))

	first, sigOne := signedIntent(t, key, buyer, sellerOne, "10",
		"0x0101010101010101010101010101010101010101010101010101010101010101")
	second, sigTwo := signedIntent(t, key, buyer, sellerTwo, "20",
		"0x0202020202020202020202020202020202020202020202020202020202020202")

	_, err := l.BatchWithdraw(context.Background(),
		[]models.PaymentIntent{first, second}, []string{sigOne, sigTwo})
	require.NoError(t, err)

	assert.Equal(t, int64(70), balance(t, l, buyer).Int64())
	assert.Equal(t, int64(10), balance(t, l, sellerOne).Int64())
	assert.Equal(t, int64(20), balance(t, l, sellerTwo).Int64())
	assert.Len(t, l.SettledEvents(), 2)
}

// A nonce can be consumed at most once: a second batch containing it
// reverts entirely with zero balance changes for any party.
func TestNonceReuseRevertsWholeBatch(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	key, buyer := newBuyer(t)
	require.NoError(t, l.Deposit(buyer, big.NewInt(100)))

	reused, sigReused := signedIntent(t, key, buyer, sellerOne, "10",
		"0x0101010101010101010101010101010101010101010101010101010101010101")
	_, err := l.BatchWithdraw(context.Background(), []models.PaymentIntent{reused}, []string{sigReused})
	require.NoError(t, err)

	fresh, sigFresh := signedIntent(t, key, buyer, sellerTwo, "20",
		"0x0202020202020202020202020202020202020202020202020202020202020202")

	_, err = l.BatchWithdraw(context.Background(),
		[]models.PaymentIntent{fresh, reused}, []string{sigFresh, sigReused})
	require.ErrorIs(t, err, ErrNonceUsed)

	// the fresh intent must not have settled either
	assert.Equal(t, int64(90), balance(t, l, buyer).Int64())
	assert.Equal(t, int64(0), balance(t, l, sellerTwo).Int64())
	used, err := l.NonceUsed(context.Background(), buyer, fresh.Nonce)
	require.NoError(t, err)
	assert.False(t, used)
}

func TestDuplicateNonceWithinBatchReverts(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	key, buyer := newBuyer(t)
	require.NoError(t, l.Deposit(buyer, big.NewInt(100)))

	intent, sig := signedIntent(t, key, buyer, sellerOne, "10",
		"0x0101010101010101010101010101010101010101010101010101010101010101")

	_, err := l.BatchWithdraw(context.Background(),
		[]models.PaymentIntent{intent, intent}, []string{sig, sig})
	require.ErrorIs(t, err, ErrNonceUsed)
	assert.Equal(t, int64(100), balance(t, l, buyer).Int64())
}

// One under-funded buyer anywhere in the batch reverts everything; no
// seller in the batch is credited.
func TestInsolventBuyerRevertsWholeBatch(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	funded, fundedAddr := newBuyer(t)
	broke, brokeAddr := newBuyer(t)
	require.NoError(t, l.Deposit(fundedAddr, big.NewInt(100)))
	require.NoError(t, l.Deposit(brokeAddr, big.NewInt(5)))

	ok, sigOK := signedIntent(t, funded, fundedAddr, sellerOne, "10",
		"0x0101010101010101010101010101010101010101010101010101010101010101")
	over, sigOver := signedIntent(t, broke, brokeAddr, sellerTwo, "10",
		"0x0202020202020202020202020202020202020202020202020202020202020202")

	_, err := l.BatchWithdraw(context.Background(),
		[]models.PaymentIntent{ok, over}, []string{sigOK, sigOver})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, int64(100), balance(t, l, fundedAddr).Int64())
	assert.Equal(t, int64(0), balance(t, l, sellerOne).Int64())
	assert.Empty(t, l.SettledEvents())
}

// The aggregate check runs across the whole batch: two intents each
// individually covered can still exceed the buyer's deposit together.
func TestAggregateExceedsDeposit(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	key, buyer := newBuyer(t)
	require.NoError(t, l.Deposit(buyer, big.NewInt(25)))

	first, sigOne := signedIntent(t, key, buyer, sellerOne, "15",
		"0x0101010101010101010101010101010101010101010101010101010101010101")
	second, sigTwo := signedIntent(t, key, buyer, sellerTwo, "15",
		"0x0202020202020202020202020202020202020202020202020202020202020202")

	_, err := l.BatchWithdraw(context.Background(),
		[]models.PaymentIntent{first, second}, []string{sigOne, sigTwo})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(25), balance(t, l, buyer).Int64())
}

func TestBatchRejectionReasons(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	key, buyer := newBuyer(t)
	require.NoError(t, l.Deposit(buyer, big.NewInt(100)))

	intent, sig := signedIntent(t, key, buyer, sellerOne, "10",
		"0x0101010101010101010101010101010101010101010101010101010101010101")

	t.Run("empty batch", func(t *testing.T) {
		_, err := l.BatchWithdraw(context.Background(), nil, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := l.BatchWithdraw(context.Background(), []models.PaymentIntent{intent}, nil)
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("wrong token", func(t *testing.T) {
		bad := intent
		bad.Token = "0x6666666666666666666666666666666666666666"
		_, err := l.BatchWithdraw(context.Background(), []models.PaymentIntent{bad}, []string{sig})
		assert.ErrorIs(t, err, ErrWrongToken)
	})

	t.Run("wrong chain", func(t *testing.T) {
		bad := intent
		bad.ChainID = 84532
		_, err := l.BatchWithdraw(context.Background(), []models.PaymentIntent{bad}, []string{sig})
		assert.ErrorIs(t, err, ErrWrongChain)
	})

	t.Run("expired", func(t *testing.T) {
		expired := intent
		expired.Expiry = time.Now().Add(-time.Hour).Unix()
		expiredSig, err := eip712.SignIntent(expired, domains.Vault(ledgerChain, ledgerVault), key)
		require.NoError(t, err)
		_, err = l.BatchWithdraw(context.Background(), []models.PaymentIntent{expired}, []string{expiredSig})
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("tampered intent breaks signature", func(t *testing.T) {
		tampered := intent
		tampered.Amount = "999999"
		_, err := l.BatchWithdraw(context.Background(), []models.PaymentIntent{tampered}, []string{sig})
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("signature from another key", func(t *testing.T) {
		otherKey, _ := newBuyer(t)
		forged, err := eip712.SignIntent(intent, domains.Vault(ledgerChain, ledgerVault), otherKey)
		require.NoError(t, err)
		_, err = l.BatchWithdraw(context.Background(), []models.PaymentIntent{intent}, []string{forged})
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	// none of the rejected batches may have moved funds or burned nonces
	assert.Equal(t, int64(100), balance(t, l, buyer).Int64())
	used, err := l.NonceUsed(context.Background(), buyer, intent.Nonce)
	require.NoError(t, err)
	assert.False(t, used)
}

func TestSignatureUnderWrongDomainRejected(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	key, buyer := newBuyer(t)
	require.NoError(t, l.Deposit(buyer, big.NewInt(100)))

	intent := models.PaymentIntent{
		Seller:   sellerOne,
		Buyer:    buyer,
		Amount:   "10",
		Token:    ledgerToken,
		Nonce:    "0x0101010101010101010101010101010101010101010101010101010101010101",
		Expiry:   time.Now().Add(time.Hour).Unix(),
		Resource: "https://example.com/article/42",
		ChainID:  ledgerChain,
	}

	// signed for a different chain's vault deployment
	sig, err := eip712.SignIntent(intent, domains.Vault(84532, ledgerVault), key)
	require.NoError(t, err)

	_, err = l.BatchWithdraw(context.Background(), []models.PaymentIntent{intent}, []string{sig})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDepositValidation(t *testing.T) {
	l := NewLedger(ledgerChain, ledgerVault, ledgerToken)
	assert.Error(t, l.Deposit("0x4444444444444444444444444444444444444444", big.NewInt(0)))
	assert.Error(t, l.Deposit("0x4444444444444444444444444444444444444444", nil))
}
