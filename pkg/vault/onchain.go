package vault

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vaultpay-hq/facilitator/pkg/contracts"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/models"
)

// Onchain is the Vault implementation backed by a deployed contract. All
// verification happens in the contract; this wrapper converts types,
// submits the batch transaction, and waits for the receipt.
type Onchain struct {
	chainID int
	token   string
	binding *contracts.Vault
	client  *ethclient.Client
	auth    *bind.TransactOpts
	timeout time.Duration
	log     logger.Logger
}

var _ Vault = (*Onchain)(nil)

// NewOnchain binds to a deployed vault contract. The timeout bounds how
// long BatchWithdraw waits for a submitted transaction to be mined.
func NewOnchain(chainID int, address, token string, client *ethclient.Client, auth *bind.TransactOpts, timeout time.Duration, log logger.Logger) (*Onchain, error) {
	binding, err := contracts.NewVault(common.HexToAddress(address), client)
	if err != nil {
		return nil, fmt.Errorf("failed to bind vault contract: %v", err)
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Onchain{
		chainID: chainID,
		token:   token,
		binding: binding,
		client:  client,
		auth:    auth,
		timeout: timeout,
		log:     log,
	}, nil
}

func (o *Onchain) Address() string { return o.binding.Address().Hex() }
func (o *Onchain) ChainID() int    { return o.chainID }
func (o *Onchain) Token() string   { return o.token }

// Deposits reads a buyer's pool balance from the contract.
func (o *Onchain) Deposits(ctx context.Context, buyer string) (*big.Int, error) {
	balance, err := o.binding.Deposits(&bind.CallOpts{Context: ctx}, common.HexToAddress(buyer))
	if err != nil {
		return nil, fmt.Errorf("failed to read deposit balance: %v", err)
	}
	return balance, nil
}

// NonceUsed reads the contract's permanent (buyer, nonce) used-flag. This
// is the authoritative answer; in-memory caches only shadow it.
func (o *Onchain) NonceUsed(ctx context.Context, buyer, nonce string) (bool, error) {
	hash, err := models.ParseNonce(nonce)
	if err != nil {
		return false, err
	}
	used, err := o.binding.UsedNonces(&bind.CallOpts{Context: ctx}, common.HexToAddress(buyer), hash)
	if err != nil {
		return false, fmt.Errorf("failed to read nonce state: %v", err)
	}
	return used, nil
}

// BatchWithdraw submits the batch call and waits for it to be mined. A
// reverted receipt fails the whole batch; the contract guarantees no
// partial settlement.
func (o *Onchain) BatchWithdraw(ctx context.Context, intents []models.PaymentIntent, signatures []string) (string, error) {
	if len(intents) == 0 {
		return "", ErrEmptyBatch
	}
	if len(intents) != len(signatures) {
		return "", fmt.Errorf("%w: %d intents, %d signatures", ErrLengthMismatch, len(intents), len(signatures))
	}

	tuples := make([]contracts.VaultPaymentIntent, len(intents))
	sigs := make([][]byte, len(intents))
	for i, intent := range intents {
		tuple, err := toTuple(intent)
		if err != nil {
			return "", fmt.Errorf("intent %d: %v", i, err)
		}
		raw, err := hexutil.Decode(signatures[i])
		if err != nil {
			return "", fmt.Errorf("intent %d: invalid signature encoding: %v", i, err)
		}
		tuples[i] = tuple
		sigs[i] = raw
	}

	opts := *o.auth
	opts.Context = ctx
	tx, err := o.binding.BatchWithdraw(&opts, tuples, sigs)
	if err != nil {
		if isExecutionRevert(err) {
			return "", fmt.Errorf("%w during submission: %v", ErrReverted, err)
		}
		return "", fmt.Errorf("batch withdraw submission failed: %v", err)
	}
	o.log.InfoWithChain(o.chainID, "Submitted batch of %d intents: %s", len(intents), tx.Hash().Hex())

	receipt, err := o.waitMined(ctx, tx)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: transaction %s", ErrReverted, tx.Hash().Hex())
	}
	return tx.Hash().Hex(), nil
}

// isExecutionRevert detects a contract revert surfaced during gas
// estimation or submission. Providers report it as an error string;
// there is no typed value to match on.
func isExecutionRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}

func (o *Onchain) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(ctx, o.client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %v", tx.Hash().Hex(), err)
	}
	return receipt, nil
}

func toTuple(intent models.PaymentIntent) (contracts.VaultPaymentIntent, error) {
	if err := intent.Validate(); err != nil {
		return contracts.VaultPaymentIntent{}, err
	}
	amount, err := intent.AmountBig()
	if err != nil {
		return contracts.VaultPaymentIntent{}, err
	}
	nonce, err := intent.NonceHash()
	if err != nil {
		return contracts.VaultPaymentIntent{}, err
	}
	return contracts.VaultPaymentIntent{
		Seller:   common.HexToAddress(intent.Seller),
		Buyer:    common.HexToAddress(intent.Buyer),
		Amount:   amount,
		Token:    common.HexToAddress(intent.Token),
		Nonce:    nonce,
		Expiry:   big.NewInt(intent.Expiry),
		Resource: intent.Resource,
		ChainId:  big.NewInt(int64(intent.ChainID)),
	}, nil
}
