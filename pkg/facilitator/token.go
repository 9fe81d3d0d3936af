package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vaultpay-hq/facilitator/pkg/chainclient"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/models"
)

// chainToken is the production Token backed by a deployed EIP-3009
// contract through a cached chain client.
type chainToken struct {
	client  *chainclient.Client
	timeout time.Duration
	log     logger.Logger
}

var _ Token = (*chainToken)(nil)

// NewChainToken wraps a chain client's bound token contract as the exact
// path's Token. The timeout bounds how long a submitted transfer waits
// for confirmation, keeping payer-visible latency finite.
func NewChainToken(client *chainclient.Client, timeout time.Duration, log logger.Logger) Token {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &chainToken{
		client:  client,
		timeout: timeout,
		log:     log,
	}
}

func (t *chainToken) Address() string {
	return t.client.TokenAddress
}

func (t *chainToken) Name(opts *bind.CallOpts) (string, error) {
	return t.client.TokenContract.Name(opts)
}

func (t *chainToken) Version(opts *bind.CallOpts) (string, error) {
	return t.client.TokenContract.Version(opts)
}

func (t *chainToken) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	return t.client.TokenContract.BalanceOf(&bind.CallOpts{Context: ctx}, common.HexToAddress(account))
}

func (t *chainToken) AuthorizationUsed(ctx context.Context, authorizer, nonce string) (bool, error) {
	hash, err := models.ParseNonce(nonce)
	if err != nil {
		return false, err
	}
	return t.client.TokenContract.AuthorizationState(&bind.CallOpts{Context: ctx}, common.HexToAddress(authorizer), hash)
}

// TransferWithAuthorization submits the token's authorization transfer
// and waits for the receipt.
func (t *chainToken) TransferWithAuthorization(ctx context.Context, auth models.TransferAuthorization, signature string) (string, error) {
	v, r, s, err := splitSignature(signature)
	if err != nil {
		return "", err
	}
	value, err := auth.ValueBig()
	if err != nil {
		return "", err
	}
	nonce, err := models.ParseNonce(auth.Nonce)
	if err != nil {
		return "", err
	}

	if _, err := t.client.UpdateGasPrice(ctx); err != nil {
		return "", fmt.Errorf("failed to update gas price: %v", err)
	}

	opts := *t.client.Auth
	opts.Context = ctx
	tx, err := t.client.TokenContract.TransferWithAuthorization(&opts,
		common.HexToAddress(auth.From), common.HexToAddress(auth.To),
		value, big.NewInt(auth.ValidAfter), big.NewInt(auth.ValidBefore),
		nonce, v, r, s)
	if err != nil {
		return "", fmt.Errorf("transfer submission failed: %v", err)
	}
	t.log.InfoWithChain(t.client.ChainID, "Submitted authorization transfer: %s", tx.Hash().Hex())

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(ctx, t.client.Client, tx)
	if err != nil {
		return "", fmt.Errorf("failed waiting for transaction %s: %v", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transfer transaction %s reverted", tx.Hash().Hex())
	}
	return tx.Hash().Hex(), nil
}

// splitSignature decodes a 65-byte signature into its (v, r, s)
// components, normalizing the recovery id to 27/28.
func splitSignature(signature string) (uint8, [32]byte, [32]byte, error) {
	var r, s [32]byte
	raw, err := hexutil.Decode(signature)
	if err != nil {
		return 0, r, s, fmt.Errorf("invalid signature encoding: %v", err)
	}
	if len(raw) != 65 {
		return 0, r, s, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	copy(r[:], raw[0:32])
	copy(s[:], raw[32:64])
	v := raw[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}
