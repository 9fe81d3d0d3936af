// Package chainclient caches per-chain connection and signing-key handles:
// one RPC client, one transactor and the vault and token bindings per
// configured chain, constructed once and reused across calls.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vaultpay-hq/facilitator/pkg/config"
	"github.com/vaultpay-hq/facilitator/pkg/contracts"
)

// Client contains client and config information for a specific blockchain
type Client struct {
	ChainID       int
	RPCURL        string
	VaultAddress  string
	TokenAddress  string
	MaxGasPrice   *big.Int
	Client        *ethclient.Client
	TokenContract *contracts.ERC20
	Auth          *bind.TransactOpts
	GasMultiplier float64
}

// New connects to a chain and binds the settlement token contract. The
// vault binding is owned by the vault package; this client supplies the
// backend and transactor it needs.
func New(ctx context.Context, cc config.ChainConfig, privateKey string, maxGasPrice *big.Int) (*Client, error) {
	// Get gas multiplier from environment, default to 1.1
	gasMultiplierStr := os.Getenv(fmt.Sprintf("CHAIN_%d_GAS_MULTIPLIER", cc.ChainID))
	gasMultiplier := 1.1 // default gas multiplier (10% buffer)
	if gasMultiplierStr != "" {
		parsedMultiplier, err := strconv.ParseFloat(gasMultiplierStr, 64)
		if err == nil && parsedMultiplier > 0 {
			gasMultiplier = parsedMultiplier
		}
	}

	client := &Client{
		ChainID:       cc.ChainID,
		RPCURL:        cc.RPCURL,
		VaultAddress:  cc.VaultAddress,
		TokenAddress:  cc.TokenAddress,
		MaxGasPrice:   maxGasPrice,
		GasMultiplier: gasMultiplier,
	}
	if err := client.connect(ctx, privateKey); err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %v", cc.ChainID, err)
	}

	return client, nil
}

// UpdateGasPrice updates the gas price based on current network conditions
// and caps it at the configured maximum.
func (c *Client) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.Client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multipliedGasPrice := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.GasMultiplier),
	)

	finalGasPrice := new(big.Int)
	multipliedGasPrice.Int(finalGasPrice)

	if c.MaxGasPrice != nil && c.MaxGasPrice.Sign() > 0 && finalGasPrice.Cmp(c.MaxGasPrice) > 0 {
		return nil, fmt.Errorf("gas price %s exceeds maximum %s", finalGasPrice, c.MaxGasPrice)
	}

	// Update the auth with the new gas price
	if c.Auth != nil {
		c.Auth.GasPrice = finalGasPrice
	}

	return finalGasPrice, nil
}

// GetLatestBlockNumber gets the latest block number from the chain
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	if c.Client == nil {
		return 0, fmt.Errorf("client not connected")
	}

	return c.Client.BlockNumber(ctx)
}

// connect establishes connections to blockchain RPC and initializes contract instances
func (c *Client) connect(ctx context.Context, privateKey string) error {
	client, err := ethclient.Dial(c.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to client: %v", err)
	}
	c.Client = client

	if privateKey != "" {
		auth, err := createAuthenticator(ctx, client, privateKey)
		if err != nil {
			return fmt.Errorf("failed to create authenticator: %v", err)
		}
		c.Auth = auth
	}

	token, err := contracts.NewERC20(common.HexToAddress(c.TokenAddress), client)
	if err != nil {
		return fmt.Errorf("failed to bind token contract: %v", err)
	}
	c.TokenContract = token

	return nil
}

// Helper function to create authenticator
func createAuthenticator(ctx context.Context, client *ethclient.Client, privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}

	return auth, nil
}
