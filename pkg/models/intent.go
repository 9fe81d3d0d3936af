package models

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentIntent is a payer-signed declaration of a payment to a specific
// seller for a specific resource. Immutable once signed; its identity is
// (buyer, nonce).
type PaymentIntent struct {
	Seller   string `json:"seller"`
	Buyer    string `json:"buyer"`
	Amount   string `json:"amount"` // decimal string, smallest token unit
	Token    string `json:"token"`
	Nonce    string `json:"nonce"` // 0x-prefixed 32-byte hex, single use
	Expiry   int64  `json:"expiry"` // unix seconds
	Resource string `json:"resource"`
	ChainID  int    `json:"chainId"`
}

// TransferAuthorization is an EIP-3009 transfer permission presented to the
// token contract. It shares its nonce with the paired intent.
type TransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Validate checks the intent for structural problems before any signature
// or chain work is attempted.
func (i PaymentIntent) Validate() error {
	if !common.IsHexAddress(i.Seller) {
		return fmt.Errorf("invalid seller address: %s", i.Seller)
	}
	if !common.IsHexAddress(i.Buyer) {
		return fmt.Errorf("invalid buyer address: %s", i.Buyer)
	}
	if !common.IsHexAddress(i.Token) {
		return fmt.Errorf("invalid token address: %s", i.Token)
	}
	if _, err := i.AmountBig(); err != nil {
		return err
	}
	if _, err := i.NonceHash(); err != nil {
		return err
	}
	if i.Expiry <= 0 {
		return fmt.Errorf("invalid expiry: %d", i.Expiry)
	}
	if i.Resource == "" {
		return fmt.Errorf("resource is required")
	}
	if i.ChainID <= 0 {
		return fmt.Errorf("invalid chain id: %d", i.ChainID)
	}
	return nil
}

// AmountBig parses the amount as a non-negative integer in the token's
// smallest unit.
func (i PaymentIntent) AmountBig() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(i.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", i.Amount)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", i.Amount)
	}
	return amount, nil
}

// NonceHash parses the nonce as exactly 32 bytes.
func (i PaymentIntent) NonceHash() (common.Hash, error) {
	return ParseNonce(i.Nonce)
}

// Validate checks the authorization for structural problems.
func (a TransferAuthorization) Validate() error {
	if !common.IsHexAddress(a.From) {
		return fmt.Errorf("invalid from address: %s", a.From)
	}
	if !common.IsHexAddress(a.To) {
		return fmt.Errorf("invalid to address: %s", a.To)
	}
	if _, err := a.ValueBig(); err != nil {
		return err
	}
	if a.ValidAfter >= a.ValidBefore {
		return fmt.Errorf("invalid authorization time window: [%d, %d]", a.ValidAfter, a.ValidBefore)
	}
	if _, err := ParseNonce(a.Nonce); err != nil {
		return err
	}
	return nil
}

// ValueBig parses the authorization value as a non-negative integer.
func (a TransferAuthorization) ValueBig() (*big.Int, error) {
	value, ok := new(big.Int).SetString(a.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", a.Value)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("authorization value must not be negative: %s", a.Value)
	}
	return value, nil
}

// ParseNonce decodes a 0x-prefixed hex nonce and requires exactly 32 bytes.
func ParseNonce(nonce string) (common.Hash, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(nonce, "0x"))
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid nonce: %s", nonce)
	}
	if len(raw) != 32 {
		return common.Hash{}, fmt.Errorf("nonce must be 32 bytes, got %d", len(raw))
	}
	return common.BytesToHash(raw), nil
}
