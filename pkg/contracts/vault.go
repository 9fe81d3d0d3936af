// Package contracts holds hand-maintained Go bindings for the on-chain
// contracts the facilitator talks to: the pooled settlement vault and the
// EIP-3009 settlement token.
package contracts

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// VaultABI is the ABI of the settlement vault contract.
const VaultABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "deposit",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "seller", "type": "address"},
					{"internalType": "address", "name": "buyer", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "address", "name": "token", "type": "address"},
					{"internalType": "bytes32", "name": "nonce", "type": "bytes32"},
					{"internalType": "uint256", "name": "expiry", "type": "uint256"},
					{"internalType": "string", "name": "resource", "type": "string"},
					{"internalType": "uint256", "name": "chainId", "type": "uint256"}
				],
				"internalType": "struct Vault.PaymentIntent[]",
				"name": "intents",
				"type": "tuple[]"
			},
			{"internalType": "bytes[]", "name": "signatures", "type": "bytes[]"}
		],
		"name": "batchWithdraw",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "buyer", "type": "address"}
		],
		"name": "deposits",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "buyer", "type": "address"},
			{"internalType": "bytes32", "name": "nonce", "type": "bytes32"}
		],
		"name": "usedNonces",
		"outputs": [
			{"internalType": "bool", "name": "", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "buyer", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "Deposited",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "buyer", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "seller", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": false, "internalType": "bytes32", "name": "nonce", "type": "bytes32"}
		],
		"name": "IntentSettled",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint256", "name": "count", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "total", "type": "uint256"}
		],
		"name": "BatchWithdrawn",
		"type": "event"
	}
]`

// VaultPaymentIntent mirrors the vault contract's PaymentIntent tuple. Field
// order matches the ABI components above.
type VaultPaymentIntent struct {
	Seller   common.Address
	Buyer    common.Address
	Amount   *big.Int
	Token    common.Address
	Nonce    [32]byte
	Expiry   *big.Int
	Resource string
	ChainId  *big.Int
}

// VaultDeposited represents a Deposited event raised by the vault.
type VaultDeposited struct {
	Buyer  common.Address
	Amount *big.Int
	Raw    types.Log
}

// VaultIntentSettled represents an IntentSettled event raised by the vault,
// one per intent in a successful batch.
type VaultIntentSettled struct {
	Buyer  common.Address
	Seller common.Address
	Amount *big.Int
	Nonce  [32]byte
	Raw    types.Log
}

// VaultBatchWithdrawn represents the aggregate BatchWithdrawn event raised
// once per successful batch.
type VaultBatchWithdrawn struct {
	Count *big.Int
	Total *big.Int
	Raw   types.Log
}

// Vault is a Go binding around the deployed settlement vault contract.
type Vault struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewVault creates a new instance of Vault, bound to a specific deployed
// contract.
func NewVault(address common.Address, backend bind.ContractBackend) (*Vault, error) {
	parsed, err := abi.JSON(strings.NewReader(VaultABI))
	if err != nil {
		return nil, err
	}
	return &Vault{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// Address returns the address the binding is bound to.
func (v *Vault) Address() common.Address {
	return v.address
}

// Deposits is a free data retrieval call binding the contract method.
//
// Solidity: function deposits(address buyer) view returns(uint256)
func (v *Vault) Deposits(opts *bind.CallOpts, buyer common.Address) (*big.Int, error) {
	var out []interface{}
	err := v.contract.Call(opts, &out, "deposits", buyer)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// UsedNonces is a free data retrieval call binding the contract method.
//
// Solidity: function usedNonces(address buyer, bytes32 nonce) view returns(bool)
func (v *Vault) UsedNonces(opts *bind.CallOpts, buyer common.Address, nonce [32]byte) (bool, error) {
	var out []interface{}
	err := v.contract.Call(opts, &out, "usedNonces", buyer, nonce)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// Deposit is a paid mutator transaction binding the contract method.
//
// Solidity: function deposit(uint256 amount) returns()
func (v *Vault) Deposit(opts *bind.TransactOpts, amount *big.Int) (*types.Transaction, error) {
	return v.contract.Transact(opts, "deposit", amount)
}

// BatchWithdraw is a paid mutator transaction binding the contract method.
//
// Solidity: function batchWithdraw((address,address,uint256,address,bytes32,uint256,string,uint256)[] intents, bytes[] signatures) returns()
func (v *Vault) BatchWithdraw(opts *bind.TransactOpts, intents []VaultPaymentIntent, signatures [][]byte) (*types.Transaction, error) {
	return v.contract.Transact(opts, "batchWithdraw", intents, signatures)
}

// ParseIntentSettled parses an IntentSettled event out of a receipt log.
func (v *Vault) ParseIntentSettled(log types.Log) (*VaultIntentSettled, error) {
	event := new(VaultIntentSettled)
	if err := v.contract.UnpackLog(event, "IntentSettled", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}

// ParseBatchWithdrawn parses a BatchWithdrawn event out of a receipt log.
func (v *Vault) ParseBatchWithdrawn(log types.Log) (*VaultBatchWithdrawn, error) {
	event := new(VaultBatchWithdrawn)
	if err := v.contract.UnpackLog(event, "BatchWithdrawn", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}

// ParseDeposited parses a Deposited event out of a receipt log.
func (v *Vault) ParseDeposited(log types.Log) (*VaultDeposited, error) {
	event := new(VaultDeposited)
	if err := v.contract.UnpackLog(event, "Deposited", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}
