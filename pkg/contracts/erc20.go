package contracts

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ERC20ABI covers the ERC20 surface the facilitator consumes: metadata for
// domain resolution, balance reads, and the EIP-3009 authorization-based
// transfer used by the exact settlement path.
const ERC20ABI = `[
	{
		"inputs": [],
		"name": "name",
		"outputs": [
			{"internalType": "string", "name": "", "type": "string"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "version",
		"outputs": [
			{"internalType": "string", "name": "", "type": "string"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "symbol",
		"outputs": [
			{"internalType": "string", "name": "", "type": "string"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [
			{"internalType": "uint8", "name": "", "type": "uint8"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "account", "type": "address"}
		],
		"name": "balanceOf",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "authorizer", "type": "address"},
			{"internalType": "bytes32", "name": "nonce", "type": "bytes32"}
		],
		"name": "authorizationState",
		"outputs": [
			{"internalType": "bool", "name": "", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "from", "type": "address"},
			{"internalType": "address", "name": "to", "type": "address"},
			{"internalType": "uint256", "name": "value", "type": "uint256"},
			{"internalType": "uint256", "name": "validAfter", "type": "uint256"},
			{"internalType": "uint256", "name": "validBefore", "type": "uint256"},
			{"internalType": "bytes32", "name": "nonce", "type": "bytes32"},
			{"internalType": "uint8", "name": "v", "type": "uint8"},
			{"internalType": "bytes32", "name": "r", "type": "bytes32"},
			{"internalType": "bytes32", "name": "s", "type": "bytes32"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// ERC20 is a Go binding around an EIP-3009 capable ERC20 token contract.
type ERC20 struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewERC20 creates a new instance of ERC20, bound to a specific deployed
// token contract.
func NewERC20(address common.Address, backend bind.ContractBackend) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, err
	}
	return &ERC20{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// Address returns the address the binding is bound to.
func (t *ERC20) Address() common.Address {
	return t.address
}

// Name is a free data retrieval call binding the contract method.
//
// Solidity: function name() view returns(string)
func (t *ERC20) Name(opts *bind.CallOpts) (string, error) {
	var out []interface{}
	err := t.contract.Call(opts, &out, "name")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// Version is a free data retrieval call binding the contract method. Not
// every deployment exposes it; callers fall back on observed values.
//
// Solidity: function version() view returns(string)
func (t *ERC20) Version(opts *bind.CallOpts) (string, error) {
	var out []interface{}
	err := t.contract.Call(opts, &out, "version")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// Symbol is a free data retrieval call binding the contract method.
//
// Solidity: function symbol() view returns(string)
func (t *ERC20) Symbol(opts *bind.CallOpts) (string, error) {
	var out []interface{}
	err := t.contract.Call(opts, &out, "symbol")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// Decimals is a free data retrieval call binding the contract method.
//
// Solidity: function decimals() view returns(uint8)
func (t *ERC20) Decimals(opts *bind.CallOpts) (uint8, error) {
	var out []interface{}
	err := t.contract.Call(opts, &out, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// BalanceOf is a free data retrieval call binding the contract method.
//
// Solidity: function balanceOf(address account) view returns(uint256)
func (t *ERC20) BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error) {
	var out []interface{}
	err := t.contract.Call(opts, &out, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// AuthorizationState is a free data retrieval call binding the contract
// method. True means the (authorizer, nonce) pair has been consumed.
//
// Solidity: function authorizationState(address authorizer, bytes32 nonce) view returns(bool)
func (t *ERC20) AuthorizationState(opts *bind.CallOpts, authorizer common.Address, nonce [32]byte) (bool, error) {
	var out []interface{}
	err := t.contract.Call(opts, &out, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// TransferWithAuthorization is a paid mutator transaction binding the
// contract method.
//
// Solidity: function transferWithAuthorization(address from, address to, uint256 value, uint256 validAfter, uint256 validBefore, bytes32 nonce, uint8 v, bytes32 r, bytes32 s) returns()
func (t *ERC20) TransferWithAuthorization(opts *bind.TransactOpts, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, v uint8, r, s [32]byte) (*types.Transaction, error) {
	return t.contract.Transact(opts, "transferWithAuthorization", from, to, value, validAfter, validBefore, nonce, v, r, s)
}
