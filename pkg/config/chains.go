package config

import "strings"

// chainNames maps chain IDs to their names
var chainNames = map[int]string{
	1:        "ETHEREUM",
	137:      "POLYGON",
	42161:    "ARBITRUM",
	43114:    "AVALANCHE",
	8453:     "BASE",
	84532:    "BASE_SEPOLIA",
	11155111: "SEPOLIA",
}

// usdcAddresses maps chain IDs to the canonical USDC contract addresses.
// These deployments all support EIP-3009 authorization transfers.
var usdcAddresses = map[int]string{
	1:        "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	137:      "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	42161:    "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	43114:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	8453:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	84532:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	11155111: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
}

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int) string {
	name, exists := chainNames[chainID]
	if !exists {
		return ""
	}
	return name
}

// GetUSDCAddress returns the USDC contract address for a given chain ID
func GetUSDCAddress(chainID int) string {
	address, exists := usdcAddresses[chainID]
	if !exists {
		return ""
	}
	return address
}

// IsSettlementToken reports whether the address is a known settlement
// token on any supported chain. Comparison is case-insensitive.
func IsSettlementToken(address string) bool {
	address = strings.ToLower(address)
	for _, usdcAddress := range usdcAddresses {
		if strings.ToLower(usdcAddress) == address {
			return true
		}
	}
	return false
}
