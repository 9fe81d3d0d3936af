package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/vaultpay-hq/facilitator/pkg/logger"
)

// Config holds the configuration for the facilitator service
type Config struct {
	APIPort        string
	MetricsPort    string
	MetricsKey     string
	PrivateKey     string
	Network        string
	AccountingPath string
	Chains         map[int]ChainConfig
	SettleInterval time.Duration
	SettleTimeout  time.Duration
	Retention      time.Duration
	MaxGasPrice    *big.Int
	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// ChainConfig holds the configuration for a specific blockchain
type ChainConfig struct {
	ChainID      int
	Name         string
	RPCURL       string
	VaultAddress string
	TokenAddress string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	network, err := GetEnvNetwork()
	if err != nil {
		return nil, err
	}

	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	settleInterval, err := GetEnvSettleInterval()
	if err != nil {
		return nil, err
	}

	settleTimeout, err := GetEnvSettleTimeout()
	if err != nil {
		return nil, err
	}

	retention, err := GetEnvRetention()
	if err != nil {
		return nil, err
	}

	maxGasPrice, err := GetEnvMaxGasPrice()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	// Initialize chain configurations. Chains without a configured vault
	// are dropped; the facilitator cannot settle on them.
	chainConfigList, err := GetEnvChainConfigs(network)
	if err != nil {
		return nil, err
	}
	chainConfigs := make(map[int]ChainConfig)
	for _, chainConfig := range chainConfigList {
		if chainConfig.VaultAddress == "" {
			log.Printf("Warning: no vault configured for %s, skipping chain %d",
				chainConfig.Name, chainConfig.ChainID)
			continue
		}
		chainConfigs[chainConfig.ChainID] = chainConfig
	}

	cfg := &Config{
		APIPort:        apiPort,
		MetricsPort:    metricsPort,
		MetricsKey:     GetEnvMetricsKey(),
		PrivateKey:     os.Getenv("PRIVATE_KEY"),
		Network:        network,
		AccountingPath: os.Getenv("ACCOUNTING_PATH"),
		Chains:         chainConfigs,
		SettleInterval: settleInterval,
		SettleTimeout:  settleTimeout,
		Retention:      retention,
		MaxGasPrice:    maxGasPrice,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if _, err := crypto.HexToECDSA(cfg.PrivateKey); err != nil {
		return fmt.Errorf("invalid PRIVATE_KEY: %v", err)
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain with a vault address is required")
	}
	for chainID, chainConfig := range cfg.Chains {
		if !common.IsHexAddress(chainConfig.VaultAddress) {
			return fmt.Errorf("invalid %s_VAULT_ADDRESS for chain %d: %s",
				chainConfig.Name, chainID, chainConfig.VaultAddress)
		}
		if !common.IsHexAddress(chainConfig.TokenAddress) {
			return fmt.Errorf("invalid %s_TOKEN_ADDRESS for chain %d: %s",
				chainConfig.Name, chainID, chainConfig.TokenAddress)
		}
	}
	return nil
}
