package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/vaultpay-hq/facilitator/pkg/logger"
)

const (
	mainnet = "mainnet"
	testnet = "testnet"

	// DefaultNetwork is the default blockchain network to connect to
	DefaultNetwork = mainnet

	// DefaultAPIPort defines the default port for the facilitator API
	DefaultAPIPort = "8402"

	// DefaultMetricsPort defines the default port for the metrics and health server
	DefaultMetricsPort = "9090"

	// DefaultSettleInterval defines how often the batch settler drains the queue, in seconds
	DefaultSettleInterval = 30

	// DefaultSettleTimeout bounds how long a synchronous settlement waits for confirmation, in seconds
	DefaultSettleTimeout = 90

	// DefaultRetention defines how long terminal queue records are kept, in hours
	DefaultRetention = 24

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultMaxGasPrice defines the maximum gas price for settlement transactions
	DefaultMaxGasPrice = "1000000000" // 1 Gwei
)

// chainDef describes one supported network. Vault addresses are
// deployment-specific and carry no default; they come from the
// environment and are checked during config validation.
type chainDef struct {
	chainID    int
	name       string
	network    string
	defaultRPC string
}

var chainDefs = []chainDef{
	{8453, "BASE", mainnet, "https://mainnet.base.org"},
	{1, "ETHEREUM", mainnet, "https://eth.llamarpc.com"},
	{137, "POLYGON", mainnet, "https://polygon-rpc.com"},
	{42161, "ARBITRUM", mainnet, "https://arb1.arbitrum.io/rpc"},
	{43114, "AVALANCHE", mainnet, "https://avalanche-c-chain-rpc.publicnode.com"},
	{84532, "BASE_SEPOLIA", testnet, "https://sepolia.base.org"},
	{11155111, "SEPOLIA", testnet, "https://ethereum-sepolia-rpc.publicnode.com"},
}

// GetEnvNetwork returns the configured network from environment variables or defaults to mainnet
func GetEnvNetwork() (string, error) {
	network := os.Getenv("NETWORK")
	if network == "" {
		network = DefaultNetwork
	}

	if network != mainnet && network != testnet {
		return "", fmt.Errorf("invalid NETWORK value: %s, must be 'mainnet' or 'testnet'", network)
	}

	return network, nil
}

// GetEnvAPIPort returns the facilitator API port from environment variables
func GetEnvAPIPort() (string, error) {
	apiPort := os.Getenv("API_PORT")
	if apiPort == "" {
		return DefaultAPIPort, nil
	}

	if _, err := strconv.Atoi(apiPort); err != nil {
		return "", fmt.Errorf("invalid API_PORT value: %s, must be a valid integer", apiPort)
	}
	return apiPort, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvMetricsKey returns the bearer key protecting the metrics endpoint.
// An empty key leaves the endpoint open.
func GetEnvMetricsKey() string {
	return os.Getenv("METRICS_KEY")
}

// GetEnvSettleInterval returns the batch settler interval from environment variables
func GetEnvSettleInterval() (time.Duration, error) {
	settleInterval := os.Getenv("SETTLE_INTERVAL")
	if settleInterval == "" {
		return time.Duration(DefaultSettleInterval) * time.Second, nil
	}

	interval, err := strconv.Atoi(settleInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid SETTLE_INTERVAL value: %s, must be an integer", settleInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("SETTLE_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvSettleTimeout returns the confirmation timeout from environment variables
func GetEnvSettleTimeout() (time.Duration, error) {
	settleTimeout := os.Getenv("SETTLE_TIMEOUT")
	if settleTimeout == "" {
		return time.Duration(DefaultSettleTimeout) * time.Second, nil
	}

	timeout, err := strconv.Atoi(settleTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid SETTLE_TIMEOUT value: %s, must be an integer", settleTimeout)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("SETTLE_TIMEOUT must be greater than 0")
	}
	return time.Duration(timeout) * time.Second, nil
}

// GetEnvRetention returns the terminal-record retention window from environment variables
func GetEnvRetention() (time.Duration, error) {
	retention := os.Getenv("RETENTION_HOURS")
	if retention == "" {
		return DefaultRetention * time.Hour, nil
	}

	hours, err := strconv.Atoi(retention)
	if err != nil {
		return 0, fmt.Errorf("invalid RETENTION_HOURS value: %s, must be an integer", retention)
	}
	if hours <= 0 {
		return 0, fmt.Errorf("RETENTION_HOURS must be greater than 0")
	}
	return time.Duration(hours) * time.Hour, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvMaxGasPrice returns the maximum gas price from environment variables
func GetEnvMaxGasPrice() (*big.Int, error) {
	maxGasPrice := os.Getenv("MAX_GAS_PRICE")
	if maxGasPrice == "" {
		maxGasPrice = DefaultMaxGasPrice
	}

	maxGasPriceBig := new(big.Int)
	if _, ok := maxGasPriceBig.SetString(maxGasPrice, 10); !ok {
		return nil, fmt.Errorf("invalid MAX_GAS_PRICE value: %s, must be a valid integer string", maxGasPrice)
	}

	if maxGasPriceBig.Cmp(big.NewInt(0)) < 0 {
		return nil, fmt.Errorf("MAX_GAS_PRICE must be greater than or equal to 0")
	}
	return maxGasPriceBig, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvChainConfigs returns the chain configurations for the given network.
// Each chain reads <NAME>_RPC_URL, <NAME>_VAULT_ADDRESS and
// <NAME>_TOKEN_ADDRESS, falling back to the built-in RPC and token tables.
func GetEnvChainConfigs(network string) ([]ChainConfig, error) {
	if network != mainnet && network != testnet {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}

	var configs []ChainConfig
	for _, def := range chainDefs {
		if def.network != network {
			continue
		}

		rpc := os.Getenv(def.name + "_RPC_URL")
		if rpc == "" {
			rpc = def.defaultRPC
		}
		token := os.Getenv(def.name + "_TOKEN_ADDRESS")
		if token == "" {
			token = GetUSDCAddress(def.chainID)
		}

		configs = append(configs, ChainConfig{
			ChainID:      def.chainID,
			Name:         def.name,
			RPCURL:       rpc,
			VaultAddress: os.Getenv(def.name + "_VAULT_ADDRESS"),
			TokenAddress: token,
		})
	}
	return configs, nil
}
