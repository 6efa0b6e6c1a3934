package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xOucan/PAYVVM/pkg/logger"
)

const (
	// DefaultRPCURL is the public Sepolia endpoint
	DefaultRPCURL = "https://rpc.sepolia.org"

	// DefaultEvvmAddress is the EVVM payment contract on Sepolia
	DefaultEvvmAddress = "0x9486f6C9d28ECdd95aba5bfa6188Bbc104d89C3e"

	// DefaultStakingAddress is the staking contract on Sepolia
	DefaultStakingAddress = "0x64A47d84dE05B9Efda4F63Fbca2Fc8cEb96E6816"

	// DefaultMinPriorityFee defines the minimum priority fee in token base units
	DefaultMinPriorityFee = "0"

	// DefaultGasLimit is the gas limit ceiling for relay transactions
	DefaultGasLimit = 500000

	// DefaultPollInterval is the block poll interval of the fallback source
	DefaultPollInterval = 2 * time.Second

	// DefaultResubscribeInterval is how long to poll before trying push again
	DefaultResubscribeInterval = 30 * time.Second

	// DefaultReceiptTimeout bounds the wait for a relay transaction to be mined
	DefaultReceiptTimeout = 120 * time.Second

	// DefaultMaxConcurrentPipelines of 0 means unbounded
	DefaultMaxConcurrentPipelines = 0

	// DefaultSeenCacheSize is the window of recently delivered hashes
	DefaultSeenCacheSize = 100000

	// DefaultRPCRateLimit of 0 leaves read calls unthrottled
	DefaultRPCRateLimit = 0

	// DefaultStatsFile is where stats are persisted between runs
	DefaultStatsFile = "fisher-stats.json"

	// DefaultMaxGasPrice defines the maximum gas price for transactions
	DefaultMaxGasPrice = "100000000000" // 100 Gwei

	// DefaultGasMultiplier is applied on top of the suggested gas price
	DefaultGasMultiplier = 1.1

	// DefaultGasPriceRefreshInterval is the gas price routine period
	DefaultGasPriceRefreshInterval = 15 * time.Second

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the window in which failures are counted
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultLogLevel is the minimum level printed
	DefaultLogLevel = logger.InfoLevel

	// DefaultLogColoring enables coloured prefixes
	DefaultLogColoring = true
)

// GetEnvEnabled returns whether the relay is switched on
func GetEnvEnabled() (bool, error) {
	return getEnvBool("FISHER_ENABLED", false)
}

// GetEnvPrivateKey returns the relay key as 64 hex characters without the 0x prefix
func GetEnvPrivateKey() string {
	key := strings.TrimSpace(os.Getenv("FISHER_PRIVATE_KEY"))
	return strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
}

// GetEnvRPCURL returns the JSON-RPC endpoint, accepting NEXT_PUBLIC_RPC_URL as an alias
func GetEnvRPCURL() (string, error) {
	rpcURL := os.Getenv("FISHER_RPC_URL")
	if rpcURL == "" {
		rpcURL = os.Getenv("NEXT_PUBLIC_RPC_URL")
	}
	if rpcURL == "" {
		return DefaultRPCURL, nil
	}

	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return "", fmt.Errorf("invalid FISHER_RPC_URL value: %s, must be a valid URL", rpcURL)
	}
	return rpcURL, nil
}

// GetEnvWSURL returns the push subscription endpoint. When unset it is derived from
// the RPC URL; an RPC URL that is not http(s) yields an empty string and polling only.
func GetEnvWSURL(rpcURL string) (string, error) {
	wsURL := os.Getenv("FISHER_WS_URL")
	if wsURL == "" {
		return DeriveWSURL(rpcURL), nil
	}

	parsed, err := url.ParseRequestURI(wsURL)
	if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
		return "", fmt.Errorf("invalid FISHER_WS_URL value: %s, must be a ws:// or wss:// URL", wsURL)
	}
	return wsURL, nil
}

// DeriveWSURL swaps an http(s) scheme for ws(s)
func DeriveWSURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	case strings.HasPrefix(rpcURL, "ws://"), strings.HasPrefix(rpcURL, "wss://"):
		return rpcURL
	default:
		return ""
	}
}

// GetEnvMinPriorityFee returns the minimum priority fee in token base units
func GetEnvMinPriorityFee() (*big.Int, error) {
	return getEnvBigInt("FISHER_MIN_PRIORITY_FEE", DefaultMinPriorityFee)
}

// GetEnvGasLimit returns the gas limit ceiling
func GetEnvGasLimit() (uint64, error) {
	gasLimit := os.Getenv("FISHER_GAS_LIMIT")
	if gasLimit == "" {
		return DefaultGasLimit, nil
	}

	limit, err := strconv.ParseUint(gasLimit, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid FISHER_GAS_LIMIT value: %s, must be an unsigned integer", gasLimit)
	}
	return limit, nil
}

// GetEnvEvvmAddress returns the EVVM payment contract address
func GetEnvEvvmAddress() (common.Address, error) {
	return getEnvAddress("EVVM_ADDRESS", DefaultEvvmAddress)
}

// GetEnvStakingAddress returns the staking contract address
func GetEnvStakingAddress() (common.Address, error) {
	return getEnvAddress("STAKING_ADDRESS", DefaultStakingAddress)
}

// GetEnvEvvmID returns the configured EVVM ID, or nil when it should be read from chain
func GetEnvEvvmID() (*big.Int, error) {
	if os.Getenv("EVVM_ID") == "" {
		return nil, nil
	}
	return getEnvBigInt("EVVM_ID", "")
}

// GetEnvPollInterval returns the block poll interval
func GetEnvPollInterval() (time.Duration, error) {
	return getEnvDuration("FISHER_POLL_INTERVAL", DefaultPollInterval)
}

// GetEnvResubscribeInterval returns how long to poll before retrying push
func GetEnvResubscribeInterval() (time.Duration, error) {
	return getEnvDuration("FISHER_RESUBSCRIBE_INTERVAL", DefaultResubscribeInterval)
}

// GetEnvReceiptTimeout returns the confirmation wait bound
func GetEnvReceiptTimeout() (time.Duration, error) {
	return getEnvDuration("FISHER_RECEIPT_TIMEOUT", DefaultReceiptTimeout)
}

// GetEnvMaxConcurrentPipelines returns the pipeline concurrency ceiling
func GetEnvMaxConcurrentPipelines() (int, error) {
	return getEnvInt("FISHER_MAX_CONCURRENT_PIPELINES", DefaultMaxConcurrentPipelines, 0)
}

// GetEnvSeenCacheSize returns the size of the delivered hash window
func GetEnvSeenCacheSize() (int, error) {
	return getEnvInt("FISHER_SEEN_CACHE_SIZE", DefaultSeenCacheSize, 1)
}

// GetEnvRPCRateLimit returns the read call rate limit per second
func GetEnvRPCRateLimit() (float64, error) {
	return getEnvFloat("FISHER_RPC_RATE_LIMIT", DefaultRPCRateLimit)
}

// GetEnvStatsFile returns the stats persistence path; FISHER_STATS_FILE set to "" disables it
func GetEnvStatsFile() string {
	statsFile, ok := os.LookupEnv("FISHER_STATS_FILE")
	if !ok {
		return DefaultStatsFile
	}
	return statsFile
}

// GetEnvMaxGasPrice returns the maximum gas price from environment variables
func GetEnvMaxGasPrice() (*big.Int, error) {
	return getEnvBigInt("MAX_GAS_PRICE", DefaultMaxGasPrice)
}

// GetEnvGasMultiplier returns the multiplier applied to the suggested gas price
func GetEnvGasMultiplier() (float64, error) {
	multiplier, err := getEnvFloat("GAS_MULTIPLIER", DefaultGasMultiplier)
	if err != nil {
		return 0, err
	}
	if multiplier < 1 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be greater than or equal to 1")
	}
	return multiplier, nil
}

// GetEnvGasPriceRefreshInterval returns the gas price routine period
func GetEnvGasPriceRefreshInterval() (time.Duration, error) {
	return getEnvDuration("GAS_PRICE_REFRESH_INTERVAL", DefaultGasPriceRefreshInterval)
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold, 1)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvMetricsPort returns the metrics server port; METRICS_PORT set to "" disables the server
func GetEnvMetricsPort() (string, error) {
	metricsPort, ok := os.LookupEnv("METRICS_PORT")
	if !ok {
		return DefaultMetricsPort, nil
	}
	if metricsPort == "" {
		return "", nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvMetricsAPIKey returns the key guarding the metrics endpoint
func GetEnvMetricsAPIKey() string {
	return os.Getenv("METRICS_API_KEY")
}

// GetEnvSentryDSN returns the Sentry DSN, empty when reporting is off
func GetEnvSentryDSN() string {
	return os.Getenv("SENTRY_DSN")
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return DefaultLogLevel, nil
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", level)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether log prefixes are coloured
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", DefaultLogColoring)
}

func getEnvBool(name string, def bool) (bool, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	if value == "true" {
		return true, nil
	} else if value == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, value)
}

func getEnvInt(name string, def, min int) (int, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, value)
	}
	if parsed < min {
		return 0, fmt.Errorf("%s must be greater than or equal to %d", name, min)
	}
	return parsed, nil
}

func getEnvFloat(name string, def float64) (float64, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid %s value: %s, must be a non-negative number", name, value)
	}
	return parsed, nil
}

func getEnvDuration(name string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

func getEnvBigInt(name, def string) (*big.Int, error) {
	value := os.Getenv(name)
	if value == "" {
		value = def
	}

	parsed := new(big.Int)
	if _, ok := parsed.SetString(value, 10); !ok {
		return nil, fmt.Errorf("invalid %s value: %s, must be a valid integer string", name, value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("%s must be greater than or equal to 0", name)
	}
	return parsed, nil
}

func getEnvAddress(name, def string) (common.Address, error) {
	value := os.Getenv(name)
	if value == "" {
		value = def
	}

	// Validate Ethereum address format
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", name, value)
	}
	return common.HexToAddress(value), nil
}
