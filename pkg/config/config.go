package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/0xOucan/PAYVVM/pkg/logger"
)

// ErrDisabled is returned when FISHER_ENABLED is not true
var ErrDisabled = errors.New("fisher is disabled")

// Config holds the configuration for the fisher relay
type Config struct {
	PrivateKey             string   `validate:"required,hexadecimal,len=64"`
	RPCURL                 string   `validate:"required,url"`
	WSURL                  string   `validate:"omitempty,url"`
	MinPriorityFee         *big.Int `validate:"required"`
	GasLimit               uint64   `validate:"gte=21000"`
	EvvmAddress            common.Address
	StakingAddress         common.Address
	EvvmID                 *big.Int
	PollInterval           time.Duration `validate:"gt=0"`
	ResubscribeInterval    time.Duration `validate:"gt=0"`
	ReceiptTimeout         time.Duration `validate:"gt=0"`
	MaxConcurrentPipelines int           `validate:"gte=0"`
	SeenCacheSize          int           `validate:"gt=0"`
	RPCRateLimit           float64       `validate:"gte=0"`
	StatsFile              string
	MaxGasPrice            *big.Int      `validate:"required"`
	GasMultiplier          float64       `validate:"gte=1"`
	GasPriceRefresh        time.Duration `validate:"gt=0"`
	MetricsPort            string        `validate:"omitempty,numeric"`
	MetricsAPIKey          string
	SentryDSN              string `validate:"omitempty,url"`
	CircuitBreaker         CircuitBreakerConfig
	LoggerConfig           LoggerConfig

	// RelayKey is parsed from PrivateKey
	RelayKey *ecdsa.PrivateKey `validate:"-"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int           `validate:"gt=0"`
	WindowDuration time.Duration `validate:"gt=0"`
	ResetTimeout   time.Duration `validate:"gt=0"`
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// RelayAddress returns the address derived from the relay key
func (c *Config) RelayAddress() common.Address {
	return crypto.PubkeyToAddress(c.RelayKey.PublicKey)
}

// LoadConfig loads the configuration from environment variables.
// It returns ErrDisabled when the relay is not switched on.
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	enabled, err := GetEnvEnabled()
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrDisabled
	}

	rpcURL, err := GetEnvRPCURL()
	if err != nil {
		return nil, err
	}

	wsURL, err := GetEnvWSURL(rpcURL)
	if err != nil {
		return nil, err
	}

	minPriorityFee, err := GetEnvMinPriorityFee()
	if err != nil {
		return nil, err
	}

	gasLimit, err := GetEnvGasLimit()
	if err != nil {
		return nil, err
	}

	evvmAddress, err := GetEnvEvvmAddress()
	if err != nil {
		return nil, err
	}

	stakingAddress, err := GetEnvStakingAddress()
	if err != nil {
		return nil, err
	}

	evvmID, err := GetEnvEvvmID()
	if err != nil {
		return nil, err
	}

	pollInterval, err := GetEnvPollInterval()
	if err != nil {
		return nil, err
	}

	resubscribeInterval, err := GetEnvResubscribeInterval()
	if err != nil {
		return nil, err
	}

	receiptTimeout, err := GetEnvReceiptTimeout()
	if err != nil {
		return nil, err
	}

	maxConcurrent, err := GetEnvMaxConcurrentPipelines()
	if err != nil {
		return nil, err
	}

	seenCacheSize, err := GetEnvSeenCacheSize()
	if err != nil {
		return nil, err
	}

	rateLimit, err := GetEnvRPCRateLimit()
	if err != nil {
		return nil, err
	}

	maxGasPrice, err := GetEnvMaxGasPrice()
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	gasPriceRefresh, err := GetEnvGasPriceRefreshInterval()
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

	metricsPort, err := GetEnvMetricsPort()
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

	cfg := &Config{
		PrivateKey:             GetEnvPrivateKey(),
		RPCURL:                 rpcURL,
		WSURL:                  wsURL,
		MinPriorityFee:         minPriorityFee,
		GasLimit:               gasLimit,
		EvvmAddress:            evvmAddress,
		StakingAddress:         stakingAddress,
		EvvmID:                 evvmID,
		PollInterval:           pollInterval,
		ResubscribeInterval:    resubscribeInterval,
		ReceiptTimeout:         receiptTimeout,
		MaxConcurrentPipelines: maxConcurrent,
		SeenCacheSize:          seenCacheSize,
		RPCRateLimit:           rateLimit,
		StatsFile:              GetEnvStatsFile(),
		MaxGasPrice:            maxGasPrice,
		GasMultiplier:          gasMultiplier,
		GasPriceRefresh:        gasPriceRefresh,
		MetricsPort:            metricsPort,
		MetricsAPIKey:          GetEnvMetricsAPIKey(),
		SentryDSN:              GetEnvSentryDSN(),
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

// validateConfig validates the configuration and parses the relay key
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("FISHER_PRIVATE_KEY environment variable is required")
	}

	if err := validator.New().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			if first.Field() == "PrivateKey" {
				// never echo the key
				return fmt.Errorf("invalid FISHER_PRIVATE_KEY value, must be 32 bytes of hex")
			}
			return fmt.Errorf("invalid configuration: %s failed '%s' check", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	key, err := crypto.HexToECDSA(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("invalid FISHER_PRIVATE_KEY value, must be a valid secp256k1 key")
	}
	cfg.RelayKey = key

	if cfg.EvvmAddress == (common.Address{}) {
		return fmt.Errorf("EVVM_ADDRESS must not be the zero address")
	}
	if cfg.StakingAddress == (common.Address{}) {
		return fmt.Errorf("STAKING_ADDRESS must not be the zero address")
	}
	if cfg.EvvmAddress == cfg.StakingAddress {
		return fmt.Errorf("EVVM_ADDRESS and STAKING_ADDRESS must differ")
	}
	if cfg.MetricsAPIKey != "" && cfg.MetricsPort == "" {
		return fmt.Errorf("METRICS_API_KEY is set but METRICS_PORT is empty")
	}
	return nil
}
