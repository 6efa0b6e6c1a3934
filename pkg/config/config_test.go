package config

import (
	"go/format"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xOucan/PAYVVM/pkg/logger"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLoadConfigDisabled(t *testing.T) {
	t.Setenv("FISHER_ENABLED", "")
	t.Setenv("FISHER_PRIVATE_KEY", "")

	_, err := LoadConfig()
	assert.ErrorIs(t, err, ErrDisabled)

	t.Setenv("FISHER_ENABLED", "false")
	_, err = LoadConfig()
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("FISHER_ENABLED", "true")
	t.Setenv("FISHER_PRIVATE_KEY", testKey)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, "wss://rpc.sepolia.org", cfg.WSURL)
	assert.Equal(t, 0, cfg.MinPriorityFee.Sign())
	assert.Equal(t, uint64(DefaultGasLimit), cfg.GasLimit)
	assert.Equal(t, common.HexToAddress(DefaultEvvmAddress), cfg.EvvmAddress)
	assert.Equal(t, common.HexToAddress(DefaultStakingAddress), cfg.StakingAddress)
	assert.Nil(t, cfg.EvvmID)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.ReceiptTimeout)
	assert.Equal(t, DefaultStatsFile, cfg.StatsFile)
	assert.Equal(t, "100000000000", cfg.MaxGasPrice.String())
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, logger.InfoLevel, cfg.LoggerConfig.Level)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), cfg.RelayAddress())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("FISHER_ENABLED", "true")
	t.Setenv("FISHER_PRIVATE_KEY", testKey[2:])
	t.Setenv("NEXT_PUBLIC_RPC_URL", "http://localhost:8545")
	t.Setenv("FISHER_MIN_PRIORITY_FEE", "50")
	t.Setenv("EVVM_ID", "1000")
	t.Setenv("FISHER_MAX_CONCURRENT_PIPELINES", "4")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FISHER_STATS_FILE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, "ws://localhost:8545", cfg.WSURL)
	assert.Equal(t, big.NewInt(50), cfg.MinPriorityFee)
	assert.Equal(t, big.NewInt(1000), cfg.EvvmID)
	assert.Equal(t, 4, cfg.MaxConcurrentPipelines)
	assert.Equal(t, logger.DebugLevel, cfg.LoggerConfig.Level)
	assert.Empty(t, cfg.StatsFile)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing key",
			env:     map[string]string{"FISHER_PRIVATE_KEY": ""},
			wantErr: "FISHER_PRIVATE_KEY environment variable is required",
		},
		{
			name:    "short key",
			env:     map[string]string{"FISHER_PRIVATE_KEY": "0xabc"},
			wantErr: "invalid FISHER_PRIVATE_KEY value",
		},
		{
			name:    "bad fee",
			env:     map[string]string{"FISHER_MIN_PRIORITY_FEE": "-1"},
			wantErr: "FISHER_MIN_PRIORITY_FEE must be greater than or equal to 0",
		},
		{
			name:    "bad address",
			env:     map[string]string{"EVVM_ADDRESS": "0x1234"},
			wantErr: "invalid EVVM_ADDRESS value",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"FISHER_RECEIPT_TIMEOUT": "soon"},
			wantErr: "invalid FISHER_RECEIPT_TIMEOUT value",
		},
		{
			name:    "bad ws scheme",
			env:     map[string]string{"FISHER_WS_URL": "http://localhost:8546"},
			wantErr: "invalid FISHER_WS_URL value",
		},
		{
			name:    "gas limit below transfer cost",
			env:     map[string]string{"FISHER_GAS_LIMIT": "100"},
			wantErr: "GasLimit",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"LOG_LEVEL": "verbose"},
			wantErr: "invalid LOG_LEVEL value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FISHER_ENABLED", "true")
			t.Setenv("FISHER_PRIVATE_KEY", testKey)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.NotContains(t, err.Error(), testKey[2:])
		})
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "wss://eth-sepolia.example/v2/key", DeriveWSURL("https://eth-sepolia.example/v2/key"))
	assert.Equal(t, "ws://127.0.0.1:8545", DeriveWSURL("http://127.0.0.1:8545"))
	assert.Equal(t, "wss://node", DeriveWSURL("wss://node"))
	assert.Empty(t, DeriveWSURL("/var/run/geth.ipc"))
}

func TestConfigSourceFormatted(t *testing.T) {
	src, err := os.ReadFile("config.go")
	require.NoError(t, err)

	formatted, err := format.Source(src)
	require.NoError(t, err)
	assert.Equal(t, string(formatted), string(src))
}
