package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetChainName(t *testing.T) {
	assert.Equal(t, "SEPOLIA", GetChainName(11155111))
	assert.Equal(t, "ETHEREUM", GetChainName(1))
	assert.Equal(t, "CHAIN_999", GetChainName(999))
}

func TestTxURL(t *testing.T) {
	hash := "0xabc"
	assert.Equal(t, "https://sepolia.etherscan.io/tx/0xabc", TxURL(11155111, hash))
	assert.Equal(t, "https://etherscan.io/tx/0xabc", TxURL(1, hash))
	assert.Empty(t, TxURL(1337, hash))
}
