package testutil

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xOucan/PAYVVM/pkg/models"
	"github.com/0xOucan/PAYVVM/pkg/verify"
)

// Constants for testing
const (
	DefaultTestTimeout = 5 * time.Second
)

// SetupSimulation creates a simulated blockchain environment for testing
func SetupSimulation(t *testing.T) (*simulated.Backend, *bind.TransactOpts, common.Address) {
	// Generate a new random private key
	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err, "Failed to generate private key")

	// Create auth
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, big.NewInt(1337))
	require.NoError(t, err, "Failed to create transactor")

	// Fund the account with some initial balance
	balance := new(big.Int)
	balance.SetString("10000000000000000000", 10) // 10 ETH
	address := auth.From
	//nolint:SA1019 // Using deprecated GenesisAccount for compatibility
	genesisAlloc := map[common.Address]core.GenesisAccount{
		address: {
			Balance: balance,
		},
	}

	sim := simulated.NewBackend(genesisAlloc)
	t.Cleanup(func() { _ = sim.Close() })

	return sim, auth, address
}

// NewKey generates a signing key and its address
func NewKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err, "Failed to generate private key")
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// GenerateAddress creates a random address for testing
func GenerateAddress() common.Address {
	privateKey, _ := crypto.GenerateKey()
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// SignIntent signs the pay message of intent the way a wallet's personal_sign does
func SignIntent(t *testing.T, key *ecdsa.PrivateKey, evvmID *big.Int, intent models.PaymentIntent) []byte {
	hash := accounts.TextHash([]byte(verify.PayMessage(evvmID, intent)))
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err, "Failed to sign intent")
	sig[64] += 27
	return sig
}

// NewSignedIntent builds a sync-nonce intent from key paying amount of token to recipient
func NewSignedIntent(t *testing.T, key *ecdsa.PrivateKey, evvmID *big.Int, token, recipient common.Address, amount, fee, nonce int64) models.PaymentIntent {
	intent := models.PaymentIntent{
		Sender:           crypto.PubkeyToAddress(key.PublicKey),
		RecipientAddress: recipient,
		Token:            token,
		Amount:           big.NewInt(amount),
		PriorityFee:      big.NewInt(fee),
		Nonce:            big.NewInt(nonce),
		NonceMode:        models.NonceSynchronous,
	}
	intent.Signature = SignIntent(t, key, evvmID, intent)
	return intent
}

// CreateBigInt parses a string into a big.Int
func CreateBigInt(value string) *big.Int {
	result := new(big.Int)
	result.SetString(value, 10)
	return result
}

// AssertBigIntEqual compares two big.Int values for equality in tests
func AssertBigIntEqual(t *testing.T, expected, actual *big.Int, msgAndArgs ...interface{}) {
	if expected == nil && actual == nil {
		return
	}

	if (expected == nil && actual != nil) || (expected != nil && actual == nil) {
		assert.Fail(t, "Values not equal", msgAndArgs...)
		return
	}

	assert.Equal(t, 0, expected.Cmp(actual), msgAndArgs...)
}

// SetupTestWithTimeout creates a context bounded by DefaultTestTimeout
func SetupTestWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTestTimeout)
	t.Cleanup(cancel)
	return ctx, cancel
}
