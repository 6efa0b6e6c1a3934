package mocks

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/0xOucan/PAYVVM/pkg/contracts"
	"github.com/0xOucan/PAYVVM/pkg/models"
)

// PayTx wraps intent in an unsigned transaction to the payment contract.
// The nonce keeps hashes of otherwise identical transactions distinct.
func PayTx(t *testing.T, evvm common.Address, intent models.PaymentIntent, nonce uint64) *types.Transaction {
	data, err := contracts.PackPay(intent.PayArgs())
	require.NoError(t, err, "Failed to pack pay call")

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &evvm,
		Gas:      200000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
}
