// Package decoder recognises pay calls to the EVVM contract in raw transactions.
package decoder

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xOucan/PAYVVM/pkg/contracts"
	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/models"
)

// Decoder turns transactions addressed to the payment contract into intents
type Decoder struct {
	contract common.Address
	logger   logger.Logger
}

// New creates a decoder for pay calls to contract
func New(contract common.Address, log logger.Logger) *Decoder {
	return &Decoder{
		contract: contract,
		logger:   log,
	}
}

// Decode returns the intent carried by tx, or false when tx is not a pay call to the
// payment contract. Malformed calldata is logged and treated as not a pay call.
func (d *Decoder) Decode(tx *types.Transaction) (models.PaymentIntent, bool) {
	if tx == nil || tx.To() == nil || *tx.To() != d.contract {
		return models.PaymentIntent{}, false
	}

	data := tx.Data()
	if !contracts.HasPaySelector(data) {
		return models.PaymentIntent{}, false
	}

	args, err := contracts.UnpackPay(data)
	if err != nil {
		if !errors.Is(err, contracts.ErrNotPayCall) {
			d.logger.DebugWithStage(logger.Decode, "Malformed pay calldata in %s: %v", tx.Hash().Hex(), err)
		}
		return models.PaymentIntent{}, false
	}

	return models.NewPaymentIntent(tx.Hash(), args), true
}
