package verify

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xOucan/PAYVVM/pkg/models"
)

// NonceReader reads the sender nonce state of the payment contract
type NonceReader interface {
	GetNextCurrentSyncNonce(ctx context.Context, user common.Address) (*big.Int, error)
	GetIfUsedAsyncNonce(ctx context.Context, user common.Address, nonce *big.Int) (bool, error)
}

// NonceValidator checks intent nonces against live contract state. Nothing is cached:
// other relays and the sender can consume nonces between observation and execution.
type NonceValidator struct {
	reader NonceReader
}

// NewNonceValidator creates a nonce validator
func NewNonceValidator(reader NonceReader) *NonceValidator {
	return &NonceValidator{reader: reader}
}

// IsAcceptable reports whether nonce can still be used by sender in mode.
// Sync nonces must equal the next expected nonce; async nonces must be unused.
func (v *NonceValidator) IsAcceptable(ctx context.Context, sender common.Address, nonce *big.Int, mode models.NonceMode) (bool, error) {
	if nonce == nil {
		return false, nil
	}

	switch mode {
	case models.NonceSynchronous:
		next, err := v.reader.GetNextCurrentSyncNonce(ctx, sender)
		if err != nil {
			return false, fmt.Errorf("failed to read sync nonce: %w", err)
		}
		return next.Cmp(nonce) == 0, nil
	case models.NonceAsynchronous:
		used, err := v.reader.GetIfUsedAsyncNonce(ctx, sender, nonce)
		if err != nil {
			return false, fmt.Errorf("failed to read async nonce: %w", err)
		}
		return !used, nil
	default:
		return false, fmt.Errorf("unknown nonce mode %d", mode)
	}
}
