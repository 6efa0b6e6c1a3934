package verify

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xOucan/PAYVVM/pkg/models"
)

// BalanceReader reads sender balances held by the payment contract
type BalanceReader interface {
	GetBalance(ctx context.Context, user, token common.Address) (*big.Int, error)
}

// BalanceChecker checks that a sender can cover amount plus priority fee
type BalanceChecker struct {
	reader BalanceReader
}

// NewBalanceChecker creates a balance checker
func NewBalanceChecker(reader BalanceReader) *BalanceChecker {
	return &BalanceChecker{reader: reader}
}

// Covers reports whether the sender's balance of the intent token is at least
// amount + priorityFee. The balance read is returned for logging.
func (c *BalanceChecker) Covers(ctx context.Context, intent models.PaymentIntent) (bool, *big.Int, error) {
	balance, err := c.reader.GetBalance(ctx, intent.Sender, intent.Token)
	if err != nil {
		return false, nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance.Cmp(intent.TotalDebit()) >= 0, balance, nil
}
