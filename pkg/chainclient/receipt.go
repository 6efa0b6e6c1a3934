package chainclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultReceiptPollInterval is how often AwaitReceipt asks for a receipt
const DefaultReceiptPollInterval = time.Second

// ReceiptReader fetches transaction receipts
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// AwaitReceipt polls for the receipt of hash until it is mined or timeout elapses.
// Transient RPC errors are tolerated until the deadline. On deadline it returns an
// error wrapping ErrConfirmationTimeout.
func AwaitReceipt(ctx context.Context, reader ReceiptReader, hash common.Hash, timeout, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := reader.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}

		select {
		case <-waitCtx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("%w after %s for %s (last error: %v)", ErrConfirmationTimeout, timeout, hash.Hex(), lastErr)
			}
			return nil, fmt.Errorf("%w after %s for %s", ErrConfirmationTimeout, timeout, hash.Hex())
		case <-ticker.C:
		}
	}
}
