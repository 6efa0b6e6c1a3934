package blockchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/metrics"
)

// syncInterval is how long an allocated nonce sequence is trusted before re-reading the chain
const syncInterval = 5 * time.Minute

// TransactionStatus represents the status of a transaction
type TransactionStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TransactionStatus = iota
	// TxConfirmed indicates transaction is confirmed
	TxConfirmed
	// TxFailed indicates transaction has failed
	TxFailed
	// TxTimedOut indicates transaction has timed out
	TxTimedOut
)

// TransactionRecord tracks details about a relay transaction
type TransactionRecord struct {
	Hash      common.Hash
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// PendingNonceReader reads the next account nonce including pending transactions
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager allocates outbound nonces for the relay account and tracks
// broadcast transactions until they confirm or fail
type NonceManager struct {
	reader  PendingNonceReader
	address common.Address
	logger  logger.Logger

	mu           sync.Mutex
	currentNonce uint64
	pendingTxs   map[uint64]*TransactionRecord
	lastSync     time.Time
	txTimeout    time.Duration
}

// NewNonceManager creates a new nonce manager for address
func NewNonceManager(reader PendingNonceReader, address common.Address, log logger.Logger) *NonceManager {
	return &NonceManager{
		reader:     reader,
		address:    address,
		logger:     log,
		pendingTxs: make(map[uint64]*TransactionRecord),
		txTimeout:  5 * time.Minute, // Default timeout of 5 minutes
	}
}

// SetTransactionTimeout sets the age after which a pending transaction is reported as timed out
func (nm *NonceManager) SetTransactionTimeout(timeout time.Duration) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.txTimeout = timeout
}

// Next reserves and returns the next available nonce
func (nm *NonceManager) Next(ctx context.Context) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	// If nonce hasn't been initialized or the last sync is stale
	if nm.lastSync.IsZero() || time.Since(nm.lastSync) > syncInterval {
		if err := nm.syncLocked(ctx); err != nil {
			return 0, err
		}
	}

	nonce := nm.currentNonce
	nm.currentNonce++
	return nonce, nil
}

// Track records a broadcast transaction
func (nm *NonceManager) Track(txHash common.Hash, nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := time.Now()
	nm.pendingTxs[nonce] = &TransactionRecord{
		Hash:      txHash,
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	metrics.PendingRelayTxs.Set(float64(len(nm.pendingTxs)))

	nm.logger.DebugWithStage(logger.Exec, "Tracking relay transaction with nonce %d: %s", nonce, txHash.Hex())
}

// Confirm removes a mined transaction. It returns false if nonce was not tracked.
func (nm *NonceManager) Confirm(nonce uint64) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	tx, exists := nm.pendingTxs[nonce]
	if !exists {
		return false
	}

	tx.Status = TxConfirmed
	tx.UpdatedAt = time.Now()
	delete(nm.pendingTxs, nonce)
	metrics.PendingRelayTxs.Set(float64(len(nm.pendingTxs)))
	return true
}

// Fail releases a nonce whose transaction never reached the mempool.
// The nonce is handed out again when it is the most recently allocated one.
func (nm *NonceManager) Fail(nonce uint64) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if tx, exists := nm.pendingTxs[nonce]; exists {
		tx.Status = TxFailed
		tx.UpdatedAt = time.Now()
		delete(nm.pendingTxs, nonce)
		metrics.PendingRelayTxs.Set(float64(len(nm.pendingTxs)))
	}

	if nm.currentNonce == nonce+1 {
		nm.currentNonce = nonce
		nm.logger.DebugWithStage(logger.Exec, "Reusing nonce %d after failed broadcast", nonce)
		return true
	}
	return false
}

// Invalidate forces the next allocation to re-read the account nonce from the chain
func (nm *NonceManager) Invalidate() {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.lastSync = time.Time{}
}

// FindTimeoutTransactions returns the nonces of transactions pending for longer than the timeout
func (nm *NonceManager) FindTimeoutTransactions() []uint64 {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := time.Now()
	var timedOutNonces []uint64

	for nonce, tx := range nm.pendingTxs {
		if tx.Status == TxPending && now.Sub(tx.CreatedAt) > nm.txTimeout {
			tx.Status = TxTimedOut
			tx.UpdatedAt = now
			nm.logger.NoticeWithStage(logger.Exec, "Relay transaction with nonce %d still pending after %s: %s", nonce, nm.txTimeout, tx.Hash.Hex())
			timedOutNonces = append(timedOutNonces, nonce)
		}
	}

	return timedOutNonces
}

// Sync synchronizes the nonce with the chain
func (nm *NonceManager) Sync(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.syncLocked(ctx)
}

func (nm *NonceManager) syncLocked(ctx context.Context) error {
	nonce, err := nm.reader.PendingNonceAt(ctx, nm.address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %w", err)
	}

	// a stale sequence behind the chain would only produce "nonce too low"
	if nonce > nm.currentNonce || nm.lastSync.IsZero() {
		if nonce != nm.currentNonce {
			nm.logger.DebugWithStage(logger.Exec, "Updating relay nonce: %d -> %d", nm.currentNonce, nonce)
		}
		nm.currentNonce = nonce
	}
	nm.lastSync = time.Now()
	return nil
}

// PendingCount returns the number of tracked transactions not yet confirmed
func (nm *NonceManager) PendingCount() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pendingTxs)
}
