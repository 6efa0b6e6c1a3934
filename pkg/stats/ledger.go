// Package stats accumulates relay execution outcomes.
package stats

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/metrics"
	"github.com/0xOucan/PAYVVM/pkg/models"
)

// HistorySize is the number of recent executions kept
const HistorySize = 10

// FisherStats is the aggregate of all recorded executions
type FisherStats struct {
	TotalExecutions      uint64    `json:"totalExecutions"`
	SuccessfulExecutions uint64    `json:"successfulExecutions"`
	FailedExecutions     uint64    `json:"failedExecutions"`
	TotalFeeEarned       *big.Int  `json:"totalFeeEarned"`
	TotalGasSpent        *big.Int  `json:"totalGasSpent"`
	NetProfit            *big.Int  `json:"netProfit"`
	LastExecution        time.Time `json:"lastExecution,omitempty"`
}

// Execution is one entry of the recent execution history
type Execution struct {
	TxHash      common.Hash    `json:"txHash"`
	IntentHash  common.Hash    `json:"intentHash"`
	Timestamp   time.Time      `json:"timestamp"`
	Sender      common.Address `json:"sender"`
	Recipient   string         `json:"recipient"`
	Amount      *big.Int       `json:"amount"`
	PriorityFee *big.Int       `json:"priorityFee"`
	GasUsed     uint64         `json:"gasUsed"`
	GasPrice    *big.Int       `json:"gasPrice"`
	Profit      *big.Int       `json:"profit"`
	Success     bool           `json:"success"`
	Reason      string         `json:"reason,omitempty"`
}

// Snapshot is a copy of the ledger state, also the persisted form
type Snapshot struct {
	Stats   FisherStats `json:"stats"`
	History []Execution `json:"history"`
}

// Store persists snapshots between runs
type Store interface {
	Load() (*Snapshot, error)
	Save(Snapshot) error
}

// Ledger records execution outcomes. It is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex
	// persistMu is taken before mu is released so saves land in snapshot order
	persistMu sync.Mutex
	stats     FisherStats
	history   []Execution
	store     Store
	logger    logger.Logger
	startedAt time.Time
}

// NewLedger creates an empty ledger. store may be nil.
func NewLedger(store Store, log logger.Logger) *Ledger {
	return &Ledger{
		stats:     emptyStats(),
		store:     store,
		logger:    log,
		startedAt: time.Now(),
	}
}

// Restore loads persisted state, if any
func (l *Ledger) Restore() error {
	if l.store == nil {
		return nil
	}

	snapshot, err := l.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	if snapshot == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats = normalize(snapshot.Stats)
	l.history = snapshot.History
	if len(l.history) > HistorySize {
		l.history = l.history[len(l.history)-HistorySize:]
	}
	l.publishLocked()

	l.logger.InfoWithStage(logger.Stats, "Restored stats: %d executions, %d successful", l.stats.TotalExecutions, l.stats.SuccessfulExecutions)
	return nil
}

// Record adds the outcome of executing intent
func (l *Ledger) Record(intent models.PaymentIntent, result models.ExecutionResult) {
	now := time.Now()
	gasCost := orZero(result.GasCost)
	fee := orZero(result.FeeEarned)
	profit := result.NetProfit()

	entry := Execution{
		TxHash:      result.TxHash,
		IntentHash:  intent.TxHash,
		Timestamp:   now,
		Sender:      intent.Sender,
		Recipient:   intent.Recipient(),
		Amount:      copyInt(intent.Amount),
		PriorityFee: copyInt(intent.PriorityFee),
		GasUsed:     result.GasUsed,
		GasPrice:    copyInt(result.GasPrice),
		Profit:      profit,
		Success:     result.Success,
	}
	if !result.Success {
		entry.Reason = result.Reason.String()
	}

	l.mu.Lock()
	l.stats.TotalExecutions++
	if result.Success {
		l.stats.SuccessfulExecutions++
	} else {
		l.stats.FailedExecutions++
	}
	l.stats.TotalFeeEarned.Add(l.stats.TotalFeeEarned, fee)
	l.stats.TotalGasSpent.Add(l.stats.TotalGasSpent, gasCost)
	l.stats.NetProfit.Add(l.stats.NetProfit, profit)
	l.stats.LastExecution = now

	l.history = append(l.history, entry)
	if len(l.history) > HistorySize {
		l.history = l.history[len(l.history)-HistorySize:]
	}
	l.publishLocked()
	l.persistAndUnlock(l.snapshotLocked())
}

// Snapshot returns a copy of the current state
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Reset clears all stats and history
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.stats = emptyStats()
	l.history = nil
	l.publishLocked()
	l.persistAndUnlock(l.snapshotLocked())
}

// Persist saves the current state
func (l *Ledger) Persist() {
	l.mu.Lock()
	l.persistAndUnlock(l.snapshotLocked())
}

// Summary formats the totals for the shutdown report
func (l *Ledger) Summary() string {
	snapshot := l.Snapshot()
	s := snapshot.Stats

	successRate := 0.0
	if s.TotalExecutions > 0 {
		successRate = float64(s.SuccessfulExecutions) / float64(s.TotalExecutions) * 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Fisher summary\n")
	fmt.Fprintf(&b, "  Uptime:          %s\n", time.Since(l.startedAt).Round(time.Second))
	fmt.Fprintf(&b, "  Executions:      %d (%d successful, %d failed)\n", s.TotalExecutions, s.SuccessfulExecutions, s.FailedExecutions)
	fmt.Fprintf(&b, "  Success rate:    %.1f%%\n", successRate)
	fmt.Fprintf(&b, "  Fees earned:     %s\n", s.TotalFeeEarned)
	fmt.Fprintf(&b, "  Gas spent (wei): %s\n", s.TotalGasSpent)
	fmt.Fprintf(&b, "  Net profit:      %s", s.NetProfit)
	return b.String()
}

// persistAndUnlock releases l.mu and saves snapshot, which must have been taken under it
func (l *Ledger) persistAndUnlock(snapshot Snapshot) {
	if l.store == nil {
		l.mu.Unlock()
		return
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	l.mu.Unlock()

	if err := l.store.Save(snapshot); err != nil {
		l.logger.ErrorWithStage(logger.Stats, "Failed to persist stats: %v", err)
	}
}

func (l *Ledger) snapshotLocked() Snapshot {
	history := make([]Execution, len(l.history))
	copy(history, l.history)
	return Snapshot{
		Stats: FisherStats{
			TotalExecutions:      l.stats.TotalExecutions,
			SuccessfulExecutions: l.stats.SuccessfulExecutions,
			FailedExecutions:     l.stats.FailedExecutions,
			TotalFeeEarned:       copyInt(l.stats.TotalFeeEarned),
			TotalGasSpent:        copyInt(l.stats.TotalGasSpent),
			NetProfit:            copyInt(l.stats.NetProfit),
			LastExecution:        l.stats.LastExecution,
		},
		History: history,
	}
}

func (l *Ledger) publishLocked() {
	metrics.FeeEarned.Set(toFloat(l.stats.TotalFeeEarned))
	metrics.GasSpent.Set(toFloat(l.stats.TotalGasSpent))
}

func emptyStats() FisherStats {
	return FisherStats{
		TotalFeeEarned: new(big.Int),
		TotalGasSpent:  new(big.Int),
		NetProfit:      new(big.Int),
	}
}

func normalize(s FisherStats) FisherStats {
	s.TotalFeeEarned = copyInt(s.TotalFeeEarned)
	s.TotalGasSpent = copyInt(s.TotalGasSpent)
	s.NetProfit = copyInt(s.NetProfit)
	return s
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
