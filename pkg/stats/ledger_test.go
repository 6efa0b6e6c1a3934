package stats

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/models"
)

func testIntent(fee int64) models.PaymentIntent {
	return models.PaymentIntent{
		TxHash:           common.HexToHash("0x01"),
		Sender:           common.HexToAddress("0x1111111111111111111111111111111111111111"),
		RecipientAddress: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount:           big.NewInt(1000),
		PriorityFee:      big.NewInt(fee),
		Nonce:            big.NewInt(0),
	}
}

func TestLedgerRecord(t *testing.T) {
	ledger := NewLedger(nil, &logger.EmptyLogger{})

	ledger.Record(testIntent(50), models.Succeeded(common.HexToHash("0xaa"), 21000, big.NewInt(2), big.NewInt(50)))
	ledger.Record(testIntent(30), models.Reverted(common.HexToHash("0xbb"), 10000, big.NewInt(1), errors.New("reverted")))
	ledger.Record(testIntent(30), models.Failed(models.FailureEstimation, common.Hash{}, errors.New("estimate")))

	snapshot := ledger.Snapshot()
	s := snapshot.Stats
	assert.Equal(t, uint64(3), s.TotalExecutions)
	assert.Equal(t, uint64(1), s.SuccessfulExecutions)
	assert.Equal(t, uint64(2), s.FailedExecutions)
	assert.Equal(t, "50", s.TotalFeeEarned.String())
	assert.Equal(t, "52000", s.TotalGasSpent.String())
	assert.Equal(t, "-51950", s.NetProfit.String())
	assert.False(t, s.LastExecution.IsZero())

	require.Len(t, snapshot.History, 3)
	assert.True(t, snapshot.History[0].Success)
	assert.Equal(t, "-41950", snapshot.History[0].Profit.String())
	assert.Equal(t, "reverted", snapshot.History[1].Reason)
	assert.Equal(t, "estimation_failed", snapshot.History[2].Reason)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", snapshot.History[0].Recipient)
}

func TestLedgerSnapshotIsCopy(t *testing.T) {
	ledger := NewLedger(nil, &logger.EmptyLogger{})
	ledger.Record(testIntent(50), models.Succeeded(common.HexToHash("0xaa"), 1, big.NewInt(1), big.NewInt(50)))

	snapshot := ledger.Snapshot()
	snapshot.Stats.TotalFeeEarned.SetInt64(999)
	snapshot.History[0].Success = false

	again := ledger.Snapshot()
	assert.Equal(t, "50", again.Stats.TotalFeeEarned.String())
	assert.True(t, again.History[0].Success)
}

func TestLedgerHistoryBounded(t *testing.T) {
	ledger := NewLedger(nil, &logger.EmptyLogger{})
	for i := 0; i < HistorySize+5; i++ {
		ledger.Record(testIntent(int64(i)), models.Succeeded(common.BigToHash(big.NewInt(int64(i+1))), 0, big.NewInt(0), big.NewInt(int64(i))))
	}

	snapshot := ledger.Snapshot()
	require.Len(t, snapshot.History, HistorySize)
	assert.Equal(t, common.BigToHash(big.NewInt(6)), snapshot.History[0].TxHash)
	assert.Equal(t, uint64(HistorySize+5), snapshot.Stats.TotalExecutions)
}

func TestLedgerConcurrentRecord(t *testing.T) {
	ledger := NewLedger(nil, &logger.EmptyLogger{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledger.Record(testIntent(1), models.Succeeded(common.HexToHash("0xaa"), 0, big.NewInt(0), big.NewInt(1)))
		}()
	}
	wg.Wait()

	s := ledger.Snapshot().Stats
	assert.Equal(t, uint64(100), s.TotalExecutions)
	assert.Equal(t, "100", s.TotalFeeEarned.String())
}

// slowStore stalls saving the first execution so a later save can race it
type slowStore struct {
	mu        sync.Mutex
	saving    chan struct{}
	lastTotal uint64
}

func (s *slowStore) Load() (*Snapshot, error) {
	return nil, nil
}

func (s *slowStore) Save(snapshot Snapshot) error {
	if snapshot.Stats.TotalExecutions == 1 {
		close(s.saving)
		time.Sleep(50 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTotal = snapshot.Stats.TotalExecutions
	return nil
}

func TestLedgerPersistsInRecordOrder(t *testing.T) {
	store := &slowStore{saving: make(chan struct{})}
	ledger := NewLedger(store, &logger.EmptyLogger{})
	result := models.Succeeded(common.HexToHash("0xaa"), 0, big.NewInt(0), big.NewInt(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ledger.Record(testIntent(1), result)
	}()

	<-store.saving
	ledger.Record(testIntent(1), result)
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, uint64(2), store.lastTotal)
	assert.Equal(t, uint64(2), ledger.Snapshot().Stats.TotalExecutions)
}

func TestLedgerPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	ledger := NewLedger(NewFileStore(path), &logger.EmptyLogger{})
	require.NoError(t, ledger.Restore())
	ledger.Record(testIntent(50), models.Succeeded(common.HexToHash("0xaa"), 100, big.NewInt(3), big.NewInt(50)))

	restored := NewLedger(NewFileStore(path), &logger.EmptyLogger{})
	require.NoError(t, restored.Restore())

	snapshot := restored.Snapshot()
	assert.Equal(t, uint64(1), snapshot.Stats.SuccessfulExecutions)
	assert.Equal(t, "50", snapshot.Stats.TotalFeeEarned.String())
	assert.Equal(t, "300", snapshot.Stats.TotalGasSpent.String())
	require.Len(t, snapshot.History, 1)
	assert.Equal(t, common.HexToHash("0xaa"), snapshot.History[0].TxHash)

	restored.Reset()
	again := NewLedger(NewFileStore(path), &logger.EmptyLogger{})
	require.NoError(t, again.Restore())
	assert.Equal(t, uint64(0), again.Snapshot().Stats.TotalExecutions)
	assert.Empty(t, again.Snapshot().History)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	ledger := NewLedger(NewFileStore(path), &logger.EmptyLogger{})
	assert.Error(t, ledger.Restore())
}

func TestLedgerSummary(t *testing.T) {
	ledger := NewLedger(nil, &logger.EmptyLogger{})
	ledger.Record(testIntent(50), models.Succeeded(common.HexToHash("0xaa"), 0, big.NewInt(0), big.NewInt(50)))
	ledger.Record(testIntent(50), models.Failed(models.FailureSubmission, common.Hash{}, errors.New("boom")))

	summary := ledger.Summary()
	assert.Contains(t, summary, "Executions:      2 (1 successful, 1 failed)")
	assert.Contains(t, summary, "Success rate:    50.0%")
	assert.Contains(t, summary, "Fees earned:     50")
}
