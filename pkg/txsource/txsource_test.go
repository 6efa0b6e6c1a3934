package txsource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/metrics"
)

type fakeBlocks struct {
	mu      sync.Mutex
	head    uint64
	blocks  map[uint64][]common.Hash
	failAt  uint64
	headErr error
}

func newFakeBlocks(head uint64) *fakeBlocks {
	return &fakeBlocks{head: head, blocks: make(map[uint64][]common.Hash)}
}

func (f *fakeBlocks) setHead(head uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
}

func (f *fakeBlocks) HeadNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeBlocks) BlockTransactionHashes(_ context.Context, number uint64) ([]common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt != 0 && number == f.failAt {
		return nil, errors.New("block unavailable")
	}
	return f.blocks[number], nil
}

type fakeSubscription struct {
	errCh chan error
}

func (s *fakeSubscription) Unsubscribe() {}

func (s *fakeSubscription) Err() <-chan error {
	return s.errCh
}

// scriptedSubscriber accepts the first subscription, pushes hashes, then drops it.
// Every later attempt fails.
type scriptedSubscriber struct {
	hashes []common.Hash
	calls  atomic.Int32
}

func (s *scriptedSubscriber) SubscribePendingTransactions(_ context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	if s.calls.Add(1) > 1 {
		return nil, errors.New("dial tcp: connection refused")
	}
	sub := &fakeSubscription{errCh: make(chan error, 1)}
	go func() {
		for _, hash := range s.hashes {
			ch <- hash
		}
		time.Sleep(20 * time.Millisecond)
		sub.errCh <- errors.New("websocket: close 1006")
	}()
	return sub, nil
}

func hashOf(b byte) common.Hash {
	return common.BytesToHash([]byte{b})
}

func drain(ch chan common.Hash) []common.Hash {
	var out []common.Hash
	for {
		select {
		case h := <-ch:
			out = append(out, h)
		default:
			return out
		}
	}
}

func TestPollSourceBackfillsGap(t *testing.T) {
	reader := newFakeBlocks(5)
	reader.blocks[5] = []common.Hash{hashOf(5)}
	reader.blocks[6] = []common.Hash{hashOf(6)}
	reader.blocks[7] = []common.Hash{hashOf(7), hashOf(17)}
	reader.blocks[8] = []common.Hash{hashOf(8)}

	poller := NewPollSource(reader, time.Second, &logger.EmptyLogger{})
	sink := make(chan common.Hash, 16)

	// first poll includes the current head block
	require.NoError(t, poller.Poll(context.Background(), sink))
	assert.Equal(t, []common.Hash{hashOf(5)}, drain(sink))

	reader.setHead(8)
	require.NoError(t, poller.Poll(context.Background(), sink))
	assert.Equal(t, []common.Hash{hashOf(6), hashOf(7), hashOf(17), hashOf(8)}, drain(sink))

	last, ok := poller.LastHeight()
	assert.True(t, ok)
	assert.Equal(t, uint64(8), last)
}

func TestPollSourceIgnoresBackwardsHead(t *testing.T) {
	reader := newFakeBlocks(10)
	poller := NewPollSource(reader, time.Second, &logger.EmptyLogger{})
	sink := make(chan common.Hash, 16)

	require.NoError(t, poller.Poll(context.Background(), sink))
	reader.setHead(7)
	require.NoError(t, poller.Poll(context.Background(), sink))

	last, _ := poller.LastHeight()
	assert.Equal(t, uint64(10), last)
}

func TestPollSourceResumesAfterBlockError(t *testing.T) {
	reader := newFakeBlocks(3)
	reader.blocks[4] = []common.Hash{hashOf(4)}
	reader.blocks[5] = []common.Hash{hashOf(5)}
	poller := NewPollSource(reader, time.Second, &logger.EmptyLogger{})
	sink := make(chan common.Hash, 16)

	require.NoError(t, poller.Poll(context.Background(), sink))

	reader.setHead(5)
	reader.failAt = 5
	assert.Error(t, poller.Poll(context.Background(), sink))
	assert.Equal(t, []common.Hash{hashOf(4)}, drain(sink))

	reader.failAt = 0
	require.NoError(t, poller.Poll(context.Background(), sink))
	assert.Equal(t, []common.Hash{hashOf(5)}, drain(sink))
}

func TestPollSourceReset(t *testing.T) {
	reader := newFakeBlocks(3)
	poller := NewPollSource(reader, time.Second, &logger.EmptyLogger{})
	sink := make(chan common.Hash, 16)

	require.NoError(t, poller.Poll(context.Background(), sink))
	poller.Reset()

	_, ok := poller.LastHeight()
	assert.False(t, ok)

	// after a reset old blocks are not replayed
	reader.blocks[20] = []common.Hash{hashOf(20)}
	reader.blocks[4] = []common.Hash{hashOf(4)}
	reader.setHead(20)
	require.NoError(t, poller.Poll(context.Background(), sink))
	assert.Equal(t, []common.Hash{hashOf(20)}, drain(sink))
}

func TestPollSourceRunStopsOnCancel(t *testing.T) {
	reader := newFakeBlocks(1)
	reader.headErr = errors.New("rpc down")
	poller := NewPollSource(reader, 5*time.Millisecond, &logger.EmptyLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := poller.Run(ctx, make(chan common.Hash))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscriptionSourceReportsDrop(t *testing.T) {
	subscriber := &scriptedSubscriber{hashes: []common.Hash{hashOf(1)}}
	source := NewSubscriptionSource(subscriber)

	var established atomic.Int32
	source.OnEstablished(func() { established.Add(1) })

	sink := make(chan common.Hash, 4)
	err := source.Run(context.Background(), sink)
	assert.EqualError(t, err, "websocket: close 1006")
	assert.Equal(t, []common.Hash{hashOf(1)}, drain(sink))
	assert.Equal(t, int32(1), established.Load())

	err = source.Run(context.Background(), sink)
	assert.Error(t, err)
	assert.Equal(t, int32(1), established.Load())
}

func TestWatcherFallsBackToPolling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping failover timing test in short mode")
	}

	pushed := hashOf(0xa)
	mined := hashOf(0xb)

	reader := newFakeBlocks(10)
	reader.blocks[10] = []common.Hash{pushed, mined}

	subscriber := &scriptedSubscriber{hashes: []common.Hash{pushed}}
	poller := NewPollSource(reader, 10*time.Millisecond, &logger.EmptyLogger{})

	watcher, err := NewWatcher(NewSubscriptionSource(subscriber), poller, WatcherConfig{
		ResubscribeInterval: time.Minute,
		SubscribeAttempts:   2,
	}, &logger.EmptyLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := watcher.Stream(ctx)

	var got []common.Hash
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case h := <-stream:
			got = append(got, h)
		case <-deadline:
			t.Fatalf("timed out, received %v", got)
		}
	}

	// the pushed hash is not replayed by the poller
	assert.Equal(t, []common.Hash{pushed, mined}, got)
	assert.Equal(t, PollSourceName, watcher.ActiveSource())

	select {
	case h := <-stream:
		t.Fatalf("unexpected hash %s", h.Hex())
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-stream
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestWatcherPollOnly(t *testing.T) {
	reader := newFakeBlocks(1)
	reader.blocks[1] = []common.Hash{hashOf(1)}
	poller := NewPollSource(reader, 5*time.Millisecond, &logger.EmptyLogger{})

	watcher, err := NewWatcher(nil, poller, WatcherConfig{}, &logger.EmptyLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := watcher.Stream(ctx)
	select {
	case h := <-stream:
		assert.Equal(t, hashOf(1), h)
	case <-time.After(time.Second):
		t.Fatal("no hash delivered")
	}
	assert.Equal(t, PollSourceName, watcher.ActiveSource())
}

func TestWatcherDropsPushAfterPollDelivery(t *testing.T) {
	poller := NewPollSource(newFakeBlocks(0), time.Second, &logger.EmptyLogger{})
	watcher, err := NewWatcher(nil, poller, WatcherConfig{}, &logger.EmptyLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pushCh := make(chan common.Hash, 8)
	pollCh := make(chan common.Hash, 8)
	out := make(chan common.Hash, 8)
	go watcher.forward(ctx, pushCh, pollCh, out)

	next := func() common.Hash {
		select {
		case h := <-out:
			return h
		case <-time.After(time.Second):
			t.Fatal("no hash delivered")
		}
		return common.Hash{}
	}

	skipped := metrics.HashesSkipped.WithLabelValues("already_delivered")
	before := promtestutil.ToFloat64(skipped)

	pollCh <- hashOf(1)
	assert.Equal(t, hashOf(1), next())

	// delivered by the poller, so the late push copy is dropped
	pushCh <- hashOf(1)
	pushCh <- hashOf(2)
	assert.Equal(t, hashOf(2), next())

	// a rebroadcast push passes again
	pushCh <- hashOf(2)
	assert.Equal(t, hashOf(2), next())

	assert.Equal(t, before+1, promtestutil.ToFloat64(skipped))
}

func TestNewWatcherRequiresPoller(t *testing.T) {
	_, err := NewWatcher(nil, nil, WatcherConfig{}, &logger.EmptyLogger{})
	assert.Error(t, err)
}
