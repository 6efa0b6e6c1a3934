package txsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xOucan/PAYVVM/pkg/logger"
)

// BlockReader reads the chain head and the transaction hashes of a block
type BlockReader interface {
	HeadNumber(ctx context.Context) (uint64, error)
	BlockTransactionHashes(ctx context.Context, number uint64) ([]common.Hash, error)
}

// PollSource replays transaction hashes from newly mined blocks on a fixed interval.
// Every block between the last processed height and the head is visited, so polls
// that are slow or fail are caught up on the next tick.
type PollSource struct {
	reader   BlockReader
	interval time.Duration
	logger   logger.Logger

	mu          sync.Mutex
	last        uint64
	initialized bool
}

var _ Source = (*PollSource)(nil)

// NewPollSource creates a block poller
func NewPollSource(reader BlockReader, interval time.Duration, log logger.Logger) *PollSource {
	return &PollSource{
		reader:   reader,
		interval: interval,
		logger:   log,
	}
}

func (p *PollSource) Name() string {
	return PollSourceName
}

// Reset forgets the last processed height; the next poll starts from the current head
func (p *PollSource) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
	p.last = 0
}

// LastHeight returns the last fully processed block number
func (p *PollSource) LastHeight() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.initialized
}

// Run polls until ctx ends. Poll errors are logged and retried on the next tick.
func (p *PollSource) Run(ctx context.Context, sink chan<- common.Hash) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := p.Poll(ctx, sink); err != nil && ctx.Err() == nil {
				p.logger.ErrorWithStage(logger.Watch, "Block poll failed: %v", err)
			}
			timer.Reset(p.interval)
		}
	}
}

// Poll performs a single head check and emits hashes from every unseen block
func (p *PollSource) Poll(ctx context.Context, sink chan<- common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	head, err := p.reader.HeadNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read head: %w", err)
	}

	if !p.initialized {
		// include the current head block so nothing mined around the switch is lost
		if head > 0 {
			p.last = head - 1
		}
		p.initialized = true
	}

	if head < p.last {
		p.logger.DebugWithStage(logger.Watch, "Head went backwards: %d -> %d, ignoring", p.last, head)
		return nil
	}

	for number := p.last + 1; number <= head; number++ {
		hashes, err := p.reader.BlockTransactionHashes(ctx, number)
		if err != nil {
			return fmt.Errorf("failed to read block %d: %w", number, err)
		}
		for _, hash := range hashes {
			if err := send(ctx, sink, hash); err != nil {
				return err
			}
		}
		p.last = number
	}
	return nil
}
