package txsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ssgreg/repeat"

	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/metrics"
)

// WatcherConfig tunes source failover
type WatcherConfig struct {
	// ResubscribeInterval is how long the poller runs before push is tried again
	ResubscribeInterval time.Duration
	// SubscribeAttempts bounds consecutive push attempts before falling back
	SubscribeAttempts int
	// SeenCacheSize bounds the window of delivered hashes the poller is checked against
	SeenCacheSize int
	// BufferSize is the capacity of the output stream
	BufferSize int
}

// DefaultWatcherConfig returns the defaults used by the relay
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		ResubscribeInterval: 30 * time.Second,
		SubscribeAttempts:   3,
		SeenCacheSize:       100000,
		BufferSize:          1024,
	}
}

// Watcher merges a push source and a poll fallback into one hash stream.
// Push is preferred; when it cannot be established or drops, the poller takes over
// and push is retried every ResubscribeInterval. Hashes the poller finds that were
// already delivered are dropped. Push hashes pass again after an earlier push so a
// rebroadcast transaction can be looked at again, but not after the poller has
// delivered them from a mined block.
type Watcher struct {
	push   Source
	poll   *PollSource
	seen   *lru.Cache[common.Hash, string] // hash -> source that delivered it
	cfg    WatcherConfig
	logger logger.Logger

	mu     sync.RWMutex
	active string
}

// NewWatcher creates a watcher. push may be nil, in which case only polling is used.
func NewWatcher(push Source, poll *PollSource, cfg WatcherConfig, log logger.Logger) (*Watcher, error) {
	if poll == nil {
		return nil, fmt.Errorf("poll source is required")
	}
	defaults := DefaultWatcherConfig()
	if cfg.ResubscribeInterval <= 0 {
		cfg.ResubscribeInterval = defaults.ResubscribeInterval
	}
	if cfg.SubscribeAttempts <= 0 {
		cfg.SubscribeAttempts = defaults.SubscribeAttempts
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = defaults.SeenCacheSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}

	seen, err := lru.New[common.Hash, string](cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen cache: %w", err)
	}

	// a healthy subscription makes the poller's height stale
	if sub, ok := push.(*SubscriptionSource); ok {
		sub.OnEstablished(poll.Reset)
	}

	return &Watcher{
		push:   push,
		poll:   poll,
		seen:   seen,
		cfg:    cfg,
		logger: log,
	}, nil
}

// ActiveSource returns the name of the source currently feeding the stream
func (w *Watcher) ActiveSource() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// Stream starts watching and returns the merged hash stream. The channel is closed
// after ctx ends.
func (w *Watcher) Stream(ctx context.Context) <-chan common.Hash {
	out := make(chan common.Hash, w.cfg.BufferSize)
	pushCh := make(chan common.Hash, w.cfg.BufferSize)
	pollCh := make(chan common.Hash, w.cfg.BufferSize)

	go w.forward(ctx, pushCh, pollCh, out)
	go w.run(ctx, pushCh, pollCh)

	return out
}

func (w *Watcher) run(ctx context.Context, pushCh, pollCh chan common.Hash) {
	for ctx.Err() == nil {
		if w.push != nil {
			err := w.runPush(ctx, pushCh)
			if ctx.Err() != nil {
				return
			}
			w.logger.NoticeWithStage(logger.Watch, "Push subscription unavailable (%v), falling back to block polling", err)
		}

		w.setActive(PollSourceName)
		pollCtx, cancel := ctx, context.CancelFunc(func() {})
		if w.push != nil {
			pollCtx, cancel = context.WithTimeout(ctx, w.cfg.ResubscribeInterval)
		}
		_ = w.poll.Run(pollCtx, pollCh)
		cancel()
	}
}

func (w *Watcher) runPush(ctx context.Context, sink chan<- common.Hash) error {
	return repeat.Repeat(
		repeat.Fn(func() error {
			if ctx.Err() != nil {
				return repeat.HintStop(ctx.Err())
			}
			w.setActive(w.push.Name())
			err := w.push.Run(ctx, sink)
			if ctx.Err() != nil {
				return repeat.HintStop(ctx.Err())
			}
			metrics.SubscriptionFailures.Inc()
			w.logger.DebugWithStage(logger.Watch, "Push subscription attempt ended: %v", err)
			return repeat.HintTemporary(err)
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(w.cfg.SubscribeAttempts),
		repeat.WithDelay(repeat.FullJitterBackoff(250*time.Millisecond).Set(), repeat.SetContext(ctx)),
	)
}

func (w *Watcher) forward(ctx context.Context, pushCh, pollCh <-chan common.Hash, out chan<- common.Hash) {
	defer close(out)

	for {
		var (
			hash   common.Hash
			source string
		)

		select {
		case <-ctx.Done():
			return
		case hash = <-pushCh:
			if prev, ok := w.seen.Peek(hash); ok && prev == PollSourceName {
				metrics.HashesSkipped.WithLabelValues("already_delivered").Inc()
				continue
			}
			w.seen.Add(hash, PushSourceName)
			source = PushSourceName
		case hash = <-pollCh:
			if found, _ := w.seen.ContainsOrAdd(hash, PollSourceName); found {
				metrics.HashesSkipped.WithLabelValues("already_delivered").Inc()
				continue
			}
			source = PollSourceName
		}

		metrics.HashesObserved.WithLabelValues(source).Inc()
		select {
		case out <- hash:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) setActive(name string) {
	w.mu.Lock()
	changed := w.active != name
	w.active = name
	w.mu.Unlock()

	if !changed {
		return
	}
	for _, source := range []string{PushSourceName, PollSourceName} {
		value := 0.0
		if source == name {
			value = 1
		}
		metrics.ActiveSource.WithLabelValues(source).Set(value)
	}
	w.logger.InfoWithStage(logger.Watch, "Hash source active: %s", name)
}
