// Package txsource delivers transaction hashes from a node to the relay pipeline.
package txsource

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// PushSourceName labels hashes received from the pending-transaction subscription
	PushSourceName = "push"
	// PollSourceName labels hashes replayed from newly mined blocks
	PollSourceName = "poll"
)

// Source delivers transaction hashes into sink. Run blocks until ctx ends or the
// source fails; a failed source can be run again.
type Source interface {
	Name() string
	Run(ctx context.Context, sink chan<- common.Hash) error
}

func send(ctx context.Context, sink chan<- common.Hash, hash common.Hash) error {
	select {
	case sink <- hash:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
