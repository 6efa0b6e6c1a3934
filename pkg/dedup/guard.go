// Package dedup tracks transaction hashes with a pipeline in flight.
package dedup

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Guard admits at most one in-flight pipeline per transaction hash
type Guard struct {
	mu       sync.Mutex
	inFlight map[common.Hash]struct{}
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[common.Hash]struct{})}
}

// TryAcquire marks hash as in flight. It returns false if it already was.
func (g *Guard) TryAcquire(hash common.Hash) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.inFlight[hash]; ok {
		return false
	}
	g.inFlight[hash] = struct{}{}
	return true
}

// Release clears hash. Releasing a hash that is not held is a no-op.
func (g *Guard) Release(hash common.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, hash)
}

// Len returns the number of hashes in flight
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}
