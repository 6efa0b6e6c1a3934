package fisher

import (
	"github.com/0xOucan/PAYVVM/pkg/chains"
	"github.com/0xOucan/PAYVVM/pkg/circuitbreaker"
	"github.com/0xOucan/PAYVVM/pkg/stats"
)

// State is the orchestrator lifecycle stage
type State int32

const (
	StateStarting State = iota
	StatePrivilegeCheck
	StateStakerCheck
	StateWatching
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePrivilegeCheck:
		return "privilege_check"
	case StateStakerCheck:
		return "staker_check"
	case StateWatching:
		return "watching"
	case StateShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Status is the document served on /status
type Status struct {
	RelayAddress    string                `json:"relayAddress"`
	Network         string                `json:"network"`
	State           string                `json:"state"`
	ActiveSource    string                `json:"activeSource"`
	Privileged      bool                  `json:"privileged"`
	Staker          bool                  `json:"staker"`
	Circuit         circuitbreaker.Status `json:"circuit"`
	PendingRelayTxs int                   `json:"pendingRelayTxs"`
	InFlight        int                   `json:"inFlight"`
	Stats           stats.Snapshot        `json:"stats"`
}

// State returns the current lifecycle stage
func (f *Fisher) State() State {
	return State(f.state.Load())
}

func (f *Fisher) setState(s State) {
	f.state.Store(int32(s))
}

// Ready reports whether the relay is watching for intents
func (f *Fisher) Ready() bool {
	return f.State() == StateWatching
}

// Status implements health.StatusSource
func (f *Fisher) Status() interface{} {
	return Status{
		RelayAddress:    f.relay.Hex(),
		Network:         chains.GetChainName(f.gateway.ChainID().Int64()),
		State:           f.State().String(),
		ActiveSource:    f.watcher.ActiveSource(),
		Privileged:      f.privileged.Load(),
		Staker:          f.staker.Load(),
		Circuit:         f.breaker.Status(),
		PendingRelayTxs: f.outbound.PendingCount(),
		InFlight:        f.guard.Len(),
		Stats:           f.ledger.Snapshot(),
	}
}
