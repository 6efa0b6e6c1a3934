package contracts

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// StakingABI is the subset of the staking contract ABI used by the relay
const StakingABI = `[
	{
		"inputs": [],
		"name": "getGoldenFisher",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ParsedStakingABI is StakingABI parsed once at package init
var ParsedStakingABI = mustParseABI(StakingABI)

// StakingCaller is a read-only binding to the staking contract
type StakingCaller struct {
	address common.Address
	reader  Reader
}

// NewStakingCaller creates a read-only binding at address
func NewStakingCaller(address common.Address, reader Reader) *StakingCaller {
	return &StakingCaller{address: address, reader: reader}
}

// GetGoldenFisher returns the address holding the privileged relay role
func (c *StakingCaller) GetGoldenFisher(ctx context.Context) (common.Address, error) {
	out, err := call(ctx, c.reader, ParsedStakingABI, c.address, "getGoldenFisher")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}
