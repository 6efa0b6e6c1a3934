package contracts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EvvmABI is the subset of the EVVM payment contract ABI used by the relay
const EvvmABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "from", "type": "address"},
			{"internalType": "address", "name": "to_address", "type": "address"},
			{"internalType": "string", "name": "to_identity", "type": "string"},
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "uint256", "name": "priorityFee", "type": "uint256"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"internalType": "bool", "name": "priorityFlag", "type": "bool"},
			{"internalType": "address", "name": "executor", "type": "address"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "pay",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "address", "name": "token", "type": "address"}
		],
		"name": "getBalance",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "user", "type": "address"}],
		"name": "isAddressStaker",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "user", "type": "address"}],
		"name": "getNextCurrentSyncNonce",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"}
		],
		"name": "getIfUsedAsyncNonce",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getEvvmID",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// PayMethod is the name of the payment entry point
const PayMethod = "pay"

var (
	// ParsedEvvmABI is EvvmABI parsed once at package init
	ParsedEvvmABI = mustParseABI(EvvmABI)

	// PaySelector is the 4-byte function selector of pay
	PaySelector = ParsedEvvmABI.Methods[PayMethod].ID

	// ErrNotPayCall is returned when calldata does not start with the pay selector
	ErrNotPayCall = errors.New("calldata is not a pay call")

	// ErrEmptyResponse is returned when a view call returns no data, usually because no contract is deployed at the address
	ErrEmptyResponse = errors.New("empty response from contract call")
)

// PayArgs mirrors the parameters of the pay entry point
type PayArgs struct {
	From         common.Address
	ToAddress    common.Address
	ToIdentity   string
	Token        common.Address
	Amount       *big.Int
	PriorityFee  *big.Int
	Nonce        *big.Int
	PriorityFlag bool
	Executor     common.Address
	Signature    []byte
}

// PackPay encodes a pay call including its selector
func PackPay(args PayArgs) ([]byte, error) {
	return ParsedEvvmABI.Pack(PayMethod,
		args.From,
		args.ToAddress,
		args.ToIdentity,
		args.Token,
		args.Amount,
		args.PriorityFee,
		args.Nonce,
		args.PriorityFlag,
		args.Executor,
		args.Signature,
	)
}

// UnpackPay decodes pay calldata, selector included
func UnpackPay(calldata []byte) (PayArgs, error) {
	var args PayArgs
	if len(calldata) < 4 || !HasPaySelector(calldata) {
		return args, ErrNotPayCall
	}

	method := ParsedEvvmABI.Methods[PayMethod]
	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return args, fmt.Errorf("failed to unpack pay arguments: %w", err)
	}
	if err := method.Inputs.Copy(&args, values); err != nil {
		return args, fmt.Errorf("failed to copy pay arguments: %w", err)
	}
	return args, nil
}

// HasPaySelector reports whether calldata starts with the pay selector
func HasPaySelector(calldata []byte) bool {
	if len(calldata) < 4 {
		return false
	}
	return bytes.Equal(calldata[:4], PaySelector)
}

// Reader performs a read-only call against contract state
type Reader interface {
	ReadContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// EvvmCaller is a read-only binding to the EVVM payment contract
type EvvmCaller struct {
	address common.Address
	reader  Reader
}

// NewEvvmCaller creates a read-only binding at address
func NewEvvmCaller(address common.Address, reader Reader) *EvvmCaller {
	return &EvvmCaller{address: address, reader: reader}
}

// Address returns the bound contract address
func (c *EvvmCaller) Address() common.Address {
	return c.address
}

// GetBalance returns the EVVM balance of user in token
func (c *EvvmCaller) GetBalance(ctx context.Context, user, token common.Address) (*big.Int, error) {
	out, err := call(ctx, c.reader, ParsedEvvmABI, c.address, "getBalance", user, token)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// IsAddressStaker reports whether user is an active staker
func (c *EvvmCaller) IsAddressStaker(ctx context.Context, user common.Address) (bool, error) {
	out, err := call(ctx, c.reader, ParsedEvvmABI, c.address, "isAddressStaker", user)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GetNextCurrentSyncNonce returns the next expected synchronous nonce of user
func (c *EvvmCaller) GetNextCurrentSyncNonce(ctx context.Context, user common.Address) (*big.Int, error) {
	out, err := call(ctx, c.reader, ParsedEvvmABI, c.address, "getNextCurrentSyncNonce", user)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// GetIfUsedAsyncNonce reports whether an asynchronous nonce of user is already consumed
func (c *EvvmCaller) GetIfUsedAsyncNonce(ctx context.Context, user common.Address, nonce *big.Int) (bool, error) {
	out, err := call(ctx, c.reader, ParsedEvvmABI, c.address, "getIfUsedAsyncNonce", user, nonce)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GetEvvmID returns the application identifier embedded in signed messages
func (c *EvvmCaller) GetEvvmID(ctx context.Context) (*big.Int, error) {
	out, err := call(ctx, c.reader, ParsedEvvmABI, c.address, "getEvvmID")
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func call(ctx context.Context, reader Reader, parsed abi.ABI, address common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	raw, err := reader.ReadContract(ctx, address, data)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s at %s: %w", method, address.Hex(), ErrEmptyResponse)
	}

	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s at %s: %w", method, address.Hex(), ErrEmptyResponse)
	}
	return out, nil
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return parsed
}
