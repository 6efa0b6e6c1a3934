// Package mocks provides an in-memory chain with EVVM and staking contract state for tests.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/0xOucan/PAYVVM/pkg/chainclient"
	"github.com/0xOucan/PAYVVM/pkg/contracts"
)

// DefaultGasPrice is the gas price suggested by a new Chain
var DefaultGasPrice = big.NewInt(2000000000) // 2 Gwei

// Chain is an in-memory Gateway. Reads against the EVVM and staking addresses are
// answered from local state and successful relay transactions apply the pay call.
type Chain struct {
	mu sync.Mutex

	chainID *big.Int
	Evvm    common.Address
	Staking common.Address

	evvmID       *big.Int
	balances     map[common.Address]map[common.Address]*big.Int
	syncNonces   map[common.Address]*big.Int
	asyncUsed    map[common.Address]map[string]bool
	stakers      map[common.Address]bool
	goldenFisher common.Address

	head     uint64
	blocks   map[uint64][]common.Hash
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	held     []*types.Transaction
	pending  event.Feed

	submitted    []*types.Transaction
	relayNonce   uint64
	reads        map[string]int
	gasPrice     *big.Int
	gasEstimate  uint64
	gasUsed      uint64
	revert       bool
	holdReceipts bool

	// ReadErr fails every contract read
	ReadErr error
	// EstimateErr fails gas estimation
	EstimateErr error
	// SubmitErr fails broadcasting
	SubmitErr error
}

var (
	_ chainclient.Gateway           = (*Chain)(nil)
	_ chainclient.PendingSubscriber = (*Chain)(nil)
)

// NewChain creates a chain with the given contract addresses and EVVM ID
func NewChain(evvm, staking common.Address, evvmID int64) *Chain {
	return &Chain{
		chainID:     big.NewInt(11155111),
		Evvm:        evvm,
		Staking:     staking,
		evvmID:      big.NewInt(evvmID),
		balances:    make(map[common.Address]map[common.Address]*big.Int),
		syncNonces:  make(map[common.Address]*big.Int),
		asyncUsed:   make(map[common.Address]map[string]bool),
		stakers:     make(map[common.Address]bool),
		head:        100,
		blocks:      make(map[uint64][]common.Hash),
		txs:         make(map[common.Hash]*types.Transaction),
		receipts:    make(map[common.Hash]*types.Receipt),
		reads:       make(map[string]int),
		gasPrice:    new(big.Int).Set(DefaultGasPrice),
		gasEstimate: 90000,
		gasUsed:     80000,
	}
}

// SetBalance sets the EVVM balance of user in token
func (c *Chain) SetBalance(user, token common.Address, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceLocked(user, token).SetInt64(amount)
}

// Balance returns the EVVM balance of user in token
func (c *Chain) Balance(user, token common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(user, token))
}

// SetSyncNonce sets the next expected synchronous nonce of user
func (c *Chain) SetSyncNonce(user common.Address, nonce int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncNonces[user] = big.NewInt(nonce)
}

// MarkAsyncNonceUsed consumes an asynchronous nonce of user
func (c *Chain) MarkAsyncNonceUsed(user common.Address, nonce int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markAsyncLocked(user, big.NewInt(nonce))
}

// SetStaker sets the staker status of user
func (c *Chain) SetStaker(user common.Address, staker bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stakers[user] = staker
}

// SetGoldenFisher sets the privileged relay address
func (c *Chain) SetGoldenFisher(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goldenFisher = addr
}

// SetGasPrice sets the suggested gas price
func (c *Chain) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = new(big.Int).Set(price)
}

// SetGas sets the gas estimate and the gas used by relay transactions
func (c *Chain) SetGas(estimate, used uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasEstimate = estimate
	c.gasUsed = used
}

// SetRevert makes relay transactions mine with a failed status
func (c *Chain) SetRevert(revert bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revert = revert
}

// HoldReceipts keeps submitted transactions pending until ReleaseReceipts
func (c *Chain) HoldReceipts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdReceipts = true
}

// ReleaseReceipts mines every held transaction
func (c *Chain) ReleaseReceipts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdReceipts = false
	for _, tx := range c.held {
		c.mineLocked(tx)
	}
	c.held = nil
}

// Broadcast stores tx as pending and pushes its hash to subscribers
func (c *Chain) Broadcast(tx *types.Transaction) common.Hash {
	c.mu.Lock()
	c.txs[tx.Hash()] = tx
	c.mu.Unlock()

	c.pending.Send(tx.Hash())
	return tx.Hash()
}

// Include stores txs in a new block without pushing them to subscribers
func (c *Chain) Include(txs ...*types.Transaction) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head++
	for _, tx := range txs {
		c.txs[tx.Hash()] = tx
		c.blocks[c.head] = append(c.blocks[c.head], tx.Hash())
	}
	return c.head
}

// Submitted returns the relay transactions broadcast so far
func (c *Chain) Submitted() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Transaction, len(c.submitted))
	copy(out, c.submitted)
	return out
}

// Reads returns how many times method was read
func (c *Chain) Reads(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[method]
}

func (c *Chain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Chain) HeadNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *Chain) BlockTransactionHashes(_ context.Context, number uint64) ([]common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number > c.head {
		return nil, fmt.Errorf("block %d: %w", number, ethereum.NotFound)
	}
	return append([]common.Hash(nil), c.blocks[number]...), nil
}

func (c *Chain) GetTransaction(_ context.Context, hash common.Hash) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txs[hash], nil
}

func (c *Chain) ReadContract(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(data) < 4 {
		return nil, &chainclient.ChainReadError{Method: hexutil.Encode(data), Err: errors.New("short calldata")}
	}
	if c.ReadErr != nil {
		return nil, &chainclient.ChainReadError{Method: hexutil.Encode(data[:4]), Err: c.ReadErr}
	}

	var parsed abi.ABI
	switch to {
	case c.Evvm:
		parsed = contracts.ParsedEvvmABI
	case c.Staking:
		parsed = contracts.ParsedStakingABI
	default:
		// no code at address
		return nil, nil
	}

	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, &chainclient.ChainReadError{Method: hexutil.Encode(data[:4]), Err: err}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, &chainclient.ChainReadError{Method: method.Name, Err: err}
	}
	c.reads[method.Name]++

	var result interface{}
	switch method.Name {
	case "getBalance":
		result = new(big.Int).Set(c.balanceLocked(args[0].(common.Address), args[1].(common.Address)))
	case "isAddressStaker":
		result = c.stakers[args[0].(common.Address)]
	case "getNextCurrentSyncNonce":
		result = new(big.Int).Set(c.syncNonceLocked(args[0].(common.Address)))
	case "getIfUsedAsyncNonce":
		result = c.asyncUsed[args[0].(common.Address)][args[1].(*big.Int).String()]
	case "getEvvmID":
		result = new(big.Int).Set(c.evvmID)
	case "getGoldenFisher":
		result = c.goldenFisher
	default:
		return nil, &chainclient.ChainReadError{Method: method.Name, Err: errors.New("execution reverted")}
	}
	return method.Outputs.Pack(result)
}

func (c *Chain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.EstimateErr != nil {
		return 0, &chainclient.GasEstimationError{Err: c.EstimateErr}
	}
	if msg.To == nil || *msg.To != c.Evvm || !contracts.HasPaySelector(msg.Data) {
		return 21000, nil
	}
	return c.gasEstimate, nil
}

func (c *Chain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *Chain) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relayNonce, nil
}

func (c *Chain) Submit(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubmitErr != nil {
		return common.Hash{}, c.SubmitErr
	}
	if tx.Nonce() != c.relayNonce {
		return common.Hash{}, fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", c.relayNonce, tx.Nonce())
	}
	c.relayNonce++
	c.submitted = append(c.submitted, tx)
	c.txs[tx.Hash()] = tx

	if c.holdReceipts {
		c.held = append(c.held, tx)
	} else {
		c.mineLocked(tx)
	}
	return tx.Hash(), nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *Chain) SubscribePendingTransactions(_ context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	return c.pending.Subscribe(ch), nil
}

func (c *Chain) mineLocked(tx *types.Transaction) {
	c.head++
	c.blocks[c.head] = append(c.blocks[c.head], tx.Hash())

	status := types.ReceiptStatusSuccessful
	if c.revert || !c.applyPayLocked(tx) {
		status = types.ReceiptStatusFailed
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:            status,
		TxHash:            tx.Hash(),
		GasUsed:           c.gasUsed,
		EffectiveGasPrice: tx.GasPrice(),
		BlockNumber:       new(big.Int).SetUint64(c.head),
	}
}

// applyPayLocked debits the sender, credits the recipient and consumes the nonce
func (c *Chain) applyPayLocked(tx *types.Transaction) bool {
	args, err := contracts.UnpackPay(tx.Data())
	if err != nil {
		return false
	}

	debit := new(big.Int).Add(args.Amount, args.PriorityFee)
	from := c.balanceLocked(args.From, args.Token)
	if from.Cmp(debit) < 0 {
		return false
	}

	if args.PriorityFlag {
		if c.asyncUsed[args.From][args.Nonce.String()] {
			return false
		}
		c.markAsyncLocked(args.From, args.Nonce)
	} else {
		next := c.syncNonceLocked(args.From)
		if next.Cmp(args.Nonce) != 0 {
			return false
		}
		next.Add(next, big.NewInt(1))
	}

	from.Sub(from, debit)
	to := c.balanceLocked(args.ToAddress, args.Token)
	to.Add(to, args.Amount)
	return true
}

func (c *Chain) balanceLocked(user, token common.Address) *big.Int {
	tokens, ok := c.balances[user]
	if !ok {
		tokens = make(map[common.Address]*big.Int)
		c.balances[user] = tokens
	}
	balance, ok := tokens[token]
	if !ok {
		balance = new(big.Int)
		tokens[token] = balance
	}
	return balance
}

func (c *Chain) syncNonceLocked(user common.Address) *big.Int {
	nonce, ok := c.syncNonces[user]
	if !ok {
		nonce = new(big.Int)
		c.syncNonces[user] = nonce
	}
	return nonce
}

func (c *Chain) markAsyncLocked(user common.Address, nonce *big.Int) {
	used, ok := c.asyncUsed[user]
	if !ok {
		used = make(map[string]bool)
		c.asyncUsed[user] = used
	}
	used[nonce.String()] = true
}
