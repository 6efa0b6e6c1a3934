package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/0xOucan/PAYVVM/pkg/logger"
)

// Gateway is the relay's view of a blockchain node
type Gateway interface {
	ChainID() *big.Int
	HeadNumber(ctx context.Context) (uint64, error)
	BlockTransactionHashes(ctx context.Context, number uint64) ([]common.Hash, error)
	// GetTransaction returns nil without error when the node does not know the hash
	GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, error)
	// ReadContract fails with *ChainReadError on RPC error
	ReadContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// EstimateGas fails with *GasEstimationError if the call would revert
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	// TransactionReceipt returns ethereum.NotFound while the transaction is pending
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// PendingSubscriber opens a push subscription of pending transaction hashes
type PendingSubscriber interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
}

// Client contains the RPC connection and settings for the relay's chain
type Client struct {
	chainID *big.Int
	RPCURL  string
	WSURL   string
	client  *ethclient.Client
	limiter *rate.Limiter
	logger  logger.Logger

	mu sync.Mutex
	ws []*rpc.Client
}

var (
	_ Gateway           = (*Client)(nil)
	_ PendingSubscriber = (*Client)(nil)
)

// New dials rpcURL and resolves the chain ID. A rateLimit of 0 leaves read calls unthrottled.
func New(ctx context.Context, rpcURL, wsURL string, rateLimit float64, log logger.Logger) (*Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chainID, err := client.ChainID(timeoutCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	limit := rate.Inf
	burst := 0
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
		burst = int(rateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		chainID: chainID,
		RPCURL:  rpcURL,
		WSURL:   wsURL,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
	}, nil
}

// ChainID returns the chain ID resolved at dial time
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// HeadNumber gets the latest block number from the chain
func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return c.client.BlockNumber(ctx)
}

// BlockTransactionHashes lists transaction hashes of a block without fetching bodies
func (c *Client) BlockTransactionHashes(ctx context.Context, number uint64) ([]common.Hash, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var block *struct {
		Transactions []common.Hash `json:"transactions"`
	}
	err := c.client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	if block == nil {
		return nil, fmt.Errorf("block %d: %w", number, ethereum.NotFound)
	}
	return block.Transactions, nil
}

// GetTransaction fetches a transaction body
func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tx, _, err := c.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	}
	return tx, nil
}

// ReadContract performs an eth_call against the latest state
func (c *Client) ReadContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ChainReadError{Method: selectorHex(data), Err: err}
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, &ChainReadError{Method: selectorHex(data), Err: err}
	}
	return out, nil
}

// EstimateGas estimates gas for msg
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, &GasEstimationError{Err: err}
	}
	return gas, nil
}

// SuggestGasPrice returns the node's suggested legacy gas price
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.client.SuggestGasPrice(ctx)
}

// PendingNonceAt returns the next nonce for account including pending transactions
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.client.PendingNonceAt(ctx, account)
}

// Submit broadcasts a signed transaction
func (c *Client) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// TransactionReceipt returns the receipt of a mined transaction
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.client.TransactionReceipt(ctx, hash)
}

// SubscribePendingTransactions opens a fresh WebSocket connection and subscribes to pending hashes.
// The connection is closed when the subscription is unsubscribed.
func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	if c.WSURL == "" {
		return nil, errors.New("no streaming endpoint configured")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	wsClient, err := rpc.DialContext(dialCtx, c.WSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.WSURL, err)
	}

	sub, err := gethclient.New(wsClient).SubscribePendingTransactions(ctx, ch)
	if err != nil {
		wsClient.Close()
		return nil, fmt.Errorf("failed to subscribe to pending transactions: %w", err)
	}

	c.mu.Lock()
	c.ws = append(c.ws, wsClient)
	c.mu.Unlock()

	return &wsSubscription{Subscription: sub, client: wsClient, owner: c}, nil
}

// Close releases all connections
func (c *Client) Close() {
	c.mu.Lock()
	for _, ws := range c.ws {
		ws.Close()
	}
	c.ws = nil
	c.mu.Unlock()

	c.client.Close()
}

func (c *Client) forget(ws *rpc.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, known := range c.ws {
		if known == ws {
			c.ws = append(c.ws[:i], c.ws[i+1:]...)
			return
		}
	}
}

type wsSubscription struct {
	ethereum.Subscription
	client *rpc.Client
	owner  *Client
	once   sync.Once
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.Subscription.Unsubscribe()
		s.client.Close()
		s.owner.forget(s.client)
	})
}

func selectorHex(data []byte) string {
	if len(data) < 4 {
		return hexutil.Encode(data)
	}
	return hexutil.Encode(data[:4])
}
