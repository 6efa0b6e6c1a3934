package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xOucan/PAYVVM/pkg/blockchain"
	"github.com/0xOucan/PAYVVM/pkg/chainclient"
	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/mocks"
	"github.com/0xOucan/PAYVVM/pkg/models"
	"github.com/0xOucan/PAYVVM/pkg/testutil"
)

var (
	evvmAddress    = common.HexToAddress("0x9486f6C9d28ECdd95aba5bfa6188Bbc104d89C3e")
	stakingAddress = common.HexToAddress("0x64A47d84dE05B9Efda4F63Fbca2Fc8cEb96E6816")
	tokenAddress   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	evvmID         = big.NewInt(1000)
)

type engineFixture struct {
	chain  *mocks.Chain
	nonces *blockchain.NonceManager
	engine *Engine
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	return newEngineFixtureWithGateway(t, cfg, nil)
}

// newEngineFixtureWithGateway lets wrap replace the gateway the engine talks to
func newEngineFixtureWithGateway(t *testing.T, cfg Config, wrap func(*mocks.Chain) chainclient.Gateway) *engineFixture {
	relayKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	chain := mocks.NewChain(evvmAddress, stakingAddress, evvmID.Int64())
	var gateway chainclient.Gateway = chain
	if wrap != nil {
		gateway = wrap(chain)
	}
	log := &logger.EmptyLogger{}
	nonces := blockchain.NewNonceManager(chain, crypto.PubkeyToAddress(relayKey.PublicKey), log)
	gasPrice := chainclient.NewGasPriceRoutine(chain, 1, time.Minute, log)

	if cfg.GasLimit == 0 {
		cfg.GasLimit = 500000
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = time.Second
	}
	cfg.ReceiptPollInterval = 5 * time.Millisecond

	return &engineFixture{
		chain:  chain,
		nonces: nonces,
		engine: NewEngine(gateway, evvmAddress, relayKey, nonces, gasPrice, cfg, log),
	}
}

func (f *engineFixture) fundedIntent(t *testing.T, amount, fee, balance int64) (models.PaymentIntent, common.Address) {
	key, sender := testutil.NewKey(t)
	recipient := testutil.GenerateAddress()
	f.chain.SetBalance(sender, tokenAddress, balance)
	return testutil.NewSignedIntent(t, key, evvmID, tokenAddress, recipient, amount, fee, 0), recipient
}

func TestExecuteSuccess(t *testing.T) {
	f := newEngineFixture(t, Config{})
	intent, recipient := f.fundedIntent(t, 1000, 50, 1050)

	result := f.engine.Execute(context.Background(), intent)
	require.True(t, result.Success, "unexpected failure: %v", result.Err)

	assert.True(t, result.Submitted())
	assert.Equal(t, uint64(80000), result.GasUsed)
	testutil.AssertBigIntEqual(t, big.NewInt(50), result.FeeEarned)
	testutil.AssertBigIntEqual(t, new(big.Int).Mul(big.NewInt(80000), mocks.DefaultGasPrice), result.GasCost)

	testutil.AssertBigIntEqual(t, big.NewInt(0), f.chain.Balance(intent.Sender, tokenAddress))
	testutil.AssertBigIntEqual(t, big.NewInt(1000), f.chain.Balance(recipient, tokenAddress))
	assert.Equal(t, 0, f.nonces.PendingCount())

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, uint64(500000), submitted[0].Gas())
	assert.Equal(t, evvmAddress, *submitted[0].To())
}

func TestExecuteEstimationFailure(t *testing.T) {
	f := newEngineFixture(t, Config{})
	intent, _ := f.fundedIntent(t, 1000, 50, 1050)
	f.chain.EstimateErr = errors.New("execution reverted: invalid signature")

	result := f.engine.Execute(context.Background(), intent)
	assert.False(t, result.Success)
	assert.Equal(t, models.FailureEstimation, result.Reason)
	assert.False(t, result.Submitted())

	var estErr *chainclient.GasEstimationError
	assert.True(t, errors.As(result.Err, &estErr))
	assert.Empty(t, f.chain.Submitted())
}

func TestExecuteGasCeilings(t *testing.T) {
	t.Run("gas limit", func(t *testing.T) {
		f := newEngineFixture(t, Config{GasLimit: 100000})
		f.chain.SetGas(150000, 120000)
		intent, _ := f.fundedIntent(t, 1, 1, 2)

		result := f.engine.Execute(context.Background(), intent)
		assert.Equal(t, models.FailureEstimation, result.Reason)
		assert.ErrorContains(t, result.Err, "exceeds limit")
		assert.Empty(t, f.chain.Submitted())
	})

	t.Run("gas price", func(t *testing.T) {
		f := newEngineFixture(t, Config{MaxGasPrice: big.NewInt(1000000000)})
		intent, _ := f.fundedIntent(t, 1, 1, 2)

		result := f.engine.Execute(context.Background(), intent)
		assert.Equal(t, models.FailureEstimation, result.Reason)
		assert.ErrorContains(t, result.Err, "exceeds maximum")
		assert.Empty(t, f.chain.Submitted())
	})
}

func TestExecuteSubmissionErrorReusesNonce(t *testing.T) {
	f := newEngineFixture(t, Config{})
	intent, _ := f.fundedIntent(t, 10, 1, 100)

	f.chain.SubmitErr = errors.New("insufficient funds for gas * price + value")
	result := f.engine.Execute(context.Background(), intent)
	assert.Equal(t, models.FailureSubmission, result.Reason)
	assert.False(t, result.Submitted())

	f.chain.SubmitErr = nil
	result = f.engine.Execute(context.Background(), intent)
	require.True(t, result.Success, "unexpected failure: %v", result.Err)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, uint64(0), submitted[0].Nonce())
}

func TestExecuteReverted(t *testing.T) {
	f := newEngineFixture(t, Config{})
	intent, _ := f.fundedIntent(t, 1000, 50, 1050)
	f.chain.SetRevert(true)

	result := f.engine.Execute(context.Background(), intent)
	assert.False(t, result.Success)
	assert.Equal(t, models.FailureReverted, result.Reason)
	assert.ErrorIs(t, result.Err, ErrReverted)
	assert.True(t, result.Submitted())
	testutil.AssertBigIntEqual(t, new(big.Int).Mul(big.NewInt(80000), mocks.DefaultGasPrice), result.GasCost)
	testutil.AssertBigIntEqual(t, big.NewInt(0), result.FeeEarned)
	assert.Equal(t, -1, result.NetProfit().Sign())
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	f := newEngineFixture(t, Config{ReceiptTimeout: 40 * time.Millisecond})
	intent, _ := f.fundedIntent(t, 1000, 50, 1050)
	f.chain.HoldReceipts()

	result := f.engine.Execute(context.Background(), intent)
	assert.Equal(t, models.FailureConfirmationTimeout, result.Reason)
	assert.ErrorIs(t, result.Err, chainclient.ErrConfirmationTimeout)
	assert.True(t, result.Submitted())
	assert.Equal(t, 1, f.nonces.PendingCount())
}

func TestExecuteSurvivesCancelledContextAfterSubmit(t *testing.T) {
	f := newEngineFixture(t, Config{})
	intent, _ := f.fundedIntent(t, 1000, 50, 1050)
	f.chain.HoldReceipts()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan models.ExecutionResult, 1)
	go func() {
		done <- f.engine.Execute(ctx, intent)
	}()

	require.Eventually(t, func() bool { return len(f.chain.Submitted()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	f.chain.ReleaseReceipts()

	select {
	case result := <-done:
		assert.True(t, result.Success, "unexpected failure: %v", result.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not finish")
	}
}

// slowReplyGateway forwards transactions to the node and then waits before
// replying, failing like an RPC client if its context ends first
type slowReplyGateway struct {
	*mocks.Chain
	delay   time.Duration
	entered chan struct{}
	once    sync.Once
}

func (g *slowReplyGateway) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	hash, err := g.Chain.Submit(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	g.once.Do(func() { close(g.entered) })

	select {
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	case <-time.After(g.delay):
		return hash, nil
	}
}

func TestExecuteCancelDuringBroadcastKeepsTransaction(t *testing.T) {
	gateway := &slowReplyGateway{delay: 50 * time.Millisecond, entered: make(chan struct{})}
	f := newEngineFixtureWithGateway(t, Config{}, func(chain *mocks.Chain) chainclient.Gateway {
		gateway.Chain = chain
		return gateway
	})
	intent, _ := f.fundedIntent(t, 1000, 50, 1050)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan models.ExecutionResult, 1)
	go func() {
		done <- f.engine.Execute(ctx, intent)
	}()

	select {
	case <-gateway.entered:
		cancel()
	case <-time.After(time.Second):
		t.Fatal("transaction was not broadcast")
	}

	var result models.ExecutionResult
	select {
	case result = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not finish")
	}
	require.True(t, result.Success, "unexpected failure: %v", result.Err)
	assert.NotEqual(t, common.Hash{}, result.TxHash)

	next, _ := f.fundedIntent(t, 10, 1, 11)
	result = f.engine.Execute(context.Background(), next)
	require.True(t, result.Success, "unexpected failure: %v", result.Err)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 2)
	assert.Equal(t, uint64(0), submitted[0].Nonce())
	assert.Equal(t, uint64(1), submitted[1].Nonce())
}

func TestExecuteCancelledBeforeBroadcastSendsNothing(t *testing.T) {
	f := newEngineFixture(t, Config{})
	intent, _ := f.fundedIntent(t, 1000, 50, 1050)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.engine.Execute(ctx, intent)
	assert.False(t, result.Success)
	assert.False(t, result.Submitted())
	assert.Empty(t, f.chain.Submitted())
}

// lostReplyGateway forwards transactions to the node but reports a transport error
type lostReplyGateway struct {
	*mocks.Chain
	err error
}

func (g *lostReplyGateway) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	hash, err := g.Chain.Submit(ctx, tx)
	if err != nil || g.err == nil {
		return hash, err
	}
	return common.Hash{}, g.err
}

func TestExecuteNetworkErrorResyncsNonce(t *testing.T) {
	gateway := &lostReplyGateway{err: errors.New("read tcp 127.0.0.1:8545: i/o timeout")}
	f := newEngineFixtureWithGateway(t, Config{}, func(chain *mocks.Chain) chainclient.Gateway {
		gateway.Chain = chain
		return gateway
	})

	first, _ := f.fundedIntent(t, 10, 1, 11)
	result := f.engine.Execute(context.Background(), first)
	assert.Equal(t, models.FailureSubmission, result.Reason)
	assert.False(t, result.Submitted())

	gateway.err = nil
	second, _ := f.fundedIntent(t, 10, 1, 11)
	result = f.engine.Execute(context.Background(), second)
	require.True(t, result.Success, "unexpected failure: %v", result.Err)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 2)
	assert.Equal(t, uint64(1), submitted[1].Nonce())
}

func TestExecuteConcurrentNoncesAreUnique(t *testing.T) {
	f := newEngineFixture(t, Config{})

	const count = 8
	intents := make([]models.PaymentIntent, count)
	for i := range intents {
		intents[i], _ = f.fundedIntent(t, 10, 1, 11)
	}

	var wg sync.WaitGroup
	results := make([]models.ExecutionResult, count)
	for i := range intents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.engine.Execute(context.Background(), intents[i])
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		assert.True(t, result.Success, "intent %d: %v", i, result.Err)
	}

	seen := make(map[uint64]bool)
	for _, tx := range f.chain.Submitted() {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, count)
}

func TestExecuteEmptySignature(t *testing.T) {
	f := newEngineFixture(t, Config{})
	intent, _ := f.fundedIntent(t, 1, 1, 2)
	intent.Signature = nil

	result := f.engine.Execute(context.Background(), intent)
	assert.Equal(t, models.FailureSubmission, result.Reason)
	assert.ErrorIs(t, result.Err, ErrEmptySignature)
}

func TestClassifySubmissionError(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{errors.New("nonce too low: next nonce 5, tx nonce 4"), ErrorTypeNonce},
		{errors.New("already known"), ErrorTypeNonce},
		{errors.New("replacement transaction underpriced"), ErrorTypeUnderpriced},
		{errors.New("insufficient funds for gas * price + value"), ErrorTypeInsufficientFunds},
		{errors.New("dial tcp 127.0.0.1:8545: connection refused"), ErrorTypeNetwork},
		{errors.New("unexpected EOF"), ErrorTypeNetwork},
		{errors.New("something else"), ErrorTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifySubmissionError(tt.err))
		})
	}
	assert.Empty(t, ClassifySubmissionError(nil))
}
