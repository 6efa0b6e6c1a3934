// Package fisher runs the relay: startup eligibility gates, the watch loop and
// one pipeline per observed transaction hash.
package fisher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"

	"github.com/0xOucan/PAYVVM/pkg/blockchain"
	"github.com/0xOucan/PAYVVM/pkg/chainclient"
	"github.com/0xOucan/PAYVVM/pkg/circuitbreaker"
	"github.com/0xOucan/PAYVVM/pkg/config"
	"github.com/0xOucan/PAYVVM/pkg/contracts"
	"github.com/0xOucan/PAYVVM/pkg/decoder"
	"github.com/0xOucan/PAYVVM/pkg/dedup"
	"github.com/0xOucan/PAYVVM/pkg/executor"
	"github.com/0xOucan/PAYVVM/pkg/health"
	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/metrics"
	"github.com/0xOucan/PAYVVM/pkg/stats"
	"github.com/0xOucan/PAYVVM/pkg/txsource"
	"github.com/0xOucan/PAYVVM/pkg/verify"
)

// ErrNotEligible is returned when the relay is neither the golden fisher nor a staker
var ErrNotEligible = errors.New("relay is not a staker and not the golden fisher")

// timeoutCheckInterval is how often unconfirmed relay transactions are reviewed
const timeoutCheckInterval = time.Minute

// Deps are the chain connections the relay runs against
type Deps struct {
	Gateway chainclient.Gateway
	// Subscriber is optional; without it hashes come from block polling only
	Subscriber chainclient.PendingSubscriber
	Logger     logger.Logger
	// ReceiptPollInterval overrides the receipt polling period
	ReceiptPollInterval time.Duration
}

// Fisher owns the relay state shared by all pipelines
type Fisher struct {
	cfg     *config.Config
	gateway chainclient.Gateway
	relay   common.Address
	logger  logger.Logger
	closer  func()

	evvm     *contracts.EvvmCaller
	staking  *contracts.StakingCaller
	decoder  *decoder.Decoder
	nonces   *verify.NonceValidator
	balances *verify.BalanceChecker
	guard    *dedup.Guard
	ledger   *stats.Ledger
	breaker  *circuitbreaker.CircuitBreaker
	outbound *blockchain.NonceManager
	gas      *chainclient.GasPriceRoutine
	engine   *executor.Engine
	watcher  *txsource.Watcher
	sem      *semaphore.Weighted

	// set once startup checks pass
	signatures *verify.SignatureValidator
	evvmID     *big.Int

	state      atomic.Int32
	privileged atomic.Bool
	staker     atomic.Bool
	wg         sync.WaitGroup
}

var _ health.StatusSource = (*Fisher)(nil)

// New dials the configured node and builds the relay
func New(ctx context.Context, cfg *config.Config) (*Fisher, error) {
	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	client, err := chainclient.New(ctx, cfg.RPCURL, cfg.WSURL, cfg.RPCRateLimit, stdLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}

	deps := Deps{
		Gateway: client,
		Logger:  stdLogger,
	}
	if cfg.WSURL != "" {
		deps.Subscriber = client
	}

	f, err := NewWithDeps(cfg, deps)
	if err != nil {
		client.Close()
		return nil, err
	}
	f.closer = client.Close
	return f, nil
}

// NewWithDeps builds the relay on top of existing chain connections
func NewWithDeps(cfg *config.Config, deps Deps) (*Fisher, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.RelayKey == nil {
		return nil, fmt.Errorf("relay key is required")
	}
	log := deps.Logger
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	relay := cfg.RelayAddress()
	evvm := contracts.NewEvvmCaller(cfg.EvvmAddress, deps.Gateway)

	outbound := blockchain.NewNonceManager(deps.Gateway, relay, log)
	outbound.SetTransactionTimeout(2 * cfg.ReceiptTimeout)

	gas := chainclient.NewGasPriceRoutine(deps.Gateway, cfg.GasMultiplier, cfg.GasPriceRefresh, log)

	engine := executor.NewEngine(deps.Gateway, cfg.EvvmAddress, cfg.RelayKey, outbound, gas, executor.Config{
		GasLimit:            cfg.GasLimit,
		MaxGasPrice:         cfg.MaxGasPrice,
		ReceiptTimeout:      cfg.ReceiptTimeout,
		ReceiptPollInterval: deps.ReceiptPollInterval,
	}, log)

	// a typed nil pointer would make the watcher treat push as configured
	var push txsource.Source
	if deps.Subscriber != nil {
		push = txsource.NewSubscriptionSource(deps.Subscriber)
	}
	watcherCfg := txsource.DefaultWatcherConfig()
	watcherCfg.ResubscribeInterval = cfg.ResubscribeInterval
	watcherCfg.SeenCacheSize = cfg.SeenCacheSize
	watcher, err := txsource.NewWatcher(push, txsource.NewPollSource(deps.Gateway, cfg.PollInterval, log), watcherCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create hash watcher: %w", err)
	}

	var store stats.Store
	if cfg.StatsFile != "" {
		store = stats.NewFileStore(cfg.StatsFile)
	}

	var sem *semaphore.Weighted
	if cfg.MaxConcurrentPipelines > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentPipelines))
	}

	f := &Fisher{
		cfg:      cfg,
		gateway:  deps.Gateway,
		relay:    relay,
		logger:   log,
		evvm:     evvm,
		staking:  contracts.NewStakingCaller(cfg.StakingAddress, deps.Gateway),
		decoder:  decoder.New(cfg.EvvmAddress, log),
		nonces:   verify.NewNonceValidator(evvm),
		balances: verify.NewBalanceChecker(evvm),
		guard:    dedup.NewGuard(),
		ledger:   stats.NewLedger(store, log),
		breaker: circuitbreaker.NewCircuitBreaker(
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
			log,
		),
		outbound: outbound,
		gas:      gas,
		engine:   engine,
		watcher:  watcher,
		sem:      sem,
	}
	f.state.Store(int32(StateStarting))
	return f, nil
}

// Ledger returns the stats ledger
func (f *Fisher) Ledger() *stats.Ledger {
	return f.ledger
}

// Run performs the startup checks and watches for intents until ctx is cancelled.
// It returns after every in-flight pipeline has finished.
func (f *Fisher) Run(ctx context.Context) error {
	defer func() {
		if f.closer != nil {
			f.closer()
		}
	}()

	if err := f.checkEligibility(ctx); err != nil {
		return err
	}
	if err := f.resolveEvvmID(ctx); err != nil {
		return err
	}

	if err := f.ledger.Restore(); err != nil {
		f.logger.ErrorWithStage(logger.Stats, "Starting with empty stats: %v", err)
	}
	if err := f.outbound.Sync(ctx); err != nil {
		return fmt.Errorf("failed to read relay account nonce: %w", err)
	}

	f.gas.Start(ctx)
	defer f.gas.Stop()

	var server *health.Server
	if f.cfg.MetricsPort != "" {
		server = health.NewServer(f.cfg.MetricsPort, f.cfg.MetricsAPIKey, f, f.breaker, f.logger)
		go server.Start()
	}

	go f.monitorTimeouts(ctx)

	f.setState(StateWatching)
	f.logger.Notice("Fisher %s watching EVVM %s (evvm id %s, min priority fee %s)",
		f.relay.Hex(), f.cfg.EvvmAddress.Hex(), f.evvmID, f.cfg.MinPriorityFee)

	f.watch(ctx)

	f.setState(StateShutdown)
	f.logger.Notice("Waiting for in-flight pipelines to finish")
	f.wg.Wait()

	f.ledger.Persist()
	f.logger.InfoWithStage(logger.Stats, "%s", f.ledger.Summary())

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			f.logger.Error("Failed to stop health server: %v", err)
		}
	}
	return nil
}

// checkEligibility runs the privilege and staker gates
func (f *Fisher) checkEligibility(ctx context.Context) error {
	f.setState(StatePrivilegeCheck)
	golden, err := f.staking.GetGoldenFisher(ctx)
	if err != nil {
		return fmt.Errorf("failed to read golden fisher: %w", err)
	}
	if golden == f.relay {
		f.privileged.Store(true)
		f.logger.Notice("Relay %s is the golden fisher, skipping staker check", f.relay.Hex())
		return nil
	}

	f.setState(StateStakerCheck)
	staker, err := f.evvm.IsAddressStaker(ctx, f.relay)
	if err != nil {
		return fmt.Errorf("failed to read staker status: %w", err)
	}
	if !staker {
		return fmt.Errorf("%w: %s", ErrNotEligible, f.relay.Hex())
	}
	f.staker.Store(true)
	f.logger.Info("Relay %s is a registered staker", f.relay.Hex())
	return nil
}

// resolveEvvmID uses the configured ID or reads it once from the contract
func (f *Fisher) resolveEvvmID(ctx context.Context) error {
	id := f.cfg.EvvmID
	if id == nil {
		var err error
		id, err = f.evvm.GetEvvmID(ctx)
		if err != nil {
			return fmt.Errorf("failed to read evvm id: %w", err)
		}
	}
	f.evvmID = new(big.Int).Set(id)
	f.signatures = verify.NewSignatureValidator(f.evvmID)
	return nil
}

// watch dispatches every streamed hash until the stream closes
func (f *Fisher) watch(ctx context.Context) {
	for hash := range f.watcher.Stream(ctx) {
		if !f.guard.TryAcquire(hash) {
			metrics.HashesSkipped.WithLabelValues("in_flight").Inc()
			continue
		}

		if f.sem != nil {
			if err := f.sem.Acquire(ctx, 1); err != nil {
				f.guard.Release(hash)
				return
			}
		}

		f.wg.Add(1)
		go func(hash common.Hash) {
			defer f.wg.Done()
			if f.sem != nil {
				defer f.sem.Release(1)
			}
			f.process(ctx, hash)
		}(hash)
	}
}

func (f *Fisher) monitorTimeouts(ctx context.Context) {
	ticker := time.NewTicker(timeoutCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stale := f.outbound.FindTimeoutTransactions(); len(stale) > 0 {
				f.logger.NoticeWithStage(logger.Exec, "%d relay transactions unconfirmed, %d pending in total", len(stale), f.outbound.PendingCount())
			}
		}
	}
}
