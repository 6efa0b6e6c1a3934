package chainclient

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/metrics"
)

// GasPricer suggests a gas price
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasPriceRoutine keeps a multiplied gas price suggestion fresh in the background
type GasPriceRoutine struct {
	pricer     GasPricer
	multiplier float64
	interval   time.Duration
	stopChan   chan struct{}
	mu         sync.RWMutex
	running    bool
	current    *big.Int
	logger     logger.Logger
}

// NewGasPriceRoutine creates a new gas price routine
func NewGasPriceRoutine(pricer GasPricer, multiplier float64, interval time.Duration, log logger.Logger) *GasPriceRoutine {
	if multiplier <= 0 {
		multiplier = 1
	}
	return &GasPriceRoutine{
		pricer:     pricer,
		multiplier: multiplier,
		interval:   interval,
		logger:     log,
	}
}

// Start begins the periodic gas price updates
func (r *GasPriceRoutine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run(ctx, r.stopChan)
}

// Stop halts the periodic gas price updates
func (r *GasPriceRoutine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running
func (r *GasPriceRoutine) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Current returns the last refreshed gas price, or nil before the first refresh
func (r *GasPriceRoutine) Current() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil
	}
	return new(big.Int).Set(r.current)
}

// GasPrice returns the cached price, refreshing synchronously when none is cached yet
func (r *GasPriceRoutine) GasPrice(ctx context.Context) (*big.Int, error) {
	if price := r.Current(); price != nil {
		return price, nil
	}
	return r.Refresh(ctx)
}

// Refresh fetches a new suggestion and stores it
func (r *GasPriceRoutine) Refresh(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	suggested, err := r.pricer.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, err
	}

	price := applyMultiplier(suggested, r.multiplier)

	r.mu.Lock()
	r.current = price
	r.mu.Unlock()

	metrics.GasPrice.Set(weiToGwei(price))
	return new(big.Int).Set(price), nil
}

// run is the main goroutine that performs periodic updates
func (r *GasPriceRoutine) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.update(ctx)

	for {
		select {
		case <-ticker.C:
			r.update(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *GasPriceRoutine) update(ctx context.Context) {
	price, err := r.Refresh(ctx)
	if err != nil {
		r.logger.Error("Failed to update gas price: %v", err)
		return
	}
	r.logger.Debug("Gas price updated: %.2f gwei", weiToGwei(price))
}

// applyMultiplier scales a gas price, e.g. 1.1 adds a 10% buffer
func applyMultiplier(price *big.Int, multiplier float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(price), big.NewFloat(multiplier))
	out, _ := scaled.Int(nil)
	return out
}

func weiToGwei(wei *big.Int) float64 {
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return gwei
}
