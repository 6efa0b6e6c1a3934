// Package executor submits relay transactions that execute observed payment intents.
package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xOucan/PAYVVM/pkg/blockchain"
	"github.com/0xOucan/PAYVVM/pkg/chainclient"
	"github.com/0xOucan/PAYVVM/pkg/contracts"
	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/metrics"
	"github.com/0xOucan/PAYVVM/pkg/models"
)

var (
	// ErrEmptySignature is returned for intents that carry no signature
	ErrEmptySignature = errors.New("intent has no signature")

	// ErrReverted is the cause recorded for mined transactions with a failed status
	ErrReverted = errors.New("relay transaction reverted")
)

// GasPriceSource provides the gas price for relay transactions
type GasPriceSource interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Config holds the execution limits
type Config struct {
	// GasLimit is the gas limit of relay transactions and the ceiling for estimates
	GasLimit uint64
	// MaxGasPrice refuses execution above this price; nil or zero disables the check
	MaxGasPrice *big.Int
	// ReceiptTimeout bounds the wait for a relay transaction to be mined
	ReceiptTimeout time.Duration
	// ReceiptPollInterval is how often the receipt is requested
	ReceiptPollInterval time.Duration
}

// Engine builds, signs and broadcasts pay calls from the relay account and waits
// for their receipts. Nonce assignment and broadcast are serialized; estimation
// and confirmation waits run concurrently.
type Engine struct {
	gateway  chainclient.Gateway
	evvm     common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer
	nonces   *blockchain.NonceManager
	gasPrice GasPriceSource
	cfg      Config
	logger   logger.Logger

	submitMu sync.Mutex
}

// NewEngine creates an execution engine sending from the account of key
func NewEngine(
	gateway chainclient.Gateway,
	evvm common.Address,
	key *ecdsa.PrivateKey,
	nonces *blockchain.NonceManager,
	gasPrice GasPriceSource,
	cfg Config,
	log logger.Logger,
) *Engine {
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = chainclient.DefaultReceiptPollInterval
	}
	return &Engine{
		gateway:  gateway,
		evvm:     evvm,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		signer:   types.LatestSignerForChainID(gateway.ChainID()),
		nonces:   nonces,
		gasPrice: gasPrice,
		cfg:      cfg,
		logger:   log,
	}
}

// Address returns the relay account
func (e *Engine) Address() common.Address {
	return e.from
}

// Execute submits intent and waits for the outcome. It never panics on chain errors;
// every failure is reported through the result.
func (e *Engine) Execute(ctx context.Context, intent models.PaymentIntent) models.ExecutionResult {
	result := e.execute(ctx, intent)

	status := "success"
	if !result.Success {
		status = result.Reason.String()
	}
	metrics.Executions.WithLabelValues(status).Inc()
	if result.Submitted() && result.GasUsed > 0 {
		metrics.GasUsed.Observe(float64(result.GasUsed))
	}
	return result
}

func (e *Engine) execute(ctx context.Context, intent models.PaymentIntent) models.ExecutionResult {
	if len(intent.Signature) == 0 {
		return models.Failed(models.FailureSubmission, common.Hash{}, ErrEmptySignature)
	}

	data, err := contracts.PackPay(intent.PayArgs())
	if err != nil {
		return models.Failed(models.FailureSubmission, common.Hash{}, fmt.Errorf("failed to pack pay call: %w", err))
	}

	gas, err := e.gateway.EstimateGas(ctx, ethereum.CallMsg{
		From: e.from,
		To:   &e.evvm,
		Data: data,
	})
	if err != nil {
		return models.Failed(models.FailureEstimation, common.Hash{}, err)
	}
	if gas > e.cfg.GasLimit {
		return models.Failed(models.FailureEstimation, common.Hash{},
			fmt.Errorf("estimated gas %d exceeds limit %d", gas, e.cfg.GasLimit))
	}

	gasPrice, err := e.gasPrice.GasPrice(ctx)
	if err != nil {
		return models.Failed(models.FailureEstimation, common.Hash{}, fmt.Errorf("failed to get gas price: %w", err))
	}
	if e.cfg.MaxGasPrice != nil && e.cfg.MaxGasPrice.Sign() > 0 && gasPrice.Cmp(e.cfg.MaxGasPrice) > 0 {
		return models.Failed(models.FailureEstimation, common.Hash{},
			fmt.Errorf("gas price %s exceeds maximum %s", gasPrice, e.cfg.MaxGasPrice))
	}

	txHash, nonce, err := e.submit(ctx, data, gasPrice)
	if err != nil {
		return models.Failed(models.FailureSubmission, common.Hash{}, err)
	}
	e.logger.InfoWithStage(logger.Exec, "Submitted relay transaction %s for intent %s (nonce %d, gas %d)",
		txHash.Hex(), intent.TxHash.Hex(), nonce, gas)

	// a broadcast transaction cannot be recalled, so the wait outlives shutdown
	waitCtx := context.WithoutCancel(ctx)
	receipt, err := chainclient.AwaitReceipt(waitCtx, e.gateway, txHash, e.cfg.ReceiptTimeout, e.cfg.ReceiptPollInterval)
	if err != nil {
		// the nonce stays tracked; the transaction may still be mined
		return models.Failed(models.FailureConfirmationTimeout, txHash, err)
	}
	e.nonces.Confirm(nonce)

	paidPrice := gasPrice
	if receipt.EffectiveGasPrice != nil && receipt.EffectiveGasPrice.Sign() > 0 {
		paidPrice = receipt.EffectiveGasPrice
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return models.Reverted(txHash, receipt.GasUsed, paidPrice, ErrReverted)
	}
	return models.Succeeded(txHash, receipt.GasUsed, paidPrice, intent.PriorityFee)
}

// submitTimeout bounds nonce allocation, signing and broadcast once started
const submitTimeout = 30 * time.Second

// submit assigns the next relay nonce, signs and broadcasts. Once it starts,
// cancellation of ctx no longer interrupts it.
func (e *Engine) submit(ctx context.Context, data []byte, gasPrice *big.Int) (common.Hash, uint64, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, 0, err
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	nonce, err := e.nonces.Next(sendCtx)
	if err != nil {
		return common.Hash{}, 0, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.evvm,
		Gas:      e.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, e.signer, e.key)
	if err != nil {
		e.nonces.Fail(nonce)
		return common.Hash{}, 0, fmt.Errorf("failed to sign transaction: %w", err)
	}

	txHash, err := e.gateway.Submit(sendCtx, signed)
	if err != nil {
		errorType := ClassifySubmissionError(err)
		metrics.SubmissionErrors.WithLabelValues(errorType).Inc()

		switch errorType {
		case ErrorTypeNetwork:
			// the node may hold the transaction; only the chain knows the next nonce
			e.nonces.Invalidate()
		case ErrorTypeNonce:
			e.nonces.Fail(nonce)
			e.nonces.Invalidate()
		default:
			e.nonces.Fail(nonce)
		}
		return common.Hash{}, 0, fmt.Errorf("failed to send transaction: %w", err)
	}

	e.nonces.Track(txHash, nonce)
	return txHash, nonce, nil
}
