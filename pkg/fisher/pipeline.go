package fisher

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/getsentry/sentry-go"

	"github.com/0xOucan/PAYVVM/pkg/chains"
	"github.com/0xOucan/PAYVVM/pkg/logger"
	"github.com/0xOucan/PAYVVM/pkg/metrics"
	"github.com/0xOucan/PAYVVM/pkg/models"
)

// process runs one hash through fetch, decode, validation and execution.
// The hash is always released, and a panic only ends this pipeline.
func (f *Fisher) process(ctx context.Context, hash common.Hash) {
	start := time.Now()
	metrics.InFlight.Inc()

	var (
		intent  models.PaymentIntent
		decoded bool
	)
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Recovered panic while processing %s: %v", hash.Hex(), r)
			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("area", "pipeline")
				scope.SetTag("tx_hash", hash.Hex())
			})
			hub.Recover(r)
			if decoded {
				f.record(ctx, intent, models.Failed(models.FailurePipeline, common.Hash{}, fmt.Errorf("panic: %v", r)))
			}
		}
		f.guard.Release(hash)
		metrics.InFlight.Dec()
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := f.gateway.GetTransaction(ctx, hash)
	if err != nil {
		f.logger.DebugWithStage(logger.Decode, "Failed to fetch transaction %s: %v", hash.Hex(), err)
		return
	}
	if tx == nil {
		return
	}

	intent, decoded = f.decoder.Decode(tx)
	if !decoded {
		return
	}
	metrics.IntentsDetected.Inc()
	f.logger.InfoWithStage(logger.Decode, "Payment intent %s: %s of %s from %s, fee %s, nonce %s (%s)",
		hash.Hex(), intent.Amount, intent.Token.Hex(), intent.Sender.Hex(), intent.PriorityFee, intent.Nonce, intent.NonceMode)

	verdict, err := f.validate(ctx, intent)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.logger.ErrorWithStage(logger.Validate, "Validation of %s failed: %v", hash.Hex(), err)
		f.record(ctx, intent, models.Failed(models.FailurePipeline, common.Hash{}, err))
		return
	}
	if !verdict.Valid {
		metrics.IntentsRejected.WithLabelValues(verdict.Reason.String()).Inc()
		f.logger.DebugWithStage(logger.Validate, "Rejected %s: %s (%s)", hash.Hex(), verdict.Reason, verdict.Detail)
		return
	}

	if f.breaker.IsOpen() {
		metrics.CircuitDropped.Inc()
		f.logger.NoticeWithStage(logger.Exec, "Circuit open, dropping valid intent %s", hash.Hex())
		return
	}

	f.record(ctx, intent, f.engine.Execute(ctx, intent))
}

// validate applies the gates cheapest first: fee, signature, nonce, balance.
// An error means a chain read failed, not that the intent is invalid.
func (f *Fisher) validate(ctx context.Context, intent models.PaymentIntent) (models.Verdict, error) {
	if intent.PriorityFee.Cmp(f.cfg.MinPriorityFee) < 0 {
		return models.Reject(models.RejectLowFee, fmt.Sprintf("fee %s below minimum %s", intent.PriorityFee, f.cfg.MinPriorityFee)), nil
	}

	if !f.signatures.Verify(intent) {
		return models.Reject(models.RejectBadSignature, "signer does not match sender "+intent.Sender.Hex()), nil
	}

	ok, err := f.nonces.IsAcceptable(ctx, intent.Sender, intent.Nonce, intent.NonceMode)
	if err != nil {
		return models.Verdict{}, err
	}
	if !ok {
		return models.Reject(models.RejectBadNonce, fmt.Sprintf("%s nonce %s not acceptable", intent.NonceMode, intent.Nonce)), nil
	}

	covers, balance, err := f.balances.Covers(ctx, intent)
	if err != nil {
		return models.Verdict{}, err
	}
	if !covers {
		return models.Reject(models.RejectInsufficientBalance, fmt.Sprintf("balance %s below %s", balance, intent.TotalDebit())), nil
	}
	return models.Accept(), nil
}

// record books the outcome. Attempts cut short by shutdown before anything was
// broadcast are not counted.
func (f *Fisher) record(ctx context.Context, intent models.PaymentIntent, result models.ExecutionResult) {
	if !result.Success && !result.Submitted() && ctx.Err() != nil {
		f.logger.DebugWithStage(logger.Exec, "Dropping %s interrupted by shutdown: %v", intent.TxHash.Hex(), result.Err)
		return
	}

	f.ledger.Record(intent, result)

	if result.Success {
		link := chains.TxURL(f.gateway.ChainID().Int64(), result.TxHash.Hex())
		if link == "" {
			link = result.TxHash.Hex()
		}
		f.logger.InfoWithStage(logger.Exec, "Executed payment from %s, earned %s, gas cost %s wei: %s",
			intent.Sender.Hex(), result.FeeEarned, result.GasCost, link)
		return
	}

	f.logger.ErrorWithStage(logger.Exec, "Execution of %s failed (%s): %v", intent.TxHash.Hex(), result.Reason, result.Err)
	f.breaker.RecordFailure()
}
