package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FailureReason classifies an unsuccessful execution
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureEstimation
	FailureReverted
	FailureSubmission
	FailureConfirmationTimeout
	// FailurePipeline covers unexpected errors after decode, including recovered panics
	FailurePipeline
)

func (r FailureReason) String() string {
	switch r {
	case FailureEstimation:
		return "estimation_failed"
	case FailureReverted:
		return "reverted"
	case FailureSubmission:
		return "submission_error"
	case FailureConfirmationTimeout:
		return "confirmation_timeout"
	case FailurePipeline:
		return "pipeline_error"
	}
	return "none"
}

// ExecutionResult is the outcome of submitting a relay transaction.
// TxHash is zero when nothing was broadcast. GasCost is set whenever a receipt was obtained.
type ExecutionResult struct {
	Success   bool
	Reason    FailureReason
	TxHash    common.Hash
	GasUsed   uint64
	GasPrice  *big.Int
	GasCost   *big.Int
	FeeEarned *big.Int
	Err       error
}

// Succeeded builds a successful result from receipt data
func Succeeded(txHash common.Hash, gasUsed uint64, gasPrice, feeEarned *big.Int) ExecutionResult {
	price := copyInt(gasPrice)
	return ExecutionResult{
		Success:   true,
		TxHash:    txHash,
		GasUsed:   gasUsed,
		GasPrice:  price,
		GasCost:   new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), price),
		FeeEarned: copyInt(feeEarned),
	}
}

// Failed builds a failed result
func Failed(reason FailureReason, txHash common.Hash, err error) ExecutionResult {
	return ExecutionResult{
		Reason:    reason,
		TxHash:    txHash,
		GasPrice:  new(big.Int),
		GasCost:   new(big.Int),
		FeeEarned: new(big.Int),
		Err:       err,
	}
}

// Reverted builds a failed result for a mined transaction with non-success status
func Reverted(txHash common.Hash, gasUsed uint64, gasPrice *big.Int, err error) ExecutionResult {
	res := Failed(FailureReverted, txHash, err)
	res.GasUsed = gasUsed
	res.GasPrice = copyInt(gasPrice)
	res.GasCost = new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), res.GasPrice)
	return res
}

// Submitted reports whether a relay transaction was broadcast
func (r ExecutionResult) Submitted() bool {
	return r.TxHash != (common.Hash{})
}

// NetProfit is fee earned minus gas cost
func (r ExecutionResult) NetProfit() *big.Int {
	return new(big.Int).Sub(orZero(r.FeeEarned), orZero(r.GasCost))
}
