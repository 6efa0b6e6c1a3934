package executor

import (
	"strings"
)

// Submission error labels
const (
	ErrorTypeNonce             = "nonce_error"
	ErrorTypeUnderpriced       = "underpriced"
	ErrorTypeInsufficientFunds = "insufficient_funds"
	ErrorTypeNetwork           = "network_error"
	ErrorTypeOther             = "unknown_error"
)

// ClassifySubmissionError labels a broadcast failure for metrics and nonce handling
func ClassifySubmissionError(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()

	// Nonce-related errors - the local sequence must be re-read from the chain
	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "already known") {
		return ErrorTypeNonce
	}

	if strings.Contains(errStr, "replacement transaction underpriced") ||
		strings.Contains(errStr, "transaction underpriced") ||
		strings.Contains(errStr, "gas price too low") ||
		strings.Contains(errStr, "max fee per gas less than block base fee") {
		return ErrorTypeUnderpriced
	}

	if strings.Contains(errStr, "insufficient funds") {
		return ErrorTypeInsufficientFunds
	}

	// Network/RPC errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return ErrorTypeNetwork
	}

	return ErrorTypeOther
}
