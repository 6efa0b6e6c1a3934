package models

// RejectReason explains why an intent failed validation
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectLowFee
	RejectBadSignature
	RejectBadNonce
	RejectInsufficientBalance
)

func (r RejectReason) String() string {
	switch r {
	case RejectLowFee:
		return "low_fee"
	case RejectBadSignature:
		return "bad_signature"
	case RejectBadNonce:
		return "bad_nonce"
	case RejectInsufficientBalance:
		return "insufficient_balance"
	}
	return "none"
}

// Verdict is the outcome of the validation stage
type Verdict struct {
	Valid  bool
	Reason RejectReason
	Detail string
}

// Accept returns a passing verdict
func Accept() Verdict {
	return Verdict{Valid: true}
}

// Reject returns a failing verdict
func Reject(reason RejectReason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}
