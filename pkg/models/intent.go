package models

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xOucan/PAYVVM/pkg/contracts"
)

// NonceMode selects how the payment contract checks replay protection
type NonceMode int

const (
	// NonceSynchronous requires the sender's next sequential nonce
	NonceSynchronous NonceMode = iota
	// NonceAsynchronous accepts any nonce not yet consumed by the sender
	NonceAsynchronous
)

// NonceModeFromFlag maps the pay priorityFlag argument to a NonceMode
func NonceModeFromFlag(priorityFlag bool) NonceMode {
	if priorityFlag {
		return NonceAsynchronous
	}
	return NonceSynchronous
}

// Flag returns the priorityFlag value encoding the mode
func (m NonceMode) Flag() bool {
	return m == NonceAsynchronous
}

func (m NonceMode) String() string {
	if m == NonceAsynchronous {
		return "async"
	}
	return "sync"
}

// PaymentIntent is a decoded pay call observed in a pending transaction.
// Values are copied in and out, so a decoded intent is never mutated by callers.
type PaymentIntent struct {
	TxHash            common.Hash
	Sender            common.Address
	RecipientAddress  common.Address
	RecipientIdentity string
	Token             common.Address
	Amount            *big.Int
	PriorityFee       *big.Int
	Nonce             *big.Int
	NonceMode         NonceMode
	Executor          common.Address
	Signature         []byte
}

// NewPaymentIntent builds an intent from decoded pay arguments
func NewPaymentIntent(txHash common.Hash, args contracts.PayArgs) PaymentIntent {
	return PaymentIntent{
		TxHash:            txHash,
		Sender:            args.From,
		RecipientAddress:  args.ToAddress,
		RecipientIdentity: args.ToIdentity,
		Token:             args.Token,
		Amount:            copyInt(args.Amount),
		PriorityFee:       copyInt(args.PriorityFee),
		Nonce:             copyInt(args.Nonce),
		NonceMode:         NonceModeFromFlag(args.PriorityFlag),
		Executor:          args.Executor,
		Signature:         common.CopyBytes(args.Signature),
	}
}

// PayArgs returns the pay arguments that execute this intent
func (p PaymentIntent) PayArgs() contracts.PayArgs {
	return contracts.PayArgs{
		From:         p.Sender,
		ToAddress:    p.RecipientAddress,
		ToIdentity:   p.RecipientIdentity,
		Token:        p.Token,
		Amount:       copyInt(p.Amount),
		PriorityFee:  copyInt(p.PriorityFee),
		Nonce:        copyInt(p.Nonce),
		PriorityFlag: p.NonceMode.Flag(),
		Executor:     p.Executor,
		Signature:    common.CopyBytes(p.Signature),
	}
}

// Recipient returns the lower-case recipient address, or the identity when the address is zero
func (p PaymentIntent) Recipient() string {
	if p.RecipientAddress == (common.Address{}) && p.RecipientIdentity != "" {
		return p.RecipientIdentity
	}
	return strings.ToLower(p.RecipientAddress.Hex())
}

// HasExecutor reports whether execution is restricted to a specific address
func (p PaymentIntent) HasExecutor() bool {
	return p.Executor != (common.Address{})
}

// TotalDebit is the amount the sender's balance must cover
func (p PaymentIntent) TotalDebit() *big.Int {
	return new(big.Int).Add(orZero(p.Amount), orZero(p.PriorityFee))
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
