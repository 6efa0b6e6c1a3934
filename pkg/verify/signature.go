// Package verify checks that an observed payment intent can be executed:
// the sender signed it, its nonce is still usable and the sender can pay for it.
package verify

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xOucan/PAYVVM/pkg/models"
)

// PayAction is the action tag signed by wallets for pay intents
const PayAction = "pay"

// SignatureLength is the length of an r || s || v signature
const SignatureLength = 65

// SignatureValidator recovers the signer of a pay intent and compares it with the sender
type SignatureValidator struct {
	evvmID *big.Int
}

// NewSignatureValidator creates a validator for messages bound to evvmID
func NewSignatureValidator(evvmID *big.Int) *SignatureValidator {
	return &SignatureValidator{evvmID: new(big.Int).Set(evvmID)}
}

// Message builds the comma-joined string the sender's wallet signs for intent:
// evvmID,pay,recipient,token,amount,priorityFee,nonce,priorityFlag[,executor]
func (v *SignatureValidator) Message(intent models.PaymentIntent) string {
	return PayMessage(v.evvmID, intent)
}

// PayMessage builds the signing message for intent under evvmID
func PayMessage(evvmID *big.Int, intent models.PaymentIntent) string {
	fields := []string{
		evvmID.String(),
		PayAction,
		intent.Recipient(),
		strings.ToLower(intent.Token.Hex()),
		decimal(intent.Amount),
		decimal(intent.PriorityFee),
		decimal(intent.Nonce),
		boolString(intent.NonceMode.Flag()),
	}
	if intent.HasExecutor() {
		fields = append(fields, strings.ToLower(intent.Executor.Hex()))
	}
	return strings.Join(fields, ",")
}

// Verify reports whether intent was signed by its sender. Malformed signatures yield false.
func (v *SignatureValidator) Verify(intent models.PaymentIntent) bool {
	if len(intent.Signature) != SignatureLength {
		return false
	}

	sig := make([]byte, SignatureLength)
	copy(sig, intent.Signature)
	// wallets produce v in {27, 28}; recovery expects {0, 1}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return false
	}

	hash := accounts.TextHash([]byte(v.Message(intent)))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}
	// addresses compare as bytes, so hex case is irrelevant
	return crypto.PubkeyToAddress(*pub) == intent.Sender
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
