package chains

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Facade is the single entry point for payment verification. It dispatches by
// currency and normalizes unsupported input into a failed result, so callers
// never need a type switch.
type Facade struct {
	verifiers map[Currency]Verifier
	log       *zap.Logger
}

func NewFacade(log *zap.Logger) *Facade {
	return &Facade{verifiers: make(map[Currency]Verifier), log: log}
}

// Register binds a verifier to a currency. Later registrations replace earlier ones.
func (f *Facade) Register(c Currency, v Verifier) {
	f.verifiers[c] = v
}

// VerifyPayment checks the claimed transaction for the given currency.
// expectedAmount is in the chain's smallest unit.
func (f *Facade) VerifyPayment(ctx context.Context, txid string, currency Currency, expectedAddress string, expectedAmount int64) VerificationResult {
	v, ok := f.verifiers[currency]
	if !ok {
		return failed(txid, currency, expectedAddress, fmt.Sprintf("Unsupported currency: %s", currency))
	}

	result := v.Verify(ctx, txid, expectedAddress, expectedAmount)

	f.log.Info("payment verification",
		zap.String("txid", txid),
		zap.String("currency", string(currency)),
		zap.Bool("verified", result.Verified),
		zap.Int("confirmations", result.Confirmations),
		zap.String("error", result.Error),
	)
	return result
}
