package chains

import (
	"context"
	"fmt"
	"time"
)

// VerificationResult is the normalized outcome of checking one claimed
// transaction against one chain. Constructed fresh per attempt; callers fold
// its fields into the purchase record.
type VerificationResult struct {
	Verified         bool       `json:"verified"`
	Txid             string     `json:"txid"`
	Amount           int64      `json:"amount"` // smallest unit actually received at RecipientAddress
	Currency         Currency   `json:"currency"`
	Confirmations    int        `json:"confirmations"`
	RecipientAddress string     `json:"recipient_address"`
	SenderAddress    string     `json:"sender_address,omitempty"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Verifier checks one transaction id against one chain. Implementations never
// return an error across this boundary: network and parse failures become
// Verified=false results with the message preserved.
type Verifier interface {
	Verify(ctx context.Context, txid, expectedAddress string, expectedAmount int64) VerificationResult
}

// amountTolerancePct is the allowed shortfall between the amount received and
// the amount quoted, absorbing fee deduction on the payer's side.
const amountTolerancePct = 1

// withinTolerance reports whether received covers expected minus the 1%
// tolerance. Integer math: expected/100 floors, so exactly 99.0% passes.
func withinTolerance(received, expected int64) bool {
	return received >= expected-expected*amountTolerancePct/100
}

func insufficientAmountErr(received, expected int64, unit string) string {
	return fmt.Sprintf("insufficient amount: received %d %s, expected %d %s", received, unit, expected, unit)
}

func insufficientConfirmationsErr(got, want int) string {
	return fmt.Sprintf("insufficient confirmations: %d/%d", got, want)
}

// failed builds a non-verified result with zero confirmations.
func failed(txid string, currency Currency, addr, msg string) VerificationResult {
	return VerificationResult{
		Txid:             txid,
		Currency:         currency,
		RecipientAddress: addr,
		Error:            msg,
	}
}
