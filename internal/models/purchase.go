package models

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Purchase statuses
const (
	PurchaseStatusPending   = "pending"
	PurchaseStatusVerifying = "verifying"
	PurchaseStatusPaid      = "paid"
	PurchaseStatusCompleted = "completed"
	PurchaseStatusFailed    = "failed"
	PurchaseStatusExpired   = "expired"
)

// Valid state transitions: from -> []to.
// verifying -> pending is the retry path after a failed verification attempt;
// everything else is monotonic. Only unverified purchases can expire: once
// paid, the outcome is completed or failed, never expired.
var ValidPurchaseTransitions = map[string][]string{
	PurchaseStatusPending:   {PurchaseStatusVerifying, PurchaseStatusExpired},
	PurchaseStatusVerifying: {PurchaseStatusPending, PurchaseStatusPaid, PurchaseStatusExpired},
	PurchaseStatusPaid:      {PurchaseStatusCompleted, PurchaseStatusFailed},
	PurchaseStatusCompleted: {},
	PurchaseStatusFailed:    {},
	PurchaseStatusExpired:   {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidPurchaseTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	allowed, ok := ValidPurchaseTransitions[status]
	return ok && len(allowed) == 0
}

// PaymentTimeout bounds how long a pending purchase stays payable.
const PaymentTimeout = 30 * time.Minute

// PendingPurchase is one buyer's intent to acquire a fixed token quantity
// for a fixed crypto price. Owned by the settlement service after creation.
type PendingPurchase struct {
	ID               string     `json:"id"`
	TokenAmount      int64      `json:"token_amount"`
	RecipientAddress string     `json:"recipient_address"`
	PaymentCurrency  string     `json:"payment_currency"`
	ExpectedAmount   int64      `json:"expected_amount"` // smallest unit of PaymentCurrency
	PaymentAddress   string     `json:"payment_address"`
	PriceUSD         float64    `json:"price_usd"`
	PricePerToken    float64    `json:"price_per_token"`
	Status           string     `json:"status"`
	PaymentTxid      *string    `json:"payment_txid,omitempty"`
	TransferTxid     *string    `json:"transfer_txid,omitempty"`
	Confirmations    int        `json:"confirmations"`
	VerifiedAmount   *int64     `json:"verified_amount,omitempty"`
	SenderAddress    *string    `json:"sender_address,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// IsExpired reports whether the payment deadline has passed.
func (p *PendingPurchase) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Memo is the payment reference buyers attach to their transaction.
func (p *PendingPurchase) Memo() string {
	return fmt.Sprintf("BOASE_%s", p.ID)
}

// NewPurchaseID generates an id of the form PUR-<time36>-<rand6>.
func NewPurchaseID() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 6)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return strings.ToUpper(fmt.Sprintf("PUR-%s-%s", ts, string(b)))
}

// NewPendingPurchase builds the initial purchase record. No I/O here:
// persistence, balance checks and minimum-size validation are the caller's job.
func NewPendingPurchase(tokenAmount int64, recipientAddress, currency string, expectedAmount int64, paymentAddress string) *PendingPurchase {
	now := time.Now().UTC()
	return &PendingPurchase{
		ID:               NewPurchaseID(),
		TokenAmount:      tokenAmount,
		RecipientAddress: recipientAddress,
		PaymentCurrency:  currency,
		ExpectedAmount:   expectedAmount,
		PaymentAddress:   paymentAddress,
		Status:           PurchaseStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(PaymentTimeout),
	}
}
