package dto

import "time"

type AuthResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type QuoteResponse struct {
	TokenAmount   int64  `json:"token_amount"`
	PriceUSD      string `json:"price_usd"`
	PricePerToken string `json:"price_per_token"`
	DiscountPct   string `json:"discount_pct"`
	SavingsUSD    string `json:"savings_usd"`
	Tier          string `json:"tier"`
	Currency      string `json:"currency,omitempty"`
	CryptoAmount  string `json:"crypto_amount,omitempty"`
	ExchangeRate  string `json:"exchange_rate,omitempty"`
}

type InitiatePurchaseResponse struct {
	PurchaseID     string        `json:"purchase_id"`
	Status         string        `json:"status"`
	PaymentAddress string        `json:"payment_address"`
	Currency       string        `json:"currency"`
	Amount         string        `json:"amount"`          // whole units of the payment currency
	ExpectedAmount int64         `json:"expected_amount"` // smallest unit
	Memo           string        `json:"memo"`
	ExpiresAt      time.Time     `json:"expires_at"`
	Quote          QuoteResponse `json:"quote"`
}

type PurchaseResponse struct {
	PurchaseID       string     `json:"purchase_id"`
	Status           string     `json:"status"`
	TokenAmount      int64      `json:"token_amount"`
	RecipientAddress string     `json:"recipient_address"`
	Currency         string     `json:"currency"`
	PaymentAddress   string     `json:"payment_address"`
	ExpectedAmount   int64      `json:"expected_amount"`
	PaymentTxid      *string    `json:"payment_txid,omitempty"`
	TransferTxid     *string    `json:"transfer_txid,omitempty"`
	Confirmations    int        `json:"confirmations"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type VerifyPurchaseResponse struct {
	PurchaseID    string `json:"purchase_id"`
	Status        string `json:"status"`
	TransferTxid  string `json:"transfer_txid,omitempty"`
	Confirmations int    `json:"confirmations"`
	Error         string `json:"error,omitempty"`
}

type PaymentMethodResponse struct {
	Currency string `json:"currency"`
	Address  string `json:"address"`
}

type TreasuryInfoResponse struct {
	Balance         int64                   `json:"balance"`
	MinimumPurchase int64                   `json:"minimum_purchase"`
	PaymentMethods  []PaymentMethodResponse `json:"payment_methods"`
	Tiers           any                     `json:"tiers"`
}
