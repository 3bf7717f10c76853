package dto

type AuthTokenRequest struct {
	WalletAddress string `json:"wallet_address" validate:"required"`
}

type InitiatePurchaseRequest struct {
	TokenAmount      int64  `json:"token_amount" validate:"required,gt=0"`
	RecipientAddress string `json:"recipient_address" validate:"required"`
	Currency         string `json:"currency" validate:"required"` // BSV / ETH / SOL
}

type VerifyPurchaseRequest struct {
	Txid string `json:"txid" validate:"required"`
}
