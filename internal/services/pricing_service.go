package services

import "github.com/shopspring/decimal"

// PricingTier grants a volume discount at and above a token threshold.
type PricingTier struct {
	MinTokens   int64           `json:"min_tokens"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	Label       string          `json:"label"`
}

// Quote is a priced purchase: total in USD after discount, the effective
// per-token price, and what the discount saved against list price.
type Quote struct {
	TokenAmount   int64           `json:"token_amount"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	DiscountPct   decimal.Decimal `json:"discount_pct"`
	SavingsUSD    decimal.Decimal `json:"savings_usd"`
	Tier          string          `json:"tier"`
}

// PricingService prices purchases off a flat per-token list price with
// volume tiers. All arithmetic stays in decimals until the quote leaves
// the service.
type PricingService struct {
	basePrice decimal.Decimal
	tiers     []PricingTier
}

// Base list price is one cent per token. Tiers are ordered smallest first;
// Quote walks them and keeps the last one the amount clears.
var defaultTiers = []PricingTier{
	{MinTokens: 0, DiscountPct: decimal.Zero, Label: "standard"},
	{MinTokens: 10_000, DiscountPct: decimal.NewFromInt(5), Label: "supporter"},
	{MinTokens: 100_000, DiscountPct: decimal.NewFromInt(10), Label: "serious"},
	{MinTokens: 1_000_000, DiscountPct: decimal.NewFromInt(15), Label: "angel"},
	{MinTokens: 10_000_000, DiscountPct: decimal.NewFromInt(20), Label: "whale"},
}

func NewPricingService() *PricingService {
	return &PricingService{
		basePrice: decimal.New(1, -2), // $0.01
		tiers:     defaultTiers,
	}
}

// Tiers returns the discount schedule, smallest threshold first.
func (s *PricingService) Tiers() []PricingTier {
	out := make([]PricingTier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// Quote prices tokenAmount tokens, applying the deepest tier the amount
// qualifies for.
func (s *PricingService) Quote(tokenAmount int64) Quote {
	tier := s.tiers[0]
	for _, t := range s.tiers {
		if tokenAmount >= t.MinTokens {
			tier = t
		}
	}

	amount := decimal.NewFromInt(tokenAmount)
	listPrice := s.basePrice.Mul(amount)
	multiplier := decimal.NewFromInt(100).Sub(tier.DiscountPct).Div(decimal.NewFromInt(100))
	price := listPrice.Mul(multiplier)

	perToken := decimal.Zero
	if tokenAmount > 0 {
		perToken = price.Div(amount)
	}

	return Quote{
		TokenAmount:   tokenAmount,
		PriceUSD:      price,
		PricePerToken: perToken,
		DiscountPct:   tier.DiscountPct,
		SavingsUSD:    listPrice.Sub(price),
		Tier:          tier.Label,
	}
}
