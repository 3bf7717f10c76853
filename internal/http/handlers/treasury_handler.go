package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/chains"
	"github.com/b0ase/treasury-backend/internal/config"
	"github.com/b0ase/treasury-backend/internal/http/dto"
	"github.com/b0ase/treasury-backend/internal/services"
)

type TreasuryHandler struct {
	executor services.TransferExecutor
	rates    services.RateSource
	pricing  *services.PricingService
	cfg      *config.Config
	log      *zap.Logger
}

func NewTreasuryHandler(
	executor services.TransferExecutor,
	rates services.RateSource,
	pricing *services.PricingService,
	cfg *config.Config,
	log *zap.Logger,
) *TreasuryHandler {
	return &TreasuryHandler{executor: executor, rates: rates, pricing: pricing, cfg: cfg, log: log}
}

// Info reports treasury balance, accepted payment methods, and the discount
// schedule.
func (h *TreasuryHandler) Info(c *fiber.Ctx) error {
	balance, err := h.executor.TreasuryBalance(c.Context())
	if err != nil {
		h.log.Error("treasury balance fetch failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "treasury unavailable"})
	}

	var methods []dto.PaymentMethodResponse
	for _, currency := range chains.SupportedCurrencies {
		if addr := h.cfg.PaymentAddress(currency); addr != "" {
			methods = append(methods, dto.PaymentMethodResponse{
				Currency: string(currency),
				Address:  addr,
			})
		}
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.TreasuryInfoResponse{
		Balance:         balance,
		MinimumPurchase: h.cfg.MinimumPurchase,
		PaymentMethods:  methods,
		Tiers:           h.pricing.Tiers(),
	}})
}

// Quote prices a prospective purchase without creating anything.
func (h *TreasuryHandler) Quote(c *fiber.Ctx) error {
	amount := c.QueryInt("amount", 0)
	if amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "amount must be a positive integer"})
	}

	quote := h.pricing.Quote(int64(amount))
	resp := dto.QuoteResponse{
		TokenAmount:   quote.TokenAmount,
		PriceUSD:      quote.PriceUSD.String(),
		PricePerToken: quote.PricePerToken.String(),
		DiscountPct:   quote.DiscountPct.String(),
		SavingsUSD:    quote.SavingsUSD.String(),
		Tier:          quote.Tier,
	}

	if currencyStr := c.Query("currency"); currencyStr != "" {
		currency, err := chains.ParseCurrency(currencyStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		rate, err := h.rates.USDRate(c.Context(), currency)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "rate source unavailable"})
		}
		resp.Currency = string(currency)
		resp.CryptoAmount = quote.PriceUSD.Div(rate).String()
		resp.ExchangeRate = rate.String()
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: resp})
}
