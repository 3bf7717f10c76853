package handlers

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/http/dto"
	"github.com/b0ase/treasury-backend/internal/models"
	"github.com/b0ase/treasury-backend/internal/services"
)

type PurchaseHandler struct {
	purchases *services.PurchaseService
	validate  *validator.Validate
	log       *zap.Logger
}

func NewPurchaseHandler(purchases *services.PurchaseService, log *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		purchases: purchases,
		validate:  validator.New(),
		log:       log,
	}
}

func (h *PurchaseHandler) Initiate(c *fiber.Ctx) error {
	var req dto.InitiatePurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	res, err := h.purchases.Initiate(c.Context(), req.TokenAmount, req.RecipientAddress, req.Currency)
	if err != nil {
		return h.fail(c, err)
	}

	p := res.Purchase
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.InitiatePurchaseResponse{
		PurchaseID:     p.ID,
		Status:         p.Status,
		PaymentAddress: p.PaymentAddress,
		Currency:       p.PaymentCurrency,
		Amount:         res.Amount.String(),
		ExpectedAmount: p.ExpectedAmount,
		Memo:           res.Memo,
		ExpiresAt:      p.ExpiresAt,
		Quote: dto.QuoteResponse{
			TokenAmount:   res.Quote.TokenAmount,
			PriceUSD:      res.Quote.PriceUSD.String(),
			PricePerToken: res.Quote.PricePerToken.String(),
			DiscountPct:   res.Quote.DiscountPct.String(),
			SavingsUSD:    res.Quote.SavingsUSD.String(),
			Tier:          res.Quote.Tier,
			Currency:      p.PaymentCurrency,
			CryptoAmount:  res.Amount.String(),
			ExchangeRate:  res.ExchangeRate.String(),
		},
	}})
}

func (h *PurchaseHandler) Verify(c *fiber.Ctx) error {
	var req dto.VerifyPurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	purchaseID := c.Params("id")
	out, err := h.purchases.Verify(c.Context(), purchaseID, req.Txid)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.VerifyPurchaseResponse{
		PurchaseID:    purchaseID,
		Status:        out.Status,
		TransferTxid:  out.TransferTxid,
		Confirmations: out.Confirmations,
		Error:         out.Error,
	}})
}

func (h *PurchaseHandler) Get(c *fiber.Ctx) error {
	p, err := h.purchases.Status(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: purchaseView(p)})
}

func (h *PurchaseHandler) Audit(c *fiber.Ctx) error {
	limit := 50
	offset := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := h.purchases.AuditTrail(c.Context(), c.Params("id"), limit, offset)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func purchaseView(p *models.PendingPurchase) dto.PurchaseResponse {
	return dto.PurchaseResponse{
		PurchaseID:       p.ID,
		Status:           p.Status,
		TokenAmount:      p.TokenAmount,
		RecipientAddress: p.RecipientAddress,
		Currency:         p.PaymentCurrency,
		PaymentAddress:   p.PaymentAddress,
		ExpectedAmount:   p.ExpectedAmount,
		PaymentTxid:      p.PaymentTxid,
		TransferTxid:     p.TransferTxid,
		Confirmations:    p.Confirmations,
		ErrorMessage:     p.ErrorMessage,
		CreatedAt:        p.CreatedAt,
		ExpiresAt:        p.ExpiresAt,
		PaidAt:           p.PaidAt,
		CompletedAt:      p.CompletedAt,
	}
}

// fail maps service errors onto HTTP statuses.
func (h *PurchaseHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrUnsupportedCurrency):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrExpired):
		return c.Status(fiber.StatusGone).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrInsufficientTreasury):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrTransferFailed):
		// Payment accepted but settlement failed; surfaced as-is so the
		// buyer knows to contact support rather than pay again.
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("purchase request failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
}
