package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/auth"
	"github.com/b0ase/treasury-backend/internal/config"
	"github.com/b0ase/treasury-backend/internal/http/dto"
)

type AuthHandler struct {
	cfg      *config.Config
	validate *validator.Validate
	log      *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, validate: validator.New(), log: log}
}

// Token issues a JWT bound to a wallet address. Possession of the address is
// not proven here; the token scopes rate limits and audit reads, it grants
// nothing that spends funds.
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req dto.AuthTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, req.WalletAddress, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("jwt generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token})
}
