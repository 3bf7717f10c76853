package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/chains"
	"github.com/b0ase/treasury-backend/internal/config"
	"github.com/b0ase/treasury-backend/internal/events"
	"github.com/b0ase/treasury-backend/internal/models"
)

// PurchaseStore is the persistence surface the settlement flow needs. The
// conditional-update methods return whether this caller won the transition;
// they are the only mutual exclusion in the system, so every state change
// that matters goes through one of them.
type PurchaseStore interface {
	Create(ctx context.Context, p *models.PendingPurchase) error
	GetByID(ctx context.Context, id string) (*models.PendingPurchase, error)
	ClaimVerifying(ctx context.Context, id, txid string) (bool, error)
	ReleaseToPending(ctx context.Context, id, errMsg string, confirmations int) error
	MarkPaid(ctx context.Context, id, txid string, confirmations int, verifiedAmount int64, senderAddress string) (bool, error)
	MarkCompleted(ctx context.Context, id, transferTxid string) (bool, error)
	MarkFailed(ctx context.Context, id, errMsg string) error
	MarkExpired(ctx context.Context, id string) (bool, error)
}

// AuditSink records and reads lifecycle entries for a purchase.
type AuditSink interface {
	Record(ctx context.Context, entry models.AuditEntry) error
	GetByPurchase(ctx context.Context, purchaseID string, limit, offset int) ([]models.AuditEntry, error)
}

// PaymentVerifier checks an on-chain payment against what a purchase expects.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, txid string, currency chains.Currency, expectedAddress string, expectedAmount int64) chains.VerificationResult
}

// TransferResult is the executor's answer to a transfer request.
type TransferResult struct {
	Success bool   `json:"success"`
	Txid    string `json:"txid"`
	Error   string `json:"error,omitempty"`
}

// TransferExecutor moves tokens out of the treasury.
type TransferExecutor interface {
	TreasuryBalance(ctx context.Context) (int64, error)
	ExecuteTransfer(ctx context.Context, recipientAddress string, tokenAmount int64) (*TransferResult, error)
}

// RateSource quotes the USD price of one whole unit of a payment currency.
type RateSource interface {
	USDRate(ctx context.Context, currency chains.Currency) (decimal.Decimal, error)
}

// PurchaseService owns the purchase lifecycle: quoting and creating pending
// purchases, driving payment verification, and settling the token transfer
// exactly once.
type PurchaseService struct {
	store    PurchaseStore
	audit    AuditSink
	verifier PaymentVerifier
	executor TransferExecutor
	rates    RateSource
	pricing  *PricingService
	pub      events.Publisher
	cfg      *config.Config
	log      *zap.Logger
	now      func() time.Time
}

func NewPurchaseService(
	store PurchaseStore,
	audit AuditSink,
	verifier PaymentVerifier,
	executor TransferExecutor,
	rates RateSource,
	pricing *PricingService,
	pub events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *PurchaseService {
	return &PurchaseService{
		store:    store,
		audit:    audit,
		verifier: verifier,
		executor: executor,
		rates:    rates,
		pricing:  pricing,
		pub:      pub,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// InitiateResult is everything the buyer needs to pay: the pending purchase,
// the crypto amount in whole units, and the memo to attach.
type InitiateResult struct {
	Purchase     *models.PendingPurchase
	Amount       decimal.Decimal
	Memo         string
	Quote        Quote
	ExchangeRate decimal.Decimal
}

// Initiate quotes a purchase, reserves nothing, and stores a pending record
// with a 30-minute payment deadline.
func (s *PurchaseService) Initiate(ctx context.Context, tokenAmount int64, recipientAddress, currencyStr string) (*InitiateResult, error) {
	if tokenAmount < s.cfg.MinimumPurchase {
		return nil, fmt.Errorf("%w: minimum purchase is %d tokens", ErrInvalidInput, s.cfg.MinimumPurchase)
	}
	if recipientAddress == "" {
		return nil, fmt.Errorf("%w: recipient address is required", ErrInvalidInput)
	}

	currency, err := chains.ParseCurrency(currencyStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currencyStr)
	}
	paymentAddress := s.cfg.PaymentAddress(currency)
	if paymentAddress == "" {
		return nil, fmt.Errorf("%w: no payment address configured for %s", ErrUnsupportedCurrency, currency)
	}

	balance, err := s.executor.TreasuryBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: treasury balance check: %v", ErrUpstreamUnavailable, err)
	}
	if balance < tokenAmount {
		return nil, fmt.Errorf("%w: %d available", ErrInsufficientTreasury, balance)
	}

	quote := s.pricing.Quote(tokenAmount)

	rate, err := s.rates.USDRate(ctx, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %s rate: %v", ErrUpstreamUnavailable, currency, err)
	}
	cryptoAmount := quote.PriceUSD.Div(rate)
	expected := chains.ToSmallestUnit(cryptoAmount, currency)

	p := models.NewPendingPurchase(tokenAmount, recipientAddress, string(currency), expected, paymentAddress)
	p.PriceUSD, _ = quote.PriceUSD.Float64()
	p.PricePerToken, _ = quote.PricePerToken.Float64()

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	s.recordAudit(ctx, p.ID, models.AuditActionInitiated, map[string]any{
		"token_amount":    tokenAmount,
		"currency":        currency,
		"expected_amount": expected,
		"price_usd":       p.PriceUSD,
		"recipient":       recipientAddress,
	})
	s.publish(ctx, events.EventPurchaseStatusChanged, map[string]any{
		"purchase_id": p.ID,
		"status":      p.Status,
	})

	s.log.Info("purchase initiated",
		zap.String("purchase_id", p.ID),
		zap.Int64("token_amount", tokenAmount),
		zap.String("currency", string(currency)),
		zap.Int64("expected_amount", expected))

	return &InitiateResult{
		Purchase:     p,
		Amount:       chains.FromSmallestUnit(expected, currency),
		Memo:         p.Memo(),
		Quote:        quote,
		ExchangeRate: rate,
	}, nil
}

// VerifyOutcome reports where a verification call left the purchase. A
// verification failure is a normal outcome (the purchase stays retryable),
// so it lands here rather than in the error return.
type VerifyOutcome struct {
	Status        string
	TransferTxid  string
	Confirmations int
	Error         string
}

// Verify checks the submitted payment transaction and, on success, settles
// the purchase by transferring tokens. Safe to call repeatedly and
// concurrently: the transfer executes at most once, and a call that arrives
// after completion returns the original transfer txid.
func (s *PurchaseService) Verify(ctx context.Context, purchaseID, txid string) (*VerifyOutcome, error) {
	if txid == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	p, err := s.store.GetByID(ctx, purchaseID)
	if err != nil {
		if err == models.ErrPurchaseNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load purchase: %w", err)
	}

	if out, err := s.settledOutcome(p); out != nil || err != nil {
		return out, err
	}

	// Deadline check happens before any network call; an expired purchase
	// must not cost an explorer round trip. Paid purchases never reach here:
	// settledOutcome reports them as in-flight, so a late duplicate call can
	// not expire a row whose transfer is still executing.
	if p.IsExpired(s.now()) {
		return nil, s.expire(ctx, p)
	}

	claimed, err := s.store.ClaimVerifying(ctx, p.ID, txid)
	if err != nil {
		return nil, fmt.Errorf("claim purchase: %w", err)
	}
	if !claimed {
		// Lost the claim to a concurrent caller that already settled or
		// expired the purchase. Report whatever state it landed in.
		return s.reloadOutcome(ctx, p.ID)
	}

	result := s.verifier.VerifyPayment(ctx, txid, chains.Currency(p.PaymentCurrency), p.PaymentAddress, p.ExpectedAmount)

	// The attempt is recorded before the purchase row moves: an audit trail
	// with a gap is worse than one that is briefly ahead of the record.
	s.recordAudit(ctx, p.ID, models.AuditActionVerificationAttempt, map[string]any{
		"txid":          txid,
		"verified":      result.Verified,
		"confirmations": result.Confirmations,
		"amount":        result.Amount,
		"error":         result.Error,
	})

	if !result.Verified {
		if err := s.store.ReleaseToPending(ctx, p.ID, result.Error, result.Confirmations); err != nil {
			return nil, fmt.Errorf("release purchase: %w", err)
		}
		s.log.Info("payment verification failed",
			zap.String("purchase_id", p.ID),
			zap.String("txid", txid),
			zap.String("reason", result.Error))
		return &VerifyOutcome{
			Status:        models.PurchaseStatusPending,
			Confirmations: result.Confirmations,
			Error:         result.Error,
		}, nil
	}

	won, err := s.store.MarkPaid(ctx, p.ID, txid, result.Confirmations, result.Amount, result.SenderAddress)
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	if !won {
		// Another caller verified first and owns the transfer.
		return s.reloadOutcome(ctx, p.ID)
	}

	s.publish(ctx, events.EventPaymentVerified, map[string]any{
		"purchase_id":   p.ID,
		"txid":          txid,
		"amount":        result.Amount,
		"confirmations": result.Confirmations,
	})

	return s.settle(ctx, p, result.Confirmations)
}

// settle runs the token transfer for the caller that won the paid
// transition. A failed or ambiguous transfer is terminal: the purchase is
// marked failed and never retried automatically.
func (s *PurchaseService) settle(ctx context.Context, p *models.PendingPurchase, confirmations int) (*VerifyOutcome, error) {
	res, err := s.executor.ExecuteTransfer(ctx, p.RecipientAddress, p.TokenAmount)
	if err != nil || !res.Success {
		msg := "transfer rejected"
		if err != nil {
			msg = err.Error()
		} else if res.Error != "" {
			msg = res.Error
		}
		s.recordAudit(ctx, p.ID, models.AuditActionTransferFailed, map[string]any{
			"recipient":    p.RecipientAddress,
			"token_amount": p.TokenAmount,
			"error":        msg,
		})
		if err := s.store.MarkFailed(ctx, p.ID, msg); err != nil {
			s.log.Error("mark failed", zap.String("purchase_id", p.ID), zap.Error(err))
		}
		s.log.Error("token transfer failed",
			zap.String("purchase_id", p.ID),
			zap.String("recipient", p.RecipientAddress),
			zap.String("reason", msg))
		return nil, fmt.Errorf("%w: %s", ErrTransferFailed, msg)
	}

	s.recordAudit(ctx, p.ID, models.AuditActionCompleted, map[string]any{
		"transfer_txid": res.Txid,
		"recipient":     p.RecipientAddress,
		"token_amount":  p.TokenAmount,
	})
	moved, err := s.store.MarkCompleted(ctx, p.ID, res.Txid)
	if err != nil || !moved {
		// The transfer went through; the audit entry above is the source of
		// truth for reconciliation if this write is lost.
		s.log.Error("completion write lost after successful transfer",
			zap.String("purchase_id", p.ID),
			zap.String("transfer_txid", res.Txid),
			zap.Bool("row_updated", moved),
			zap.Error(err))
	}
	s.publish(ctx, events.EventPurchaseCompleted, map[string]any{
		"purchase_id":   p.ID,
		"transfer_txid": res.Txid,
		"token_amount":  p.TokenAmount,
	})

	s.log.Info("purchase completed",
		zap.String("purchase_id", p.ID),
		zap.String("transfer_txid", res.Txid),
		zap.Int64("token_amount", p.TokenAmount))

	return &VerifyOutcome{
		Status:        models.PurchaseStatusCompleted,
		TransferTxid:  res.Txid,
		Confirmations: confirmations,
	}, nil
}

// settledOutcome maps a terminal or mid-settlement purchase to its response.
// Returns (nil, nil) only for pending and verifying, the states a new
// verification attempt may act on.
func (s *PurchaseService) settledOutcome(p *models.PendingPurchase) (*VerifyOutcome, error) {
	switch p.Status {
	case models.PurchaseStatusCompleted:
		out := &VerifyOutcome{Status: p.Status, Confirmations: p.Confirmations}
		if p.TransferTxid != nil {
			out.TransferTxid = *p.TransferTxid
		}
		return out, nil
	case models.PurchaseStatusPaid:
		// Payment verified, transfer in flight under another caller. The
		// deadline no longer applies to a paid purchase.
		return &VerifyOutcome{
			Status:        p.Status,
			Confirmations: p.Confirmations,
			Error:         "settlement in progress",
		}, nil
	case models.PurchaseStatusExpired:
		return nil, ErrExpired
	case models.PurchaseStatusFailed:
		msg := "transfer rejected"
		if p.ErrorMessage != nil {
			msg = *p.ErrorMessage
		}
		return nil, fmt.Errorf("%w: %s", ErrTransferFailed, msg)
	}
	return nil, nil
}

// reloadOutcome re-reads a purchase after losing a conditional update and
// reports its current state.
func (s *PurchaseService) reloadOutcome(ctx context.Context, id string) (*VerifyOutcome, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload purchase: %w", err)
	}
	if out, err := s.settledOutcome(p); out != nil || err != nil {
		return out, err
	}
	// Still pending or verifying under a concurrent caller.
	return &VerifyOutcome{Status: p.Status, Confirmations: p.Confirmations, Error: "verification already in progress"}, nil
}

func (s *PurchaseService) expire(ctx context.Context, p *models.PendingPurchase) error {
	moved, err := s.store.MarkExpired(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("expire purchase: %w", err)
	}
	if moved {
		s.recordAudit(ctx, p.ID, models.AuditActionExpired, map[string]any{
			"expires_at": p.ExpiresAt,
		})
		s.publish(ctx, events.EventPurchaseStatusChanged, map[string]any{
			"purchase_id": p.ID,
			"status":      models.PurchaseStatusExpired,
		})
		s.log.Info("purchase expired", zap.String("purchase_id", p.ID))
	}
	return ErrExpired
}

// Status returns the purchase as stored. Pure read: no expiry write, no
// chain calls.
func (s *PurchaseService) Status(ctx context.Context, purchaseID string) (*models.PendingPurchase, error) {
	p, err := s.store.GetByID(ctx, purchaseID)
	if err != nil {
		if err == models.ErrPurchaseNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	return p, nil
}

// AuditTrail returns the recorded lifecycle entries for a purchase.
func (s *PurchaseService) AuditTrail(ctx context.Context, purchaseID string, limit, offset int) ([]models.AuditEntry, error) {
	if _, err := s.Status(ctx, purchaseID); err != nil {
		return nil, err
	}
	return s.audit.GetByPurchase(ctx, purchaseID, limit, offset)
}

func (s *PurchaseService) recordAudit(ctx context.Context, purchaseID, action string, details map[string]any) {
	if err := s.audit.Record(ctx, models.AuditEntry{
		PurchaseID: purchaseID,
		Action:     action,
		Details:    details,
	}); err != nil {
		s.log.Error("audit write failed",
			zap.String("purchase_id", purchaseID),
			zap.String("action", action),
			zap.Error(err))
	}
}

func (s *PurchaseService) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, events.StreamPurchases, events.Event{Type: eventType, Payload: payload}); err != nil {
		s.log.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
	}
}
