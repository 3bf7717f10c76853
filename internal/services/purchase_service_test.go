package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/chains"
	"github.com/b0ase/treasury-backend/internal/config"
	"github.com/b0ase/treasury-backend/internal/events"
	"github.com/b0ase/treasury-backend/internal/models"
)

// memStore mirrors the conditional-update semantics of the SQL repository so
// the settlement flow can be exercised concurrently without a database.
type memStore struct {
	mu        sync.Mutex
	purchases map[string]*models.PendingPurchase
}

func newMemStore() *memStore {
	return &memStore{purchases: map[string]*models.PendingPurchase{}}
}

func (s *memStore) Create(_ context.Context, p *models.PendingPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.purchases[p.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.PendingPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return nil, models.ErrPurchaseNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ClaimVerifying(_ context.Context, id, txid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return false, nil
	}
	if p.Status != models.PurchaseStatusPending && p.Status != models.PurchaseStatusVerifying {
		return false, nil
	}
	p.Status = models.PurchaseStatusVerifying
	p.PaymentTxid = &txid
	return true, nil
}

func (s *memStore) ReleaseToPending(_ context.Context, id, errMsg string, confirmations int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok || p.Status != models.PurchaseStatusVerifying {
		return nil
	}
	p.Status = models.PurchaseStatusPending
	p.ErrorMessage = &errMsg
	p.Confirmations = confirmations
	return nil
}

func (s *memStore) MarkPaid(_ context.Context, id, txid string, confirmations int, verifiedAmount int64, senderAddress string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok || p.Status != models.PurchaseStatusVerifying {
		return false, nil
	}
	if p.PaymentTxid == nil || *p.PaymentTxid != txid {
		return false, nil
	}
	now := time.Now()
	p.Status = models.PurchaseStatusPaid
	p.Confirmations = confirmations
	p.VerifiedAmount = &verifiedAmount
	if senderAddress != "" {
		p.SenderAddress = &senderAddress
	}
	p.ErrorMessage = nil
	p.PaidAt = &now
	return true, nil
}

func (s *memStore) MarkCompleted(_ context.Context, id, transferTxid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok || p.Status != models.PurchaseStatusPaid {
		return false, nil
	}
	now := time.Now()
	p.Status = models.PurchaseStatusCompleted
	p.TransferTxid = &transferTxid
	p.CompletedAt = &now
	return true, nil
}

func (s *memStore) MarkFailed(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok || p.Status != models.PurchaseStatusPaid {
		return errors.New("purchase not in paid status")
	}
	p.Status = models.PurchaseStatusFailed
	p.ErrorMessage = &errMsg
	return nil
}

func (s *memStore) MarkExpired(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return false, nil
	}
	if p.Status != models.PurchaseStatusPending && p.Status != models.PurchaseStatusVerifying {
		return false, nil
	}
	p.Status = models.PurchaseStatusExpired
	return true, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *memAudit) Record(_ context.Context, e models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) GetByPurchase(_ context.Context, purchaseID string, _, _ int) ([]models.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range a.entries {
		if e.PurchaseID == purchaseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memAudit) actions(purchaseID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		if e.PurchaseID == purchaseID {
			out = append(out, e.Action)
		}
	}
	return out
}

func (a *memAudit) count(purchaseID, action string) int {
	n := 0
	for _, got := range a.actions(purchaseID) {
		if got == action {
			n++
		}
	}
	return n
}

type fakeVerifier struct {
	calls  atomic.Int64
	result chains.VerificationResult
	// onVerify, when set, runs before the result is returned. Used to
	// interleave a second caller at the point where the claim is held.
	onVerify func(txid string)
}

func (v *fakeVerifier) VerifyPayment(_ context.Context, txid string, currency chains.Currency, addr string, _ int64) chains.VerificationResult {
	v.calls.Add(1)
	if v.onVerify != nil {
		v.onVerify(txid)
	}
	r := v.result
	r.Txid = txid
	r.Currency = currency
	r.RecipientAddress = addr
	return r
}

type fakeExecutor struct {
	balance   int64
	transfers atomic.Int64
	result    *TransferResult
	err       error
	// onTransfer, when set, runs while the transfer is in flight, before
	// the result is returned. Used to interleave a second caller mid-settlement.
	onTransfer func()
}

func (e *fakeExecutor) TreasuryBalance(_ context.Context) (int64, error) {
	return e.balance, nil
}

func (e *fakeExecutor) ExecuteTransfer(_ context.Context, _ string, _ int64) (*TransferResult, error) {
	e.transfers.Add(1)
	if e.onTransfer != nil {
		e.onTransfer()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type fixedRates struct{}

func (fixedRates) USDRate(_ context.Context, _ chains.Currency) (decimal.Decimal, error) {
	return decimal.NewFromInt(40), nil
}

type fixture struct {
	svc      *PurchaseService
	store    *memStore
	audit    *memAudit
	verifier *fakeVerifier
	executor *fakeExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		audit: &memAudit{},
		verifier: &fakeVerifier{result: chains.VerificationResult{
			Verified:      true,
			Amount:        25_000_000,
			Confirmations: 1,
			SenderAddress: "1Sender",
		}},
		executor: &fakeExecutor{
			balance: 10_000_000,
			result:  &TransferResult{Success: true, Txid: "transfer-tx-1"},
		},
	}
	cfg := &config.Config{
		MinimumPurchase:    1000,
		TreasuryBSVAddress: "1TreasuryBSV",
		TreasuryETHAddress: "0xTreasury",
		TreasurySOLAddress: "TreasurySol",
	}
	f.svc = NewPurchaseService(f.store, f.audit, f.verifier, f.executor, fixedRates{}, NewPricingService(), events.NopPublisher{}, cfg, zap.NewNop())
	return f
}

func (f *fixture) initiate(t *testing.T, tokens int64) *models.PendingPurchase {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), tokens, "1RecipientAddr", "BSV")
	require.NoError(t, err)
	return res.Purchase
}

func TestInitiate(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Initiate(context.Background(), 1000, "1RecipientAddr", "bsv")
	require.NoError(t, err)

	p := res.Purchase
	require.Equal(t, models.PurchaseStatusPending, p.Status)
	require.Equal(t, int64(1000), p.TokenAmount)
	require.Equal(t, string(chains.CurrencyBSV), p.PaymentCurrency)
	require.Equal(t, "1TreasuryBSV", p.PaymentAddress)
	// 1000 tokens at $0.01 is $10; at $40/BSV that is 0.25 BSV.
	require.Equal(t, int64(25_000_000), p.ExpectedAmount)
	require.Equal(t, "BOASE_"+p.ID, res.Memo)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("0.25")))

	require.Equal(t, []string{models.AuditActionInitiated}, f.audit.actions(p.ID))

	stored, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusPending, stored.Status)
}

func TestInitiateBelowMinimum(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Initiate(context.Background(), 999, "1RecipientAddr", "BSV")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestInitiateUnsupportedCurrency(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Initiate(context.Background(), 1000, "1RecipientAddr", "DOGE")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestInitiateNoPaymentAddressConfigured(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.TreasurySOLAddress = ""
	_, err := f.svc.Initiate(context.Background(), 1000, "SomeSolAddr", "SOL")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestInitiateInsufficientTreasury(t *testing.T) {
	f := newFixture(t)
	f.executor.balance = 500
	_, err := f.svc.Initiate(context.Background(), 1000, "1RecipientAddr", "BSV")
	require.ErrorIs(t, err, ErrInsufficientTreasury)
}

func TestVerifySettlesPurchase(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)

	out, err := f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, out.Status)
	require.Equal(t, "transfer-tx-1", out.TransferTxid)
	require.Equal(t, int64(1), f.executor.transfers.Load())

	stored, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, stored.Status)
	require.NotNil(t, stored.PaidAt)
	require.NotNil(t, stored.CompletedAt)
	require.Equal(t, "payment-tx-1", *stored.PaymentTxid)
	require.Equal(t, int64(25_000_000), *stored.VerifiedAmount)
	require.Equal(t, "1Sender", *stored.SenderAddress)

	require.Equal(t, []string{
		models.AuditActionInitiated,
		models.AuditActionVerificationAttempt,
		models.AuditActionCompleted,
	}, f.audit.actions(p.ID))
}

func TestVerifyIsIdempotentAfterCompletion(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)

	first, err := f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.NoError(t, err)

	second, err := f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, second.Status)
	require.Equal(t, first.TransferTxid, second.TransferTxid)

	// The redundant call must not touch the chain or the executor again.
	require.Equal(t, int64(1), f.executor.transfers.Load())
	require.Equal(t, int64(1), f.verifier.calls.Load())
	require.Equal(t, 1, f.audit.count(p.ID, models.AuditActionCompleted))
}

func TestVerifyFailureReturnsToPending(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)
	f.verifier.result = chains.VerificationResult{Error: "Transaction not found"}

	out, err := f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusPending, out.Status)
	require.Equal(t, "Transaction not found", out.Error)
	require.Zero(t, f.executor.transfers.Load())

	stored, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusPending, stored.Status)
	require.Equal(t, "Transaction not found", *stored.ErrorMessage)

	// Retry after the transaction confirms.
	f.verifier.result = chains.VerificationResult{Verified: true, Amount: 25_000_000, Confirmations: 1}
	out, err = f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, out.Status)
	require.Equal(t, 2, f.audit.count(p.ID, models.AuditActionVerificationAttempt))
}

func TestVerifyExpiredPurchase(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)
	f.svc.now = func() time.Time { return time.Now().Add(models.PaymentTimeout + time.Minute) }

	_, err := f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.ErrorIs(t, err, ErrExpired)

	// Expiry must be decided before any outward call.
	require.Zero(t, f.verifier.calls.Load())
	require.Zero(t, f.executor.transfers.Load())

	stored, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusExpired, stored.Status)
	require.Equal(t, 1, f.audit.count(p.ID, models.AuditActionExpired))

	// Second call finds the terminal state directly and audits nothing new.
	_, err = f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, 1, f.audit.count(p.ID, models.AuditActionExpired))
}

func TestVerifyTransferFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)
	f.executor.result = &TransferResult{Success: false, Error: "hot wallet empty"}

	_, err := f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.ErrorIs(t, err, ErrTransferFailed)

	stored, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusFailed, stored.Status)
	require.Equal(t, "hot wallet empty", *stored.ErrorMessage)
	require.Equal(t, 1, f.audit.count(p.ID, models.AuditActionTransferFailed))

	// Failed is terminal: no automatic retry, no second transfer attempt.
	_, err = f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, int64(1), f.executor.transfers.Load())
}

func TestVerifyUnknownPurchase(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), "PUR-NOPE", "payment-tx-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyEmptyTxid(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)
	_, err := f.svc.Verify(context.Background(), p.ID, "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestConcurrentVerifyTransfersOnce(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)

	const callers = 8
	var wg sync.WaitGroup
	outcomes := make([]*VerifyOutcome, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(1), f.executor.transfers.Load())
	require.Equal(t, 1, f.audit.count(p.ID, models.AuditActionCompleted))

	completed := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if outcomes[i].Status == models.PurchaseStatusCompleted {
			require.Equal(t, "transfer-tx-1", outcomes[i].TransferTxid)
			completed++
		}
	}
	require.GreaterOrEqual(t, completed, 1)

	stored, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, stored.Status)
}

func TestVerifyPastDeadlineDuringSettlement(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)

	// The payment deadline passes while the winning caller's transfer is
	// still in flight, and a second caller verifies in that window.
	var late *VerifyOutcome
	var lateErr error
	f.executor.onTransfer = func() {
		f.svc.now = func() time.Time { return time.Now().Add(models.PaymentTimeout + time.Minute) }
		late, lateErr = f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	}

	out, err := f.svc.Verify(context.Background(), p.ID, "payment-tx-1")
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, out.Status)
	require.Equal(t, "transfer-tx-1", out.TransferTxid)

	// The late caller must see the settlement in progress, not expire a
	// purchase whose payment already verified.
	require.NoError(t, lateErr)
	require.Equal(t, models.PurchaseStatusPaid, late.Status)
	require.Equal(t, "settlement in progress", late.Error)

	require.Equal(t, int64(1), f.executor.transfers.Load())
	require.Zero(t, f.audit.count(p.ID, models.AuditActionExpired))

	stored, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, stored.Status)
	require.Equal(t, "transfer-tx-1", *stored.TransferTxid)
}

func TestConcurrentVerifyDifferentTxids(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)

	// While the first caller's claim on tx-A is being checked on chain, a
	// second caller re-claims the purchase with tx-B. The paid transition
	// re-asserts the claimed txid, so only the txid on the row can win.
	var inner *VerifyOutcome
	var innerErr error
	f.verifier.onVerify = func(txid string) {
		if txid != "tx-A" {
			return
		}
		inner, innerErr = f.svc.Verify(context.Background(), p.ID, "tx-B")
	}

	out, err := f.svc.Verify(context.Background(), p.ID, "tx-A")
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, out.Status)

	require.NoError(t, innerErr)
	require.Equal(t, models.PurchaseStatusCompleted, inner.Status)
	require.Equal(t, "transfer-tx-1", inner.TransferTxid)

	require.Equal(t, int64(1), f.executor.transfers.Load())
	require.Equal(t, 1, f.audit.count(p.ID, models.AuditActionCompleted))

	stored, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusCompleted, stored.Status)
	require.Equal(t, "tx-B", *stored.PaymentTxid)
}

func TestStatusIsPureRead(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t, 1000)
	f.svc.now = func() time.Time { return time.Now().Add(models.PaymentTimeout + time.Minute) }

	got, err := f.svc.Status(context.Background(), p.ID)
	require.NoError(t, err)
	// Status reports the stored row even past the deadline; only Verify
	// moves a purchase to expired.
	require.Equal(t, models.PurchaseStatusPending, got.Status)

	_, err = f.svc.Status(context.Background(), "PUR-NOPE")
	require.ErrorIs(t, err, ErrNotFound)
}
