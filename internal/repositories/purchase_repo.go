package repositories

import (
	"context"
	"errors"

	"github.com/b0ase/treasury-backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PurchaseRepo persists pending purchases. All status changes are conditional
// updates keyed on the expected prior status; the boolean results report
// whether this caller won the transition. Two concurrent verify calls can
// therefore never both drive the same purchase into the transfer step.
type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func (r *PurchaseRepo) Create(ctx context.Context, p *models.PendingPurchase) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO treasury_purchases
			(id, token_amount, recipient_address, payment_currency, expected_amount,
			 payment_address, price_usd, price_per_token, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.TokenAmount, p.RecipientAddress, p.PaymentCurrency, p.ExpectedAmount,
		p.PaymentAddress, p.PriceUSD, p.PricePerToken, p.Status, p.CreatedAt, p.ExpiresAt)
	return err
}

const purchaseColumns = `
	id, token_amount, recipient_address, payment_currency, expected_amount,
	payment_address, price_usd, price_per_token, status,
	payment_txid, transfer_txid, confirmations, verified_amount, sender_address,
	error_message, created_at, expires_at, paid_at, completed_at`

func (r *PurchaseRepo) GetByID(ctx context.Context, id string) (*models.PendingPurchase, error) {
	var p models.PendingPurchase
	err := r.pool.QueryRow(ctx, `
		SELECT `+purchaseColumns+`
		FROM treasury_purchases WHERE id = $1
	`, id).Scan(&p.ID, &p.TokenAmount, &p.RecipientAddress, &p.PaymentCurrency, &p.ExpectedAmount,
		&p.PaymentAddress, &p.PriceUSD, &p.PricePerToken, &p.Status,
		&p.PaymentTxid, &p.TransferTxid, &p.Confirmations, &p.VerifiedAmount, &p.SenderAddress,
		&p.ErrorMessage, &p.CreatedAt, &p.ExpiresAt, &p.PaidAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ClaimVerifying moves a pending or verifying purchase into verifying and
// records the submitted txid. Returns false when the purchase is in any other
// state (completed, failed, expired, or mid-transfer).
func (r *PurchaseRepo) ClaimVerifying(ctx context.Context, id, txid string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE treasury_purchases
		SET status = $2, payment_txid = $3, updated_at = now()
		WHERE id = $1 AND status IN ($4, $2)
	`, id, models.PurchaseStatusVerifying, txid, models.PurchaseStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseToPending is the retry backtrack after a failed verification attempt.
// Confirmation progress and the failure reason are kept visible to the buyer.
func (r *PurchaseRepo) ReleaseToPending(ctx context.Context, id, errMsg string, confirmations int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE treasury_purchases
		SET status = $2, error_message = $3, confirmations = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`, id, models.PurchaseStatusPending, errMsg, confirmations, models.PurchaseStatusVerifying)
	return err
}

// MarkPaid is the single gate in front of the token transfer: only the caller
// that wins this verifying -> paid transition may invoke the executor. The
// txid is re-asserted so a caller whose claim was overwritten by a concurrent
// submission with a different txid cannot stamp its verification data onto
// the other transaction's row.
func (r *PurchaseRepo) MarkPaid(ctx context.Context, id, txid string, confirmations int, verifiedAmount int64, senderAddress string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE treasury_purchases
		SET status = $2, paid_at = now(), confirmations = $3, verified_amount = $4,
		    sender_address = NULLIF($5, ''), error_message = NULL, updated_at = now()
		WHERE id = $1 AND status = $6 AND payment_txid = $7
	`, id, models.PurchaseStatusPaid, confirmations, verifiedAmount, senderAddress,
		models.PurchaseStatusVerifying, txid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCompleted records the settled transfer. The boolean reports whether the
// row actually moved; a false return means the completion write was lost and
// the audit trail is the only record of the transfer.
func (r *PurchaseRepo) MarkCompleted(ctx context.Context, id, transferTxid string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE treasury_purchases
		SET status = $2, completed_at = now(), transfer_txid = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, models.PurchaseStatusCompleted, transferTxid, models.PurchaseStatusPaid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PurchaseRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE treasury_purchases
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, models.PurchaseStatusFailed, errMsg, models.PurchaseStatusPaid)
	return err
}

// MarkExpired flips a purchase past its deadline to expired. Only purchases
// whose payment was never verified qualify: a paid row is mid-settlement and
// must never be expired out from under the transfer.
func (r *PurchaseRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE treasury_purchases
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, models.PurchaseStatusExpired, models.PurchaseStatusPending, models.PurchaseStatusVerifying)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
