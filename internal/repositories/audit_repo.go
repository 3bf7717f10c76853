package repositories

import (
	"context"

	"github.com/b0ase/treasury-backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepo is the append-only audit sink. Entries are never updated or
// deleted; support and dispute resolution read from here.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Record(ctx context.Context, entry models.AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO treasury_audit_log (purchase_id, action, details)
		VALUES ($1, $2, $3)
	`, entry.PurchaseID, entry.Action, entry.Details)
	return err
}

func (r *AuditRepo) GetByPurchase(ctx context.Context, purchaseID string, limit, offset int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, purchase_id, action, details, created_at
		FROM treasury_audit_log WHERE purchase_id = $1
		ORDER BY created_at ASC LIMIT $2 OFFSET $3
	`, purchaseID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.PurchaseID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
