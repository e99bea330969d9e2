package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type DiscountRepo struct {
	db db.DB
}

func NewDiscountRepo(db db.DB) storage.DiscountRepository {
	return &DiscountRepo{db: db}
}

func (r *DiscountRepo) GetByID(ctx context.Context, id string) (*repository.DiscountCode, error) {
	var code repository.DiscountCode
	err := r.db.Get(ctx, &code,
		"SELECT id, code, value, redeemability, total_redeem FROM discount_codes WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (r *DiscountRepo) HasRedeemed(ctx context.Context, codeID, customerID string) (bool, error) {
	var exists bool
	err := r.db.ExecQueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM discount_redemptions WHERE discount_code_id = $1 AND customer_id = $2
        )
    `, codeID, customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check discount redemption: %w", err)
	}
	return exists, nil
}

const insertRedemptionQuery = `
        INSERT INTO discount_redemptions (discount_code_id, customer_id, redemption_key, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (discount_code_id, redemption_key) DO NOTHING
    `

const insertOnceRedemptionQuery = `
        INSERT INTO discount_redemptions (discount_code_id, customer_id, redemption_key, created_at)
        SELECT $1, $2, $3, $4
        WHERE NOT EXISTS (
            SELECT 1 FROM discount_redemptions WHERE discount_code_id = $1 AND customer_id = $2
        )
        ON CONFLICT (discount_code_id, redemption_key) DO NOTHING
    `

// RedeemTx records the redemption and bumps total_redeem. It reports false
// without changing anything when the redemption key was seen before or when a
// once code was already redeemed by the same customer. The code row stays
// locked until tx ends so concurrent redemptions of one code are serialized.
func (r *DiscountRepo) RedeemTx(ctx context.Context, tx db.Tx, redemption *repository.DiscountRedemption) (bool, error) {
	var code repository.DiscountCode
	err := tx.Get(ctx, &code,
		"SELECT id, code, value, redeemability, total_redeem FROM discount_codes WHERE id = $1 FOR UPDATE",
		redemption.DiscountCodeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, repository.ErrObjectNotFound
		}
		return false, fmt.Errorf("lock discount code %s: %w", redemption.DiscountCodeID, err)
	}

	query := insertRedemptionQuery
	if code.Redeemability == repository.RedeemOnce {
		query = insertOnceRedemptionQuery
	}
	cmdTag, err := tx.Exec(ctx, query,
		redemption.DiscountCodeID, redemption.CustomerID, redemption.RedemptionKey, redemption.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert discount redemption: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return false, nil
	}

	cmdTag, err = tx.Exec(ctx,
		"UPDATE discount_codes SET total_redeem = total_redeem + 1 WHERE id = $1", redemption.DiscountCodeID)
	if err != nil {
		return false, fmt.Errorf("increment discount redemptions: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return false, repository.ErrObjectNotFound
	}
	return true, nil
}
