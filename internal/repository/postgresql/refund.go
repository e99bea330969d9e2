package postgresql

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type RefundRepo struct{}

func NewRefundRepo() storage.RefundRepository {
	return &RefundRepo{}
}

// RefundedTotalTx serializes refunds of one payment intent for the rest of tx
// and returns how much of it was already refunded.
func (r *RefundRepo) RefundedTotalTx(ctx context.Context, tx db.Tx, paymentIntent string) (decimal.Decimal, error) {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", paymentIntent); err != nil {
		return decimal.Zero, fmt.Errorf("lock refunds of %s: %w", paymentIntent, err)
	}

	var sum struct {
		Total decimal.Decimal `db:"total"`
	}
	err := tx.Get(ctx, &sum,
		"SELECT COALESCE(SUM(amount), 0) AS total FROM refunds WHERE payment_intent = $1", paymentIntent)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum refunds: %w", err)
	}
	return sum.Total, nil
}

func (r *RefundRepo) CreateTx(ctx context.Context, tx db.Tx, refund *repository.Refund) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO refunds (order_id, payment_intent, amount, provider_refund_id, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, refund.OrderID, refund.PaymentIntent, refund.Amount, refund.ProviderRefundID, refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refund for order %s: %w", refund.OrderID, err)
	}
	return nil
}
