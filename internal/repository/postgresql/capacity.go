package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type CapacityRepo struct{}

func NewCapacityRepo() storage.CapacityRepository {
	return &CapacityRepo{}
}

// LockTx seeds the (restaurant, date) counter from PROCESSING orders when it
// does not exist yet, then locks the row until tx ends and returns its quantity.
func (r *CapacityRepo) LockTx(ctx context.Context, tx db.Tx, restaurantID string, date time.Time) (int, error) {
	_, err := tx.Exec(ctx, `
        INSERT INTO capacity_counters (restaurant_id, delivery_date, quantity)
        SELECT $1::text, $2::date, COALESCE(SUM(quantity), 0)
        FROM orders
        WHERE restaurant_id = $1 AND delivery_date = $2 AND status = $3
        ON CONFLICT (restaurant_id, delivery_date) DO NOTHING
    `, restaurantID, date, repository.OrderStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("seed capacity counter: %w", err)
	}

	var counter struct {
		Quantity int `db:"quantity"`
	}
	err = tx.Get(ctx, &counter, `
        SELECT quantity FROM capacity_counters
        WHERE restaurant_id = $1 AND delivery_date = $2
        FOR UPDATE
    `, restaurantID, date)
	if err != nil {
		return 0, fmt.Errorf("lock capacity counter: %w", err)
	}
	return counter.Quantity, nil
}

func (r *CapacityRepo) AddTx(ctx context.Context, tx db.Tx, restaurantID string, date time.Time, delta int) error {
	cmdTag, err := tx.Exec(ctx, `
        UPDATE capacity_counters
        SET quantity = GREATEST(quantity + $3, 0)
        WHERE restaurant_id = $1 AND delivery_date = $2
    `, restaurantID, date, delta)
	if err != nil {
		return fmt.Errorf("update capacity counter: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
