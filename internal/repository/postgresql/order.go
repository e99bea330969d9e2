package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

const orderColumns = `id, customer_id, customer_name, customer_email, restaurant_id, restaurant_name,
            company_id, company_name, company_shift, delivery_date, delivery_address, item_id, item_name,
            quantity, total, optional_addons, required_addons, removed_ingredients, status, pending_key,
            payment_intent, payment_total, created_at, updated_at`

type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) storage.OrderRepository {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) CreateBatchTx(ctx context.Context, tx db.Tx, orders []*repository.Order) error {
	for _, order := range orders {
		_, err := tx.Exec(ctx, `
        INSERT INTO orders (`+orderColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
    `, order.ID, order.CustomerID, order.CustomerName, order.CustomerEmail, order.RestaurantID, order.RestaurantName,
			order.CompanyID, order.CompanyName, order.CompanyShift, order.DeliveryDate, order.DeliveryAddress, order.ItemID,
			order.ItemName, order.Quantity, order.Total, order.OptionalAddons, order.RequiredAddons, order.RemovedIngredients,
			order.Status, order.PendingKey, order.PaymentIntent, order.PaymentTotal, order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}
	}
	return nil
}

func (r *OrderRepo) GetByIDTx(ctx context.Context, tx db.Tx, id string) (*repository.Order, error) {
	var order repository.Order
	err := tx.Get(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) ListByCustomer(ctx context.Context, customerID string, from time.Time) ([]*repository.Order, error) {
	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, `
        SELECT `+orderColumns+` FROM orders
        WHERE customer_id = $1 AND delivery_date >= $2
        ORDER BY delivery_date ASC, created_at ASC
    `, customerID, from)
	if err != nil {
		return nil, fmt.Errorf("list orders of customer %s: %w", customerID, err)
	}
	return orders, nil
}

// ListProcessingTotals returns one row per PROCESSING order on the given dates.
// Aggregation by date is left to the caller.
func (r *OrderRepo) ListProcessingTotals(ctx context.Context, customerID string, dates []time.Time) ([]*repository.DateTotal, error) {
	var totals []*repository.DateTotal
	err := r.db.Select(ctx, &totals, `
        SELECT delivery_date, total FROM orders
        WHERE customer_id = $1 AND status = $2 AND delivery_date = ANY($3::date[])
        ORDER BY created_at ASC
    `, customerID, repository.OrderStatusProcessing, dates)
	if err != nil {
		return nil, fmt.Errorf("list processing totals: %w", err)
	}
	return totals, nil
}

func (r *OrderRepo) SumProcessingQuantity(ctx context.Context, restaurantID string, date time.Time) (int, error) {
	var quantity int
	err := r.db.ExecQueryRow(ctx, `
        SELECT COALESCE(SUM(quantity), 0) FROM orders
        WHERE restaurant_id = $1 AND delivery_date = $2 AND status = $3
    `, restaurantID, date, repository.OrderStatusProcessing).Scan(&quantity)
	if err != nil {
		return 0, fmt.Errorf("sum processing quantity: %w", err)
	}
	return quantity, nil
}

// MarkPaidTx moves the PENDING orders of a checkout batch to PROCESSING and
// returns only the rows that actually changed.
func (r *OrderRepo) MarkPaidTx(ctx context.Context, tx db.Tx, pendingKey string, payment repository.Payment, now time.Time) ([]*repository.Order, error) {
	var orders []*repository.Order
	err := tx.Select(ctx, &orders, `
        UPDATE orders
        SET
            status = $2,
            pending_key = NULL,
            payment_intent = $3,
            payment_total = $4,
            updated_at = $5
        WHERE pending_key = $1 AND status = $6
        RETURNING `+orderColumns,
		pendingKey, repository.OrderStatusProcessing, payment.Intent, payment.Total, now, repository.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("mark orders paid: %w", err)
	}
	return orders, nil
}

func (r *OrderRepo) DeletePendingTx(ctx context.Context, tx db.Tx, pendingKey string) ([]string, error) {
	var ids []string
	err := tx.Select(ctx, &ids, `
        DELETE FROM orders
        WHERE pending_key = $1 AND status = $2
        RETURNING id
    `, pendingKey, repository.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("delete pending orders: %w", err)
	}
	return ids, nil
}

func (r *OrderRepo) UpdateStatusTx(ctx context.Context, tx db.Tx, id string, status repository.OrderStatus, now time.Time) error {
	cmdTag, err := tx.Exec(ctx, `
        UPDATE orders
        SET status = $2, updated_at = $3
        WHERE id = $1
    `, id, status, now)
	if err != nil {
		return fmt.Errorf("update status of order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
