//go:generate mockgen -source ./storage.go -destination=./mocks/storage.go -package=mock_storage
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/repository"
)

type OrderRepository interface {
	CreateBatchTx(ctx context.Context, tx db.Tx, orders []*repository.Order) error
	GetByIDTx(ctx context.Context, tx db.Tx, id string) (*repository.Order, error)
	ListByCustomer(ctx context.Context, customerID string, from time.Time) ([]*repository.Order, error)
	ListProcessingTotals(ctx context.Context, customerID string, dates []time.Time) ([]*repository.DateTotal, error)
	SumProcessingQuantity(ctx context.Context, restaurantID string, date time.Time) (int, error)
	MarkPaidTx(ctx context.Context, tx db.Tx, pendingKey string, payment repository.Payment, now time.Time) ([]*repository.Order, error)
	DeletePendingTx(ctx context.Context, tx db.Tx, pendingKey string) ([]string, error)
	UpdateStatusTx(ctx context.Context, tx db.Tx, id string, status repository.OrderStatus, now time.Time) error
}

type RestaurantRepository interface {
	GetByID(ctx context.Context, id string) (*repository.Restaurant, error)
	GetUpcomingSchedules(ctx context.Context, companyID string, after time.Time) ([]*repository.ScheduleSlot, error)
	GetActiveItems(ctx context.Context, restaurantIDs []string) ([]*repository.Item, error)
	DeactivateSchedules(ctx context.Context, restaurantID string, date time.Time) ([]string, error)
}

type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*repository.Company, error)
}

type CustomerRepository interface {
	GetByEmail(ctx context.Context, email string) (*repository.Customer, error)
}

type DiscountRepository interface {
	GetByID(ctx context.Context, id string) (*repository.DiscountCode, error)
	HasRedeemed(ctx context.Context, codeID, customerID string) (bool, error)
	RedeemTx(ctx context.Context, tx db.Tx, redemption *repository.DiscountRedemption) (bool, error)
}

type CapacityRepository interface {
	LockTx(ctx context.Context, tx db.Tx, restaurantID string, date time.Time) (int, error)
	AddTx(ctx context.Context, tx db.Tx, restaurantID string, date time.Time, delta int) error
}

type RefundRepository interface {
	RefundedTotalTx(ctx context.Context, tx db.Tx, paymentIntent string) (decimal.Decimal, error)
	CreateTx(ctx context.Context, tx db.Tx, refund *repository.Refund) error
}

type OutboxTaskRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error
	GetProcessableTasksTx(ctx context.Context, tx db.Tx, limit, maxAttempts int, lease time.Duration) ([]*repository.OutboxTask, error)
	UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
}
