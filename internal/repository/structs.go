package repository

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrObjectNotFound = errors.New("not found")

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusArchived   OrderStatus = "ARCHIVED"
)

type ScheduleStatus string

const (
	ScheduleStatusActive   ScheduleStatus = "ACTIVE"
	ScheduleStatusInactive ScheduleStatus = "INACTIVE"
)

type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "ACTIVE"
	ItemStatusArchived ItemStatus = "ARCHIVED"
)

// Order is one line item: one customer, one delivery date, one restaurant item.
// Customer, restaurant, company and item fields are snapshots taken at creation.
type Order struct {
	ID                 string              `db:"id"`
	CustomerID         string              `db:"customer_id"`
	CustomerName       string              `db:"customer_name"`
	CustomerEmail      string              `db:"customer_email"`
	RestaurantID       string              `db:"restaurant_id"`
	RestaurantName     string              `db:"restaurant_name"`
	CompanyID          string              `db:"company_id"`
	CompanyName        string              `db:"company_name"`
	CompanyShift       string              `db:"company_shift"`
	DeliveryDate       time.Time           `db:"delivery_date"`
	DeliveryAddress    string              `db:"delivery_address"`
	ItemID             string              `db:"item_id"`
	ItemName           string              `db:"item_name"`
	Quantity           int                 `db:"quantity"`
	Total              decimal.Decimal     `db:"total"`
	OptionalAddons     string              `db:"optional_addons"`
	RequiredAddons     string              `db:"required_addons"`
	RemovedIngredients string              `db:"removed_ingredients"`
	Status             OrderStatus         `db:"status"`
	PendingKey         *string             `db:"pending_key"`
	PaymentIntent      *string             `db:"payment_intent"`
	PaymentTotal       decimal.NullDecimal `db:"payment_total"`
	CreatedAt          time.Time           `db:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at"`
}

// Payment is what the provider reported when a checkout session completed.
type Payment struct {
	Intent string
	Total  decimal.Decimal
}

type Company struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Shift       string          `db:"shift"`
	ShiftBudget decimal.Decimal `db:"shift_budget"`
	Address     string          `db:"address"`
}

type Customer struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Email        string `db:"email"`
	PasswordHash string `db:"password"`
	Role         string `db:"role"`
	CompanyID    string `db:"company_id"`
}

type Restaurant struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	OrderCapacity int    `db:"order_capacity"`
}

// ScheduleSlot is an active schedule entry joined with its restaurant.
type ScheduleSlot struct {
	RestaurantID   string    `db:"restaurant_id" json:"restaurantId"`
	RestaurantName string    `db:"restaurant_name" json:"restaurantName"`
	OrderCapacity  int       `db:"order_capacity" json:"orderCapacity"`
	CompanyID      string    `db:"company_id" json:"companyId"`
	Date           time.Time `db:"date" json:"date"`
}

// Item addon and ingredient columns keep the comma separated wire encoding.
type Item struct {
	ID                   string          `db:"id" json:"id"`
	RestaurantID         string          `db:"restaurant_id" json:"restaurantId"`
	Name                 string          `db:"name" json:"name"`
	Price                decimal.Decimal `db:"price" json:"price"`
	Status               ItemStatus      `db:"status" json:"status"`
	OptionalAddons       string          `db:"optional_addons" json:"optionalAddons"`
	OptionalAddable      int             `db:"optional_addable" json:"optionalAddable"`
	RequiredAddons       string          `db:"required_addons" json:"requiredAddons"`
	RequiredAddable      int             `db:"required_addable" json:"requiredAddable"`
	RemovableIngredients string          `db:"removable_ingredients" json:"removableIngredients"`
}

type Redeemability string

const (
	RedeemOnce      Redeemability = "once"
	RedeemUnlimited Redeemability = "unlimited"
)

type DiscountCode struct {
	ID            string          `db:"id"`
	Code          string          `db:"code"`
	Value         decimal.Decimal `db:"value"`
	Redeemability Redeemability   `db:"redeemability"`
	TotalRedeem   int             `db:"total_redeem"`
}

type DiscountRedemption struct {
	DiscountCodeID string    `db:"discount_code_id"`
	CustomerID     string    `db:"customer_id"`
	RedemptionKey  string    `db:"redemption_key"`
	CreatedAt      time.Time `db:"created_at"`
}

type Refund struct {
	OrderID          string          `db:"order_id"`
	PaymentIntent    string          `db:"payment_intent"`
	Amount           decimal.Decimal `db:"amount"`
	ProviderRefundID string          `db:"provider_refund_id"`
	CreatedAt        time.Time       `db:"created_at"`
}

type DateTotal struct {
	Date  time.Time       `db:"delivery_date"`
	Total decimal.Decimal `db:"total"`
}
