//go:generate mockgen -source ./provider.go -destination=./mocks/provider.go -package=mock_payment
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout.session.completed"
	EventCheckoutExpired       EventType = "checkout.session.expired"
	EventAsyncPaymentSucceeded EventType = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    EventType = "checkout.session.async_payment_failed"
)

// IsCheckout reports whether t carries a checkout session.
func (t EventType) IsCheckout() bool {
	switch t {
	case EventCheckoutCompleted, EventCheckoutExpired, EventAsyncPaymentSucceeded, EventAsyncPaymentFailed:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// Session metadata keys.
const (
	MetaPendingKey     = "pending_key"
	MetaCustomerID     = "customer_id"
	MetaDiscountCodeID = "discount_code_id"
	MetaDiscountAmount = "discount_amount"
)

type CheckoutLine struct {
	Description string
	Amount      decimal.Decimal
}

type CheckoutRequest struct {
	PendingKey     string
	CustomerID     string
	CustomerEmail  string
	Lines          []CheckoutLine
	DiscountCodeID string
	DiscountAmount decimal.Decimal
	ExpiresAt      time.Time
}

type CheckoutSession struct {
	ID  string
	URL string
}

type RefundRequest struct {
	PaymentIntent  string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Event is a verified provider notification about a checkout session.
type Event struct {
	ID             string
	Type           EventType
	SessionID      string
	PendingKey     string
	CustomerID     string
	DiscountCodeID string
	DiscountAmount decimal.Decimal
	PaymentIntent  string
	AmountTotal    decimal.Decimal
	PaymentStatus  PaymentStatus
}

// Settled reports whether the funds of the session have been captured.
// A completed session paid by a delayed method stays unpaid until its
// async_payment_succeeded event.
func (e *Event) Settled() bool {
	return e.PaymentStatus == PaymentStatusPaid || e.PaymentStatus == PaymentStatusNoPaymentRequired
}

type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	Refund(ctx context.Context, req RefundRequest) (string, error)
	// ParseEvent verifies signature over payload and decodes it.
	ParseEvent(payload []byte, signature string) (*Event, error)
}
