// Package payment talks to the payment provider and applies the outcome of
// checkout sessions and refunds to stored orders.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/auth"
	"github.com/corpmeals/ordering/internal/capacity"
	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/metrics"
	"github.com/corpmeals/ordering/internal/outbox"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type Reconciler struct {
	db        db.DB
	orders    storage.OrderRepository
	discounts storage.DiscountRepository
	refunds   storage.RefundRepository
	guard     *capacity.Guard
	outbox    *outbox.Writer
	provider  Provider
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewReconciler(
	database db.DB,
	orders storage.OrderRepository,
	discounts storage.DiscountRepository,
	refunds storage.RefundRepository,
	guard *capacity.Guard,
	writer *outbox.Writer,
	provider Provider,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		db:        database,
		orders:    orders,
		discounts: discounts,
		refunds:   refunds,
		guard:     guard,
		outbox:    writer,
		provider:  provider,
		logger:    logger.With(zap.String("component", "payment_reconciler")),
		timeNow:   time.Now,
	}
}

// HandleWebhook verifies and applies one provider event. Events that do not
// change anything, including replays, return nil.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := r.provider.ParseEvent(payload, signature)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return apperr.Wrap(apperr.KindPaymentVerification, err, "invalid webhook")
	}

	log := r.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	if !event.Type.IsCheckout() {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ignored").Inc()
		log.Debug("Ignoring webhook event")
		return nil
	}

	if event.PendingKey == "" {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ignored").Inc()
		log.Warn("Checkout event without pending key", zap.String("session_id", event.SessionID))
		return nil
	}

	var changed int
	switch event.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
		if !event.Settled() {
			// orders stay PENDING until async_payment_succeeded or _failed arrives
			metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "awaiting_payment").Inc()
			log.Info("Checkout completed without settled payment",
				zap.String("pending_key", event.PendingKey),
				zap.String("payment_status", string(event.PaymentStatus)),
			)
			return nil
		}
		changed, err = r.completeCheckout(ctx, event)
	default:
		changed, err = r.expireCheckout(ctx, event)
	}
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		metrics.OperationErrorsTotal.WithLabelValues("handle_webhook").Inc()
		return err
	}

	outcome := "applied"
	if changed == 0 {
		outcome = "noop"
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), outcome).Inc()
	log.Info("Webhook processed", zap.String("pending_key", event.PendingKey), zap.Int("orders", changed), zap.String("outcome", outcome))
	return nil
}

func (r *Reconciler) completeCheckout(ctx context.Context, event *Event) (int, error) {
	now := r.timeNow().UTC()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	paid, err := r.orders.MarkPaidTx(ctx, tx, event.PendingKey, repository.Payment{
		Intent: event.PaymentIntent,
		Total:  event.AmountTotal,
	}, now)
	if err != nil {
		return 0, err
	}
	if len(paid) == 0 {
		return 0, nil
	}

	if err := r.guard.CommitTx(ctx, tx, demandsOf(paid)); err != nil {
		return 0, err
	}

	if event.DiscountCodeID != "" && event.DiscountAmount.IsPositive() {
		redeemed, err := r.discounts.RedeemTx(ctx, tx, &repository.DiscountRedemption{
			DiscountCodeID: event.DiscountCodeID,
			CustomerID:     paid[0].CustomerID,
			RedemptionKey:  event.PendingKey,
			CreatedAt:      now,
		})
		if err != nil {
			return 0, fmt.Errorf("redeem discount %s: %w", event.DiscountCodeID, err)
		}
		if !redeemed {
			r.logger.Warn("Discount not redeemed for checkout, code already used",
				zap.String("pending_key", event.PendingKey),
				zap.String("discount_code_id", event.DiscountCodeID),
				zap.String("customer_id", paid[0].CustomerID),
			)
		}
	}

	if err := r.outbox.EnqueueCapacityChecksTx(ctx, tx, capacityChecksOf(paid)); err != nil {
		return 0, err
	}
	if err := r.outbox.EnqueueOrderEventTx(ctx, tx, repository.OrderEventPayload{
		Type:       repository.OrderEventPaid,
		CustomerID: paid[0].CustomerID,
		PendingKey: event.PendingKey,
		OrderIDs:   idsOf(paid),
		Amount:     event.AmountTotal.String(),
		OccurredAt: now,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit paid orders: %w", err)
	}
	metrics.OrdersCreatedTotal.WithLabelValues("checkout").Add(float64(len(paid)))
	return len(paid), nil
}

func (r *Reconciler) expireCheckout(ctx context.Context, event *Event) (int, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	ids, err := r.orders.DeletePendingTx(ctx, tx, event.PendingKey)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := r.outbox.EnqueueOrderEventTx(ctx, tx, repository.OrderEventPayload{
		Type:       repository.OrderEventExpired,
		CustomerID: event.CustomerID,
		PendingKey: event.PendingKey,
		OrderIDs:   ids,
		OccurredAt: r.timeNow().UTC(),
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit expired checkout: %w", err)
	}
	return len(ids), nil
}

// CancelOrder archives a PROCESSING order with a future delivery date, gives
// its capacity back and refunds what was paid for it.
func (r *Reconciler) CancelOrder(ctx context.Context, actor *auth.Actor, orderID string) (*repository.Order, error) {
	if !actor.Can(auth.CapCancelAnyOrder) {
		if err := actor.Require(auth.CapCancelOwnOrder); err != nil {
			return nil, err
		}
	}
	now := r.timeNow().UTC()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	order, err := r.orders.GetByIDTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, apperr.NotFound("order %s not found", orderID)
		}
		return nil, err
	}

	if order.CustomerID != actor.ID && !actor.Can(auth.CapCancelAnyOrder) {
		return nil, apperr.Forbidden("order %s belongs to another customer", orderID)
	}
	if order.Status != repository.OrderStatusProcessing {
		return nil, apperr.Validation("order %s is %s, only PROCESSING orders can be cancelled", orderID, order.Status)
	}
	if !order.DeliveryDate.After(now) {
		return nil, apperr.Validation("order %s can no longer be cancelled", orderID)
	}

	if err := r.orders.UpdateStatusTx(ctx, tx, order.ID, repository.OrderStatusArchived, now); err != nil {
		return nil, err
	}
	if err := r.guard.ReleaseTx(ctx, tx, demandsOf([]*repository.Order{order})); err != nil {
		return nil, err
	}

	refunded, err := r.refundTx(ctx, tx, order, now)
	if err != nil {
		return nil, err
	}

	if err := r.outbox.EnqueueCapacityChecksTx(ctx, tx, capacityChecksOf([]*repository.Order{order})); err != nil {
		return nil, err
	}
	if err := r.outbox.EnqueueOrderEventTx(ctx, tx, repository.OrderEventPayload{
		Type:       repository.OrderEventCancelled,
		CustomerID: order.CustomerID,
		OrderIDs:   []string{order.ID},
		Amount:     refunded.String(),
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancellation: %w", err)
	}

	order.Status = repository.OrderStatusArchived
	order.UpdatedAt = now
	r.logger.Info("Order cancelled",
		zap.String("order_id", order.ID),
		zap.String("actor_id", actor.ID),
		zap.String("refunded", refunded.String()),
	)
	return order, nil
}

// refundTx refunds at most the order total, bounded by what is still
// refundable on the payment intent.
func (r *Reconciler) refundTx(ctx context.Context, tx db.Tx, order *repository.Order, now time.Time) (decimal.Decimal, error) {
	if order.PaymentIntent == nil || *order.PaymentIntent == "" || !order.PaymentTotal.Valid {
		return decimal.Zero, nil
	}
	intent := *order.PaymentIntent

	already, err := r.refunds.RefundedTotalTx(ctx, tx, intent)
	if err != nil {
		return decimal.Zero, err
	}

	amount := decimal.Min(order.Total, order.PaymentTotal.Decimal.Sub(already))
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	providerID, err := r.provider.Refund(ctx, RefundRequest{
		PaymentIntent:  intent,
		Amount:         amount,
		IdempotencyKey: "cancel-" + order.ID,
	})
	if err != nil {
		return decimal.Zero, err
	}

	if err := r.refunds.CreateTx(ctx, tx, &repository.Refund{
		OrderID:          order.ID,
		PaymentIntent:    intent,
		Amount:           amount,
		ProviderRefundID: providerID,
		CreatedAt:        now,
	}); err != nil {
		return decimal.Zero, err
	}
	metrics.RefundsTotal.Inc()
	return amount, nil
}

func demandsOf(orders []*repository.Order) []capacity.Demand {
	demands := make([]capacity.Demand, 0, len(orders))
	for _, o := range orders {
		demands = append(demands, capacity.Demand{
			RestaurantID: o.RestaurantID,
			Date:         o.DeliveryDate,
			Quantity:     o.Quantity,
		})
	}
	return demands
}

func capacityChecksOf(orders []*repository.Order) []repository.CapacityCheckPayload {
	var checks []repository.CapacityCheckPayload
	for _, d := range capacity.Merge(demandsOf(orders)) {
		checks = append(checks, repository.CapacityCheckPayload{RestaurantID: d.RestaurantID, DeliveryDate: d.Date})
	}
	return checks
}

func idsOf(orders []*repository.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}
