// Package ordering turns a customer's cart into orders, either directly when
// the company budget covers it or through a paid checkout otherwise.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/addon"
	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/auth"
	"github.com/corpmeals/ordering/internal/budget"
	"github.com/corpmeals/ordering/internal/cache"
	"github.com/corpmeals/ordering/internal/capacity"
	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/metrics"
	"github.com/corpmeals/ordering/internal/outbox"
	"github.com/corpmeals/ordering/internal/payment"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type Config struct {
	CheckoutTTL time.Duration
}

type Pipeline struct {
	db        db.DB
	orders    storage.OrderRepository
	companies storage.CompanyRepository
	discounts storage.DiscountRepository
	menus     *cache.MenuCache
	guard     *capacity.Guard
	outbox    *outbox.Writer
	provider  payment.Provider
	config    Config
	validate  *validator.Validate
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewPipeline(
	database db.DB,
	orders storage.OrderRepository,
	companies storage.CompanyRepository,
	discounts storage.DiscountRepository,
	menus *cache.MenuCache,
	guard *capacity.Guard,
	writer *outbox.Writer,
	provider payment.Provider,
	config Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		db:        database,
		orders:    orders,
		companies: companies,
		discounts: discounts,
		menus:     menus,
		guard:     guard,
		outbox:    writer,
		provider:  provider,
		config:    config,
		validate:  newValidator(),
		logger:    logger.With(zap.String("component", "order_pipeline")),
		timeNow:   time.Now,
	}
}

// pricedLine is a cart line checked against the menu, with its order snapshot.
type pricedLine struct {
	order         *repository.Order
	orderCapacity int
}

// Place validates and prices cart for actor. Nothing is written unless the
// whole cart is valid; capacity is only reserved on the direct path.
func (p *Pipeline) Place(ctx context.Context, actor *auth.Actor, cart Cart) (*Result, error) {
	if err := actor.Require(auth.CapPlaceOrder); err != nil {
		return nil, err
	}
	if err := p.validate.Struct(cart); err != nil {
		return nil, validationError(err)
	}

	now := p.timeNow().UTC()
	log := p.logger.With(zap.String("customer_id", actor.ID))

	company, err := p.companies.GetByID(ctx, actor.CompanyID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, apperr.Forbidden("customer is not enrolled in a company")
		}
		return nil, fmt.Errorf("load company: %w", err)
	}

	menu, err := p.menus.LiveMenu(ctx, company.ID, now)
	if err != nil {
		return nil, err
	}

	lines := make([]pricedLine, 0, len(cart.Lines))
	for i, line := range cart.Lines {
		priced, err := p.priceLine(i, line, menu, actor, company, now)
		if err != nil {
			return nil, err
		}
		lines = append(lines, priced)
	}

	shortfalls, err := p.shortfalls(ctx, actor, company, lines)
	if err != nil {
		return nil, err
	}

	owed := make([]budget.Entry, 0, len(shortfalls))
	for _, s := range shortfalls {
		owed = append(owed, budget.Entry{Date: s.Date, Amount: s.Amount.Abs()})
	}
	discountUsed := decimal.Zero
	var discount *repository.DiscountCode
	if cart.DiscountCodeID != "" {
		discount, err = p.redeemableDiscount(ctx, actor, cart.DiscountCodeID)
		if err != nil {
			return nil, err
		}
		owed, discountUsed = budget.ApplyDiscount(shortfalls, discount.Value)
	}

	payable := budget.Payable(owed)
	log.Debug("Cart priced",
		zap.Int("lines", len(lines)),
		zap.String("payable", payable.String()),
		zap.String("discount_used", discountUsed.String()),
	)

	if payable.IsPositive() {
		return p.placeWithCheckout(ctx, actor, lines, owed, discount, discountUsed, now)
	}
	return p.placeDirect(ctx, actor, lines, discount, discountUsed, now)
}

func (p *Pipeline) priceLine(i int, line Line, menu *cache.Menu, actor *auth.Actor, company *repository.Company, now time.Time) (pricedLine, error) {
	slot, ok := menu.Slot(line.RestaurantID, line.DeliveryDate)
	if !ok {
		return pricedLine{}, apperr.InvalidCart("line %d: restaurant %s is not scheduled on %s",
			i, line.RestaurantID, line.DeliveryDate.Format(time.DateOnly))
	}
	item, ok := menu.Item(line.RestaurantID, line.ItemID)
	if !ok {
		return pricedLine{}, apperr.InvalidCart("line %d: item %s is not available", i, line.ItemID)
	}

	optional, err := addon.ValidateSpec(item.OptionalAddons, item.OptionalAddable)
	if err != nil {
		return pricedLine{}, err
	}
	required, err := addon.ValidateSpec(item.RequiredAddons, item.RequiredAddable)
	if err != nil {
		return pricedLine{}, err
	}
	if err := addon.CheckSelection(item.OptionalAddable, line.OptionalAddons); err != nil {
		return pricedLine{}, err
	}
	if err := addon.CheckSelection(item.RequiredAddable, line.RequiredAddons); err != nil {
		return pricedLine{}, err
	}

	removable := make(map[string]struct{})
	for _, ingredient := range addon.ParseList(item.RemovableIngredients) {
		removable[ingredient] = struct{}{}
	}
	for _, ingredient := range line.RemovedIngredients {
		if _, ok := removable[ingredient]; !ok {
			return pricedLine{}, apperr.Validation("line %d: %s cannot be removed from %s", i, ingredient, item.Name)
		}
	}

	total := item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))).
		Add(addon.PriceSelection(optional, line.OptionalAddons)).
		Add(addon.PriceSelection(required, line.RequiredAddons))

	return pricedLine{
		orderCapacity: slot.OrderCapacity,
		order: &repository.Order{
			ID:                 uuid.NewString(),
			CustomerID:         actor.ID,
			CustomerName:       actor.Name,
			CustomerEmail:      actor.Email,
			RestaurantID:       slot.RestaurantID,
			RestaurantName:     slot.RestaurantName,
			CompanyID:          company.ID,
			CompanyName:        company.Name,
			CompanyShift:       company.Shift,
			DeliveryDate:       slot.Date,
			DeliveryAddress:    company.Address,
			ItemID:             item.ID,
			ItemName:           item.Name,
			Quantity:           line.Quantity,
			Total:              total,
			OptionalAddons:     addon.Encode(addon.Select(optional, line.OptionalAddons)),
			RequiredAddons:     addon.Encode(addon.Select(required, line.RequiredAddons)),
			RemovedIngredients: addon.EncodeList(line.RemovedIngredients),
			CreatedAt:          now,
			UpdatedAt:          now,
		},
	}, nil
}

func (p *Pipeline) shortfalls(ctx context.Context, actor *auth.Actor, company *repository.Company, lines []pricedLine) ([]budget.Entry, error) {
	cart := make([]budget.Entry, 0, len(lines))
	for _, l := range lines {
		cart = append(cart, budget.Entry{Date: l.order.DeliveryDate, Amount: l.order.Total})
	}
	cart = budget.AggregateByDate(cart)

	dates := make([]time.Time, 0, len(cart))
	for _, e := range cart {
		dates = append(dates, e.Date)
	}

	existing, err := p.orders.ListProcessingTotals(ctx, actor.ID, dates)
	if err != nil {
		return nil, fmt.Errorf("load spent budget: %w", err)
	}
	spent := make([]budget.Entry, 0, len(existing))
	for _, e := range existing {
		spent = append(spent, budget.Entry{Date: e.Date, Amount: e.Total})
	}

	remaining := budget.RemainingPerDate(company.ShiftBudget, spent, dates)
	return budget.ShortfallForCart(remaining, cart), nil
}

func (p *Pipeline) redeemableDiscount(ctx context.Context, actor *auth.Actor, codeID string) (*repository.DiscountCode, error) {
	code, err := p.discounts.GetByID(ctx, codeID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, apperr.Validation("discount code %s does not exist", codeID)
		}
		return nil, fmt.Errorf("load discount code: %w", err)
	}

	if code.Redeemability == repository.RedeemOnce {
		redeemed, err := p.discounts.HasRedeemed(ctx, code.ID, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("check discount redemption: %w", err)
		}
		if redeemed {
			return nil, apperr.Validation("discount code %s was already redeemed", code.Code)
		}
	}
	return code, nil
}

// placeWithCheckout stores the cart as PENDING and opens a checkout session for
// what the budget and discount do not cover. Orders are stored before the
// session exists so a paid session always has orders to promote.
func (p *Pipeline) placeWithCheckout(
	ctx context.Context,
	actor *auth.Actor,
	lines []pricedLine,
	owed []budget.Entry,
	discount *repository.DiscountCode,
	discountUsed decimal.Decimal,
	now time.Time,
) (*Result, error) {
	pendingKey := uuid.NewString()
	orders := make([]*repository.Order, 0, len(lines))
	for _, l := range lines {
		l.order.Status = repository.OrderStatusPending
		l.order.PendingKey = &pendingKey
		orders = append(orders, l.order)
	}
	payable := budget.Payable(owed)

	err := p.inTx(ctx, func(tx db.Tx) error {
		if err := p.orders.CreateBatchTx(ctx, tx, orders); err != nil {
			return err
		}
		return p.outbox.EnqueueOrderEventTx(ctx, tx, repository.OrderEventPayload{
			Type:       repository.OrderEventPending,
			CustomerID: actor.ID,
			PendingKey: pendingKey,
			OrderIDs:   idsOf(orders),
			Amount:     payable.String(),
			OccurredAt: now,
		})
	})
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("place_order").Inc()
		return nil, fmt.Errorf("store pending orders: %w", err)
	}

	req := payment.CheckoutRequest{
		PendingKey:    pendingKey,
		CustomerID:    actor.ID,
		CustomerEmail: actor.Email,
		ExpiresAt:     now.Add(p.config.CheckoutTTL),
	}
	for _, o := range owed {
		req.Lines = append(req.Lines, payment.CheckoutLine{
			Description: "Meals for " + o.Date.Format(time.DateOnly),
			Amount:      o.Amount,
		})
	}
	if discount != nil && discountUsed.IsPositive() {
		req.DiscountCodeID = discount.ID
		req.DiscountAmount = discountUsed
	}

	session, err := p.provider.CreateCheckout(ctx, req)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("create_checkout").Inc()
		p.discardPending(pendingKey)
		return nil, err
	}

	metrics.CheckoutSessionsTotal.Inc()
	p.logger.Info("Checkout opened",
		zap.String("customer_id", actor.ID),
		zap.String("pending_key", pendingKey),
		zap.String("session_id", session.ID),
		zap.String("payable", payable.String()),
	)
	return &Result{CheckoutURL: session.URL}, nil
}

// discardPending removes orders of a checkout that could not be opened.
func (p *Pipeline) discardPending(pendingKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.inTx(ctx, func(tx db.Tx) error {
		_, err := p.orders.DeletePendingTx(ctx, tx, pendingKey)
		return err
	})
	if err != nil {
		p.logger.Error("Failed to discard pending orders", zap.String("pending_key", pendingKey), zap.Error(err))
	}
}

func (p *Pipeline) placeDirect(
	ctx context.Context,
	actor *auth.Actor,
	lines []pricedLine,
	discount *repository.DiscountCode,
	discountUsed decimal.Decimal,
	now time.Time,
) (*Result, error) {
	orders := make([]*repository.Order, 0, len(lines))
	demands := make([]capacity.Demand, 0, len(lines))
	for _, l := range lines {
		l.order.Status = repository.OrderStatusProcessing
		orders = append(orders, l.order)
		demands = append(demands, capacity.Demand{
			RestaurantID:  l.order.RestaurantID,
			Date:          l.order.DeliveryDate,
			OrderCapacity: l.orderCapacity,
			Quantity:      l.order.Quantity,
		})
	}

	err := p.inTx(ctx, func(tx db.Tx) error {
		if err := p.guard.ReserveTx(ctx, tx, demands); err != nil {
			return err
		}
		if err := p.orders.CreateBatchTx(ctx, tx, orders); err != nil {
			return err
		}

		if discount != nil && discountUsed.IsPositive() {
			redeemed, err := p.discounts.RedeemTx(ctx, tx, &repository.DiscountRedemption{
				DiscountCodeID: discount.ID,
				CustomerID:     actor.ID,
				RedemptionKey:  uuid.NewString(),
				CreatedAt:      now,
			})
			if err != nil {
				return fmt.Errorf("redeem discount: %w", err)
			}
			// a concurrent order won the race for this once code
			if !redeemed {
				return apperr.Validation("discount code %s was already redeemed", discount.Code)
			}
		}

		checks := make([]repository.CapacityCheckPayload, 0, len(demands))
		for _, d := range capacity.Merge(demands) {
			checks = append(checks, repository.CapacityCheckPayload{RestaurantID: d.RestaurantID, DeliveryDate: d.Date})
		}
		if err := p.outbox.EnqueueCapacityChecksTx(ctx, tx, checks); err != nil {
			return err
		}
		return p.outbox.EnqueueOrderEventTx(ctx, tx, repository.OrderEventPayload{
			Type:       repository.OrderEventCreated,
			CustomerID: actor.ID,
			OrderIDs:   idsOf(orders),
			OccurredAt: now,
		})
	})
	if err != nil {
		if !apperr.Is(err, apperr.KindCapacityExceeded) {
			metrics.OperationErrorsTotal.WithLabelValues("place_order").Inc()
		}
		return nil, err
	}

	metrics.OrdersCreatedTotal.WithLabelValues("direct").Add(float64(len(orders)))
	p.logger.Info("Orders placed", zap.String("customer_id", actor.ID), zap.Int("orders", len(orders)))
	return &Result{Orders: orders}, nil
}

// ListOrders returns the actor's orders delivered today or later.
func (p *Pipeline) ListOrders(ctx context.Context, actor *auth.Actor) ([]*repository.Order, error) {
	if err := actor.Require(auth.CapViewOwnOrders); err != nil {
		return nil, err
	}
	today := p.timeNow().UTC().Truncate(24 * time.Hour)
	orders, err := p.orders.ListByCustomer(ctx, actor.ID, today)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (p *Pipeline) inTx(ctx context.Context, fn func(tx db.Tx) error) error {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func idsOf(orders []*repository.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}
