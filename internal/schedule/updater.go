// Package schedule turns schedule entries inactive once their restaurant is
// booked out for the day.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/cache"
	"github.com/corpmeals/ordering/internal/metrics"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type CapacityUpdater struct {
	restaurants storage.RestaurantRepository
	orders      storage.OrderRepository
	menus       *cache.MenuCache
	logger      *zap.Logger
}

func NewCapacityUpdater(
	restaurants storage.RestaurantRepository,
	orders storage.OrderRepository,
	menus *cache.MenuCache,
	logger *zap.Logger,
) *CapacityUpdater {
	return &CapacityUpdater{
		restaurants: restaurants,
		orders:      orders,
		menus:       menus,
		logger:      logger.With(zap.String("component", "schedule_capacity_updater")),
	}
}

// Handle processes a schedule.capacity outbox task. It is safe to run more
// than once for the same restaurant and date.
func (u *CapacityUpdater) Handle(ctx context.Context, task *repository.OutboxTask) error {
	var payload repository.CapacityCheckPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode capacity check: %w", err)
	}
	return u.Check(ctx, payload.RestaurantID, payload.DeliveryDate)
}

// Check deactivates the restaurant's entries on date when the PROCESSING
// quantity has reached its order capacity.
func (u *CapacityUpdater) Check(ctx context.Context, restaurantID string, date time.Time) error {
	log := u.logger.With(zap.String("restaurant_id", restaurantID), zap.String("date", date.Format(time.DateOnly)))

	restaurant, err := u.restaurants.GetByID(ctx, restaurantID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			log.Warn("Skipping capacity check of unknown restaurant")
			return nil
		}
		return fmt.Errorf("load restaurant: %w", err)
	}

	quantity, err := u.orders.SumProcessingQuantity(ctx, restaurantID, date)
	if err != nil {
		return fmt.Errorf("sum processing quantity: %w", err)
	}
	if quantity < restaurant.OrderCapacity {
		log.Debug("Restaurant below capacity", zap.Int("quantity", quantity), zap.Int("capacity", restaurant.OrderCapacity))
		return nil
	}

	companyIDs, err := u.restaurants.DeactivateSchedules(ctx, restaurantID, date)
	if err != nil {
		return err
	}
	if len(companyIDs) == 0 {
		return nil
	}

	metrics.SchedulesDeactivatedTotal.Add(float64(len(companyIDs)))
	log.Info("Schedules deactivated", zap.Int("quantity", quantity), zap.Strings("company_ids", companyIDs))

	if err := u.menus.Invalidate(ctx, companyIDs...); err != nil {
		// entries already inactive; a stale menu only lives until its TTL
		log.Warn("Failed to invalidate menus", zap.Error(err))
	}
	return nil
}
