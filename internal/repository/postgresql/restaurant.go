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

type RestaurantRepo struct {
	db db.DB
}

func NewRestaurantRepo(db db.DB) storage.RestaurantRepository {
	return &RestaurantRepo{db: db}
}

func (r *RestaurantRepo) GetByID(ctx context.Context, id string) (*repository.Restaurant, error) {
	var restaurant repository.Restaurant
	err := r.db.Get(ctx, &restaurant, "SELECT id, name, order_capacity FROM restaurants WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &restaurant, nil
}

func (r *RestaurantRepo) GetUpcomingSchedules(ctx context.Context, companyID string, after time.Time) ([]*repository.ScheduleSlot, error) {
	var slots []*repository.ScheduleSlot
	err := r.db.Select(ctx, &slots, `
        SELECT s.restaurant_id, r.name AS restaurant_name, r.order_capacity, s.company_id, s.date
        FROM schedules s
        JOIN restaurants r ON r.id = s.restaurant_id
        WHERE s.company_id = $1 AND s.status = $2 AND s.date > $3
        ORDER BY s.date ASC
    `, companyID, repository.ScheduleStatusActive, after)
	if err != nil {
		return nil, fmt.Errorf("get upcoming schedules: %w", err)
	}
	return slots, nil
}

func (r *RestaurantRepo) GetActiveItems(ctx context.Context, restaurantIDs []string) ([]*repository.Item, error) {
	var items []*repository.Item
	err := r.db.Select(ctx, &items, `
        SELECT id, restaurant_id, name, price, status, optional_addons, optional_addable,
            required_addons, required_addable, removable_ingredients
        FROM items
        WHERE restaurant_id = ANY($1) AND status = $2
    `, restaurantIDs, repository.ItemStatusActive)
	if err != nil {
		return nil, fmt.Errorf("get active items: %w", err)
	}
	return items, nil
}

// DeactivateSchedules flips every ACTIVE entry of the restaurant on date and
// returns the companies whose menus changed.
func (r *RestaurantRepo) DeactivateSchedules(ctx context.Context, restaurantID string, date time.Time) ([]string, error) {
	var companyIDs []string
	err := r.db.Select(ctx, &companyIDs, `
        UPDATE schedules
        SET status = $3
        WHERE restaurant_id = $1 AND date = $2 AND status = $4
        RETURNING company_id
    `, restaurantID, date, repository.ScheduleStatusInactive, repository.ScheduleStatusActive)
	if err != nil {
		return nil, fmt.Errorf("deactivate schedules: %w", err)
	}
	return companyIDs, nil
}
