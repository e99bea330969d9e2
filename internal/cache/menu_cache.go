package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/metrics"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

// Menu is what a company can order from: upcoming active schedule entries and
// the active items of the scheduled restaurants.
type Menu struct {
	Schedules []*repository.ScheduleSlot `json:"schedules"`
	Items     []*repository.Item         `json:"items"`
}

func (m *Menu) Slot(restaurantID string, date time.Time) (*repository.ScheduleSlot, bool) {
	day := date.Format(time.DateOnly)
	for _, s := range m.Schedules {
		if s.RestaurantID == restaurantID && s.Date.Format(time.DateOnly) == day {
			return s, true
		}
	}
	return nil, false
}

func (m *Menu) Item(restaurantID, itemID string) (*repository.Item, bool) {
	for _, it := range m.Items {
		if it.ID == itemID && it.RestaurantID == restaurantID {
			return it, true
		}
	}
	return nil, false
}

// after drops schedule entries that are no longer in the future.
func (m *Menu) after(now time.Time) *Menu {
	live := &Menu{Items: m.Items}
	for _, s := range m.Schedules {
		if s.Date.After(now) {
			live.Schedules = append(live.Schedules, s)
		}
	}
	return live
}

// MenuCache is a read-through redis cache in front of the restaurant repository.
// A nil client or a failing redis falls back to the repository.
type MenuCache struct {
	client redis.Cmdable
	repo   storage.RestaurantRepository
	ttl    time.Duration
	logger *zap.Logger
}

func NewMenuCache(client redis.Cmdable, repo storage.RestaurantRepository, ttl time.Duration, logger *zap.Logger) *MenuCache {
	return &MenuCache{
		client: client,
		repo:   repo,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "menu_cache")),
	}
}

func menuKey(companyID string) string {
	return "menu:" + companyID
}

// LiveMenu returns the menu of companyID as seen at now.
func (c *MenuCache) LiveMenu(ctx context.Context, companyID string, now time.Time) (*Menu, error) {
	if c.client != nil {
		cached, err := c.client.Get(ctx, menuKey(companyID)).Result()
		switch {
		case err == nil:
			var menu Menu
			if err := json.Unmarshal([]byte(cached), &menu); err == nil {
				metrics.MenuCacheRequestsTotal.WithLabelValues("hit").Inc()
				return menu.after(now), nil
			}
			c.logger.Warn("Dropping undecodable cached menu", zap.String("company_id", companyID))
		case errors.Is(err, redis.Nil):
		default:
			c.logger.Warn("Menu cache read failed", zap.String("company_id", companyID), zap.Error(err))
		}
	}
	metrics.MenuCacheRequestsTotal.WithLabelValues("miss").Inc()

	menu, err := c.load(ctx, companyID, now)
	if err != nil {
		return nil, err
	}

	if c.client != nil {
		if data, err := json.Marshal(menu); err == nil {
			if err := c.client.Set(ctx, menuKey(companyID), data, c.ttl).Err(); err != nil {
				c.logger.Warn("Menu cache write failed", zap.String("company_id", companyID), zap.Error(err))
			}
		}
	}
	return menu, nil
}

func (c *MenuCache) load(ctx context.Context, companyID string, now time.Time) (*Menu, error) {
	schedules, err := c.repo.GetUpcomingSchedules(ctx, companyID, now)
	if err != nil {
		return nil, fmt.Errorf("load schedules of company %s: %w", companyID, err)
	}

	seen := make(map[string]struct{}, len(schedules))
	restaurantIDs := make([]string, 0, len(schedules))
	for _, s := range schedules {
		if _, ok := seen[s.RestaurantID]; ok {
			continue
		}
		seen[s.RestaurantID] = struct{}{}
		restaurantIDs = append(restaurantIDs, s.RestaurantID)
	}

	menu := &Menu{Schedules: schedules}
	if len(restaurantIDs) == 0 {
		return menu, nil
	}

	menu.Items, err = c.repo.GetActiveItems(ctx, restaurantIDs)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return menu, nil
}

// Invalidate drops the cached menus of the given companies.
func (c *MenuCache) Invalidate(ctx context.Context, companyIDs ...string) error {
	if c.client == nil || len(companyIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(companyIDs))
	for _, id := range companyIDs {
		keys = append(keys, menuKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate menu cache: %w", err)
	}
	return nil
}
