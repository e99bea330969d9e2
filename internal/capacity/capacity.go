// Package capacity enforces per-restaurant, per-date order quantity ceilings.
package capacity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/metrics"
	"github.com/corpmeals/ordering/internal/storage"
)

// DefaultGrace is how many units a restaurant may be booked past its nominal capacity.
const DefaultGrace = 3

// Demand is the quantity a cart wants from one restaurant on one delivery date.
type Demand struct {
	RestaurantID  string
	Date          time.Time
	OrderCapacity int
	Quantity      int
}

type Guard struct {
	repo  storage.CapacityRepository
	grace int
}

func NewGuard(repo storage.CapacityRepository, grace int) *Guard {
	if grace < 0 {
		grace = 0
	}
	return &Guard{repo: repo, grace: grace}
}

func (g *Guard) Grace() int {
	return g.grace
}

// Fits reports whether incoming units can be accepted on top of active ones.
func (g *Guard) Fits(orderCapacity, active, incoming int) bool {
	return orderCapacity+g.grace >= active+incoming
}

// ReserveTx locks every demanded counter inside tx, checks all of them and
// increments them only when the whole cart fits. Counters are locked in a
// stable order so concurrent carts cannot deadlock.
func (g *Guard) ReserveTx(ctx context.Context, tx db.Tx, demands []Demand) error {
	merged := Merge(demands)

	for _, d := range merged {
		active, err := g.repo.LockTx(ctx, tx, d.RestaurantID, d.Date)
		if err != nil {
			return fmt.Errorf("lock capacity of %s on %s: %w", d.RestaurantID, d.Date.Format(time.DateOnly), err)
		}
		if !g.Fits(d.OrderCapacity, active, d.Quantity) {
			metrics.CapacityRejectionsTotal.Inc()
			return apperr.CapacityExceeded("restaurant %s cannot take %d more orders on %s",
				d.RestaurantID, d.Quantity, d.Date.Format(time.DateOnly))
		}
	}

	for _, d := range merged {
		if err := g.repo.AddTx(ctx, tx, d.RestaurantID, d.Date, d.Quantity); err != nil {
			return fmt.Errorf("reserve capacity of %s: %w", d.RestaurantID, err)
		}
	}
	return nil
}

// CommitTx counts demands whose payment already cleared. No ceiling is applied.
func (g *Guard) CommitTx(ctx context.Context, tx db.Tx, demands []Demand) error {
	for _, d := range Merge(demands) {
		if _, err := g.repo.LockTx(ctx, tx, d.RestaurantID, d.Date); err != nil {
			return fmt.Errorf("lock capacity of %s: %w", d.RestaurantID, err)
		}
		if err := g.repo.AddTx(ctx, tx, d.RestaurantID, d.Date, d.Quantity); err != nil {
			return fmt.Errorf("commit capacity of %s: %w", d.RestaurantID, err)
		}
	}
	return nil
}

// ReleaseTx gives back units of cancelled orders.
func (g *Guard) ReleaseTx(ctx context.Context, tx db.Tx, demands []Demand) error {
	for _, d := range Merge(demands) {
		if _, err := g.repo.LockTx(ctx, tx, d.RestaurantID, d.Date); err != nil {
			return fmt.Errorf("lock capacity of %s: %w", d.RestaurantID, err)
		}
		if err := g.repo.AddTx(ctx, tx, d.RestaurantID, d.Date, -d.Quantity); err != nil {
			return fmt.Errorf("release capacity of %s: %w", d.RestaurantID, err)
		}
	}
	return nil
}

// Merge sums demands per (restaurant, date) and sorts them by restaurant then date.
func Merge(demands []Demand) []Demand {
	type key struct {
		restaurantID string
		date         string
	}

	index := make(map[key]int, len(demands))
	merged := make([]Demand, 0, len(demands))
	for _, d := range demands {
		k := key{restaurantID: d.RestaurantID, date: d.Date.Format(time.DateOnly)}
		if i, ok := index[k]; ok {
			merged[i].Quantity += d.Quantity
			continue
		}
		index[k] = len(merged)
		merged = append(merged, d)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].RestaurantID != merged[j].RestaurantID {
			return merged[i].RestaurantID < merged[j].RestaurantID
		}
		return merged[i].Date.Before(merged[j].Date)
	})
	return merged
}
