// Package budget computes how much of a company's per-shift daily budget a
// customer has left and which part of a cart must be paid out of pocket.
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is an amount attached to a delivery date.
type Entry struct {
	Date   time.Time
	Amount decimal.Decimal
}

// DateKey normalizes a delivery date to the calendar day it falls on.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// AggregateByDate merges entries sharing a calendar day. Output keeps the
// order in which each day first appears.
func AggregateByDate(entries []Entry) []Entry {
	index := make(map[string]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		key := DateKey(e.Date)
		if i, ok := index[key]; ok {
			out[i].Amount = out[i].Amount.Add(e.Amount)
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}

// RemainingBudget never goes below zero.
func RemainingBudget(shiftBudget, spent decimal.Decimal) decimal.Decimal {
	if spent.GreaterThan(shiftBudget) {
		return decimal.Zero
	}
	return shiftBudget.Sub(spent)
}

// ShortfallForCart returns remaining minus cart per date, keeping only the
// dates where the result is negative. Dates missing from remaining have none left.
func ShortfallForCart(remaining map[string]decimal.Decimal, cart []Entry) []Entry {
	var shortfalls []Entry
	for _, e := range AggregateByDate(cart) {
		amount := remaining[DateKey(e.Date)].Sub(e.Amount)
		if amount.IsNegative() {
			shortfalls = append(shortfalls, Entry{Date: e.Date, Amount: amount})
		}
	}
	return shortfalls
}

// Payable is the total the customer owes across all shortfall dates.
func Payable(shortfalls []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shortfalls {
		total = total.Add(s.Amount.Abs())
	}
	return total
}

// RemainingPerDate computes the remaining budget for each cart date given
// what the customer already spent.
func RemainingPerDate(shiftBudget decimal.Decimal, spent []Entry, dates []time.Time) map[string]decimal.Decimal {
	spentByDay := make(map[string]decimal.Decimal)
	for _, e := range AggregateByDate(spent) {
		spentByDay[DateKey(e.Date)] = e.Amount
	}

	remaining := make(map[string]decimal.Decimal, len(dates))
	for _, d := range dates {
		remaining[DateKey(d)] = RemainingBudget(shiftBudget, spentByDay[DateKey(d)])
	}
	return remaining
}

// ApplyDiscount lets value absorb shortfall in date order and returns the
// amounts still owed plus how much of the discount was used.
func ApplyDiscount(shortfalls []Entry, value decimal.Decimal) ([]Entry, decimal.Decimal) {
	left := value
	if left.IsNegative() {
		left = decimal.Zero
	}

	var owed []Entry
	used := decimal.Zero
	for _, s := range shortfalls {
		amount := s.Amount.Abs()
		absorbed := decimal.Min(amount, left)
		left = left.Sub(absorbed)
		used = used.Add(absorbed)
		if rest := amount.Sub(absorbed); rest.IsPositive() {
			owed = append(owed, Entry{Date: s.Date, Amount: rest})
		}
	}
	return owed, used
}
