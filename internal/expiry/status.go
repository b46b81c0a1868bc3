// Package expiry derives food-item status from expiry dates.
package expiry

import (
	"slices"
	"time"

	"github.com/dukerupert/pantry/internal/model"
)

// ComputeStatus returns the status item should have at now. An expiry date in
// the past forces EXPIRED; otherwise the stored status stands.
func ComputeStatus(item model.FoodItem, now time.Time) model.Status {
	if item.ExpiryDate != nil && item.ExpiryDate.Before(now) {
		return model.StatusExpired
	}
	return item.Status
}

// NeedsRepair reports whether the stored status disagrees with the expiry date.
func NeedsRepair(item model.FoodItem, now time.Time) bool {
	return ComputeStatus(item, now) != item.Status
}

// DaysUntil counts calendar days from today to the expiry date. It is
// negative for items already past their date and zero on the day itself.
func DaysUntil(expiry, today time.Time) int {
	e := startOfDay(expiry.In(today.Location()))
	d := startOfDay(today)
	return int(e.Sub(d).Round(24*time.Hour) / (24 * time.Hour))
}

// ExpiringSoon returns items that have not expired yet but will within the
// window, soonest first.
func ExpiringSoon(items []model.FoodItem, now time.Time, within time.Duration) []model.FoodItem {
	limit := now.Add(within)
	var out []model.FoodItem
	for _, item := range items {
		if item.ExpiryDate == nil || item.Status == model.StatusExpired {
			continue
		}
		if item.ExpiryDate.Before(now) || item.ExpiryDate.After(limit) {
			continue
		}
		out = append(out, item)
	}
	slices.SortStableFunc(out, func(a, b model.FoodItem) int {
		return a.ExpiryDate.Compare(*b.ExpiryDate)
	})
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
