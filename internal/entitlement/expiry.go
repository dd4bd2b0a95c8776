// Package entitlement decides who may open which premium material and records
// the purchases that grant that right.
package entitlement

import (
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

// DefaultDurationMonths applies to fixed-term materials without a configured duration.
const DefaultDurationMonths = 12

// AddMonths adds n calendar months to t. When the target month is shorter than
// t's day, the day is clamped to the last day of that month, so Jan 31 + 1 month
// is Feb 28 (or Feb 29 in leap years) rather than early March. Time of day and
// location are preserved.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	total := int(m) - 1 + n
	year := y + floorDiv(total, 12)
	month := time.Month(floorMod(total, 12) + 1)

	if last := daysIn(year, month, t.Location()); d > last {
		d = last
	}
	return time.Date(year, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// ExpiryFor returns when a purchase of m made at purchasedAt lapses. Nil means lifetime.
func ExpiryFor(m repo.Material, purchasedAt time.Time) *time.Time {
	if m.DurationType == repo.DurationLifetime {
		return nil
	}
	months := m.DurationMonths
	if months <= 0 {
		months = DefaultDurationMonths
	}
	exp := AddMonths(purchasedAt, months)
	return &exp
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the next month normalises to the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
