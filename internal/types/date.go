package types

import (
	"fmt"
	"time"
)

// NextBillingDate calculates the next billing date by advancing the given
// start time by one billing period. It clamps month-boundary overflows so a
// Jan 31 monthly anchor lands on Feb 28/29 rather than Mar 2/3.
func NextBillingDate(start time.Time, period BillingPeriod) (time.Time, error) {
	if err := period.Validate(); err != nil {
		return start, err
	}
	return AddClampedDate(start, 0, period.Months(), 0), nil
}

func AddClampedDate(t time.Time, years, months, days int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	newY := y + years
	newM := time.Month(int(m) + months)

	for newM > 12 {
		newM -= 12
		newY++
	}
	for newM < 1 {
		newM += 12
		newY--
	}

	// Find the last valid day of the new month
	firstOfNextMonth := time.Date(newY, newM+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNextMonth.Add(-24 * time.Hour).Day()

	newD := d + days
	if newD > lastDay {
		newD = lastDay
	}

	return time.Date(newY, newM, newD, h, min, sec, t.Nanosecond(), t.Location())
}

// PeriodKey is the deterministic identifier of one billing period for a
// subscription. It is the idempotency anchor for invoices and charges: at
// most one non-void invoice and one completed subscription charge may exist
// per key.
func PeriodKey(subscriptionID string, periodStart time.Time) string {
	return fmt.Sprintf("%s_%d", subscriptionID, periodStart.UTC().Unix())
}

// CeilDaysBetween returns the number of whole or partial 24h days between
// from and to, never negative.
func CeilDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	d := to.Sub(from)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
