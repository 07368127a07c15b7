package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBillingDateClampsMonthEnd(t *testing.T) {
	jan31 := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	next, err := NextBillingDate(jan31, BILLING_PERIOD_MONTHLY)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), next)
}

func TestNextBillingDateLeapYear(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	next, err := NextBillingDate(jan31, BILLING_PERIOD_MONTHLY)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), next)
}

func TestNextBillingDateQuarterly(t *testing.T) {
	start := time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC)

	next, err := NextBillingDate(start, BILLING_PERIOD_QUARTERLY)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), next)
}

func TestNextBillingDateRejectsInvalidPeriod(t *testing.T) {
	_, err := NextBillingDate(time.Now().UTC(), BillingPeriod("weekly"))
	assert.Error(t, err)
}

func TestPeriodKeyIsDeterministic(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	a := PeriodKey("subs_1", start)
	b := PeriodKey("subs_1", start.In(time.FixedZone("PST", -8*3600)))
	assert.Equal(t, a, b, "period key must normalize to UTC")
	assert.NotEqual(t, a, PeriodKey("subs_2", start))
	assert.NotEqual(t, a, PeriodKey("subs_1", start.AddDate(0, 1, 0)))
}

func TestCeilDaysBetween(t *testing.T) {
	from := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, CeilDaysBetween(from, from))
	assert.Equal(t, 0, CeilDaysBetween(from, from.Add(-time.Hour)))
	assert.Equal(t, 1, CeilDaysBetween(from, from.Add(time.Hour)))
	assert.Equal(t, 10, CeilDaysBetween(from, from.AddDate(0, 0, 10)))
	assert.Equal(t, 10, CeilDaysBetween(from.Add(12*time.Hour), from.AddDate(0, 0, 10).Add(12*time.Hour)))
}
