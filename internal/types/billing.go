package types

import "fmt"

// BillingPeriod is the cadence at which a subscription renews.
type BillingPeriod string

const (
	BILLING_PERIOD_MONTHLY   BillingPeriod = "MONTHLY"
	BILLING_PERIOD_QUARTERLY BillingPeriod = "QUARTERLY"
	BILLING_PERIOD_YEARLY    BillingPeriod = "YEARLY"
)

func (p BillingPeriod) String() string {
	return string(p)
}

func (p BillingPeriod) Validate() error {
	switch p {
	case BILLING_PERIOD_MONTHLY, BILLING_PERIOD_QUARTERLY, BILLING_PERIOD_YEARLY:
		return nil
	default:
		return fmt.Errorf("invalid billing period: %s", p)
	}
}

// Days returns the nominal number of days in one billing period, used for
// proration. Proration must never assume a 30-day period regardless of
// cadence; it derives the divisor from here.
func (p BillingPeriod) Days() int {
	switch p {
	case BILLING_PERIOD_QUARTERLY:
		return 90
	case BILLING_PERIOD_YEARLY:
		return 365
	default:
		return 30
	}
}

// Months returns the number of calendar months advanced per renewal.
func (p BillingPeriod) Months() int {
	switch p {
	case BILLING_PERIOD_QUARTERLY:
		return 3
	case BILLING_PERIOD_YEARLY:
		return 12
	default:
		return 1
	}
}
