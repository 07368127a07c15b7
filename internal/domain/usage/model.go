package usage

import (
	"time"

	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// Record is a single raw usage measurement. Records are append-only and
// never mutated after ingestion.
type Record struct {
	ID string `db:"id" json:"id"`

	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	MetricID string `db:"metric_id" json:"metric_id"`

	Value decimal.Decimal `db:"value" json:"value"`

	Timestamp time.Time `db:"timestamp" json:"timestamp"`

	types.BaseModel
}

func (r *Record) Validate() error {
	if r.Value.IsNegative() {
		return ierr.NewError("usage value cannot be negative").
			WithReportableDetails(map[string]any{
				"subscription_id": r.SubscriptionID,
				"metric_id":       r.MetricID,
				"value":           r.Value,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
