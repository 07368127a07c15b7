package meter

import (
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// Metric is a metered dimension of usage, e.g. api_calls or storage_gb.
// Static configuration.
type Metric struct {
	ID string `db:"id" json:"id"`

	Name string `db:"name" json:"name"`

	AggregationType types.AggregationType `db:"aggregation_type" json:"aggregation_type"`

	// DefaultZero treats an empty record set as zero usage instead of
	// failing aggregation. Only meaningful for LAST; the other
	// aggregations define a natural zero.
	DefaultZero bool `db:"default_zero" json:"default_zero"`

	types.BaseModel
}

func (m *Metric) Validate() error {
	if !m.AggregationType.Validate() {
		return ierr.NewError("invalid aggregation type").
			WithReportableDetails(map[string]any{
				"metric_id":        m.ID,
				"aggregation_type": m.AggregationType,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Tier is one contiguous usage-range bucket with its own pricing rule.
// Tiers for a metric are contiguous, non-overlapping and sorted ascending
// by Min. Static configuration.
type Tier struct {
	MetricID string `db:"metric_id" json:"metric_id"`

	Min decimal.Decimal `db:"min" json:"min"`
	Max decimal.Decimal `db:"max" json:"max"`

	Kind types.TierKind `db:"kind" json:"kind"`

	// UnitPrice applies to TierKindUnit, in minor units per unit of usage.
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`

	// FlatPrice applies to TierKindFlat.
	FlatPrice decimal.Decimal `db:"flat_price" json:"flat_price"`

	// PackageSize and PackagePrice apply to TierKindPackage.
	PackageSize  decimal.Decimal `db:"package_size" json:"package_size"`
	PackagePrice decimal.Decimal `db:"package_price" json:"package_price"`
}

func (t Tier) Validate() error {
	if err := t.Kind.Validate(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	if t.Min.GreaterThanOrEqual(t.Max) {
		return ierr.NewError("tier min must be less than max").
			WithReportableDetails(map[string]any{
				"metric_id": t.MetricID,
				"min":       t.Min,
				"max":       t.Max,
			}).
			Mark(ierr.ErrValidation)
	}
	if t.Kind == types.TierKindPackage && !t.PackageSize.IsPositive() {
		return ierr.NewError("package size must be positive").
			WithReportableDetails(map[string]any{"metric_id": t.MetricID}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ValidateTiers checks a full tier table: each tier valid, sorted ascending
// by min, contiguous and non-overlapping, starting at zero.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return ierr.NewError("tier table is empty").Mark(ierr.ErrValidation)
	}
	for i, t := range tiers {
		if err := t.Validate(); err != nil {
			return err
		}
		if i == 0 {
			if !t.Min.IsZero() {
				return ierr.NewError("first tier must start at zero").
					WithReportableDetails(map[string]any{"metric_id": t.MetricID}).
					Mark(ierr.ErrValidation)
			}
			continue
		}
		if !t.Min.Equal(tiers[i-1].Max) {
			return ierr.NewError("tiers must be contiguous and ascending").
				WithReportableDetails(map[string]any{
					"metric_id":    t.MetricID,
					"previous_max": tiers[i-1].Max,
					"next_min":     t.Min,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}
