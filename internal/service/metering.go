package service

import (
	"context"

	"github.com/flowbill/flowbill/internal/domain/meter"
	"github.com/flowbill/flowbill/internal/domain/usage"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// UsageCharge is the priced result of metering one metric over a billing
// period. Derived per cycle, never persisted as a primary entity; the tier
// breakdown travels into invoice item metadata for auditability.
type UsageCharge struct {
	MetricID  string
	Usage     decimal.Decimal
	Amount    decimal.Decimal
	Breakdown []TierBreakdown
}

// TierBreakdown records how much usage landed in one tier and what it cost.
type TierBreakdown struct {
	Min    decimal.Decimal
	Max    decimal.Decimal
	Kind   types.TierKind
	Usage  decimal.Decimal
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

type MeteringService interface {
	// ComputeCharge aggregates raw usage records for a metric and prices
	// the aggregate against the tier table. Pure; no side effects.
	ComputeCharge(ctx context.Context, metric *meter.Metric, records []*usage.Record, tiers []meter.Tier) (*UsageCharge, error)
}

type meteringService struct {
	ServiceParams
}

func NewMeteringService(params ServiceParams) MeteringService {
	return &meteringService{ServiceParams: params}
}

func (s *meteringService) ComputeCharge(ctx context.Context, metric *meter.Metric, records []*usage.Record, tiers []meter.Tier) (*UsageCharge, error) {
	if err := metric.Validate(); err != nil {
		return nil, err
	}
	if err := meter.ValidateTiers(tiers); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	totalUsage, err := s.aggregate(metric, records)
	if err != nil {
		return nil, err
	}

	charge := &UsageCharge{
		MetricID:  metric.ID,
		Usage:     totalUsage,
		Amount:    decimal.Zero,
		Breakdown: []TierBreakdown{},
	}

	remaining := totalUsage
	for i, tier := range tiers {
		capacity := tier.Max.Sub(tier.Min)
		if s.Config.Billing.BillOverflow && i == len(tiers)-1 {
			// The last tier extends unbounded so usage beyond its max is
			// billed at its rate instead of silently dropped.
			capacity = remaining
		}

		usageInTier := decimal.Min(remaining, capacity)
		if usageInTier.LessThanOrEqual(decimal.Zero) {
			break
		}

		breakdown := priceTier(tier, usageInTier)
		charge.Amount = charge.Amount.Add(breakdown.Amount)
		charge.Breakdown = append(charge.Breakdown, breakdown)

		remaining = remaining.Sub(usageInTier)
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
	}

	if remaining.GreaterThan(decimal.Zero) {
		return nil, ierr.NewError("usage exceeds the last tier").
			WithHint("Enable overflow billing or extend the tier table").
			WithReportableDetails(map[string]any{
				"metric_id": metric.ID,
				"usage":     totalUsage,
				"unbilled":  remaining,
			}).
			Mark(ierr.ErrValidation)
	}

	s.Logger.Debugw("computed usage charge",
		"metric_id", metric.ID,
		"usage", totalUsage.String(),
		"amount", charge.Amount.String(),
		"tiers", len(charge.Breakdown),
	)

	return charge, nil
}

func (s *meteringService) aggregate(metric *meter.Metric, records []*usage.Record) (decimal.Decimal, error) {
	if len(records) == 0 {
		if metric.AggregationType == types.AggregationLast && !metric.DefaultZero {
			return decimal.Zero, ierr.NewError("no usage records to aggregate").
				WithReportableDetails(map[string]any{"metric_id": metric.ID}).
				Mark(ierr.ErrEmptyUsage)
		}
		return decimal.Zero, nil
	}

	switch metric.AggregationType {
	case types.AggregationSum:
		total := decimal.Zero
		for _, r := range records {
			total = total.Add(r.Value)
		}
		return total, nil

	case types.AggregationMax:
		max := records[0].Value
		for _, r := range records[1:] {
			if r.Value.GreaterThan(max) {
				max = r.Value
			}
		}
		return max, nil

	case types.AggregationAvg:
		total := decimal.Zero
		for _, r := range records {
			total = total.Add(r.Value)
		}
		return total.Div(decimal.NewFromInt(int64(len(records)))), nil

	case types.AggregationLast:
		last := records[0]
		for _, r := range records[1:] {
			if r.Timestamp.After(last.Timestamp) {
				last = r
			}
		}
		return last.Value, nil

	default:
		return decimal.Zero, ierr.NewError("invalid aggregation type").
			WithReportableDetails(map[string]any{
				"metric_id":        metric.ID,
				"aggregation_type": metric.AggregationType,
			}).
			Mark(ierr.ErrValidation)
	}
}

func priceTier(tier meter.Tier, usageInTier decimal.Decimal) TierBreakdown {
	breakdown := TierBreakdown{
		Min:   tier.Min,
		Max:   tier.Max,
		Kind:  tier.Kind,
		Usage: usageInTier,
	}

	switch tier.Kind {
	case types.TierKindUnit:
		breakdown.Rate = tier.UnitPrice
		breakdown.Amount = usageInTier.Mul(tier.UnitPrice)
	case types.TierKindFlat:
		// Flat tiers charge full price for any non-zero occupancy, never
		// pro-rated within the tier.
		breakdown.Rate = tier.FlatPrice
		breakdown.Amount = tier.FlatPrice
	case types.TierKindPackage:
		breakdown.Rate = tier.PackagePrice
		packages := usageInTier.Div(tier.PackageSize).Ceil()
		breakdown.Amount = packages.Mul(tier.PackagePrice)
	}

	return breakdown
}
