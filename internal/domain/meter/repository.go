package meter

import "context"

type Repository interface {
	CreateMetric(ctx context.Context, metric *Metric) error
	GetMetric(ctx context.Context, id string) (*Metric, error)
	ListMetrics(ctx context.Context) ([]*Metric, error)

	// ListTiers returns the tier table for a metric sorted ascending by min.
	ListTiers(ctx context.Context, metricID string) ([]Tier, error)
	ReplaceTiers(ctx context.Context, metricID string, tiers []Tier) error
}
