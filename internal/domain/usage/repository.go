package usage

import (
	"context"
	"time"
)

type Repository interface {
	// Append inserts a new record. Records are never updated or deleted.
	Append(ctx context.Context, record *Record) error

	// ListForPeriod returns records for a subscription and metric within
	// [start, end), ordered by timestamp ascending.
	ListForPeriod(ctx context.Context, subscriptionID, metricID string, start, end time.Time) ([]*Record, error)
}
