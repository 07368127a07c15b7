package transaction

import "context"

type Repository interface {
	Create(ctx context.Context, txn *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, txn *Transaction) error

	// GetByIdempotencyKey returns the transaction recorded for a gateway
	// idempotency key, or ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// GetByExternalID returns the transaction referencing a gateway charge
	// id, or ErrNotFound. Used to deduplicate webhook deliveries.
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Transaction, error)

	// CountCompletedCharges counts completed subscription_charge
	// transactions for a period key. The invariant is that this never
	// exceeds one.
	CountCompletedCharges(ctx context.Context, subscriptionID, periodKey string) (int, error)
}
