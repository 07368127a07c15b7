package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyIsDeterministic(t *testing.T) {
	g := NewGenerator()

	a := g.GenerateKey(ScopeCharge, map[string]interface{}{
		"subscription_id": "subs_1",
		"period_key":      "subs_1_1740787200",
		"purpose":         "renewal",
	})
	b := g.GenerateKey(ScopeCharge, map[string]interface{}{
		"purpose":         "renewal",
		"period_key":      "subs_1_1740787200",
		"subscription_id": "subs_1",
	})

	assert.Equal(t, a, b, "key must not depend on map iteration order")
}

func TestGenerateKeyVariesByScope(t *testing.T) {
	g := NewGenerator()
	params := map[string]interface{}{"subscription_id": "subs_1"}

	assert.NotEqual(t,
		g.GenerateKey(ScopeCharge, params),
		g.GenerateKey(ScopeFallbackCharge, params),
	)
}

func TestGenerateKeyVariesByParams(t *testing.T) {
	g := NewGenerator()

	a := g.GenerateKey(ScopeCharge, map[string]interface{}{"declined": 0})
	b := g.GenerateKey(ScopeCharge, map[string]interface{}{"declined": 1})
	assert.NotEqual(t, a, b)
}

func TestValidateKey(t *testing.T) {
	g := NewGenerator()
	params := map[string]interface{}{"transaction_id": "txn_1", "amount": "4000"}

	key := g.GenerateKey(ScopeRefund, params)
	assert.True(t, g.ValidateKey(ScopeRefund, params, key))
	assert.False(t, g.ValidateKey(ScopeRefund, map[string]interface{}{"transaction_id": "txn_2"}, key))
}
