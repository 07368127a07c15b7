package config

import (
	"testing"

	"github.com/flowbill/flowbill/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyForUsesConfiguredPolicy(t *testing.T) {
	cfg := BillingConfig{
		RetryPolicies: map[string]types.RetryPolicy{
			string(types.FailureClassNetworkError): {
				Name:              "network_error",
				MaxAttempts:       10,
				BaseDelaySeconds:  5,
				BackoffMultiplier: 3,
			},
		},
	}

	policy := cfg.RetryPolicyFor(types.FailureClassNetworkError)
	assert.Equal(t, 10, policy.MaxAttempts)
}

func TestRetryPolicyForFallsBackToDefaults(t *testing.T) {
	cfg := BillingConfig{}

	policy := cfg.RetryPolicyFor(types.FailureClassInsufficientFunds)
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.True(t, policy.FallbackEnabled)

	// Unknown classes resolve to the generic policy.
	generic := cfg.RetryPolicyFor(types.FailureClass("mystery"))
	assert.Equal(t, "generic", generic.Name)
}

func TestExpiredCardPolicyNeverRetries(t *testing.T) {
	policy := DefaultRetryPolicies()[string(types.FailureClassCardExpired)]
	assert.Equal(t, 1, policy.MaxAttempts)
	assert.True(t, policy.FallbackEnabled)
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.NoError(t, cfg.Validate())
}
