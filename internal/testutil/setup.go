package testutil

import (
	"context"

	"github.com/flowbill/flowbill/internal/types"
)

// SetupContext returns a context carrying the default tenant, matching what
// background billing jobs run with.
func SetupContext() context.Context {
	return types.SetTenantID(context.Background(), types.DefaultTenantID)
}
