package service

import (
	"time"

	"github.com/flowbill/flowbill/internal/cache"
	"github.com/flowbill/flowbill/internal/config"
	"github.com/flowbill/flowbill/internal/domain/plan"
	"github.com/flowbill/flowbill/internal/domain/subscription"
	"github.com/flowbill/flowbill/internal/domain/tax"
	"github.com/flowbill/flowbill/internal/idempotency"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/testutil"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// testStores bundles the in-memory fakes behind a ServiceParams so suites
// can script gateway outcomes and inspect persisted state directly.
type testStores struct {
	plans    *testutil.InMemoryPlanStore
	meters   *testutil.InMemoryMeterStore
	usage    *testutil.InMemoryUsageStore
	subs     *testutil.InMemorySubscriptionStore
	invoices *testutil.InMemoryInvoiceStore
	txns     *testutil.InMemoryTransactionStore
	gateway  *testutil.FakeGateway
}

func newTestParams() (ServiceParams, *testStores) {
	stores := &testStores{
		plans:    testutil.NewInMemoryPlanStore(),
		meters:   testutil.NewInMemoryMeterStore(),
		usage:    testutil.NewInMemoryUsageStore(),
		subs:     testutil.NewInMemorySubscriptionStore(),
		invoices: testutil.NewInMemoryInvoiceStore(),
		txns:     testutil.NewInMemoryTransactionStore(),
		gateway:  testutil.NewFakeGateway(),
	}

	params := ServiceParams{
		Logger:          logger.NewNopLogger(),
		Config:          config.GetDefaultConfig(),
		Cache:           cache.NewInMemoryCache(),
		PlanRepo:        stores.plans,
		MeterRepo:       stores.meters,
		UsageRepo:       stores.usage,
		SubRepo:         stores.subs,
		InvoiceRepo:     stores.invoices,
		TransactionRepo: stores.txns,
		Gateway:         stores.gateway,
		TaxEngine:       tax.NewFlatRateEngine(nil, decimal.Zero),
		IdempotencyGen:  idempotency.NewGenerator(),
	}
	return params, stores
}

func testPlan(id string, price int64) *plan.Plan {
	return &plan.Plan{
		ID:            id,
		Name:          "Test Plan " + id,
		Price:         decimal.NewFromInt(price),
		Currency:      "usd",
		BillingPeriod: types.BILLING_PERIOD_MONTHLY,
		BaseModel: types.BaseModel{
			TenantID:  types.DefaultTenantID,
			Status:    types.StatusActive,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		},
	}
}

func testSubscription(id, planID string, periodStart, periodEnd time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		ID:                 id,
		CustomerID:         "cust_test",
		PlanID:             planID,
		SubscriptionStatus: types.SubscriptionStatusActive,
		Currency:           "usd",
		Jurisdiction:       "us-ca",
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		PaymentMethodID:    "pm_primary",
		PendingCredit:      decimal.Zero,
		BaseModel: types.BaseModel{
			TenantID:  types.DefaultTenantID,
			Status:    types.StatusActive,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		},
	}
}
