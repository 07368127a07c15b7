package service

import (
	"github.com/flowbill/flowbill/internal/cache"
	"github.com/flowbill/flowbill/internal/config"
	"github.com/flowbill/flowbill/internal/domain/invoice"
	"github.com/flowbill/flowbill/internal/domain/meter"
	"github.com/flowbill/flowbill/internal/domain/plan"
	"github.com/flowbill/flowbill/internal/domain/subscription"
	"github.com/flowbill/flowbill/internal/domain/tax"
	"github.com/flowbill/flowbill/internal/domain/transaction"
	"github.com/flowbill/flowbill/internal/domain/usage"
	"github.com/flowbill/flowbill/internal/gateway"
	"github.com/flowbill/flowbill/internal/idempotency"
	"github.com/flowbill/flowbill/internal/logger"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	Cache  cache.Cache

	// Repositories
	PlanRepo        plan.Repository
	MeterRepo       meter.Repository
	UsageRepo       usage.Repository
	SubRepo         subscription.Repository
	InvoiceRepo     invoice.Repository
	TransactionRepo transaction.Repository

	// External collaborators
	Gateway   gateway.PaymentGateway
	TaxEngine tax.Engine

	IdempotencyGen *idempotency.Generator
}
