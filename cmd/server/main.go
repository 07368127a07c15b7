package main

import (
	"context"
	"time"

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
	stripegw "github.com/flowbill/flowbill/internal/gateway/stripe"
	"github.com/flowbill/flowbill/internal/idempotency"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/postgres"
	"github.com/flowbill/flowbill/internal/repository"
	"github.com/flowbill/flowbill/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			newLogger,
			postgres.NewClient,
			cache.NewInMemoryCache,
			idempotency.NewGenerator,
			repository.NewPlanRepository,
			repository.NewMeterRepository,
			repository.NewUsageRepository,
			repository.NewSubscriptionRepository,
			repository.NewInvoiceRepository,
			repository.NewTransactionRepository,
			newPaymentGateway,
			newTaxEngine,
			newServiceParams,
			service.NewOrchestratorService,
		),
		fx.Invoke(startScheduler),
	)
	app.Run()
}

func newLogger(cfg *config.Configuration) (*logger.Logger, error) {
	return logger.NewLogger(cfg.Logging.Level)
}

func newPaymentGateway(cfg *config.Configuration, log *logger.Logger) gateway.PaymentGateway {
	return stripegw.NewGateway(cfg, log)
}

func newTaxEngine() tax.Engine {
	// Flat-rate jurisdictions come from ops tooling; the default is no tax.
	return tax.NewFlatRateEngine(nil, decimal.Zero)
}

type serviceParamsIn struct {
	fx.In

	Logger *logger.Logger
	Config *config.Configuration
	Cache  cache.Cache

	PlanRepo        plan.Repository
	MeterRepo       meter.Repository
	UsageRepo       usage.Repository
	SubRepo         subscription.Repository
	InvoiceRepo     invoice.Repository
	TransactionRepo transaction.Repository

	Gateway   gateway.PaymentGateway
	TaxEngine tax.Engine

	IdempotencyGen *idempotency.Generator
}

func newServiceParams(in serviceParamsIn) service.ServiceParams {
	return service.ServiceParams{
		Logger:          in.Logger,
		Config:          in.Config,
		Cache:           in.Cache,
		PlanRepo:        in.PlanRepo,
		MeterRepo:       in.MeterRepo,
		UsageRepo:       in.UsageRepo,
		SubRepo:         in.SubRepo,
		InvoiceRepo:     in.InvoiceRepo,
		TransactionRepo: in.TransactionRepo,
		Gateway:         in.Gateway,
		TaxEngine:       in.TaxEngine,
		IdempotencyGen:  in.IdempotencyGen,
	}
}

// startScheduler wires the billing clock: renewals every hour, dunning
// retries every six hours.
func startScheduler(lc fx.Lifecycle, orchestrator service.OrchestratorService, log *logger.Logger) {
	scheduler := cron.New()

	_, err := scheduler.AddFunc("@hourly", func() {
		ctx := context.Background()
		if err := orchestrator.RenewDue(ctx, time.Now().UTC()); err != nil {
			log.Errorw("renewal run failed", "error", err)
		}
	})
	if err != nil {
		log.Fatalw("failed to schedule renewal job", "error", err)
	}

	_, err = scheduler.AddFunc("@every 6h", func() {
		ctx := context.Background()
		if err := orchestrator.RunDunningSweep(ctx, time.Now().UTC()); err != nil {
			log.Errorw("dunning sweep failed", "error", err)
		}
	})
	if err != nil {
		log.Fatalw("failed to schedule dunning job", "error", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			scheduler.Start()
			log.Infow("billing scheduler started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := scheduler.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			log.Infow("billing scheduler stopped")
			return nil
		},
	})
}
