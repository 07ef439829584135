package controllers

import (
	"sync"

	"github.com/MartinSeiffert/KlangFox/internal/pkg/billing"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/database"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/env"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/jobqueue"
)

var (
	billingSvc        *billing.Service
	billingDispatcher *billing.Dispatcher
	billingOnce       sync.Once
)

// billingService returns the shared billing service wired to the Stripe
// gateway and the job queue scheduler.
func billingService() *billing.Service {
	billingOnce.Do(initBilling)
	return billingSvc
}

// eventDispatcher returns the shared webhook event dispatcher.
func eventDispatcher() *billing.Dispatcher {
	billingOnce.Do(initBilling)
	return billingDispatcher
}

func initBilling() {
	api := billing.NewStripeClient(env.GetEnv("STRIPE_SECRET_KEY", ""))
	gateway := billing.NewStripeGateway(api)
	scheduler := jobqueue.GetManager().GetQueue()
	billingSvc = billing.NewServiceFromDB(database.GetDB(), gateway, scheduler)
	billingDispatcher = billing.NewDispatcher(billingSvc)
}
