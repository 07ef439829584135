package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MartinSeiffert/KlangFox/app/models"
)

func TestConfirmSyncsActiveSubscription(t *testing.T) {
	svc, repo, gateway, _ := newTestService()
	seedAccount(repo, 1, "cus_1")
	seedSubscription(repo, models.Subscription{
		UserID: 1, ExternalID: "sub_1", CustomerRef: "cus_1",
		Status: models.SubscriptionStatusIncomplete, Interval: "month",
	})
	end := testNow.Add(30 * 24 * time.Hour)
	gateway.subs["sub_1"] = &ProviderSubscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active", CurrentPeriodEnd: &end,
	}

	view, err := svc.ConfirmSubscription(context.Background(), 1)
	if err != nil {
		t.Fatalf("ConfirmSubscription: %v", err)
	}
	if view.Status != models.SubscriptionStatusActive || !view.IsActive {
		t.Fatalf("expected active after confirm, got %+v", view)
	}
}

func TestConfirmWaitsOnceForSettledIncomplete(t *testing.T) {
	svc, repo, gateway, _ := newTestService()
	waits := 0
	svc.wait = func(context.Context) {
		waits++
		// The provider catches up while we wait.
		end := testNow.Add(30 * 24 * time.Hour)
		gateway.subs["sub_2"].Status = "active"
		gateway.subs["sub_2"].CurrentPeriodEnd = &end
	}
	seedAccount(repo, 2, "cus_2")
	seedSubscription(repo, models.Subscription{
		UserID: 2, ExternalID: "sub_2", CustomerRef: "cus_2",
		Status: models.SubscriptionStatusIncomplete, Interval: "month",
	})
	gateway.subs["sub_2"] = &ProviderSubscription{
		ID: "sub_2", CustomerID: "cus_2", Status: "incomplete", LatestPaymentStatus: "succeeded",
	}

	view, err := svc.ConfirmSubscription(context.Background(), 2)
	if err != nil {
		t.Fatalf("ConfirmSubscription: %v", err)
	}
	if waits != 1 {
		t.Fatalf("expected exactly one bounded wait, got %d", waits)
	}
	if view.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active after re-check, got %s", view.Status)
	}
}

func TestConfirmWithoutSubscription(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.ConfirmSubscription(context.Background(), 99)
	if !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("expected ErrNoSubscription, got %v", err)
	}
}

func TestFixStatusFindsMatchingPayment(t *testing.T) {
	svc, repo, gateway, scheduler := newTestService()
	seedAccount(repo, 3, "cus_3")
	seedSubscription(repo, models.Subscription{
		UserID: 3, ExternalID: "sub_3", CustomerRef: "cus_3",
		Status: models.SubscriptionStatusIncomplete, Interval: "month",
	})
	gateway.payments = []ProviderPayment{
		{Ref: "pi_other", Succeeded: true, Description: "unrelated"},
		{
			Ref: "pi_fix", Succeeded: true, AmountCents: 999, Currency: "eur",
			Metadata:  map[string]string{"subscription_id": "sub_3"},
			CreatedAt: testNow.Add(-time.Hour),
		},
	}

	view, found, err := svc.FixSubscriptionStatus(context.Background(), 3)
	if err != nil {
		t.Fatalf("FixSubscriptionStatus: %v", err)
	}
	if !found {
		t.Fatalf("expected a matching payment to be found")
	}
	if view.Status != models.SubscriptionStatusActive || !view.IsActive {
		t.Fatalf("expected active after fix, got %+v", view)
	}
	if view.CurrentPeriodEnd == nil {
		t.Fatalf("fix must set a period end")
	}
	if len(scheduler.enqueued) != 1 {
		t.Fatalf("fix must record exactly one payment occurrence, enqueued=%v", scheduler.enqueued)
	}
}

func TestFixStatusIsExactlyOnceWithWebhook(t *testing.T) {
	svc, repo, gateway, scheduler := newTestService()
	seedAccount(repo, 4, "cus_4")
	sub := seedSubscription(repo, models.Subscription{
		UserID: 4, ExternalID: "sub_4", CustomerRef: "cus_4",
		Status: models.SubscriptionStatusIncomplete, Interval: "month",
	})

	// The webhook already recorded the payment.
	if _, _, err := svc.RecordPaymentOccurrence(context.Background(), sub, "pi_dup", 999, "eur", nil, nil, testNow); err != nil {
		t.Fatalf("seed invoice: %v", err)
	}

	gateway.payments = []ProviderPayment{
		{Ref: "pi_dup", Succeeded: true, SubscriptionID: "sub_4", AmountCents: 999, Currency: "eur", CreatedAt: testNow},
	}

	_, found, err := svc.FixSubscriptionStatus(context.Background(), 4)
	if err != nil || !found {
		t.Fatalf("FixSubscriptionStatus: found=%v err=%v", found, err)
	}
	if len(svc.repo.(*fakeRepo).invoices) != 1 {
		t.Fatalf("expected one invoice despite webhook + fix, got %d", len(svc.repo.(*fakeRepo).invoices))
	}
	if len(scheduler.enqueued) != 1 {
		t.Fatalf("expected one delivery job, got %v", scheduler.enqueued)
	}
}

func TestFixStatusNoMatch(t *testing.T) {
	svc, repo, gateway, _ := newTestService()
	seedAccount(repo, 5, "cus_5")
	seedSubscription(repo, models.Subscription{
		UserID: 5, ExternalID: "sub_5", CustomerRef: "cus_5",
		Status: models.SubscriptionStatusIncomplete,
	})
	gateway.payments = []ProviderPayment{
		{Ref: "pi_fail", Succeeded: false, SubscriptionID: "sub_5"},
	}

	view, found, err := svc.FixSubscriptionStatus(context.Background(), 5)
	if err != nil {
		t.Fatalf("FixSubscriptionStatus: %v", err)
	}
	if found {
		t.Fatalf("failed payments must not count as a match")
	}
	if view.Status != models.SubscriptionStatusIncomplete {
		t.Fatalf("state must be unchanged, got %s", view.Status)
	}
}

func TestForceActivateIsIdempotent(t *testing.T) {
	svc, repo, gateway, _ := newTestService()
	end := testNow.Add(12 * 24 * time.Hour)
	seedSubscription(repo, models.Subscription{
		UserID: 6, ExternalID: "sub_6", Status: models.SubscriptionStatusPastDue,
		CancelAtPeriodEnd: true, Interval: "month", CurrentPeriodEnd: &end,
	})
	gateway.subs["sub_6"] = &ProviderSubscription{ID: "sub_6", Status: "past_due", CurrentPeriodEnd: &end}

	first, err := svc.ForceActivateSubscription(context.Background(), 6)
	if err != nil {
		t.Fatalf("first force-activate: %v", err)
	}
	second, err := svc.ForceActivateSubscription(context.Background(), 6)
	if err != nil {
		t.Fatalf("second force-activate: %v", err)
	}

	if first.Status != models.SubscriptionStatusActive || second.Status != models.SubscriptionStatusActive {
		t.Fatalf("both calls must report active, got %s / %s", first.Status, second.Status)
	}
	if first.CancelAtPeriodEnd || !first.AutoDebit {
		t.Fatalf("force-activate must clear cancel and enable auto debit, got %+v", first)
	}
	if !first.CurrentPeriodEnd.Equal(*second.CurrentPeriodEnd) {
		t.Fatalf("repeating force-activate must keep the future period end")
	}
	if !first.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("future period end must be kept, got %v", first.CurrentPeriodEnd)
	}
}

func TestForceActivateFallbackPeriodEnd(t *testing.T) {
	svc, repo, _, _ := newTestService()
	past := testNow.Add(-24 * time.Hour)
	seedSubscription(repo, models.Subscription{
		UserID: 7, ExternalID: "sub_7", Status: models.SubscriptionStatusCanceled,
		Interval: models.SubscriptionIntervalYear, CurrentPeriodEnd: &past,
	})

	// Provider record is gone and the stored period end is stale.
	view, err := svc.ForceActivateSubscription(context.Background(), 7)
	if err != nil {
		t.Fatalf("ForceActivateSubscription: %v", err)
	}
	want := testNow.Add(365 * 24 * time.Hour)
	if view.CurrentPeriodEnd == nil || !view.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected yearly fallback %v, got %v", want, view.CurrentPeriodEnd)
	}
	if view.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", view.Status)
	}
}

func TestUpdatePaymentMethodSettlesIncomplete(t *testing.T) {
	svc, repo, gateway, _ := newTestService()
	waits := 0
	svc.wait = func(context.Context) {
		waits++
		end := testNow.Add(30 * 24 * time.Hour)
		gateway.subs["sub_8"].Status = "active"
		gateway.subs["sub_8"].CurrentPeriodEnd = &end
	}
	seedAccount(repo, 8, "cus_8")
	seedSubscription(repo, models.Subscription{
		UserID: 8, ExternalID: "sub_8", CustomerRef: "cus_8",
		Status: models.SubscriptionStatusIncomplete, Interval: "month",
	})
	gateway.subs["sub_8"] = &ProviderSubscription{ID: "sub_8", CustomerID: "cus_8", Status: "incomplete"}

	view, err := svc.UpdatePaymentMethod(context.Background(), 8, "pm_new")
	if err != nil {
		t.Fatalf("UpdatePaymentMethod: %v", err)
	}
	if len(gateway.attachCalls) != 1 || gateway.attachCalls[0] != "cus_8|pm_new" {
		t.Fatalf("attach calls: %v", gateway.attachCalls)
	}
	if len(gateway.defaultCalls) != 1 || gateway.defaultCalls[0] != "cus_8|sub_8|pm_new" {
		t.Fatalf("default calls: %v", gateway.defaultCalls)
	}
	if len(gateway.payCalls) != 1 || gateway.payCalls[0] != "sub_8|pm_new" {
		t.Fatalf("pay calls: %v", gateway.payCalls)
	}
	if waits != 1 {
		t.Fatalf("expected one bounded wait, got %d", waits)
	}
	if view.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active after settle, got %s", view.Status)
	}

	account, _ := repo.GetBillingAccountByUser(8, models.BillingProviderStripe)
	if account.DefaultPaymentMethodID != "pm_new" {
		t.Fatalf("default payment method not persisted, got %q", account.DefaultPaymentMethodID)
	}
}

func TestUpdatePaymentMethodActiveSubscriptionSkipsPay(t *testing.T) {
	svc, repo, gateway, _ := newTestService()
	waits := 0
	svc.wait = func(context.Context) { waits++ }
	seedAccount(repo, 9, "cus_9")
	end := testNow.Add(30 * 24 * time.Hour)
	seedSubscription(repo, models.Subscription{
		UserID: 9, ExternalID: "sub_9", CustomerRef: "cus_9",
		Status: models.SubscriptionStatusActive, Interval: "month", CurrentPeriodEnd: &end,
	})
	gateway.subs["sub_9"] = &ProviderSubscription{
		ID: "sub_9", CustomerID: "cus_9", Status: "active", CurrentPeriodEnd: &end,
	}

	view, err := svc.UpdatePaymentMethod(context.Background(), 9, "pm_swap")
	if err != nil {
		t.Fatalf("UpdatePaymentMethod: %v", err)
	}
	if len(gateway.payCalls) != 0 || waits != 0 {
		t.Fatalf("active subscription must not trigger the settle path: pay=%v waits=%d", gateway.payCalls, waits)
	}
	if view.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", view.Status)
	}
}
