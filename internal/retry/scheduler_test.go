package retry_test

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	auditpg "github.com/frahmantamala/payout-engine/internal/audit/postgres"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/billing"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/events"
	"github.com/frahmantamala/payout-engine/internal/paymentgateway"
	"github.com/frahmantamala/payout-engine/internal/retry"
	retrypg "github.com/frahmantamala/payout-engine/internal/retry/postgres"
	"github.com/frahmantamala/payout-engine/internal/testsupport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx          context.Context
		db           *gorm.DB
		charger      *fakeCharger
		publisher    *recordingPublisher
		scheduler    *retry.Scheduler
		customer     *billing.Customer
		subscription *billing.Subscription
		failed       *paymentmodel.Payment
	)

	past := time.Now().UTC().Add(-time.Hour)

	newRetry := func(count int) *paymentmodel.Retry {
		r := &paymentmodel.Retry{PaymentID: failed.ID, Status: paymentmodel.RetryStatusScheduled, RetryCount: count, NextRetryDate: past}
		Expect(db.Create(r).Error).NotTo(HaveOccurred())
		return r
	}

	retriesFor := func(paymentID int64) []paymentmodel.Retry {
		var out []paymentmodel.Retry
		Expect(db.Where("payment_id = ?", paymentID).Order("id ASC").Find(&out).Error).NotTo(HaveOccurred())
		return out
	}

	subscriptionStatus := func() billing.SubscriptionStatus {
		var s billing.Subscription
		Expect(db.First(&s, subscription.ID).Error).NotTo(HaveOccurred())
		return s.Status
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = testsupport.OpenSQLite()
		Expect(err).NotTo(HaveOccurred())

		customer = &billing.Customer{
			Name:                   "Acme",
			Email:                  "billing@acme.example.com",
			StripeCustomerID:       testsupport.Ptr("cus_acme"),
			DefaultPaymentMethodID: testsupport.Ptr("pm_card_visa"),
		}
		Expect(db.Create(customer).Error).NotTo(HaveOccurred())
		subscription = &billing.Subscription{CustomerID: customer.ID, Status: billing.SubscriptionActive}
		Expect(db.Create(subscription).Error).NotTo(HaveOccurred())
		failed = &paymentmodel.Payment{
			Type:           paymentmodel.TypeService,
			Amount:         decimal.RequireFromString("99.00"),
			Status:         paymentmodel.StatusFailed,
			CustomerID:     &customer.ID,
			SubscriptionID: &subscription.ID,
			Notes:          "Initial charge declined",
		}
		Expect(db.Create(failed).Error).NotTo(HaveOccurred())

		charger = &fakeCharger{}
		publisher = &recordingPublisher{}
		scheduler = retry.NewScheduler(retrypg.NewRetryRepository(db), charger, publisher, nil,
			retry.Config{RetryDelay: 72 * time.Hour, BatchSize: 10}, testsupport.DiscardLogger())
	})

	AfterEach(func() {
		Expect(testsupport.Close(db)).To(Succeed())
	})

	Describe("RunSweep", func() {
		It("should schedule exactly one successor when a retry below the ceiling is declined", func() {
			// Given
			first := newRetry(2)
			charger.err = &paymentgateway.DeclineError{Code: "card_declined", DeclineCode: "insufficient_funds", Message: "no funds", ChargeID: "pi_1"}

			// When
			before := time.Now().UTC()
			res, err := scheduler.RunSweep(ctx)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(*res).To(Equal(retry.SweepResult{Total: 1, Failed: 1}))

			chain := retriesFor(failed.ID)
			Expect(chain).To(HaveLen(2))
			Expect(chain[0].ID).To(Equal(first.ID))
			Expect(chain[0].Status).To(Equal(paymentmodel.RetryStatusFailed))
			Expect(*chain[0].ErrorMessage).To(ContainSubstring("insufficient_funds"))
			Expect(*chain[0].StripePaymentIntentID).To(Equal("pi_1"))
			Expect(chain[1].Status).To(Equal(paymentmodel.RetryStatusScheduled))
			Expect(chain[1].RetryCount).To(Equal(3))
			Expect(chain[1].NextRetryDate).To(BeTemporally("~", before.Add(72*time.Hour), time.Minute))

			Expect(subscriptionStatus()).To(Equal(billing.SubscriptionActive))
			Expect(charger.requests[0].IdempotencyKey).To(Equal("retry-" + itoa(first.ID)))
			Expect(charger.requests[0].AmountMinorUnits).To(Equal(int64(9900)))
			Expect(charger.requests[0].PaymentMethodID).To(Equal("pm_card_visa"))
		})

		It("should mark the subscription PAST_DUE when the last retry is declined", func() {
			newRetry(3)
			charger.err = &paymentgateway.DeclineError{Code: "card_declined", Message: "declined"}

			res, err := scheduler.RunSweep(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Failed).To(Equal(1))
			Expect(retriesFor(failed.ID)).To(HaveLen(1))
			Expect(subscriptionStatus()).To(Equal(billing.SubscriptionPastDue))
			Expect(publisher.types()).To(ConsistOf(events.EventTypeSubscriptionPastDue))

			trail, err := auditpg.NewAuditRepository(db).ListByEntity(ctx, auditmodel.EntitySubscription, subscription.ID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(trail).To(HaveLen(1))
			Expect(trail[0].Message).To(Equal("Subscription marked PAST_DUE"))
		})

		It("should recover the payment and reactivate the subscription on success", func() {
			// Given
			Expect(db.Model(subscription).Update("status", billing.SubscriptionPastDue).Error).NotTo(HaveOccurred())
			r := newRetry(1)
			charger.result = &paymentgateway.ChargeResult{ID: "pi_ok", Status: paymentgateway.ChargeSucceeded, RawStatus: "succeeded"}

			// When
			res, err := scheduler.RunSweep(ctx)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Succeeded).To(Equal(1))

			var p paymentmodel.Payment
			Expect(db.First(&p, failed.ID).Error).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(paymentmodel.StatusPaid))
			Expect(*p.StripePaymentIntentID).To(Equal("pi_ok"))
			Expect(p.PaidAt).NotTo(BeNil())
			Expect(p.Notes).To(HavePrefix("Initial charge declined\n"))
			Expect(p.Notes).To(ContainSubstring("pi_ok"))

			chain := retriesFor(failed.ID)
			Expect(chain).To(HaveLen(1))
			Expect(chain[0].ID).To(Equal(r.ID))
			Expect(chain[0].Status).To(Equal(paymentmodel.RetryStatusSuccess))
			Expect(subscriptionStatus()).To(Equal(billing.SubscriptionActive))
			Expect(publisher.types()).To(ConsistOf(events.EventTypeRetrySucceeded))
		})

		It("should close the retry without a successor when the customer must act", func() {
			newRetry(0)
			charger.result = &paymentgateway.ChargeResult{ID: "pi_3ds", Status: paymentgateway.ChargeRequiresAction, RawStatus: "requires_action"}

			res, err := scheduler.RunSweep(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Failed).To(Equal(1))
			chain := retriesFor(failed.ID)
			Expect(chain).To(HaveLen(1))
			Expect(chain[0].Status).To(Equal(paymentmodel.RetryStatusFailed))
			Expect(*chain[0].ErrorMessage).To(Equal(retry.MessageRequiresAction))
			Expect(subscriptionStatus()).To(Equal(billing.SubscriptionActive))
			Expect(publisher.types()).To(ConsistOf(events.EventTypeRetryRequiresAction))
		})

		It("should fail the retry without charging when the customer has no billing identity", func() {
			Expect(db.Model(customer).Update("stripe_customer_id", nil).Error).NotTo(HaveOccurred())
			newRetry(0)

			res, err := scheduler.RunSweep(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Failed).To(Equal(1))
			Expect(charger.calls()).To(BeZero())
			chain := retriesFor(failed.ID)
			Expect(chain).To(HaveLen(1))
			Expect(*chain[0].ErrorMessage).To(Equal(retry.MessageNoBillingIdentity))
		})

		It("should treat a non-terminal charge status as a decline", func() {
			newRetry(0)
			charger.result = &paymentgateway.ChargeResult{ID: "pi_p", Status: paymentgateway.ChargeOther, RawStatus: "processing"}

			_, err := scheduler.RunSweep(ctx)

			Expect(err).NotTo(HaveOccurred())
			chain := retriesFor(failed.ID)
			Expect(chain).To(HaveLen(2))
			Expect(*chain[0].ErrorMessage).To(Equal("charge ended with status processing"))
			Expect(chain[1].RetryCount).To(Equal(1))
		})

		It("should close the retry without a successor on an unexpected rail error", func() {
			newRetry(0)
			charger.err = errors.New("connection reset")

			res, err := scheduler.RunSweep(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Failed).To(Equal(1))
			chain := retriesFor(failed.ID)
			Expect(chain).To(HaveLen(1))
			Expect(chain[0].Status).To(Equal(paymentmodel.RetryStatusFailed))
		})

		It("should keep sweeping after one retry errors", func() {
			// Given
			second := &paymentmodel.Payment{
				Type:           paymentmodel.TypeService,
				Amount:         decimal.RequireFromString("49.00"),
				Status:         paymentmodel.StatusFailed,
				CustomerID:     &customer.ID,
				SubscriptionID: &subscription.ID,
			}
			Expect(db.Create(second).Error).NotTo(HaveOccurred())
			broken := newRetry(0)
			healthy := &paymentmodel.Retry{PaymentID: second.ID, Status: paymentmodel.RetryStatusScheduled, NextRetryDate: past.Add(time.Minute)}
			Expect(db.Create(healthy).Error).NotTo(HaveOccurred())
			charger.queued = []error{errors.New("connection reset"), nil}
			charger.result = &paymentgateway.ChargeResult{ID: "pi_ok", Status: paymentgateway.ChargeSucceeded, RawStatus: "succeeded"}

			// When
			res, err := scheduler.RunSweep(ctx)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(*res).To(Equal(retry.SweepResult{Total: 2, Succeeded: 1, Failed: 1}))
			Expect(charger.calls()).To(Equal(2))

			brokenChain := retriesFor(failed.ID)
			Expect(brokenChain).To(HaveLen(1))
			Expect(brokenChain[0].ID).To(Equal(broken.ID))
			Expect(brokenChain[0].Status).To(Equal(paymentmodel.RetryStatusFailed))
			Expect(*brokenChain[0].ErrorMessage).To(ContainSubstring("connection reset"))

			healthyChain := retriesFor(second.ID)
			Expect(healthyChain).To(HaveLen(1))
			Expect(healthyChain[0].Status).To(Equal(paymentmodel.RetryStatusSuccess))
			Expect(healthyChain[0].ClaimToken).To(BeNil())

			var p paymentmodel.Payment
			Expect(db.First(&p, second.ID).Error).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(paymentmodel.StatusPaid))
		})

		It("should take over a PENDING retry whose claim has gone stale", func() {
			// Given
			claimedAt := time.Now().UTC().Add(-time.Hour)
			stale := &paymentmodel.Retry{
				PaymentID:     failed.ID,
				Status:        paymentmodel.RetryStatusPending,
				NextRetryDate: past,
				ClaimToken:    testsupport.Ptr("crashed-sweep"),
				ClaimedAt:     &claimedAt,
			}
			Expect(db.Create(stale).Error).NotTo(HaveOccurred())
			charger.result = &paymentgateway.ChargeResult{ID: "pi_ok", Status: paymentgateway.ChargeSucceeded, RawStatus: "succeeded"}

			// When
			res, err := scheduler.RunSweep(ctx)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Succeeded).To(Equal(1))
			Expect(charger.requests[0].IdempotencyKey).To(Equal("retry-" + itoa(stale.ID)))
			chain := retriesFor(failed.ID)
			Expect(chain).To(HaveLen(1))
			Expect(chain[0].Status).To(Equal(paymentmodel.RetryStatusSuccess))
			Expect(chain[0].ClaimToken).To(BeNil())
			Expect(chain[0].ClaimedAt).To(BeNil())
		})

		It("should leave a PENDING retry alone while its claim is fresh", func() {
			claimedAt := time.Now().UTC()
			busy := &paymentmodel.Retry{
				PaymentID:     failed.ID,
				Status:        paymentmodel.RetryStatusPending,
				NextRetryDate: past,
				ClaimToken:    testsupport.Ptr("running-sweep"),
				ClaimedAt:     &claimedAt,
			}
			Expect(db.Create(busy).Error).NotTo(HaveOccurred())

			res, err := scheduler.RunSweep(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Total).To(BeZero())
			Expect(charger.calls()).To(BeZero())
			chain := retriesFor(failed.ID)
			Expect(chain[0].Status).To(Equal(paymentmodel.RetryStatusPending))
			Expect(*chain[0].ClaimToken).To(Equal("running-sweep"))
		})

		It("should leave retries that are not due yet", func() {
			r := &paymentmodel.Retry{PaymentID: failed.ID, Status: paymentmodel.RetryStatusScheduled, NextRetryDate: time.Now().UTC().Add(time.Hour)}
			Expect(db.Create(r).Error).NotTo(HaveOccurred())

			res, err := scheduler.RunSweep(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Total).To(BeZero())
			Expect(charger.calls()).To(BeZero())
		})

		It("should refuse to sweep without a charge rail", func() {
			scheduler = retry.NewScheduler(retrypg.NewRetryRepository(db), nil, nil, nil, retry.Config{}, testsupport.DiscardLogger())

			_, err := scheduler.RunSweep(ctx)

			Expect(errors.Is(err, retry.ErrNoCharger)).To(BeTrue())
		})
	})

	Describe("ScheduleRetry", func() {
		It("should open the first retry for a failed service charge", func() {
			before := time.Now().UTC()
			r, err := scheduler.ScheduleRetry(ctx, 5, failed.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(r.RetryCount).To(BeZero())
			Expect(r.Status).To(Equal(paymentmodel.RetryStatusScheduled))
			Expect(r.NextRetryDate).To(BeTemporally("~", before.Add(72*time.Hour), time.Minute))

			trail, err := auditpg.NewAuditRepository(db).ListByEntity(ctx, auditmodel.EntityRetry, r.ID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(trail).To(HaveLen(1))
			Expect(*trail[0].ActorID).To(Equal(int64(5)))
		})

		It("should refuse a second open retry", func() {
			newRetry(0)

			_, err := scheduler.ScheduleRetry(ctx, 5, failed.ID)

			Expect(errors.Is(err, retry.ErrRetryAlreadyOpen)).To(BeTrue())
		})

		It("should refuse payments that are not failed service charges", func() {
			Expect(db.Model(failed).Update("status", paymentmodel.StatusPaid).Error).NotTo(HaveOccurred())

			_, err := scheduler.ScheduleRetry(ctx, 5, failed.ID)

			Expect(errors.Is(err, retry.ErrNotRetryable)).To(BeTrue())
		})

		It("should report unknown payments as not found", func() {
			_, err := scheduler.ScheduleRetry(ctx, 5, 9999)

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeNotFound))
		})
	})

	Describe("ListRetries", func() {
		It("should filter by status", func() {
			newRetry(0)
			done := &paymentmodel.Retry{PaymentID: failed.ID, Status: paymentmodel.RetryStatusFailed, NextRetryDate: past}
			Expect(db.Create(done).Error).NotTo(HaveOccurred())

			status := paymentmodel.RetryStatusFailed
			res, err := scheduler.ListRetries(ctx, retry.ListFilter{Status: &status})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.TotalCount).To(Equal(int64(1)))
			Expect(res.Retries[0].ID).To(Equal(done.ID))
		})
	})
})
