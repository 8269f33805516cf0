package batch_test

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	auditpg "github.com/frahmantamala/payout-engine/internal/audit/postgres"
	"github.com/frahmantamala/payout-engine/internal/batch"
	batchpg "github.com/frahmantamala/payout-engine/internal/batch/postgres"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
	"github.com/frahmantamala/payout-engine/internal/testsupport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var _ = Describe("Service", func() {
	var (
		ctx        context.Context
		db         *gorm.DB
		service    *batch.Service
		employeeID int64
	)

	newPayment := func(status paymentmodel.Status) int64 {
		p := &paymentmodel.Payment{
			Type:       paymentmodel.TypeEarnings,
			Amount:     decimal.RequireFromString("40"),
			Status:     status,
			EmployeeID: &employeeID,
		}
		Expect(db.Create(p).Error).NotTo(HaveOccurred())
		return p.ID
	}

	trail := func(batchID int64) []auditmodel.EventType {
		events, err := auditpg.NewAuditRepository(db).ListByEntity(ctx, auditmodel.EntityBatch, batchID, 0)
		Expect(err).NotTo(HaveOccurred())
		out := make([]auditmodel.EventType, 0, len(events))
		for _, ev := range events {
			out = append(out, ev.EventType)
		}
		return out
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = testsupport.OpenSQLite()
		Expect(err).NotTo(HaveOccurred())

		e := &recipient.Employee{Name: "Dana"}
		Expect(db.Create(e).Error).NotTo(HaveOccurred())
		employeeID = e.ID

		service = batch.NewService(batchpg.NewBatchRepository(db), testsupport.DiscardLogger())
	})

	AfterEach(func() {
		Expect(testsupport.Close(db)).To(Succeed())
	})

	Describe("CreateBatch", func() {
		It("should create a DRAFT batch and audit it", func() {
			at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

			b, err := service.CreateBatch(ctx, 7, batch.CreateBatchDTO{Name: "  May payroll ", ScheduledDate: &at})

			Expect(err).NotTo(HaveOccurred())
			Expect(b.ID).To(BeNumerically(">", 0))
			Expect(b.Name).To(Equal("May payroll"))
			Expect(b.Status).To(Equal(paymentmodel.BatchStatusDraft))
			Expect(b.CreatedByID).To(Equal(int64(7)))
			Expect(b.ApprovalDeadline.Equal(at.Add(-paymentmodel.ApprovalWindow))).To(BeTrue())
			Expect(trail(b.ID)).To(Equal([]auditmodel.EventType{auditmodel.EventBatchCreated}))
		})

		It("should reject a blank name", func() {
			_, err := service.CreateBatch(ctx, 7, batch.CreateBatchDTO{Name: "   "})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
		})
	})

	Describe("UpdateBatch", func() {
		var b *paymentmodel.Batch

		BeforeEach(func() {
			var err error
			b, err = service.CreateBatch(ctx, 7, batch.CreateBatchDTO{Name: "Weekly"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should add approved payments and schedule in one call", func() {
			// Given
			p1, p2 := newPayment(paymentmodel.StatusApproved), newPayment(paymentmodel.StatusApproved)
			at := time.Now().UTC().Add(48 * time.Hour)
			scheduled := paymentmodel.BatchStatusScheduled

			// When
			updated, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{
				AddPaymentIDs: []int64{p1, p2},
				ScheduledDate: &at,
				Status:        &scheduled,
			})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(paymentmodel.BatchStatusScheduled))
			Expect(updated.Payments).To(HaveLen(2))
			Expect(trail(b.ID)).To(Equal([]auditmodel.EventType{
				auditmodel.EventBatchCreated,
				auditmodel.EventBatchAdded,
				auditmodel.EventBatchAdded,
				auditmodel.EventBatchRescheduled,
				auditmodel.EventBatchStatusChanged,
			}))
		})

		It("should add nothing when one payment is not approved", func() {
			// Given
			ok := newPayment(paymentmodel.StatusApproved)
			pending := newPayment(paymentmodel.StatusPending)

			// When
			_, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{AddPaymentIDs: []int64{ok, pending}})

			// Then
			Expect(errors.Is(err, batch.ErrPaymentsNotAddable)).To(BeTrue())
			got, err := service.GetBatch(ctx, b.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Payments).To(BeEmpty())
		})

		It("should refuse payments that already belong to another batch", func() {
			p := newPayment(paymentmodel.StatusApproved)
			_, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{AddPaymentIDs: []int64{p}})
			Expect(err).NotTo(HaveOccurred())

			other, err := service.CreateBatch(ctx, 7, batch.CreateBatchDTO{Name: "Other"})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.UpdateBatch(ctx, 7, other.ID, batch.UpdateBatchDTO{AddPaymentIDs: []int64{p}})
			Expect(errors.Is(err, batch.ErrPaymentsNotAddable)).To(BeTrue())
		})

		It("should report unknown payment ids as not found", func() {
			_, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{AddPaymentIDs: []int64{9999}})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeNotFound))
		})

		It("should remove members and audit each removal", func() {
			p := newPayment(paymentmodel.StatusApproved)
			_, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{AddPaymentIDs: []int64{p}})
			Expect(err).NotTo(HaveOccurred())

			updated, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{RemovePaymentIDs: []int64{p}})

			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Payments).To(BeEmpty())
			Expect(trail(b.ID)).To(ContainElement(auditmodel.EventBatchRemoved))
		})

		It("should refuse terminal statuses set by hand", func() {
			completed := paymentmodel.BatchStatusCompleted
			_, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{Status: &completed})
			Expect(errors.Is(err, batch.ErrInvalidStatus)).To(BeTrue())
		})

		It("should refuse skipping SCHEDULED", func() {
			processing := paymentmodel.BatchStatusProcessing
			_, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{Status: &processing})
			Expect(errors.Is(err, batch.ErrInvalidStatus)).To(BeTrue())
		})

		It("should lock membership once the batch has left SCHEDULED", func() {
			// Given
			Expect(db.Model(&paymentmodel.Batch{}).Where("id = ?", b.ID).
				Update("status", paymentmodel.BatchStatusCompleted).Error).NotTo(HaveOccurred())
			p := newPayment(paymentmodel.StatusApproved)
			processing := paymentmodel.BatchStatusProcessing
			before := trail(b.ID)

			// When
			_, addErr := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{AddPaymentIDs: []int64{p}})
			_, statusErr := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{Status: &processing})

			// Then
			Expect(errors.Is(addErr, batch.ErrBatchLocked)).To(BeTrue())
			Expect(errors.Is(statusErr, batch.ErrBatchLocked)).To(BeTrue())

			var reloaded paymentmodel.Batch
			Expect(db.Preload("Payments").First(&reloaded, b.ID).Error).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(paymentmodel.BatchStatusCompleted))
			Expect(reloaded.ProcessedDate).To(BeNil())
			Expect(reloaded.Payments).To(BeEmpty())

			var member paymentmodel.Payment
			Expect(db.First(&member, p).Error).NotTo(HaveOccurred())
			Expect(member.BatchID).To(BeNil())
			Expect(member.Status).To(Equal(paymentmodel.StatusApproved))
			Expect(trail(b.ID)).To(Equal(before))
		})

		It("should update notes", func() {
			notes := "hold for finance sign-off"
			updated, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{Notes: &notes})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Notes).To(Equal(notes))
		})

		It("should reject an empty update", func() {
			_, err := service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{})
			Expect(err).To(HaveOccurred())
		})

		It("should report a missing batch", func() {
			notes := "x"
			_, err := service.UpdateBatch(ctx, 7, 9999, batch.UpdateBatchDTO{Notes: &notes})
			Expect(errors.Is(err, batch.ErrBatchNotFound)).To(BeTrue())
		})
	})

	Describe("ListBatches", func() {
		It("should filter by status", func() {
			_, err := service.CreateBatch(ctx, 7, batch.CreateBatchDTO{Name: "A"})
			Expect(err).NotTo(HaveOccurred())
			b, err := service.CreateBatch(ctx, 7, batch.CreateBatchDTO{Name: "B"})
			Expect(err).NotTo(HaveOccurred())
			scheduled := paymentmodel.BatchStatusScheduled
			_, err = service.UpdateBatch(ctx, 7, b.ID, batch.UpdateBatchDTO{Status: &scheduled})
			Expect(err).NotTo(HaveOccurred())

			res, err := service.ListBatches(ctx, batch.ListFilter{Status: &scheduled})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.TotalCount).To(Equal(int64(1)))
			Expect(res.Batches[0].ID).To(Equal(b.ID))
		})
	})
})
