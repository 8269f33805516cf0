package payment_test

import (
	"context"
	"errors"

	"github.com/frahmantamala/payout-engine/internal"
	auditpg "github.com/frahmantamala/payout-engine/internal/audit/postgres"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
	"github.com/frahmantamala/payout-engine/internal/payment"
	paymentpg "github.com/frahmantamala/payout-engine/internal/payment/postgres"
	"github.com/frahmantamala/payout-engine/internal/testsupport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		service *payment.Service
		pending []int64
	)

	createPayment := func(status paymentmodel.Status, employeeID int64) int64 {
		p := &paymentmodel.Payment{
			Type:       paymentmodel.TypeEarnings,
			Amount:     decimal.RequireFromString("50"),
			Status:     status,
			EmployeeID: &employeeID,
		}
		Expect(db.Create(p).Error).NotTo(HaveOccurred())
		return p.ID
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = testsupport.OpenSQLite()
		Expect(err).NotTo(HaveOccurred())

		employee := &recipient.Employee{Name: "Dana"}
		Expect(db.Create(employee).Error).NotTo(HaveOccurred())

		service = payment.NewService(paymentpg.NewPaymentRepository(db), testsupport.DiscardLogger())
		pending = []int64{
			createPayment(paymentmodel.StatusPending, employee.ID),
			createPayment(paymentmodel.StatusPending, employee.ID),
		}
	})

	AfterEach(func() {
		Expect(testsupport.Close(db)).To(Succeed())
	})

	Describe("ApprovePayments", func() {
		It("should approve every pending payment and audit each one", func() {
			// When
			approved, err := service.ApprovePayments(ctx, 42, pending)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(approved).To(HaveLen(2))
			for _, p := range approved {
				Expect(p.Status).To(Equal(paymentmodel.StatusApproved))
				Expect(*p.ApprovedByID).To(Equal(int64(42)))
				Expect(p.ApprovedAt).NotTo(BeNil())
			}

			events, err := auditpg.NewAuditRepository(db).ListByEntity(ctx, auditmodel.EntityPayment, pending[0], 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(events[0].EventType).To(Equal(auditmodel.EventPaymentApproved))
			Expect(*events[0].ActorID).To(Equal(int64(42)))
		})

		It("should approve nothing when one payment is not pending", func() {
			// Given
			var employee recipient.Employee
			Expect(db.First(&employee).Error).NotTo(HaveOccurred())
			paid := createPayment(paymentmodel.StatusPaid, employee.ID)

			// When
			_, err := service.ApprovePayments(ctx, 42, append(pending, paid))

			// Then
			Expect(errors.Is(err, payment.ErrNotApprovable)).To(BeTrue())
			p, err := service.GetPayment(ctx, pending[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(paymentmodel.StatusPending))
		})

		It("should reject duplicate and empty id lists", func() {
			_, err := service.ApprovePayments(ctx, 42, []int64{pending[0], pending[0]})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))

			_, err = service.ApprovePayments(ctx, 42, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ListPayments", func() {
		It("should filter by status and default the page size", func() {
			_, err := service.ApprovePayments(ctx, 1, pending[:1])
			Expect(err).NotTo(HaveOccurred())

			status := paymentmodel.StatusPending
			res, err := service.ListPayments(ctx, payment.ListFilter{Status: &status})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.TotalCount).To(Equal(int64(1)))
			Expect(res.Payments[0].ID).To(Equal(pending[1]))

			res, err = service.ListPayments(ctx, payment.ListFilter{Unbatched: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.TotalCount).To(Equal(int64(2)))
		})
	})

	It("should report missing payments as not found", func() {
		_, err := service.GetPayment(ctx, 9999)
		Expect(errors.Is(err, payment.ErrPaymentNotFound)).To(BeTrue())
	})
})
