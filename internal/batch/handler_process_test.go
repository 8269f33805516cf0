package batch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/payout-engine/internal/audit"
	auditpg "github.com/frahmantamala/payout-engine/internal/audit/postgres"
	"github.com/frahmantamala/payout-engine/internal/batch"
	batchpg "github.com/frahmantamala/payout-engine/internal/batch/postgres"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
	"github.com/frahmantamala/payout-engine/internal/payment"
	"github.com/frahmantamala/payout-engine/internal/testsupport"
)

var _ = ginkgo.Describe("BatchHandler ProcessBatch with a real processor", func() {
	var (
		db     *gorm.DB
		rail   *fakeRail
		router *chi.Mux
	)

	ginkgo.BeforeEach(func() {
		var err error
		db, err = testsupport.OpenSQLite()
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		rail = newFakeRail()
		repo := batchpg.NewBatchRepository(db)
		processor := batch.NewProcessor(repo, payment.NewRouter("Payout"), rail, &recordingPublisher{}, nil, time.Minute, testsupport.DiscardLogger())
		h := batch.NewHandler(batch.NewService(repo, testsupport.DiscardLogger()), processor,
			audit.NewService(auditpg.NewAuditRepository(db), testsupport.DiscardLogger()))
		h.RunTimeout = time.Minute

		router = chi.NewRouter()
		router.Post("/batches/{id}/process", h.ProcessBatch)
	})

	ginkgo.AfterEach(func() {
		gomega.Expect(testsupport.Close(db)).To(gomega.Succeed())
	})

	ginkgo.It("should finish every payment when the request is cancelled mid-run", func() {
		b := &paymentmodel.Batch{Name: "Week 12", Status: paymentmodel.BatchStatusScheduled, CreatedByID: 1}
		gomega.Expect(db.Create(b).Error).NotTo(gomega.HaveOccurred())

		ids := make([]int64, 0, 3)
		for _, account := range []string{"acct_a", "acct_b", "acct_c"} {
			e := &recipient.Employee{Name: account, StripeConnectedAccountID: testsupport.Ptr(account)}
			gomega.Expect(db.Create(e).Error).NotTo(gomega.HaveOccurred())
			p := &paymentmodel.Payment{
				Type:       paymentmodel.TypeEarnings,
				Amount:     decimal.RequireFromString("15"),
				Status:     paymentmodel.StatusApproved,
				EmployeeID: &e.ID,
				BatchID:    &b.ID,
			}
			gomega.Expect(db.Create(p).Error).NotTo(gomega.HaveOccurred())
			ids = append(ids, p.ID)
		}

		req := adminRequest(http.MethodPost, "/batches/"+itoa(b.ID)+"/process", []byte(`{"payment_method":"STRIPE"}`))
		reqCtx, cancel := context.WithCancel(req.Context())
		defer cancel()
		transfers := 0
		rail.onCall = func() {
			transfers++
			if transfers == 2 {
				cancel()
			}
		}

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req.WithContext(reqCtx))

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		var resp batch.ProcessResult
		gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
		gomega.Expect(resp.Status).To(gomega.Equal(paymentmodel.BatchStatusCompleted))
		gomega.Expect(resp.Results.Successful).To(gomega.Equal(3))
		gomega.Expect(resp.Results.Processed).To(gomega.HaveLen(3))

		for _, id := range ids {
			var p paymentmodel.Payment
			gomega.Expect(db.First(&p, id).Error).NotTo(gomega.HaveOccurred())
			gomega.Expect(p.Status).To(gomega.Equal(paymentmodel.StatusPaid))
			gomega.Expect(rail.callsFor(payment.TransferIdempotencyKey(id))).To(gomega.Equal(1))
		}
	})
})
