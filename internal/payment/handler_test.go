package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payout-engine/internal"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/payout-engine/internal/payment"
)

type mockPaymentService struct {
	listErr    error
	approveErr error
	filter     paymentpkg.ListFilter
	approved   []int64
	actorID    int64
}

func (m *mockPaymentService) ListPayments(_ context.Context, filter paymentpkg.ListFilter) (*paymentpkg.ListResult, error) {
	m.filter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &paymentpkg.ListResult{
		Payments:   []paymentmodel.Payment{{ID: 1, Type: paymentmodel.TypeEarnings, Amount: decimal.RequireFromString("12.50"), Status: paymentmodel.StatusPending}},
		TotalCount: 1,
	}, nil
}

func (m *mockPaymentService) ApprovePayments(_ context.Context, actorID int64, ids []int64) ([]paymentmodel.Payment, error) {
	m.actorID, m.approved = actorID, ids
	if m.approveErr != nil {
		return nil, m.approveErr
	}
	out := make([]paymentmodel.Payment, 0, len(ids))
	for _, id := range ids {
		out = append(out, paymentmodel.Payment{ID: id, Status: paymentmodel.StatusApproved})
	}
	return out, nil
}

func createRequestWithActor(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	actor := &internal.Actor{ID: 2, Email: "ops@example.com", Permissions: []string{"admin"}}
	return req.WithContext(internal.ContextWithActor(req.Context(), actor))
}

var _ = ginkgo.Describe("PaymentHandler", func() {
	var (
		handler  *paymentpkg.Handler
		service  *mockPaymentService
		recorder *httptest.ResponseRecorder
	)

	ginkgo.BeforeEach(func() {
		service = &mockPaymentService{}
		handler = paymentpkg.NewHandler(service)
		recorder = httptest.NewRecorder()
	})

	ginkgo.Context("ListPayments", func() {
		ginkgo.It("should apply the query filters", func() {
			req := createRequestWithActor(http.MethodGet, "/payments?status=pending&type=EARNINGS&unbatched=true&page_size=5", nil)

			handler.ListPayments(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(*service.filter.Status).To(gomega.Equal(paymentmodel.StatusPending))
			gomega.Expect(*service.filter.Type).To(gomega.Equal(paymentmodel.TypeEarnings))
			gomega.Expect(service.filter.Unbatched).To(gomega.BeTrue())
			gomega.Expect(service.filter.PageSize).To(gomega.Equal(5))

			var resp paymentpkg.ListPaymentsResponse
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.Payments).To(gomega.HaveLen(1))
			gomega.Expect(resp.Payments[0].Amount.String()).To(gomega.Equal("12.5"))
		})

		ginkgo.It("should reject an unknown type", func() {
			handler.ListPayments(recorder, createRequestWithActor(http.MethodGet, "/payments?type=BONUS", nil))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should reject a malformed batch id", func() {
			handler.ListPayments(recorder, createRequestWithActor(http.MethodGet, "/payments?batch_id=x", nil))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Context("ApprovePayments", func() {
		ginkgo.It("should approve the listed payments for the actor", func() {
			handler.ApprovePayments(recorder, createRequestWithActor(http.MethodPost, "/payments/approve", []byte(`{"payment_ids":[4,5]}`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(service.actorID).To(gomega.Equal(int64(2)))
			gomega.Expect(service.approved).To(gomega.Equal([]int64{4, 5}))
		})

		ginkgo.It("should answer 409 when a payment is not pending", func() {
			service.approveErr = paymentpkg.ErrNotApprovable.WithDetails(map[string]interface{}{"payment_id": 5})

			handler.ApprovePayments(recorder, createRequestWithActor(http.MethodPost, "/payments/approve", []byte(`{"payment_ids":[4,5]}`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusConflict))
		})

		ginkgo.It("should reject a malformed body", func() {
			handler.ApprovePayments(recorder, createRequestWithActor(http.MethodPost, "/payments/approve", []byte(`not json`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})
})
