package retry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/payout-engine/internal"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/retry"
)

type mockScheduler struct {
	sweep      *retry.SweepResult
	err        error
	lastFilter retry.ListFilter
	lastActor  int64
	lastID     int64
}

func (m *mockScheduler) RunSweep(_ context.Context) (*retry.SweepResult, error) {
	return m.sweep, m.err
}

func (m *mockScheduler) ScheduleRetry(_ context.Context, actorID, paymentID int64) (*paymentmodel.Retry, error) {
	m.lastActor, m.lastID = actorID, paymentID
	if m.err != nil {
		return nil, m.err
	}
	return &paymentmodel.Retry{ID: 1, PaymentID: paymentID, Status: paymentmodel.RetryStatusScheduled}, nil
}

func (m *mockScheduler) ListRetries(_ context.Context, filter retry.ListFilter) (*retry.ListResult, error) {
	m.lastFilter = filter
	return &retry.ListResult{}, m.err
}

func withActor(req *http.Request) *http.Request {
	actor := &internal.Actor{ID: 4, Email: "ops@example.com", Permissions: []string{"admin"}}
	return req.WithContext(internal.ContextWithActor(req.Context(), actor))
}

var _ = ginkgo.Describe("RetryHandler", func() {
	var (
		scheduler *mockScheduler
		handler   *retry.Handler
		recorder  *httptest.ResponseRecorder
	)

	ginkgo.BeforeEach(func() {
		scheduler = &mockScheduler{}
		handler = retry.NewHandler(scheduler)
		recorder = httptest.NewRecorder()
	})

	ginkgo.It("should return the sweep counts", func() {
		scheduler.sweep = &retry.SweepResult{Total: 3, Succeeded: 1, Failed: 2}
		handler.RunSweep(recorder, withActor(httptest.NewRequest(http.MethodPost, "/retries/sweep", nil)))

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
		var resp retry.SweepResult
		gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(gomega.Succeed())
		gomega.Expect(resp).To(gomega.Equal(*scheduler.sweep))
	})

	ginkgo.It("should answer 502 when no charge rail is configured", func() {
		scheduler.err = retry.ErrNoCharger
		handler.RunSweep(recorder, withActor(httptest.NewRequest(http.MethodPost, "/retries/sweep", nil)))

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadGateway))
	})

	ginkgo.It("should schedule a retry for the acting admin", func() {
		req := withActor(httptest.NewRequest(http.MethodPost, "/retries", bytes.NewBufferString(`{"payment_id":12}`)))
		handler.ScheduleRetry(recorder, req)

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusCreated))
		gomega.Expect(scheduler.lastActor).To(gomega.Equal(int64(4)))
		gomega.Expect(scheduler.lastID).To(gomega.Equal(int64(12)))
	})

	ginkgo.It("should require a payment id", func() {
		req := withActor(httptest.NewRequest(http.MethodPost, "/retries", bytes.NewBufferString(`{}`)))
		handler.ScheduleRetry(recorder, req)

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
	})

	ginkgo.It("should map an open retry to 409", func() {
		scheduler.err = retry.ErrRetryAlreadyOpen
		req := withActor(httptest.NewRequest(http.MethodPost, "/retries", bytes.NewBufferString(`{"payment_id":12}`)))
		handler.ScheduleRetry(recorder, req)

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusConflict))
	})

	ginkgo.It("should parse list filters", func() {
		handler.ListRetries(recorder, withActor(httptest.NewRequest(http.MethodGet, "/retries?status=scheduled&payment_id=12", nil)))

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(*scheduler.lastFilter.Status).To(gomega.Equal(paymentmodel.RetryStatusScheduled))
		gomega.Expect(*scheduler.lastFilter.PaymentID).To(gomega.Equal(int64(12)))
	})

	ginkgo.It("should reject an unknown status", func() {
		handler.ListRetries(recorder, withActor(httptest.NewRequest(http.MethodGet, "/retries?status=lost", nil)))

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
	})
})
