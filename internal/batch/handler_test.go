package batch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/batch"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
)

type mockBatchService struct {
	batch       *paymentmodel.Batch
	err         error
	lastCreate  batch.CreateBatchDTO
	lastUpdate  batch.UpdateBatchDTO
	lastFilter  batch.ListFilter
	lastActorID int64
}

func (m *mockBatchService) CreateBatch(_ context.Context, actorID int64, dto batch.CreateBatchDTO) (*paymentmodel.Batch, error) {
	m.lastActorID, m.lastCreate = actorID, dto
	return m.batch, m.err
}

func (m *mockBatchService) ListBatches(_ context.Context, filter batch.ListFilter) (*batch.ListResult, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return &batch.ListResult{Batches: []paymentmodel.Batch{*m.batch}, TotalCount: 1}, nil
}

func (m *mockBatchService) GetBatch(_ context.Context, _ int64) (*paymentmodel.Batch, error) {
	return m.batch, m.err
}

func (m *mockBatchService) UpdateBatch(_ context.Context, actorID, _ int64, dto batch.UpdateBatchDTO) (*paymentmodel.Batch, error) {
	m.lastActorID, m.lastUpdate = actorID, dto
	return m.batch, m.err
}

type mockProcessor struct {
	result     *batch.ProcessResult
	err        error
	lastMethod paymentmodel.Method
	onProcess  func(ctx context.Context)
}

func (m *mockProcessor) ProcessBatch(ctx context.Context, _, _ int64, requested paymentmodel.Method) (*batch.ProcessResult, error) {
	m.lastMethod = requested
	if m.onProcess != nil {
		m.onProcess(ctx)
	}
	return m.result, m.err
}

type mockAudit struct {
	events []auditmodel.Event
}

func (m *mockAudit) Trail(_ context.Context, _ auditmodel.EntityType, _ int64) ([]auditmodel.Event, error) {
	return m.events, nil
}

func adminRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	actor := &internal.Actor{ID: 7, Email: "ops@example.com", Permissions: []string{"admin"}}
	return req.WithContext(internal.ContextWithActor(req.Context(), actor))
}

func decodeError(rec *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]map[string]interface{}
	gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
	return body["error"]
}

var _ = ginkgo.Describe("BatchHandler", func() {
	var (
		service   *mockBatchService
		processor *mockProcessor
		auditAPI  *mockAudit
		router    *chi.Mux
		recorder  *httptest.ResponseRecorder
	)

	ginkgo.BeforeEach(func() {
		service = &mockBatchService{batch: &paymentmodel.Batch{ID: 3, Name: "Week 12", Status: paymentmodel.BatchStatusDraft}}
		processor = &mockProcessor{}
		auditAPI = &mockAudit{}
		h := batch.NewHandler(service, processor, auditAPI)

		router = chi.NewRouter()
		router.Post("/batches", h.CreateBatch)
		router.Get("/batches", h.ListBatches)
		router.Get("/batches/{id}", h.GetBatch)
		router.Patch("/batches/{id}", h.UpdateBatch)
		router.Post("/batches/{id}/process", h.ProcessBatch)
		router.Get("/batches/{id}/audit", h.AuditTrail)
		recorder = httptest.NewRecorder()
	})

	ginkgo.Context("CreateBatch", func() {
		ginkgo.It("should create a batch for the authenticated admin", func() {
			router.ServeHTTP(recorder, adminRequest(http.MethodPost, "/batches", []byte(`{"name":"Week 12"}`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusCreated))
			gomega.Expect(service.lastActorID).To(gomega.Equal(int64(7)))
			gomega.Expect(service.lastCreate.Name).To(gomega.Equal("Week 12"))

			var resp batch.BatchResponse
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.ID).To(gomega.Equal(int64(3)))
			gomega.Expect(resp.Status).To(gomega.Equal(paymentmodel.BatchStatusDraft))
		})

		ginkgo.It("should reject requests without an actor", func() {
			req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBufferString(`{"name":"x"}`))
			router.ServeHTTP(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusUnauthorized))
		})

		ginkgo.It("should reject unknown fields", func() {
			router.ServeHTTP(recorder, adminRequest(http.MethodPost, "/batches", []byte(`{"name":"x","colour":"red"}`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Context("ListBatches", func() {
		ginkgo.It("should pass the status filter and pagination", func() {
			router.ServeHTTP(recorder, adminRequest(http.MethodGet, "/batches?status=scheduled&page=2&page_size=500", nil))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(*service.lastFilter.Status).To(gomega.Equal(paymentmodel.BatchStatusScheduled))
			gomega.Expect(service.lastFilter.Page).To(gomega.Equal(2))
			gomega.Expect(service.lastFilter.PageSize).To(gomega.Equal(100))
		})

		ginkgo.It("should reject an unknown status", func() {
			router.ServeHTTP(recorder, adminRequest(http.MethodGet, "/batches?status=LOST", nil))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Context("GetBatch", func() {
		ginkgo.It("should map a missing batch to 404", func() {
			service.err = batch.ErrBatchNotFound
			router.ServeHTTP(recorder, adminRequest(http.MethodGet, "/batches/99", nil))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusNotFound))
			gomega.Expect(decodeError(recorder)["code"]).To(gomega.Equal(string(internal.ErrCodeNotFound)))
		})

		ginkgo.It("should reject a non-numeric id", func() {
			router.ServeHTTP(recorder, adminRequest(http.MethodGet, "/batches/abc", nil))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Context("UpdateBatch", func() {
		ginkgo.It("should forward every mutation in one call", func() {
			body := []byte(`{"add_payment_ids":[1,2],"remove_payment_ids":[5],"status":"SCHEDULED","notes":"ok"}`)
			router.ServeHTTP(recorder, adminRequest(http.MethodPatch, "/batches/3", body))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(service.lastUpdate.AddPaymentIDs).To(gomega.Equal([]int64{1, 2}))
			gomega.Expect(service.lastUpdate.RemovePaymentIDs).To(gomega.Equal([]int64{5}))
			gomega.Expect(*service.lastUpdate.Status).To(gomega.Equal(paymentmodel.BatchStatusScheduled))
			gomega.Expect(*service.lastUpdate.Notes).To(gomega.Equal("ok"))
		})

		ginkgo.It("should answer 409 for a locked batch", func() {
			service.err = batch.ErrBatchLocked
			router.ServeHTTP(recorder, adminRequest(http.MethodPatch, "/batches/3", []byte(`{"notes":"x"}`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusConflict))
			gomega.Expect(decodeError(recorder)["code"]).To(gomega.Equal(string(internal.ErrCodeInvalidState)))
		})
	})

	ginkgo.Context("ProcessBatch", func() {
		ginkgo.It("should return the per-payment results with 200", func() {
			processor.result = &batch.ProcessResult{
				BatchID: 3,
				Status:  paymentmodel.BatchStatusPartiallyCompleted,
				Results: batch.ProcessResults{
					Successful: 1,
					Failed:     1,
					Processed: []batch.PaymentOutcome{
						{PaymentID: 1, Outcome: batch.OutcomePaid, Method: "CASH_APP"},
						{PaymentID: 2, Outcome: batch.OutcomeFailed, Method: "CASH_APP", Reason: "no handle"},
					},
					Errors: []batch.PaymentError{{PaymentID: 2, Error: "no handle"}},
				},
			}
			router.ServeHTTP(recorder, adminRequest(http.MethodPost, "/batches/3/process", []byte(`{"payment_method":"cash_app"}`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(processor.lastMethod).To(gomega.Equal(paymentmodel.MethodCashApp))

			var resp batch.ProcessResult
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.Status).To(gomega.Equal(paymentmodel.BatchStatusPartiallyCompleted))
			gomega.Expect(resp.Results.Errors).To(gomega.HaveLen(1))
		})

		ginkgo.It("should keep the run alive after the client goes away", func() {
			processor.result = &batch.ProcessResult{BatchID: 3, Status: paymentmodel.BatchStatusCompleted}
			req := adminRequest(http.MethodPost, "/batches/3/process", []byte(`{"payment_method":"stripe"}`))
			reqCtx, cancel := context.WithCancel(req.Context())
			defer cancel()

			var runErr error
			var hasDeadline bool
			processor.onProcess = func(ctx context.Context) {
				cancel()
				runErr = ctx.Err()
				_, hasDeadline = ctx.Deadline()
			}
			router.ServeHTTP(recorder, req.WithContext(reqCtx))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(runErr).NotTo(gomega.HaveOccurred())
			gomega.Expect(hasDeadline).To(gomega.BeTrue())
		})

		ginkgo.It("should reject an unknown method before calling the processor", func() {
			router.ServeHTTP(recorder, adminRequest(http.MethodPost, "/batches/3/process", []byte(`{"payment_method":"VENMO"}`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(processor.lastMethod).To(gomega.BeEmpty())
		})

		ginkgo.It("should answer 409 when the batch cannot be processed", func() {
			processor.err = batch.ErrNotProcessable
			router.ServeHTTP(recorder, adminRequest(http.MethodPost, "/batches/3/process", []byte(`{"payment_method":"CASH"}`)))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusConflict))
		})
	})

	ginkgo.Context("AuditTrail", func() {
		ginkgo.It("should list the batch events", func() {
			auditAPI.events = []auditmodel.Event{
				{EntityType: auditmodel.EntityBatch, EntityID: 3, EventType: auditmodel.EventBatchCreated, Message: "Batch created"},
			}
			router.ServeHTTP(recorder, adminRequest(http.MethodGet, "/batches/3/audit", nil))

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			var resp struct {
				BatchID int64                    `json:"batch_id"`
				Events  []map[string]interface{} `json:"events"`
			}
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.BatchID).To(gomega.Equal(int64(3)))
			gomega.Expect(resp.Events).To(gomega.HaveLen(1))
		})
	})
})
