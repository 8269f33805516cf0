package batch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/payout-engine/internal/audit"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/transport"
	"github.com/frahmantamala/payout-engine/pkg/logger"
)

type ServiceAPI interface {
	CreateBatch(ctx context.Context, actorID int64, dto CreateBatchDTO) (*paymentmodel.Batch, error)
	ListBatches(ctx context.Context, filter ListFilter) (*ListResult, error)
	GetBatch(ctx context.Context, id int64) (*paymentmodel.Batch, error)
	UpdateBatch(ctx context.Context, actorID, batchID int64, dto UpdateBatchDTO) (*paymentmodel.Batch, error)
}

type ProcessorAPI interface {
	ProcessBatch(ctx context.Context, actorID, batchID int64, requested paymentmodel.Method) (*ProcessResult, error)
}

type AuditAPI interface {
	Trail(ctx context.Context, entityType auditmodel.EntityType, entityID int64) ([]auditmodel.Event, error)
}

// DefaultRunTimeout bounds a batch run when no processor run timeout is configured.
const DefaultRunTimeout = 30 * time.Minute

type Handler struct {
	*transport.BaseHandler
	Service   ServiceAPI
	Processor ProcessorAPI
	Audit     AuditAPI
	// RunTimeout bounds ProcessBatch; the run is detached from the request so a dropped
	// connection never halts a batch midway.
	RunTimeout time.Duration
}

func NewHandler(svc ServiceAPI, processor ProcessorAPI, auditSvc AuditAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
		Processor:   processor,
		Audit:       auditSvc,
		RunTimeout:  DefaultRunTimeout,
	}
}

// CreateBatch handles POST /batches
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.ActorOrReject(w, r)
	if !ok {
		return
	}

	var dto CreateBatchDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	b, err := h.Service.CreateBatch(r.Context(), actor.ID, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToResponse(b))
}

// ListBatches handles GET /batches?status=&page=&page_size=
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	page, pageSize := transport.Pagination(r)
	filter := ListFilter{Page: page, PageSize: pageSize}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := paymentmodel.ToBatchStatus(raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &status
	}

	result, err := h.Service.ListBatches(r.Context(), filter)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp := ListBatchesResponse{
		Batches:    make([]BatchResponse, 0, len(result.Batches)),
		TotalCount: result.TotalCount,
		Page:       page,
		PageSize:   pageSize,
	}
	for i := range result.Batches {
		resp.Batches = append(resp.Batches, ToResponse(&result.Batches[i]))
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// GetBatch handles GET /batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.IDParam(w, r, "id")
	if !ok {
		return
	}

	b, err := h.Service.GetBatch(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToResponse(b))
}

// UpdateBatch handles PATCH /batches/{id}
func (h *Handler) UpdateBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.ActorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := h.IDParam(w, r, "id")
	if !ok {
		return
	}

	var dto UpdateBatchDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	b, err := h.Service.UpdateBatch(r.Context(), actor.ID, id, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToResponse(b))
}

// ProcessBatch handles POST /batches/{id}/process. Per-payment failures still answer 200.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.ActorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := h.IDParam(w, r, "id")
	if !ok {
		return
	}

	var dto ProcessBatchDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	method, err := paymentmodel.ToMethod(dto.PaymentMethod)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	timeout := h.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	defer cancel()

	result, err := h.Processor.ProcessBatch(runCtx, actor.ID, id, method)
	if err != nil {
		h.Logger.Error("ProcessBatch: processor error", "error", err, "batch_id", id, "actor_id", actor.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// AuditTrail handles GET /batches/{id}/audit
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.IDParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Service.GetBatch(r.Context(), id); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	trail, err := h.Audit.Trail(r.Context(), auditmodel.EntityBatch, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": id,
		"events":   audit.ToResponses(trail),
	})
}
