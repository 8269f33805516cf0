package retry

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/transport"
	"github.com/frahmantamala/payout-engine/pkg/logger"
)

type SchedulerAPI interface {
	RunSweep(ctx context.Context) (*SweepResult, error)
	ScheduleRetry(ctx context.Context, actorID, paymentID int64) (*paymentmodel.Retry, error)
	ListRetries(ctx context.Context, filter ListFilter) (*ListResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Scheduler SchedulerAPI
}

func NewHandler(scheduler SchedulerAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Scheduler:   scheduler,
	}
}

// RunSweep handles POST /retries/sweep
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Scheduler.RunSweep(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

// ScheduleRetry handles POST /retries
func (h *Handler) ScheduleRetry(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.ActorOrReject(w, r)
	if !ok {
		return
	}

	var dto ScheduleRetryDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	if dto.PaymentID <= 0 {
		h.WriteError(w, http.StatusBadRequest, "payment_id is required")
		return
	}

	created, err := h.Scheduler.ScheduleRetry(r.Context(), actor.ID, dto.PaymentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, ToResponse(created))
}

// ListRetries handles GET /retries?status=&payment_id=&page=&page_size=
func (h *Handler) ListRetries(w http.ResponseWriter, r *http.Request) {
	page, pageSize := transport.Pagination(r)
	filter := ListFilter{Page: page, PageSize: pageSize}

	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status := paymentmodel.RetryStatus(strings.ToUpper(raw))
		if err := status.Validate(); err != nil {
			h.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("payment_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid payment_id")
			return
		}
		filter.PaymentID = &id
	}

	result, err := h.Scheduler.ListRetries(r.Context(), filter)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp := ListRetriesResponse{
		Retries:    make([]RetryResponse, 0, len(result.Retries)),
		TotalCount: result.TotalCount,
		Page:       page,
		PageSize:   pageSize,
	}
	for i := range result.Retries {
		resp.Retries = append(resp.Retries, ToResponse(&result.Retries[i]))
	}
	h.WriteJSON(w, http.StatusOK, resp)
}
