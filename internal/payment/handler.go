package payment

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/payout-engine/internal/transport"
	"github.com/frahmantamala/payout-engine/pkg/logger"

	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
)

type ServiceAPI interface {
	ListPayments(ctx context.Context, filter ListFilter) (*ListResult, error)
	ApprovePayments(ctx context.Context, actorID int64, ids []int64) ([]paymentmodel.Payment, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

// ListPayments handles GET /payments?status=&type=&batch_id=&unbatched=&page=&page_size=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	page, pageSize := transport.Pagination(r)
	filter := ListFilter{Page: page, PageSize: pageSize}

	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status, err := paymentmodel.ToStatus(raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("type"); raw != "" {
		t := paymentmodel.Type(raw)
		if err := t.Validate(); err != nil {
			h.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Type = &t
	}
	if raw := q.Get("batch_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid batch_id")
			return
		}
		filter.BatchID = &id
	}
	filter.Unbatched = q.Get("unbatched") == "true"

	result, err := h.Service.ListPayments(r.Context(), filter)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ListPaymentsResponse{
		Payments:   ToResponses(result.Payments),
		TotalCount: result.TotalCount,
		Page:       page,
		PageSize:   pageSize,
	})
}

// ApprovePayments handles POST /payments/approve
func (h *Handler) ApprovePayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.ActorOrReject(w, r)
	if !ok {
		return
	}

	var dto ApprovePaymentsDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	payments, err := h.Service.ApprovePayments(r.Context(), actor.ID, dto.PaymentIDs)
	if err != nil {
		h.Logger.Error("ApprovePayments: service error", "error", err, "actor_id", actor.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payments": ToResponses(payments),
	})
}
