package batch

import (
	"time"

	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/payment"
)

type CreateBatchDTO struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
}

// UpdateBatchDTO carries every mutation updateBatch accepts; they apply together or not at all.
type UpdateBatchDTO struct {
	ScheduledDate    *time.Time                `json:"scheduled_date,omitempty"`
	AddPaymentIDs    []int64                   `json:"add_payment_ids,omitempty"`
	RemovePaymentIDs []int64                   `json:"remove_payment_ids,omitempty"`
	Status           *paymentmodel.BatchStatus `json:"status,omitempty"`
	Notes            *string                   `json:"notes,omitempty"`
}

func (dto UpdateBatchDTO) IsEmpty() bool {
	return dto.ScheduledDate == nil && len(dto.AddPaymentIDs) == 0 && len(dto.RemovePaymentIDs) == 0 &&
		dto.Status == nil && dto.Notes == nil
}

type ProcessBatchDTO struct {
	PaymentMethod string `json:"payment_method"`
}

type Outcome string

const (
	OutcomePaid    Outcome = "PAID"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeSkipped Outcome = "SKIPPED"
)

type PaymentOutcome struct {
	PaymentID     int64   `json:"payment_id"`
	Outcome       Outcome `json:"outcome"`
	Method        string  `json:"method,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

type PaymentError struct {
	PaymentID int64  `json:"payment_id"`
	Error     string `json:"error"`
}

type ProcessResults struct {
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Processed  []PaymentOutcome `json:"processed"`
	Errors     []PaymentError   `json:"errors"`
}

type ProcessResult struct {
	BatchID int64                    `json:"batch_id"`
	Status  paymentmodel.BatchStatus `json:"status"`
	Results ProcessResults           `json:"results"`
}

type BatchResponse struct {
	ID               int64                     `json:"id"`
	Name             string                    `json:"name"`
	Description      string                    `json:"description"`
	Status           paymentmodel.BatchStatus  `json:"status"`
	ScheduledDate    *time.Time                `json:"scheduled_date,omitempty"`
	ApprovalDeadline *time.Time                `json:"approval_deadline,omitempty"`
	ProcessedDate    *time.Time                `json:"processed_date,omitempty"`
	CompletedDate    *time.Time                `json:"completed_date,omitempty"`
	CreatedByID      int64                     `json:"created_by_id"`
	Notes            string                    `json:"notes,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
	Payments         []payment.PaymentResponse `json:"payments,omitempty"`
}

func ToResponse(b *paymentmodel.Batch) BatchResponse {
	resp := BatchResponse{
		ID:               b.ID,
		Name:             b.Name,
		Description:      b.Description,
		Status:           b.Status,
		ScheduledDate:    b.ScheduledDate,
		ApprovalDeadline: b.ApprovalDeadline,
		ProcessedDate:    b.ProcessedDate,
		CompletedDate:    b.CompletedDate,
		CreatedByID:      b.CreatedByID,
		Notes:            b.Notes,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
	if len(b.Payments) > 0 {
		resp.Payments = payment.ToResponses(b.Payments)
	}
	return resp
}

type ListBatchesResponse struct {
	Batches    []BatchResponse `json:"batches"`
	TotalCount int64           `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}
