package retry

import (
	"time"

	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
)

type ScheduleRetryDTO struct {
	PaymentID int64 `json:"payment_id"`
}

type RetryResponse struct {
	ID                    int64                    `json:"id"`
	PaymentID             int64                    `json:"payment_id"`
	Status                paymentmodel.RetryStatus `json:"status"`
	RetryCount            int                      `json:"retry_count"`
	NextRetryDate         time.Time                `json:"next_retry_date"`
	StripePaymentIntentID *string                  `json:"stripe_payment_intent_id,omitempty"`
	ErrorMessage          *string                  `json:"error_message,omitempty"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

func ToResponse(r *paymentmodel.Retry) RetryResponse {
	return RetryResponse{
		ID:                    r.ID,
		PaymentID:             r.PaymentID,
		Status:                r.Status,
		RetryCount:            r.RetryCount,
		NextRetryDate:         r.NextRetryDate,
		StripePaymentIntentID: r.StripePaymentIntentID,
		ErrorMessage:          r.ErrorMessage,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

type ListRetriesResponse struct {
	Retries    []RetryResponse `json:"retries"`
	TotalCount int64           `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}
