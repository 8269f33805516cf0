package payment

import (
	"time"

	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/shopspring/decimal"
)

type ApprovePaymentsDTO struct {
	PaymentIDs []int64 `json:"payment_ids"`
}

type PaymentResponse struct {
	ID                    int64                `json:"id"`
	Type                  paymentmodel.Type    `json:"type"`
	Amount                decimal.Decimal      `json:"amount"`
	Status                paymentmodel.Status  `json:"status"`
	PaymentMethod         *paymentmodel.Method `json:"payment_method,omitempty"`
	BatchID               *int64               `json:"batch_id,omitempty"`
	EmployeeID            *int64               `json:"employee_id,omitempty"`
	ReferrerID            *int64               `json:"referrer_id,omitempty"`
	CustomerID            *int64               `json:"customer_id,omitempty"`
	SubscriptionID        *int64               `json:"subscription_id,omitempty"`
	ServiceID             *int64               `json:"service_id,omitempty"`
	StripeTransferID      *string              `json:"stripe_transfer_id,omitempty"`
	StripePaymentIntentID *string              `json:"stripe_payment_intent_id,omitempty"`
	Notes                 string               `json:"notes,omitempty"`
	ApprovedByID          *int64               `json:"approved_by_id,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
	ApprovedAt            *time.Time           `json:"approved_at,omitempty"`
	PaidAt                *time.Time           `json:"paid_at,omitempty"`
}

func ToResponse(p *paymentmodel.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                    p.ID,
		Type:                  p.Type,
		Amount:                p.Amount,
		Status:                p.Status,
		PaymentMethod:         p.PaymentMethod,
		BatchID:               p.BatchID,
		EmployeeID:            p.EmployeeID,
		ReferrerID:            p.ReferrerID,
		CustomerID:            p.CustomerID,
		SubscriptionID:        p.SubscriptionID,
		ServiceID:             p.ServiceID,
		StripeTransferID:      p.StripeTransferID,
		StripePaymentIntentID: p.StripePaymentIntentID,
		Notes:                 p.Notes,
		ApprovedByID:          p.ApprovedByID,
		CreatedAt:             p.CreatedAt,
		ApprovedAt:            p.ApprovedAt,
		PaidAt:                p.PaidAt,
	}
}

func ToResponses(payments []paymentmodel.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, ToResponse(&payments[i]))
	}
	return out
}

type ListPaymentsResponse struct {
	Payments   []PaymentResponse `json:"payments"`
	TotalCount int64             `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}
