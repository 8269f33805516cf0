package retry

import (
	"context"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/audit"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/billing"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/paymentgateway"
)

var (
	ErrPaymentNotFound  = internal.NewNotFoundError("payment not found", internal.ErrCodeNotFound)
	ErrCustomerNotFound = internal.NewNotFoundError("customer not found", internal.ErrCodeNotFound)
	ErrNotRetryable     = internal.NewInvalidStateError("only FAILED service charges can be retried")
	ErrRetryAlreadyOpen = internal.NewConflictError("payment already has an open retry", internal.ErrCodeInvalidState)
	ErrNoCharger        = internal.NewExternalError("charge rail is not configured", nil)
)

const (
	MessageNoBillingIdentity = "customer has no billing identity"
	MessageRequiresAction    = "requires customer action"
)

type ListFilter struct {
	Status    *paymentmodel.RetryStatus
	PaymentID *int64
	Page      int
	PageSize  int
}

func (f ListFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

type ListResult struct {
	Retries    []paymentmodel.Retry
	TotalCount int64
}

// Completion closes a PENDING retry held under ClaimToken.
type Completion struct {
	RetryID               int64
	ClaimToken            string
	Status                paymentmodel.RetryStatus
	StripePaymentIntentID *string
	ErrorMessage          *string
	At                    time.Time
}

type Repository interface {
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	// DueRetries returns SCHEDULED retries whose next_retry_date has passed and PENDING retries
	// whose claim is older than staleBefore, oldest first.
	DueRetries(ctx context.Context, now, staleBefore time.Time, limit int) ([]paymentmodel.Retry, error)
	// ClaimRetry leases a due retry to token as PENDING and reports whether this caller won it.
	ClaimRetry(ctx context.Context, id int64, token string, at, staleBefore time.Time) (bool, error)
	CompleteRetry(ctx context.Context, c Completion) (bool, error)
	CreateRetry(ctx context.Context, r *paymentmodel.Retry) error
	HasOpenRetry(ctx context.Context, paymentID int64) (bool, error)
	ListRetries(ctx context.Context, filter ListFilter) ([]paymentmodel.Retry, int64, error)

	GetPayment(ctx context.Context, id int64) (*paymentmodel.Payment, error)
	GetCustomer(ctx context.Context, id int64) (*billing.Customer, error)
	// RecoverPayment marks a FAILED charge PAID and reports whether it was still FAILED.
	RecoverPayment(ctx context.Context, paymentID int64, intentID, note string, at time.Time) (bool, error)
	SetSubscriptionStatus(ctx context.Context, id int64, status billing.SubscriptionStatus, at time.Time) error

	RecordAudit(ctx context.Context, entries ...audit.Entry) error
}

// Charger attempts off-session customer charges.
type Charger interface {
	CreateChargeAttempt(ctx context.Context, req paymentgateway.ChargeRequest) (*paymentgateway.ChargeResult, error)
}

type Metrics interface {
	RetryAttempt(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RetryAttempt(string) {}
