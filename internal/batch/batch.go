package batch

import (
	"context"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
	"github.com/frahmantamala/payout-engine/internal/payment"
	"github.com/frahmantamala/payout-engine/internal/paymentgateway"
)

var (
	ErrBatchNotFound      = internal.NewNotFoundError("batch not found", internal.ErrCodeNotFound)
	ErrBatchLocked        = internal.NewInvalidStateError("batch membership and schedule can only change while DRAFT or SCHEDULED")
	ErrNotProcessable     = internal.NewInvalidStateError("batch can only be processed while SCHEDULED or PROCESSING")
	ErrInvalidStatus      = internal.NewInvalidStateError("batch status transition not allowed")
	ErrPaymentsNotAddable = internal.NewInvalidStateError("payments must be APPROVED and unbatched to join a batch")
	ErrRecipientNotFound  = internal.NewNotFoundError("recipient not found", internal.ErrCodeNotFound)
)

type ListFilter struct {
	Status   *paymentmodel.BatchStatus
	Page     int
	PageSize int
}

func (f ListFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

type ListResult struct {
	Batches    []paymentmodel.Batch
	TotalCount int64
}

// StatusChange moves a batch to To only if it currently sits in one of From.
type StatusChange struct {
	From          []paymentmodel.BatchStatus
	To            paymentmodel.BatchStatus
	ProcessedDate *time.Time
	CompletedDate *time.Time
	At            time.Time
}

// Settlement records a processing outcome for a payment the caller holds the claim on.
type Settlement struct {
	PaymentID        int64
	ClaimToken       string
	Status           paymentmodel.Status
	Method           *paymentmodel.Method
	Note             string
	StripeTransferID *string
	At               time.Time
}

type Repository interface {
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	CreateBatch(ctx context.Context, b *paymentmodel.Batch) error
	GetBatch(ctx context.Context, id int64) (*paymentmodel.Batch, error)
	GetBatchWithPayments(ctx context.Context, id int64) (*paymentmodel.Batch, error)
	ListBatches(ctx context.Context, filter ListFilter) ([]paymentmodel.Batch, int64, error)
	// LockBatch touches the batch row when its status is one of statuses, holding the row
	// for the rest of the transaction. It reports whether the batch matched.
	LockBatch(ctx context.Context, id int64, statuses []paymentmodel.BatchStatus, at time.Time) (bool, error)
	TransitionBatch(ctx context.Context, id int64, change StatusChange) (bool, error)
	Reschedule(ctx context.Context, id int64, scheduled, deadline, at time.Time) error
	SetNotes(ctx context.Context, id int64, notes string, at time.Time) error

	PaymentsByIDs(ctx context.Context, ids []int64) ([]paymentmodel.Payment, error)
	// BindPayments attaches the APPROVED, unbatched payments among ids and reports how many moved.
	BindPayments(ctx context.Context, batchID int64, ids []int64, at time.Time) (int64, error)
	// UnbindPayments detaches the members of batchID among ids and returns the ids it detached.
	UnbindPayments(ctx context.Context, batchID int64, ids []int64, at time.Time) ([]int64, error)
	MemberStatusCounts(ctx context.Context, batchID int64) (map[paymentmodel.Status]int, error)

	GetEmployee(ctx context.Context, id int64) (*recipient.Employee, error)
	GetReferrer(ctx context.Context, id int64) (*recipient.Referrer, error)
	// ClaimPayment takes the processing lease on an APPROVED member whose lease is free or older than staleBefore.
	ClaimPayment(ctx context.Context, batchID, paymentID int64, token string, at, staleBefore time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, paymentID int64, token string) error
	// SettlePayment applies s only while the payment is still APPROVED under s.ClaimToken.
	SettlePayment(ctx context.Context, s Settlement) (bool, error)
	MarkServicePaid(ctx context.Context, serviceID int64, at time.Time) error

	RecordAudit(ctx context.Context, entries ...audit.Entry) error
}

// Rail performs external transfers for STRIPE decisions.
type Rail interface {
	CreateTransfer(ctx context.Context, req payment.TransferRequest) (*paymentgateway.TransferResult, error)
}

type Metrics interface {
	PaymentProcessed(method, outcome string)
	BatchFinalized(status string)
}
