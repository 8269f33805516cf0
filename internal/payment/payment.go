package payment

import (
	"context"
	"time"

	"github.com/frahmantamala/payout-engine/internal/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
)

type ListFilter struct {
	Status    *paymentmodel.Status
	Type      *paymentmodel.Type
	BatchID   *int64
	Unbatched bool
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
	Payments   []paymentmodel.Payment
	TotalCount int64
}

// Repository is the ledger's data access. Transaction hands fn a repository bound to one
// database transaction; any error returned by fn rolls everything back.
type Repository interface {
	Transaction(ctx context.Context, fn func(tx Repository) error) error
	Create(ctx context.Context, p *paymentmodel.Payment) error
	GetByID(ctx context.Context, id int64) (*paymentmodel.Payment, error)
	GetByIDs(ctx context.Context, ids []int64) ([]paymentmodel.Payment, error)
	List(ctx context.Context, filter ListFilter) ([]paymentmodel.Payment, int64, error)
	// Approve promotes the PENDING rows among ids and reports how many moved.
	Approve(ctx context.Context, ids []int64, actorID int64, at time.Time) (int64, error)
	RecordAudit(ctx context.Context, entries ...audit.Entry) error
}
