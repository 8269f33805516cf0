package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/audit"
	"github.com/frahmantamala/payout-engine/internal/core/common/validation"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
)

// Service exposes the ledger operations admins run before batching.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListPayments(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list payments", "error", err)
		return nil, internal.NewInternalError("failed to list payments", err)
	}
	return &ListResult{Payments: payments, TotalCount: total}, nil
}

func (s *Service) GetPayment(ctx context.Context, id int64) (*paymentmodel.Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ApprovePayments moves every id from PENDING to APPROVED, or none of them.
func (s *Service) ApprovePayments(ctx context.Context, actorID int64, ids []int64) ([]paymentmodel.Payment, error) {
	if appErr := validation.ValidatePaymentIDs("payment_ids", ids); appErr != nil {
		return nil, appErr
	}

	now := s.now()
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		moved, err := tx.Approve(ctx, ids, actorID, now)
		if err != nil {
			return fmt.Errorf("approve payments: %w", err)
		}
		if moved != int64(len(ids)) {
			return ErrNotApprovable.WithCause(fmt.Errorf("%d of %d payments were pending", moved, len(ids)))
		}

		entries := make([]audit.Entry, 0, len(ids))
		for _, id := range ids {
			entries = append(entries, audit.Entry{
				Type:       auditmodel.EventPaymentApproved,
				EntityType: auditmodel.EntityPayment,
				EntityID:   id,
				ActorID:    audit.Actor(actorID),
				Message:    fmt.Sprintf("Payment %d approved", id),
			})
		}
		return tx.RecordAudit(ctx, entries...)
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			s.logger.Warn("payment approval rejected", "actor_id", actorID, "payment_ids", ids, "error", err)
			return nil, err
		}
		s.logger.Error("payment approval failed", "actor_id", actorID, "error", err)
		return nil, internal.NewInternalError("failed to approve payments", err)
	}

	s.logger.Info("payments approved", "actor_id", actorID, "count", len(ids))
	return s.repo.GetByIDs(ctx, ids)
}
