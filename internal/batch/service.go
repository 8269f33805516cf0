package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/audit"
	"github.com/frahmantamala/payout-engine/internal/core/common/validation"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
)

var editableStatuses = []paymentmodel.BatchStatus{paymentmodel.BatchStatusDraft, paymentmodel.BatchStatusScheduled}

// Service is the batch manager: creation, listing and all-or-nothing updates of batches.
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

func (s *Service) CreateBatch(ctx context.Context, actorID int64, dto CreateBatchDTO) (*paymentmodel.Batch, error) {
	if appErr := validation.ValidateBatchName(dto.Name); appErr != nil {
		return nil, appErr
	}

	b := &paymentmodel.Batch{
		Name:        strings.TrimSpace(dto.Name),
		Description: dto.Description,
		Status:      paymentmodel.BatchStatusDraft,
		CreatedByID: actorID,
	}
	if dto.ScheduledDate != nil {
		b.Schedule(*dto.ScheduledDate)
	}

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.CreateBatch(ctx, b); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		return tx.RecordAudit(ctx, audit.Entry{
			Type:       auditmodel.EventBatchCreated,
			EntityType: auditmodel.EntityBatch,
			EntityID:   b.ID,
			ActorID:    audit.Actor(actorID),
			Message:    fmt.Sprintf("Batch %q created", b.Name),
		})
	})
	if err != nil {
		s.logger.Error("failed to create batch", "actor_id", actorID, "error", err)
		return nil, internal.NewInternalError("failed to create batch", err)
	}

	s.logger.Info("batch created", "batch_id", b.ID, "actor_id", actorID)
	return b, nil
}

func (s *Service) ListBatches(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.Status != nil {
		if err := filter.Status.Validate(); err != nil {
			return nil, internal.NewValidationFieldError("status", err.Error(), internal.ErrCodeInvalidStatus)
		}
	}

	batches, total, err := s.repo.ListBatches(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list batches", "error", err)
		return nil, internal.NewInternalError("failed to list batches", err)
	}
	return &ListResult{Batches: batches, TotalCount: total}, nil
}

func (s *Service) GetBatch(ctx context.Context, id int64) (*paymentmodel.Batch, error) {
	b, err := s.repo.GetBatchWithPayments(ctx, id)
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		return nil, internal.NewInternalError("failed to load batch", err)
	}
	return b, nil
}

// UpdateBatch applies every requested mutation in one transaction. Membership, schedule and
// notes apply first and the status change last, so a batch can be filled and scheduled at once.
func (s *Service) UpdateBatch(ctx context.Context, actorID, batchID int64, dto UpdateBatchDTO) (*paymentmodel.Batch, error) {
	if appErr := validateUpdate(dto); appErr != nil {
		return nil, appErr
	}

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		b, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}

		if len(dto.AddPaymentIDs) > 0 || len(dto.RemovePaymentIDs) > 0 || dto.ScheduledDate != nil {
			if err := s.lockEditable(ctx, tx, b); err != nil {
				return err
			}
		}
		if len(dto.AddPaymentIDs) > 0 {
			if err := s.addPayments(ctx, tx, actorID, b, dto.AddPaymentIDs); err != nil {
				return err
			}
		}
		if len(dto.RemovePaymentIDs) > 0 {
			if err := s.removePayments(ctx, tx, actorID, b, dto.RemovePaymentIDs); err != nil {
				return err
			}
		}
		if dto.ScheduledDate != nil {
			if err := s.reschedule(ctx, tx, actorID, b, *dto.ScheduledDate); err != nil {
				return err
			}
		}
		if dto.Notes != nil {
			if err := s.setNotes(ctx, tx, actorID, b, *dto.Notes); err != nil {
				return err
			}
		}
		if dto.Status != nil {
			return s.setStatus(ctx, tx, actorID, b, *dto.Status)
		}
		return nil
	})
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			s.logger.Warn("batch update rejected", "batch_id", batchID, "actor_id", actorID, "error", err)
			return nil, appErr
		}
		s.logger.Error("batch update failed", "batch_id", batchID, "actor_id", actorID, "error", err)
		return nil, internal.NewInternalError("failed to update batch", err)
	}

	s.logger.Info("batch updated", "batch_id", batchID, "actor_id", actorID)
	return s.GetBatch(ctx, batchID)
}

func validateUpdate(dto UpdateBatchDTO) *internal.AppError {
	if dto.IsEmpty() {
		return internal.NewValidationError("at least one change is required", internal.ErrCodeValidationFailed)
	}

	v := validation.NewValidator()
	if len(dto.AddPaymentIDs) > 0 {
		v.Field("add_payment_ids", dto.AddPaymentIDs).PositiveIDs()
	}
	if len(dto.RemovePaymentIDs) > 0 {
		v.Field("remove_payment_ids", dto.RemovePaymentIDs).PositiveIDs()
	}
	if dto.ScheduledDate != nil {
		v.Field("scheduled_date", nil).
			Check(!dto.ScheduledDate.IsZero(), "scheduled_date is invalid", internal.ErrCodeInvalidDate)
	}
	if dto.Status != nil {
		v.Field("status", nil).
			Check(dto.Status.Validate() == nil, fmt.Sprintf("unknown batch status %q", *dto.Status), internal.ErrCodeInvalidStatus)
	}
	return v.Validate()
}

// lockEditable holds the batch row for the transaction, failing unless it is DRAFT or SCHEDULED.
func (s *Service) lockEditable(ctx context.Context, tx Repository, b *paymentmodel.Batch) error {
	if !b.Status.IsEditable() {
		return ErrBatchLocked.WithDetails(map[string]interface{}{"status": b.Status})
	}
	ok, err := tx.LockBatch(ctx, b.ID, editableStatuses, s.now())
	if err != nil {
		return fmt.Errorf("lock batch: %w", err)
	}
	if !ok {
		return ErrBatchLocked
	}
	return nil
}

func (s *Service) addPayments(ctx context.Context, tx Repository, actorID int64, b *paymentmodel.Batch, ids []int64) error {
	if err := s.checkAddable(ctx, tx, ids); err != nil {
		return err
	}

	moved, err := tx.BindPayments(ctx, b.ID, ids, s.now())
	if err != nil {
		return fmt.Errorf("bind payments: %w", err)
	}
	if moved != int64(len(ids)) {
		// a concurrent writer changed a payment between the check and the bind
		return ErrPaymentsNotAddable.WithCause(fmt.Errorf("bound %d of %d payments", moved, len(ids)))
	}

	entries := make([]audit.Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, audit.Entry{
			Type:       auditmodel.EventBatchAdded,
			EntityType: auditmodel.EntityBatch,
			EntityID:   b.ID,
			ActorID:    audit.Actor(actorID),
			Message:    fmt.Sprintf("Payment %d added to batch", id),
			Details:    map[string]interface{}{"payment_id": id},
		})
	}
	return tx.RecordAudit(ctx, entries...)
}

// checkAddable requires every id to name an APPROVED payment outside any batch.
func (s *Service) checkAddable(ctx context.Context, tx Repository, ids []int64) error {
	found, err := tx.PaymentsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	byID := make(map[int64]paymentmodel.Payment, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	var missing []int64
	var rejected []map[string]interface{}
	for _, id := range ids {
		p, ok := byID[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case p.Status != paymentmodel.StatusApproved:
			rejected = append(rejected, map[string]interface{}{
				"payment_id": id, "reason": "status is " + string(p.Status),
			})
		case p.BatchID != nil:
			rejected = append(rejected, map[string]interface{}{
				"payment_id": id, "reason": fmt.Sprintf("already in batch %d", *p.BatchID),
			})
		}
	}

	switch {
	case len(missing) == 0 && len(rejected) == 0:
		return nil
	case len(rejected) == 0:
		return internal.NewNotFoundError("payments not found", internal.ErrCodeNotFound).
			WithDetails(map[string]interface{}{"missing_payment_ids": missing})
	default:
		details := map[string]interface{}{"rejected": rejected}
		if len(missing) > 0 {
			details["missing_payment_ids"] = missing
		}
		return ErrPaymentsNotAddable.WithDetails(details)
	}
}

func (s *Service) removePayments(ctx context.Context, tx Repository, actorID int64, b *paymentmodel.Batch, ids []int64) error {
	removed, err := tx.UnbindPayments(ctx, b.ID, ids, s.now())
	if err != nil {
		return fmt.Errorf("unbind payments: %w", err)
	}
	if len(removed) == 0 {
		return nil
	}

	entries := make([]audit.Entry, 0, len(removed))
	for _, id := range removed {
		entries = append(entries, audit.Entry{
			Type:       auditmodel.EventBatchRemoved,
			EntityType: auditmodel.EntityBatch,
			EntityID:   b.ID,
			ActorID:    audit.Actor(actorID),
			Message:    fmt.Sprintf("Payment %d removed from batch", id),
			Details:    map[string]interface{}{"payment_id": id},
		})
	}
	return tx.RecordAudit(ctx, entries...)
}

func (s *Service) reschedule(ctx context.Context, tx Repository, actorID int64, b *paymentmodel.Batch, at time.Time) error {
	previous := b.ScheduledDate
	b.Schedule(at)
	if err := tx.Reschedule(ctx, b.ID, *b.ScheduledDate, *b.ApprovalDeadline, s.now()); err != nil {
		return fmt.Errorf("reschedule batch: %w", err)
	}

	details := map[string]interface{}{
		"scheduled_date":    b.ScheduledDate.Format(time.RFC3339),
		"approval_deadline": b.ApprovalDeadline.Format(time.RFC3339),
	}
	if previous != nil {
		details["previous_scheduled_date"] = previous.UTC().Format(time.RFC3339)
	}
	return tx.RecordAudit(ctx, audit.Entry{
		Type:       auditmodel.EventBatchRescheduled,
		EntityType: auditmodel.EntityBatch,
		EntityID:   b.ID,
		ActorID:    audit.Actor(actorID),
		Message:    "Batch rescheduled for " + b.ScheduledDate.Format(time.RFC3339),
		Details:    details,
	})
}

func (s *Service) setNotes(ctx context.Context, tx Repository, actorID int64, b *paymentmodel.Batch, notes string) error {
	if err := tx.SetNotes(ctx, b.ID, notes, s.now()); err != nil {
		return fmt.Errorf("set batch notes: %w", err)
	}
	b.Notes = notes
	return tx.RecordAudit(ctx, audit.Entry{
		Type:       auditmodel.EventBatchNotesUpdated,
		EntityType: auditmodel.EntityBatch,
		EntityID:   b.ID,
		ActorID:    audit.Actor(actorID),
		Message:    "Batch notes updated",
	})
}

// setStatus allows only the manual edges DRAFT->SCHEDULED and SCHEDULED->PROCESSING.
// Terminal statuses belong to the processor.
func (s *Service) setStatus(ctx context.Context, tx Repository, actorID int64, b *paymentmodel.Batch, target paymentmodel.BatchStatus) error {
	if !b.Status.IsEditable() {
		return ErrBatchLocked.WithDetails(map[string]interface{}{"status": b.Status, "requested": target})
	}
	if b.Status == target {
		return nil
	}
	if target.IsTerminal() || target == paymentmodel.BatchStatusDraft {
		return ErrInvalidStatus.WithDetails(map[string]interface{}{"from": b.Status, "to": target})
	}
	if err := b.Status.TransitionTo(target); err != nil {
		return ErrInvalidStatus.WithCause(err).WithDetails(map[string]interface{}{"from": b.Status, "to": target})
	}

	now := s.now()
	change := StatusChange{From: []paymentmodel.BatchStatus{b.Status}, To: target, At: now}
	if target == paymentmodel.BatchStatusProcessing {
		change.ProcessedDate = &now
	}
	ok, err := tx.TransitionBatch(ctx, b.ID, change)
	if err != nil {
		return fmt.Errorf("transition batch: %w", err)
	}
	if !ok {
		return ErrInvalidStatus.WithDetails(map[string]interface{}{"from": b.Status, "to": target})
	}

	from := b.Status
	b.Status = target
	return tx.RecordAudit(ctx, audit.Entry{
		Type:       auditmodel.EventBatchStatusChanged,
		EntityType: auditmodel.EntityBatch,
		EntityID:   b.ID,
		ActorID:    audit.Actor(actorID),
		Message:    fmt.Sprintf("Batch status changed from %s to %s", from, target),
		Details:    map[string]interface{}{"from": from, "to": target},
	})
}
