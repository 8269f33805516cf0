package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/payout-engine/internal/audit"
	auditpg "github.com/frahmantamala/payout-engine/internal/audit/postgres"
	"github.com/frahmantamala/payout-engine/internal/batch"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/billing"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
	"gorm.io/gorm"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Transaction(ctx context.Context, fn func(tx batch.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&BatchRepository{db: tx})
	})
}

func (r *BatchRepository) CreateBatch(ctx context.Context, b *paymentmodel.Batch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BatchRepository) GetBatch(ctx context.Context, id int64) (*paymentmodel.Batch, error) {
	var b paymentmodel.Batch
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, batch.ErrBatchNotFound
		}
		return nil, err
	}
	return &b, nil
}

// GetBatchWithPayments loads the batch with its members in id order.
func (r *BatchRepository) GetBatchWithPayments(ctx context.Context, id int64) (*paymentmodel.Batch, error) {
	var b paymentmodel.Batch
	err := r.db.WithContext(ctx).
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("payments.id ASC")
		}).
		Where("id = ?", id).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, batch.ErrBatchNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepository) ListBatches(ctx context.Context, filter batch.ListFilter) ([]paymentmodel.Batch, int64, error) {
	q := r.db.WithContext(ctx).Model(&paymentmodel.Batch{})
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var batches []paymentmodel.Batch
	err := q.Order("created_at DESC, id DESC").
		Limit(filter.PageSize).
		Offset(filter.Offset()).
		Find(&batches).Error
	return batches, total, err
}

func (r *BatchRepository) LockBatch(ctx context.Context, id int64, statuses []paymentmodel.BatchStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&paymentmodel.Batch{}).
		Where("id = ? AND status IN ?", id, statuses).
		Update("updated_at", at)
	return res.RowsAffected == 1, res.Error
}

func (r *BatchRepository) TransitionBatch(ctx context.Context, id int64, change batch.StatusChange) (bool, error) {
	updates := map[string]interface{}{
		"status":     change.To,
		"updated_at": change.At,
	}
	if change.ProcessedDate != nil {
		updates["processed_date"] = *change.ProcessedDate
	}
	if change.CompletedDate != nil {
		updates["completed_date"] = *change.CompletedDate
	}
	res := r.db.WithContext(ctx).Model(&paymentmodel.Batch{}).
		Where("id = ? AND status IN ?", id, change.From).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *BatchRepository) Reschedule(ctx context.Context, id int64, scheduled, deadline, at time.Time) error {
	return r.db.WithContext(ctx).Model(&paymentmodel.Batch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"scheduled_date":    scheduled,
			"approval_deadline": deadline,
			"updated_at":        at,
		}).Error
}

func (r *BatchRepository) SetNotes(ctx context.Context, id int64, notes string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&paymentmodel.Batch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"notes":      notes,
			"updated_at": at,
		}).Error
}

func (r *BatchRepository) PaymentsByIDs(ctx context.Context, ids []int64) ([]paymentmodel.Payment, error) {
	var payments []paymentmodel.Payment
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&payments).Error
	return payments, err
}

func (r *BatchRepository) BindPayments(ctx context.Context, batchID int64, ids []int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Where("id IN ? AND status = ? AND batch_id IS NULL", ids, paymentmodel.StatusApproved).
		Updates(map[string]interface{}{
			"batch_id":   batchID,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *BatchRepository) UnbindPayments(ctx context.Context, batchID int64, ids []int64, at time.Time) ([]int64, error) {
	var members []int64
	err := r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Where("id IN ? AND batch_id = ?", ids, batchID).
		Order("id ASC").
		Pluck("id", &members).Error
	if err != nil || len(members) == 0 {
		return nil, err
	}

	err = r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Where("id IN ? AND batch_id = ?", members, batchID).
		Updates(map[string]interface{}{
			"batch_id":   nil,
			"updated_at": at,
		}).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *BatchRepository) MemberStatusCounts(ctx context.Context, batchID int64) (map[paymentmodel.Status]int, error) {
	var rows []struct {
		Status paymentmodel.Status
		Total  int
	}
	err := r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Select("status, COUNT(*) AS total").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[paymentmodel.Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *BatchRepository) GetEmployee(ctx context.Context, id int64) (*recipient.Employee, error) {
	var e recipient.Employee
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, batch.ErrRecipientNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *BatchRepository) GetReferrer(ctx context.Context, id int64) (*recipient.Referrer, error) {
	var ref recipient.Referrer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, batch.ErrRecipientNotFound
		}
		return nil, err
	}
	return &ref, nil
}

func (r *BatchRepository) ClaimPayment(ctx context.Context, batchID, paymentID int64, token string, at, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Where("id = ? AND batch_id = ? AND status = ?", paymentID, batchID, paymentmodel.StatusApproved).
		Where("claim_token IS NULL OR claimed_at < ?", staleBefore).
		Updates(map[string]interface{}{
			"claim_token": token,
			"claimed_at":  at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *BatchRepository) ReleaseClaim(ctx context.Context, paymentID int64, token string) error {
	return r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Where("id = ? AND claim_token = ?", paymentID, token).
		Updates(map[string]interface{}{
			"claim_token": nil,
			"claimed_at":  nil,
		}).Error
}

func (r *BatchRepository) SettlePayment(ctx context.Context, s batch.Settlement) (bool, error) {
	updates := map[string]interface{}{
		"status":      s.Status,
		"notes":       gorm.Expr("CASE WHEN notes = '' THEN ? ELSE notes || ? END", s.Note, "\n"+s.Note),
		"claim_token": nil,
		"claimed_at":  nil,
		"updated_at":  s.At,
	}
	if s.Method != nil {
		updates["payment_method"] = *s.Method
	}
	if s.StripeTransferID != nil {
		updates["stripe_transfer_id"] = *s.StripeTransferID
	}
	if s.Status == paymentmodel.StatusPaid {
		updates["paid_at"] = s.At
	}

	res := r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Where("id = ? AND status = ? AND claim_token = ?", s.PaymentID, paymentmodel.StatusApproved, s.ClaimToken).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *BatchRepository) MarkServicePaid(ctx context.Context, serviceID int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&billing.Service{}).
		Where("id = ?", serviceID).
		Updates(map[string]interface{}{
			"payment_status": billing.ServicePaymentPaid,
			"updated_at":     at,
		}).Error
}

func (r *BatchRepository) RecordAudit(ctx context.Context, entries ...audit.Entry) error {
	return auditpg.NewAuditRepository(r.db).Record(ctx, entries...)
}
