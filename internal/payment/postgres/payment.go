package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/payout-engine/internal/audit"
	auditpg "github.com/frahmantamala/payout-engine/internal/audit/postgres"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/payment"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Transaction(ctx context.Context, fn func(tx payment.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PaymentRepository{db: tx})
	})
}

func (r *PaymentRepository) Create(ctx context.Context, p *paymentmodel.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByIDs(ctx context.Context, ids []int64) ([]paymentmodel.Payment, error) {
	var payments []paymentmodel.Payment
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) List(ctx context.Context, filter payment.ListFilter) ([]paymentmodel.Payment, int64, error) {
	q := r.db.WithContext(ctx).Model(&paymentmodel.Payment{})
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		q = q.Where("type = ?", *filter.Type)
	}
	if filter.BatchID != nil {
		q = q.Where("batch_id = ?", *filter.BatchID)
	}
	if filter.Unbatched {
		q = q.Where("batch_id IS NULL")
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []paymentmodel.Payment
	err := q.Order("created_at DESC, id DESC").
		Limit(filter.PageSize).
		Offset(filter.Offset()).
		Find(&payments).Error
	return payments, total, err
}

func (r *PaymentRepository) Approve(ctx context.Context, ids []int64, actorID int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Where("id IN ? AND status = ?", ids, paymentmodel.StatusPending).
		Updates(map[string]interface{}{
			"status":         paymentmodel.StatusApproved,
			"approved_at":    at,
			"approved_by_id": actorID,
			"updated_at":     at,
		})
	return res.RowsAffected, res.Error
}

func (r *PaymentRepository) RecordAudit(ctx context.Context, entries ...audit.Entry) error {
	return auditpg.NewAuditRepository(r.db).Record(ctx, entries...)
}
