package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/payout-engine/internal/audit"
	auditpg "github.com/frahmantamala/payout-engine/internal/audit/postgres"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/billing"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/retry"
	"gorm.io/gorm"
)

type RetryRepository struct {
	db *gorm.DB
}

func NewRetryRepository(db *gorm.DB) *RetryRepository {
	return &RetryRepository{db: db}
}

func (r *RetryRepository) Transaction(ctx context.Context, fn func(tx retry.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&RetryRepository{db: tx})
	})
}

func (r *RetryRepository) DueRetries(ctx context.Context, now, staleBefore time.Time, limit int) ([]paymentmodel.Retry, error) {
	var retries []paymentmodel.Retry
	err := r.db.WithContext(ctx).
		Where("(status = ? AND next_retry_date <= ?) OR (status = ? AND claimed_at < ?)",
			paymentmodel.RetryStatusScheduled, now, paymentmodel.RetryStatusPending, staleBefore).
		Order("next_retry_date ASC, id ASC").
		Limit(limit).
		Find(&retries).Error
	return retries, err
}

func (r *RetryRepository) ClaimRetry(ctx context.Context, id int64, token string, at, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&paymentmodel.Retry{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND claimed_at < ?)",
			paymentmodel.RetryStatusScheduled, paymentmodel.RetryStatusPending, staleBefore).
		Updates(map[string]interface{}{
			"status":      paymentmodel.RetryStatusPending,
			"claim_token": token,
			"claimed_at":  at,
			"updated_at":  at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *RetryRepository) CompleteRetry(ctx context.Context, c retry.Completion) (bool, error) {
	updates := map[string]interface{}{
		"status":      c.Status,
		"claim_token": nil,
		"claimed_at":  nil,
		"updated_at":  c.At,
	}
	if c.StripePaymentIntentID != nil {
		updates["stripe_payment_intent_id"] = *c.StripePaymentIntentID
	}
	if c.ErrorMessage != nil {
		updates["error_message"] = *c.ErrorMessage
	}
	res := r.db.WithContext(ctx).Model(&paymentmodel.Retry{}).
		Where("id = ? AND status = ? AND claim_token = ?", c.RetryID, paymentmodel.RetryStatusPending, c.ClaimToken).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *RetryRepository) CreateRetry(ctx context.Context, rt *paymentmodel.Retry) error {
	return r.db.WithContext(ctx).Create(rt).Error
}

func (r *RetryRepository) HasOpenRetry(ctx context.Context, paymentID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&paymentmodel.Retry{}).
		Where("payment_id = ? AND status IN ?", paymentID, paymentmodel.OpenRetryStatuses()).
		Count(&count).Error
	return count > 0, err
}

func (r *RetryRepository) ListRetries(ctx context.Context, filter retry.ListFilter) ([]paymentmodel.Retry, int64, error) {
	q := r.db.WithContext(ctx).Model(&paymentmodel.Retry{})
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.PaymentID != nil {
		q = q.Where("payment_id = ?", *filter.PaymentID)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var retries []paymentmodel.Retry
	err := q.Order("created_at DESC, id DESC").
		Limit(filter.PageSize).
		Offset(filter.Offset()).
		Find(&retries).Error
	return retries, total, err
}

func (r *RetryRepository) GetPayment(ctx context.Context, id int64) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, retry.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *RetryRepository) GetCustomer(ctx context.Context, id int64) (*billing.Customer, error) {
	var c billing.Customer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, retry.ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *RetryRepository) RecoverPayment(ctx context.Context, paymentID int64, intentID, note string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).
		Where("id = ? AND status = ?", paymentID, paymentmodel.StatusFailed).
		Updates(map[string]interface{}{
			"status":                   paymentmodel.StatusPaid,
			"payment_method":           paymentmodel.MethodStripe,
			"stripe_payment_intent_id": intentID,
			"paid_at":                  at,
			"notes":                    gorm.Expr("CASE WHEN notes = '' THEN ? ELSE notes || ? END", note, "\n"+note),
			"updated_at":               at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *RetryRepository) SetSubscriptionStatus(ctx context.Context, id int64, status billing.SubscriptionStatus, at time.Time) error {
	return r.db.WithContext(ctx).Model(&billing.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": at,
		}).Error
}

func (r *RetryRepository) RecordAudit(ctx context.Context, entries ...audit.Entry) error {
	return auditpg.NewAuditRepository(r.db).Record(ctx, entries...)
}
