package postgres

import (
	"context"
	"time"

	"github.com/frahmantamala/payout-engine/internal/audit"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditRepository binds to db, which may be a transaction handle.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db, now: time.Now}
}

func (r *AuditRepository) Record(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := r.now()
	rows := make([]*auditmodel.Event, 0, len(entries))
	for _, e := range entries {
		ev, err := e.ToEvent(now)
		if err != nil {
			return err
		}
		rows = append(rows, ev)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityType auditmodel.EntityType, entityID int64, limit int) ([]auditmodel.Event, error) {
	q := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var events []auditmodel.Event
	err := q.Find(&events).Error
	return events, err
}
