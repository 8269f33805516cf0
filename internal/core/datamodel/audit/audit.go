package audit

import "time"

type EventType string

const (
	EventBatchCreated       EventType = "BATCH_CREATED"
	EventBatchAdded         EventType = "BATCH_ADDED"
	EventBatchRemoved       EventType = "BATCH_REMOVED"
	EventBatchRescheduled   EventType = "BATCH_RESCHEDULED"
	EventBatchStatusChanged EventType = "BATCH_STATUS_CHANGED"
	EventBatchNotesUpdated  EventType = "BATCH_NOTES_UPDATED"
	EventBatchFinalized     EventType = "BATCH_FINALIZED"
	EventPaymentApproved    EventType = "PAYMENT_APPROVED"
	EventPaymentProcessed   EventType = "PAYMENT_PROCESSED"
	EventPaymentFailed      EventType = "PAYMENT_FAILED"
	EventRetryScheduled     EventType = "RETRY_SCHEDULED"
	EventRetrySucceeded     EventType = "RETRY_SUCCEEDED"
	EventRetryFailed        EventType = "RETRY_FAILED"
	EventSubscriptionStatus EventType = "SUBSCRIPTION_STATUS_CHANGED"
)

type EntityType string

const (
	EntityBatch        EntityType = "BATCH"
	EntityPayment      EntityType = "PAYMENT"
	EntityRetry        EntityType = "RETRY"
	EntitySubscription EntityType = "SUBSCRIPTION"
)

// Event is an append-only audit row. A nil ActorID means the system acted.
type Event struct {
	ID         string     `gorm:"primaryKey;column:id"`
	EventType  EventType  `gorm:"column:event_type;not null"`
	EntityType EntityType `gorm:"column:entity_type;not null;index:idx_audit_entity"`
	EntityID   int64      `gorm:"column:entity_id;not null;index:idx_audit_entity"`
	ActorID    *int64     `gorm:"column:actor_id"`
	Message    string     `gorm:"column:message;not null"`
	Details    string     `gorm:"column:details;type:text"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Event) TableName() string {
	return "payment_audit_events"
}
