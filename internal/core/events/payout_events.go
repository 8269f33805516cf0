package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentProcessed    = "payment.processed"
	EventTypePaymentFailed       = "payment.failed"
	EventTypeBatchFinalized      = "batch.finalized"
	EventTypeRetrySucceeded      = "retry.succeeded"
	EventTypeRetryRequiresAction = "retry.requires_action"
	EventTypeSubscriptionPastDue = "subscription.past_due"
)

func newBase(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type PaymentProcessedEvent struct {
	BaseEvent
	PaymentID     int64  `json:"payment_id"`
	BatchID       int64  `json:"batch_id"`
	Method        string `json:"method"`
	AmountMinor   int64  `json:"amount_minor"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func NewPaymentProcessedEvent(paymentID, batchID int64, method string, amountMinor int64, correlationID string) *PaymentProcessedEvent {
	return &PaymentProcessedEvent{
		BaseEvent: newBase(EventTypePaymentProcessed, map[string]interface{}{
			"payment_id":     paymentID,
			"batch_id":       batchID,
			"method":         method,
			"amount_minor":   amountMinor,
			"correlation_id": correlationID,
		}),
		PaymentID:     paymentID,
		BatchID:       batchID,
		Method:        method,
		AmountMinor:   amountMinor,
		CorrelationID: correlationID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID     int64  `json:"payment_id"`
	BatchID       int64  `json:"batch_id"`
	Method        string `json:"method"`
	FailureReason string `json:"failure_reason"`
}

func NewPaymentFailedEvent(paymentID, batchID int64, method, reason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: newBase(EventTypePaymentFailed, map[string]interface{}{
			"payment_id":     paymentID,
			"batch_id":       batchID,
			"method":         method,
			"failure_reason": reason,
		}),
		PaymentID:     paymentID,
		BatchID:       batchID,
		Method:        method,
		FailureReason: reason,
	}
}

type BatchFinalizedEvent struct {
	BaseEvent
	BatchID    int64  `json:"batch_id"`
	BatchName  string `json:"batch_name"`
	Status     string `json:"status"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
}

func NewBatchFinalizedEvent(batchID int64, name, status string, successful, failed, skipped int) *BatchFinalizedEvent {
	return &BatchFinalizedEvent{
		BaseEvent: newBase(EventTypeBatchFinalized, map[string]interface{}{
			"batch_id":   batchID,
			"batch_name": name,
			"status":     status,
			"successful": successful,
			"failed":     failed,
			"skipped":    skipped,
		}),
		BatchID:    batchID,
		BatchName:  name,
		Status:     status,
		Successful: successful,
		Failed:     failed,
		Skipped:    skipped,
	}
}

// RetryEvent covers the retry outcomes that concern the customer.
type RetryEvent struct {
	BaseEvent
	RetryID       int64  `json:"retry_id"`
	PaymentID     int64  `json:"payment_id"`
	CustomerID    int64  `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
	AmountMinor   int64  `json:"amount_minor"`
	RetryCount    int    `json:"retry_count"`
}

func NewRetryEvent(eventType string, retryID, paymentID, customerID int64, customerEmail string, amountMinor int64, retryCount int) *RetryEvent {
	return &RetryEvent{
		BaseEvent: newBase(eventType, map[string]interface{}{
			"retry_id":     retryID,
			"payment_id":   paymentID,
			"customer_id":  customerID,
			"amount_minor": amountMinor,
			"retry_count":  retryCount,
		}),
		RetryID:       retryID,
		PaymentID:     paymentID,
		CustomerID:    customerID,
		CustomerEmail: customerEmail,
		AmountMinor:   amountMinor,
		RetryCount:    retryCount,
	}
}
