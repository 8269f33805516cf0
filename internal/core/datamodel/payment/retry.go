package payment

import (
	"fmt"
	"time"

	"github.com/frahmantamala/payout-engine/internal/core/statemachine"
)

type RetryStatus string

const (
	RetryStatusScheduled RetryStatus = "SCHEDULED"
	RetryStatusPending   RetryStatus = "PENDING"
	RetryStatusSuccess   RetryStatus = "SUCCESS"
	RetryStatusFailed    RetryStatus = "FAILED"
)

// MaxRetryCount is the highest retry_count a chain may reach.
const MaxRetryCount = 3

func (s RetryStatus) Validate() error {
	switch s {
	case RetryStatusScheduled, RetryStatusPending, RetryStatusSuccess, RetryStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid retry status: %s", s)
	}
}

func (s RetryStatus) State() statemachine.State {
	return statemachine.State(s)
}

func (s RetryStatus) TransitionTo(target RetryStatus) error {
	return RetryStateMachine(s).TransitionTo(target.State())
}

// IsOpen reports whether the retry still counts against the one-open-retry-per-payment rule.
func (s RetryStatus) IsOpen() bool {
	return s == RetryStatusScheduled || s == RetryStatusPending
}

func RetryStateMachine(initial RetryStatus) *statemachine.Machine {
	return statemachine.New(initial.State(), []statemachine.Transition{
		{From: RetryStatusScheduled.State(), To: RetryStatusPending.State()}, // claimed by a sweep
		{From: RetryStatusPending.State(), To: RetryStatusSuccess.State()},
		{From: RetryStatusPending.State(), To: RetryStatusFailed.State()},
	})
}

func RetryStatuses() []RetryStatus {
	return []RetryStatus{RetryStatusScheduled, RetryStatusPending, RetryStatusSuccess, RetryStatusFailed}
}

// OpenRetryStatuses lists the statuses for which IsOpen holds.
func OpenRetryStatuses() []RetryStatus {
	open := []RetryStatus{}
	for _, s := range RetryStatuses() {
		if s.IsOpen() {
			open = append(open, s)
		}
	}
	return open
}

// Retry is one scheduled re-attempt of a failed customer charge. A PENDING retry is leased to
// one sweep through ClaimToken and ClaimedAt; a lease older than the scheduler's claim lease
// may be taken over.
type Retry struct {
	ID                    int64       `gorm:"primaryKey"`
	PaymentID             int64       `gorm:"column:payment_id;not null;index"`
	Status                RetryStatus `gorm:"column:status;not null;default:SCHEDULED;index"`
	RetryCount            int         `gorm:"column:retry_count;not null;default:0"`
	NextRetryDate         time.Time   `gorm:"column:next_retry_date;not null"`
	StripePaymentIntentID *string     `gorm:"column:stripe_payment_intent_id"`
	ErrorMessage          *string     `gorm:"column:error_message"`
	ClaimToken            *string     `gorm:"column:claim_token"`
	ClaimedAt             *time.Time  `gorm:"column:claimed_at"`
	CreatedAt             time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time   `gorm:"column:updated_at;autoUpdateTime"`

	Payment *Payment `gorm:"foreignKey:PaymentID"`
}

func (Retry) TableName() string {
	return "payment_retries"
}

// CanSchedule reports whether a failed attempt at this count earns a successor.
func (r *Retry) CanSchedule() bool {
	return r.RetryCount < MaxRetryCount
}

// Successor builds the next retry in the chain, delay after now.
func (r *Retry) Successor(now time.Time, delay time.Duration) *Retry {
	return &Retry{
		PaymentID:     r.PaymentID,
		Status:        RetryStatusScheduled,
		RetryCount:    r.RetryCount + 1,
		NextRetryDate: now.Add(delay).UTC(),
	}
}
