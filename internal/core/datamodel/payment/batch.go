package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/payout-engine/internal/core/statemachine"
)

type BatchStatus string

const (
	BatchStatusDraft              BatchStatus = "DRAFT"
	BatchStatusScheduled          BatchStatus = "SCHEDULED"
	BatchStatusProcessing         BatchStatus = "PROCESSING"
	BatchStatusCompleted          BatchStatus = "COMPLETED"
	BatchStatusPartiallyCompleted BatchStatus = "PARTIALLY_COMPLETED"
	BatchStatusFailed             BatchStatus = "FAILED"
)

// ApprovalWindow is how long before the scheduled date approvals close.
const ApprovalWindow = 24 * time.Hour

func (s BatchStatus) Validate() error {
	switch s {
	case BatchStatusDraft, BatchStatusScheduled, BatchStatusProcessing,
		BatchStatusCompleted, BatchStatusPartiallyCompleted, BatchStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid batch status: %s", s)
	}
}

func (s BatchStatus) State() statemachine.State {
	return statemachine.State(s)
}

func (s BatchStatus) TransitionTo(target BatchStatus) error {
	return BatchStateMachine(s).TransitionTo(target.State())
}

func (s BatchStatus) IsTerminal() bool {
	return BatchStateMachine(s).IsTerminal(s.State())
}

// IsEditable reports whether membership and schedule may still change.
func (s BatchStatus) IsEditable() bool {
	return s == BatchStatusDraft || s == BatchStatusScheduled
}

// IsProcessable reports whether the batch processor may run against the batch.
func (s BatchStatus) IsProcessable() bool {
	return s == BatchStatusScheduled || s == BatchStatusProcessing
}

func BatchStateMachine(initial BatchStatus) *statemachine.Machine {
	return statemachine.New(initial.State(), []statemachine.Transition{
		{From: BatchStatusDraft.State(), To: BatchStatusScheduled.State()},
		{From: BatchStatusScheduled.State(), To: BatchStatusProcessing.State()},
		{From: BatchStatusProcessing.State(), To: BatchStatusProcessing.State()}, // concurrent or resumed run
		{From: BatchStatusProcessing.State(), To: BatchStatusCompleted.State()},
		{From: BatchStatusProcessing.State(), To: BatchStatusPartiallyCompleted.State()},
		{From: BatchStatusProcessing.State(), To: BatchStatusFailed.State()},
	})
}

func BatchStatuses() []BatchStatus {
	return []BatchStatus{
		BatchStatusDraft, BatchStatusScheduled, BatchStatusProcessing,
		BatchStatusCompleted, BatchStatusPartiallyCompleted, BatchStatusFailed,
	}
}

func (s BatchStatus) SourceStatuses() []BatchStatus {
	candidates := make([]statemachine.State, 0, len(BatchStatuses()))
	for _, st := range BatchStatuses() {
		candidates = append(candidates, st.State())
	}
	out := []BatchStatus{}
	for _, st := range BatchStateMachine(BatchStatusDraft).Sources(s.State(), candidates) {
		out = append(out, BatchStatus(st))
	}
	return out
}

func ToBatchStatus(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if err := st.Validate(); err != nil {
		return "", err
	}
	return st, nil
}

// TerminalBatchStatus derives the final batch status from member outcomes.
func TerminalBatchStatus(paid, failed int) BatchStatus {
	switch {
	case paid == 0:
		return BatchStatusFailed
	case failed == 0:
		return BatchStatusCompleted
	default:
		return BatchStatusPartiallyCompleted
	}
}

type Batch struct {
	ID               int64       `gorm:"primaryKey"`
	Name             string      `gorm:"column:name;not null"`
	Description      string      `gorm:"column:description;not null;default:''"`
	Status           BatchStatus `gorm:"column:status;not null;default:DRAFT;index"`
	ScheduledDate    *time.Time  `gorm:"column:scheduled_date"`
	ApprovalDeadline *time.Time  `gorm:"column:approval_deadline"`
	ProcessedDate    *time.Time  `gorm:"column:processed_date"`
	CompletedDate    *time.Time  `gorm:"column:completed_date"`
	CreatedByID      int64       `gorm:"column:created_by_id;not null"`
	Notes            string      `gorm:"column:notes;not null;default:''"`
	CreatedAt        time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time   `gorm:"column:updated_at;autoUpdateTime"`

	Payments []Payment `gorm:"foreignKey:BatchID"`
}

func (Batch) TableName() string {
	return "payment_batches"
}

// Schedule sets the scheduled date and derives the approval deadline from it.
func (b *Batch) Schedule(at time.Time) {
	at = at.UTC()
	deadline := at.Add(-ApprovalWindow)
	b.ScheduledDate = &at
	b.ApprovalDeadline = &deadline
}
