package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/payout-engine/internal/core/statemachine"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeEarnings Type = "EARNINGS"
	TypeReferral Type = "REFERRAL"
	TypeService  Type = "SERVICE"
)

func (t Type) Validate() error {
	switch t {
	case TypeEarnings, TypeReferral, TypeService:
		return nil
	default:
		return fmt.Errorf("invalid payment type: %s", t)
	}
}

// IsDisbursement reports whether money flows from the business to a recipient.
func (t Type) IsDisbursement() bool {
	return t == TypeEarnings || t == TypeReferral
}

type Method string

const (
	MethodStripe  Method = "STRIPE"
	MethodCashApp Method = "CASH_APP"
	MethodCheck   Method = "CHECK"
	MethodCash    Method = "CASH"
)

func (m Method) Validate() error {
	switch m {
	case MethodStripe, MethodCashApp, MethodCheck, MethodCash:
		return nil
	default:
		return fmt.Errorf("invalid payment method: %s", m)
	}
}

// ToMethod parses a case-insensitive method name.
func ToMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusPaid     Status = "PAID"
	StatusFailed   Status = "FAILED"
)

func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusApproved, StatusPaid, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid payment status: %s", s)
	}
}

func (s Status) State() statemachine.State {
	return statemachine.State(s)
}

func (s Status) TransitionTo(target Status) error {
	return PaymentStateMachine(s).TransitionTo(target.State())
}

func (s Status) IsTerminal() bool {
	return PaymentStateMachine(s).IsTerminal(s.State())
}

// PaymentStateMachine returns the ledger transition table positioned at initial.
func PaymentStateMachine(initial Status) *statemachine.Machine {
	return statemachine.New(initial.State(), []statemachine.Transition{
		{From: StatusPending.State(), To: StatusApproved.State()}, // admin approval
		{From: StatusApproved.State(), To: StatusPaid.State()},    // disbursed by the batch processor
		{From: StatusApproved.State(), To: StatusFailed.State()},  // rail or routing failure
		{From: StatusFailed.State(), To: StatusPaid.State()},      // customer charge recovered by a retry
	})
}

func Statuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusPaid, StatusFailed}
}

// SourceStatuses lists the statuses that may transition into s.
func (s Status) SourceStatuses() []Status {
	candidates := make([]statemachine.State, 0, len(Statuses()))
	for _, st := range Statuses() {
		candidates = append(candidates, st.State())
	}
	out := []Status{}
	for _, st := range PaymentStateMachine(StatusPending).Sources(s.State(), candidates) {
		out = append(out, Status(st))
	}
	return out
}

func ToStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if err := st.Validate(); err != nil {
		return "", err
	}
	return st, nil
}

// Payment is a single money movement. Once PAID the row, including its transfer id, is immutable.
type Payment struct {
	ID                    int64           `gorm:"primaryKey"`
	Type                  Type            `gorm:"column:type;not null"`
	Amount                decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Status                Status          `gorm:"column:status;not null;default:PENDING;index"`
	PaymentMethod         *Method         `gorm:"column:payment_method"`
	BatchID               *int64          `gorm:"column:batch_id;index"`
	EmployeeID            *int64          `gorm:"column:employee_id"`
	ReferrerID            *int64          `gorm:"column:referrer_id"`
	CustomerID            *int64          `gorm:"column:customer_id"`
	SubscriptionID        *int64          `gorm:"column:subscription_id"`
	ServiceID             *int64          `gorm:"column:service_id"`
	StripeTransferID      *string         `gorm:"column:stripe_transfer_id"`
	StripePaymentIntentID *string         `gorm:"column:stripe_payment_intent_id"`
	Notes                 string          `gorm:"column:notes;not null;default:''"`
	ApprovedByID          *int64          `gorm:"column:approved_by_id"`
	ClaimToken            *string         `gorm:"column:claim_token"`
	ClaimedAt             *time.Time      `gorm:"column:claimed_at"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	ApprovedAt            *time.Time      `gorm:"column:approved_at"`
	PaidAt                *time.Time      `gorm:"column:paid_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// AmountMinorUnits converts the USD amount to cents.
func (p *Payment) AmountMinorUnits() int64 {
	return p.Amount.Shift(2).Round(0).IntPart()
}

// ValidateRecipient checks that exactly the recipient reference matching Type is set.
func (p *Payment) ValidateRecipient() error {
	switch p.Type {
	case TypeEarnings:
		if p.EmployeeID == nil || p.ReferrerID != nil {
			return fmt.Errorf("earnings payment %d must reference exactly one employee", p.ID)
		}
	case TypeReferral:
		if p.ReferrerID == nil || p.EmployeeID != nil {
			return fmt.Errorf("referral payment %d must reference exactly one referrer", p.ID)
		}
	case TypeService:
		if p.CustomerID == nil {
			return fmt.Errorf("service payment %d must reference a customer", p.ID)
		}
	default:
		return p.Type.Validate()
	}
	return nil
}

