package billing

import "time"

type Customer struct {
	ID                     int64     `gorm:"primaryKey"`
	Name                   string    `gorm:"column:name;not null"`
	Email                  string    `gorm:"column:email"`
	StripeCustomerID       *string   `gorm:"column:stripe_customer_id"`
	DefaultPaymentMethodID *string   `gorm:"column:default_payment_method_id"`
	CreatedAt              time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Customer) TableName() string {
	return "customers"
}

// HasBillingIdentity reports whether the customer can be charged off-session.
func (c *Customer) HasBillingIdentity() bool {
	return c.StripeCustomerID != nil && *c.StripeCustomerID != ""
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

type Subscription struct {
	ID         int64              `gorm:"primaryKey"`
	CustomerID int64              `gorm:"column:customer_id;not null;index"`
	Status     SubscriptionStatus `gorm:"column:status;not null;default:ACTIVE"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

type ServicePaymentStatus string

const (
	ServicePaymentUnpaid ServicePaymentStatus = "UNPAID"
	ServicePaymentPaid   ServicePaymentStatus = "PAID"
)

// Service is a completed pickup visit; payouts reference it for their earnings line.
type Service struct {
	ID            int64                `gorm:"primaryKey"`
	CustomerID    int64                `gorm:"column:customer_id;not null"`
	EmployeeID    *int64               `gorm:"column:employee_id"`
	PaymentStatus ServicePaymentStatus `gorm:"column:payment_status;not null;default:UNPAID"`
	CompletedAt   *time.Time           `gorm:"column:completed_at"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Service) TableName() string {
	return "services"
}
