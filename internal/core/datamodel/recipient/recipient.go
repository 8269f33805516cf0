package recipient

import "time"

type Employee struct {
	ID                       int64     `gorm:"primaryKey"`
	Name                     string    `gorm:"column:name;not null"`
	Email                    string    `gorm:"column:email"`
	StripeConnectedAccountID *string   `gorm:"column:stripe_connected_account_id"`
	CashAppHandle            *string   `gorm:"column:cash_app_handle"`
	CreatedAt                time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Employee) TableName() string {
	return "employees"
}

type Referrer struct {
	ID            int64     `gorm:"primaryKey"`
	Name          string    `gorm:"column:name;not null"`
	Email         string    `gorm:"column:email"`
	CashAppHandle *string   `gorm:"column:cash_app_handle"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Referrer) TableName() string {
	return "referrers"
}

// Profile is the rail credentials a recipient has on file.
type Profile struct {
	Name                     string
	StripeConnectedAccountID string
	CashAppHandle            string
}

func (e *Employee) Profile() Profile {
	p := Profile{Name: e.Name}
	if e.StripeConnectedAccountID != nil {
		p.StripeConnectedAccountID = *e.StripeConnectedAccountID
	}
	if e.CashAppHandle != nil {
		p.CashAppHandle = *e.CashAppHandle
	}
	return p
}

func (r *Referrer) Profile() Profile {
	p := Profile{Name: r.Name}
	if r.CashAppHandle != nil {
		p.CashAppHandle = *r.CashAppHandle
	}
	return p
}
