package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/frahmantamala/payout-engine/internal/core/datamodel/billing"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample recipients, customers and pending payments for development.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		gdb, err := initGorm(sqlDB)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			if err := clearSeedData(gdb); err != nil {
				log.Fatalf("failed to clear data: %v", err)
			}
			fmt.Println("Cleared existing data")
		}

		if err := gdb.Transaction(seed); err != nil {
			log.Fatalf("failed to seed: %v", err)
		}
		fmt.Println("Seeding complete")
	},
}

func clearSeedData(db *gorm.DB) error {
	tables := []string{
		"payment_audit_events",
		"payment_retries",
		"payments",
		"payment_batches",
		"services",
		"subscriptions",
		"customers",
		"referrers",
		"employees",
	}
	for _, t := range tables {
		if err := db.Exec("DELETE FROM " + t).Error; err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}

func seed(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&recipient.Employee{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		fmt.Println("employees already present; skipping seed (use --clear to reseed)")
		return nil
	}

	employees := []recipient.Employee{
		{Name: "Dana Stripe", Email: "dana@example.com", StripeConnectedAccountID: strPtr("acct_seed_dana")},
		{Name: "Rio CashApp", Email: "rio@example.com", CashAppHandle: strPtr("$riocash")},
		{Name: "Sam Nohandle", Email: "sam@example.com"},
	}
	if err := tx.Create(&employees).Error; err != nil {
		return fmt.Errorf("seed employees: %w", err)
	}

	referrers := []recipient.Referrer{
		{Name: "Alex Referrer", Email: "alex@example.com", CashAppHandle: strPtr("$alexref")},
	}
	if err := tx.Create(&referrers).Error; err != nil {
		return fmt.Errorf("seed referrers: %w", err)
	}

	customers := []billing.Customer{
		{Name: "Acme Homes", Email: "billing@acme.example.com", StripeCustomerID: strPtr("cus_seed_acme"), DefaultPaymentMethodID: strPtr("pm_card_visa")},
		{Name: "Walk-in Client", Email: "walkin@example.com"},
	}
	if err := tx.Create(&customers).Error; err != nil {
		return fmt.Errorf("seed customers: %w", err)
	}

	subscriptions := []billing.Subscription{
		{CustomerID: customers[0].ID, Status: billing.SubscriptionActive},
	}
	if err := tx.Create(&subscriptions).Error; err != nil {
		return fmt.Errorf("seed subscriptions: %w", err)
	}

	completed := time.Now().UTC().Add(-24 * time.Hour)
	services := []billing.Service{
		{CustomerID: customers[0].ID, EmployeeID: &employees[0].ID, PaymentStatus: billing.ServicePaymentUnpaid, CompletedAt: &completed},
	}
	if err := tx.Create(&services).Error; err != nil {
		return fmt.Errorf("seed services: %w", err)
	}

	payments := []paymentmodel.Payment{
		{Type: paymentmodel.TypeEarnings, Amount: decimal.RequireFromString("125.00"), EmployeeID: &employees[0].ID, ServiceID: &services[0].ID},
		{Type: paymentmodel.TypeEarnings, Amount: decimal.RequireFromString("80.50"), EmployeeID: &employees[1].ID},
		{Type: paymentmodel.TypeEarnings, Amount: decimal.RequireFromString("42.00"), EmployeeID: &employees[2].ID},
		{Type: paymentmodel.TypeReferral, Amount: decimal.RequireFromString("25.00"), ReferrerID: &referrers[0].ID},
		{Type: paymentmodel.TypeService, Amount: decimal.RequireFromString("99.00"), Status: paymentmodel.StatusFailed,
			CustomerID: &customers[0].ID, SubscriptionID: &subscriptions[0].ID, Notes: "Initial charge declined"},
	}
	for i := range payments {
		if payments[i].Status == "" {
			payments[i].Status = paymentmodel.StatusPending
		}
	}
	if err := tx.Create(&payments).Error; err != nil {
		return fmt.Errorf("seed payments: %w", err)
	}

	fmt.Printf("Seeded %d employees, %d referrers, %d customers, %d payments\n",
		len(employees), len(referrers), len(customers), len(payments))
	return nil
}

func strPtr(s string) *string {
	return &s
}
