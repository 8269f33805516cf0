package paymentgateway

import (
	"errors"
	"fmt"
)

type ChargeStatus string

const (
	ChargeSucceeded      ChargeStatus = "succeeded"
	ChargeRequiresAction ChargeStatus = "requires_action"
	ChargeOther          ChargeStatus = "other"
)

type TransferResult struct {
	ID     string
	Status string
}

type ChargeRequest struct {
	AmountMinorUnits  int64
	CustomerBillingID string
	PaymentMethodID   string
	IdempotencyKey    string
	Description       string
}

func (r ChargeRequest) Validate() error {
	if r.AmountMinorUnits <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if r.CustomerBillingID == "" {
		return errors.New("customer billing id is required")
	}
	if r.IdempotencyKey == "" {
		return errors.New("idempotency key is required")
	}
	return nil
}

type ChargeResult struct {
	ID string
	// RawStatus is the processor's own status string, kept for notes when Status is ChargeOther.
	RawStatus string
	Status    ChargeStatus
}

// DeclineError is an outright refusal by the card network or issuer. Retrying the same
// request is pointless; a later attempt may still succeed.
type DeclineError struct {
	Code        string
	DeclineCode string
	Message     string
	ChargeID    string
}

func (e *DeclineError) Error() string {
	if e.DeclineCode != "" {
		return fmt.Sprintf("charge declined (%s/%s): %s", e.Code, e.DeclineCode, e.Message)
	}
	return fmt.Sprintf("charge declined (%s): %s", e.Code, e.Message)
}

func IsDecline(err error) bool {
	var d *DeclineError
	return errors.As(err, &d)
}
