package payment

import (
	"fmt"

	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
)

type Action string

const (
	ActionExternalTransfer Action = "EXTERNAL_TRANSFER"
	ActionManualSettlement Action = "MANUAL_SETTLEMENT"
)

// TransferRequest is a transfer to a connected account, amounts in US cents.
type TransferRequest struct {
	PaymentID            int64
	AmountMinorUnits     int64
	DestinationAccountID string
	Description          string
	IdempotencyKey       string
}

type Decision struct {
	Method paymentmodel.Method
	Action Action
	// Transfer is set only for ActionExternalTransfer.
	Transfer *TransferRequest
	// Destination names where a manual settlement goes, for the payment note.
	Destination string
}

// Router decides which rail a payment uses. It has no side effects and never falls back to a
// rail other than the requested one.
type Router struct {
	descriptionPrefix string
}

func NewRouter(descriptionPrefix string) *Router {
	if descriptionPrefix == "" {
		descriptionPrefix = "Payout"
	}
	return &Router{descriptionPrefix: descriptionPrefix}
}

func TransferIdempotencyKey(paymentID int64) string {
	return fmt.Sprintf("payment-%d-transfer", paymentID)
}

func (r *Router) Route(p *paymentmodel.Payment, profile recipient.Profile, requested paymentmodel.Method) (*Decision, error) {
	if err := requested.Validate(); err != nil {
		return nil, ErrUnsupportedRail.WithCause(err)
	}

	switch p.Type {
	case paymentmodel.TypeEarnings:
		return r.routeEarnings(p, profile, requested)
	case paymentmodel.TypeReferral:
		return r.routeReferral(p, profile, requested)
	default:
		return nil, ErrUnsupportedRail.WithCause(fmt.Errorf("%s payments are not disbursed", p.Type))
	}
}

func (r *Router) routeEarnings(p *paymentmodel.Payment, profile recipient.Profile, requested paymentmodel.Method) (*Decision, error) {
	switch requested {
	case paymentmodel.MethodStripe:
		if profile.StripeConnectedAccountID == "" {
			return nil, ErrMissingRailCredential.WithCause(fmt.Errorf("employee has no Stripe connected account for payment %d", p.ID))
		}
		return &Decision{
			Method: requested,
			Action: ActionExternalTransfer,
			Transfer: &TransferRequest{
				PaymentID:            p.ID,
				AmountMinorUnits:     p.AmountMinorUnits(),
				DestinationAccountID: profile.StripeConnectedAccountID,
				Description:          fmt.Sprintf("%s for payment #%d", r.descriptionPrefix, p.ID),
				IdempotencyKey:       TransferIdempotencyKey(p.ID),
			},
			Destination: profile.StripeConnectedAccountID,
		}, nil
	case paymentmodel.MethodCashApp:
		if profile.CashAppHandle == "" {
			return nil, ErrMissingRailCredential.WithCause(fmt.Errorf("employee has no Cash App handle for payment %d", p.ID))
		}
		return manual(requested, profile.CashAppHandle), nil
	case paymentmodel.MethodCheck, paymentmodel.MethodCash:
		return manual(requested, profile.Name), nil
	}
	return nil, ErrUnsupportedRail.WithCause(fmt.Errorf("method %s", requested))
}

func (r *Router) routeReferral(p *paymentmodel.Payment, profile recipient.Profile, requested paymentmodel.Method) (*Decision, error) {
	if requested != paymentmodel.MethodCashApp {
		return nil, ErrUnsupportedRail.WithCause(fmt.Errorf("referral payments only settle via CASH_APP, got %s", requested))
	}
	if profile.CashAppHandle == "" {
		return nil, ErrMissingRailCredential.WithCause(fmt.Errorf("referrer has no Cash App handle for payment %d", p.ID))
	}
	return manual(requested, profile.CashAppHandle), nil
}

func manual(method paymentmodel.Method, destination string) *Decision {
	return &Decision{
		Method:      method,
		Action:      ActionManualSettlement,
		Destination: destination,
	}
}

// SettlementNote is the line appended to a payment's notes once it is paid.
func (d *Decision) SettlementNote(correlationID string) string {
	switch {
	case d.Action == ActionExternalTransfer:
		return fmt.Sprintf("Paid via %s transfer %s", d.Method, correlationID)
	case d.Destination != "":
		return fmt.Sprintf("Paid via %s to %s (manual settlement)", d.Method, d.Destination)
	default:
		return fmt.Sprintf("Paid via %s (manual settlement)", d.Method)
	}
}
