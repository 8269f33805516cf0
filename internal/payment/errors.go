package payment

import (
	"net/http"

	"github.com/frahmantamala/payout-engine/internal"
)

var (
	ErrPaymentNotFound = internal.NewNotFoundError("payment not found", internal.ErrCodeNotFound)
	ErrNotApprovable   = internal.NewInvalidStateError("payment is not pending approval")

	ErrMissingRailCredential = &internal.AppError{
		Type:       internal.ErrorTypeValidation,
		Code:       internal.ErrCodeMissingCredential,
		Message:    "missing rail credential",
		StatusCode: http.StatusUnprocessableEntity,
	}
	ErrUnsupportedRail = &internal.AppError{
		Type:       internal.ErrorTypeValidation,
		Code:       internal.ErrCodeUnsupportedRail,
		Message:    "unsupported payment rail",
		StatusCode: http.StatusUnprocessableEntity,
	}
)
