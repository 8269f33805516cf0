package middleware

import (
	"net/http"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/auth"
	"github.com/frahmantamala/payout-engine/internal/transport"
	"github.com/frahmantamala/payout-engine/pkg/logger"
)

// Authenticate validates the bearer token and stores the caller as the request actor.
func Authenticate(validator auth.TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			base := transport.NewBaseHandler(logger.From(r.Context()))

			token := base.ExtractTokenFromHeader(r)
			if token == "" {
				base.WriteAppError(w, internal.NewUnauthorizedError("missing bearer token", internal.ErrCodeUnauthorized))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				base.HandleServiceError(w, err)
				return
			}

			ctx := internal.ContextWithActor(r.Context(), claims.Actor())
			ctx = logger.With(ctx, "actor_id", claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
