package middleware

import (
	"net/http"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/auth"
	"github.com/frahmantamala/payout-engine/internal/transport"
	"github.com/frahmantamala/payout-engine/pkg/logger"
)

// RequirePermissions lets a request through when the actor holds any of permissions.
func RequirePermissions(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lg := logger.From(r.Context())
			base := transport.NewBaseHandler(lg)

			actor, ok := internal.ActorFromContext(r.Context())
			if !ok {
				base.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			for _, required := range permissions {
				if actor.HasPermission(required) {
					next.ServeHTTP(w, r)
					return
				}
			}

			lg.Warn("access denied: actor lacks required permissions",
				"actor_id", actor.ID,
				"required_permissions", permissions,
				"actor_permissions", actor.Permissions)
			base.WriteAppError(w, internal.ErrNotAdmin)
		})
	}
}

// RequireAdmin guards the payout API; every route below it is admin only.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequirePermissions(auth.PermissionAdmin)
}
