package middleware

import (
	"net/http"
	"slices"

	"github.com/beatdrop/battles-backend/api/responses"
	"github.com/beatdrop/battles-backend/pkg/enums"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
)

// RequireRole admits callers holding any of the given roles. It must run
// after Auth; an anonymous request is a 401, a wrong role a 403.
func RequireRole(logg *logger.Logger, roles ...enums.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !slices.Contains(roles, id.Role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "insufficient role").
					WithDetails(map[string]any{"role": id.Role.String()}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
