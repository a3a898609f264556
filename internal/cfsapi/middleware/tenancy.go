package middleware

import (
	"context"
	"net/http"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/tenancy"
)

// Tenancy extracts the Cray-Tenant-Name header via the TenancyGate and
// rejects requests naming an unknown tenant before any handler runs.
func Tenancy(gate *tenancy.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := tenancy.FromRequest(r)
			if err := gate.RejectInvalidTenant(r.Context(), tc); err != nil {
				apierrors.Write(w, GetRequestID(r.Context()), err)
				return
			}
			ctx := context.WithValue(r.Context(), tenancyContextKey, tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenancyFromContext returns the tenancy.Context stashed by Tenancy.
func TenancyFromContext(ctx context.Context) tenancy.Context {
	if tc, ok := ctx.Value(tenancyContextKey).(tenancy.Context); ok {
		return tc
	}
	return tenancy.Context{}
}
