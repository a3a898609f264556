// Package tenancy implements TenancyGate: header extraction, tenant
// existence checks, and ownership enforcement over Configuration records,
// per spec.md §4.9.
package tenancy

import (
	"context"
	"errors"
	"net/http"

	"github.com/hpcfleet/cfs/internal/external"
)

// HeaderName is the tenant header CFS reads, per spec.md §4.9.
const HeaderName = "Cray-Tenant-Name"

// ErrUnknownTenant is returned when a non-admin caller names a tenant the
// directory does not recognise.
var ErrUnknownTenant = errors.New("tenancy: unknown tenant")

// ErrForbidden is returned when a non-admin caller attempts to act on a
// configuration it does not own, or to change an immutable tenant_name.
var ErrForbidden = errors.New("tenancy: forbidden")

// Context is the resolved tenant identity for one request. An empty Tenant
// means admin context (no header, or an empty header value).
type Context struct {
	Tenant string
}

// IsAdmin reports whether this request carries admin context.
func (c Context) IsAdmin() bool { return c.Tenant == "" }

// Gate is the TenancyGate collaborator.
type Gate struct {
	tenants external.TenantService
}

// New builds a Gate backed by the given TenantService.
func New(tenants external.TenantService) *Gate {
	return &Gate{tenants: tenants}
}

// FromRequest extracts the tenant context from the request header.
func FromRequest(r *http.Request) Context {
	return Context{Tenant: r.Header.Get(HeaderName)}
}

// RejectInvalidTenant validates that a non-admin caller's tenant actually
// exists, per spec.md §4.9. Admin callers (empty tenant) are always valid.
func (g *Gate) RejectInvalidTenant(ctx context.Context, tc Context) error {
	if tc.IsAdmin() {
		return nil
	}
	ok, err := g.tenants.Exists(ctx, tc.Tenant)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownTenant
	}
	return nil
}

// EnforceOwnership implements the Configuration ownership rule: a non-admin
// write to a configuration already owned by a different tenant is
// forbidden; a non-admin cannot set tenant_name to anything but their own.
func (g *Gate) EnforceOwnership(tc Context, existingTenant, requestedTenant string) error {
	if tc.IsAdmin() {
		return nil
	}
	if existingTenant != "" && existingTenant != tc.Tenant {
		return ErrForbidden
	}
	if requestedTenant != "" && requestedTenant != tc.Tenant {
		return ErrForbidden
	}
	return nil
}

// EffectiveTenantName resolves the tenant_name a write should persist: once
// set on a record it is immutable, so the existing value wins whenever one
// is present.
func EffectiveTenantName(existingTenant string, tc Context) string {
	if existingTenant != "" {
		return existingTenant
	}
	return tc.Tenant
}
