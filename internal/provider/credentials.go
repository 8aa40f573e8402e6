package provider

import (
	"context"
	"fmt"
)

// TenantCredentialStore looks up a tenant's own provider credentials.
// Encryption at rest for the underlying row is an external collaborator
// per the system's scope; this port only needs the decrypted value.
type TenantCredentialStore interface {
	Lookup(ctx context.Context, tenantID string, name Name) (Credentials, bool, error)
}

// DefaultCredentials carries the process-wide credential used when a
// tenant has no override, one set per provider.
type DefaultCredentials map[Name]Credentials

// Resolver implements the ResolveCredentials half of Port, falling back to
// DefaultCredentials when a tenant has no override on file. It never
// errors on a missing override; it just falls through to the default.
type Resolver struct {
	tenants  TenantCredentialStore
	defaults DefaultCredentials
}

// NewResolver builds a Resolver over a tenant credential store and the
// system-wide default credentials from configuration.
func NewResolver(tenants TenantCredentialStore, defaults DefaultCredentials) *Resolver {
	return &Resolver{tenants: tenants, defaults: defaults}
}

// ResolveCredentials returns the tenant override if one exists, otherwise
// the configured default for name with IsDefault set.
func (r *Resolver) ResolveCredentials(ctx context.Context, tenantID string, name Name) (Credentials, error) {
	if r.tenants != nil {
		creds, ok, err := r.tenants.Lookup(ctx, tenantID, name)
		if err != nil {
			return Credentials{}, fmt.Errorf("looking up tenant credentials: %w", err)
		}
		if ok {
			return creds, nil
		}
	}
	def, ok := r.defaults[name]
	if !ok {
		return Credentials{}, fmt.Errorf("no default credentials configured for provider %q", name)
	}
	def.IsDefault = true
	return def, nil
}

// NoTenantCredentials is a TenantCredentialStore that never finds an
// override, useful when tenant-level credential overrides are not wired
// (the credential encryption-at-rest store is an external collaborator).
type NoTenantCredentials struct{}

func (NoTenantCredentials) Lookup(ctx context.Context, tenantID string, name Name) (Credentials, bool, error) {
	return Credentials{}, false, nil
}
