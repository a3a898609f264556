// Package sourceregistry implements SourceRegistry: Source CRUD, credential
// secret placement, and in-use gating, per spec.md §4.8.
package sourceregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/external"
	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// InUseCheck reports whether name is referenced by a configuration layer,
// a configuration's additional_inventory, or the global
// additional_inventory_source option (spec.md §3, §4.8).
type InUseCheck func(ctx context.Context, name string) (bool, error)

// Registry is the SourceRegistry collaborator.
type Registry struct {
	store   kvstore.Store
	secrets external.SecretStore
	inUse   InUseCheck
}

// New builds a Registry.
func New(store kvstore.Store, secrets external.SecretStore, inUse InUseCheck) *Registry {
	return &Registry{store: store, secrets: secrets, inUse: inUse}
}

// Get implements configregistry.SourceLookup.
func (r *Registry) Get(ctx context.Context, name string) (*cfsmodel.Source, bool, error) {
	doc, err := r.store.Get(ctx, name)
	if err != nil {
		if err == kvstore.ErrNoEntry {
			return nil, false, nil
		}
		return nil, false, err
	}
	src, err := decode(doc)
	if err != nil {
		return nil, false, err
	}
	return src, true, nil
}

func decode(doc map[string]interface{}) (*cfsmodel.Source, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var s cfsmodel.Source
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func encodeDoc(s *cfsmodel.Source) (map[string]interface{}, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Create validates and persists a Source, scrubbing username/password from
// the record after writing them to the SecretStore (spec.md §3, §4.8).
func (r *Registry) Create(ctx context.Context, src *cfsmodel.Source) (*cfsmodel.Source, error) {
	if src.Name == "" {
		src.Name = src.CloneURL
	}
	if _, exists, _ := r.Get(ctx, src.Name); exists {
		return nil, fmt.Errorf("source %q already exists: %w", src.Name, apierrors.ErrConflict)
	}

	if src.Credentials == nil {
		src.Credentials = &cfsmodel.Credentials{}
	}
	if src.Credentials.AuthenticationMethod == "" {
		src.Credentials.AuthenticationMethod = "password"
	}

	if src.Credentials.AuthenticationMethod == "password" {
		if src.Credentials.Username == "" || src.Credentials.Password == "" {
			return nil, fmt.Errorf("password auth requires username and password: %w", apierrors.ErrValidation)
		}
		if src.Credentials.SecretName == "" {
			src.Credentials.SecretName = "cfs-source-" + uuid.NewString()
		}
		if err := r.secrets.PutSecret(ctx, src.Credentials.SecretName, external.Secret{
			Username: src.Credentials.Username,
			Password: src.Credentials.Password,
		}); err != nil {
			return nil, err
		}
		src.Credentials.Username = ""
		src.Credentials.Password = ""
	}

	src.LastUpdated = time.Now().UTC()
	doc, err := encodeDoc(src)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, src.Name, doc); err != nil {
		return nil, err
	}
	return src, nil
}

// Patch re-persists a Source (no credential rotation path is specified
// beyond create/delete in spec.md §4.8).
func (r *Registry) Patch(ctx context.Context, name string, patch map[string]interface{}) (*cfsmodel.Source, error) {
	doc, err := r.store.Patch(ctx, name, patch, kvstore.PatchOptions{
		UpdateHandler: func(merged map[string]interface{}) map[string]interface{} {
			merged["last_updated"] = time.Now().UTC().Format(time.RFC3339)
			return merged
		},
	})
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

// Delete refuses while src is in use, then removes both the record and its
// associated secret (spec.md §4.8).
func (r *Registry) Delete(ctx context.Context, name string) error {
	src, ok, err := r.Get(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("source %q: %w", name, apierrors.ErrNotFound)
	}
	used, err := r.inUse(ctx, name)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("source %q is in use: %w", name, apierrors.ErrInUse)
	}
	if err := r.store.Delete(ctx, name); err != nil {
		return err
	}
	if src.Credentials != nil && src.Credentials.SecretName != "" {
		if err := r.secrets.DeleteSecret(ctx, src.Credentials.SecretName); err != nil {
			return err
		}
	}
	return nil
}

// List returns a page of sources.
func (r *Registry) List(ctx context.Context, limit int, afterID string) ([]*cfsmodel.Source, bool, error) {
	entries, next, err := r.store.GetAll(ctx, limit, afterID, nil)
	if err != nil {
		return nil, false, err
	}
	out := make([]*cfsmodel.Source, 0, len(entries))
	for _, e := range entries {
		src, err := decode(e.Value)
		if err != nil {
			return nil, false, err
		}
		out = append(out, src)
	}
	return out, next, nil
}
