package sourceregistry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hpcfleet/cfs/internal/external"
	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

type fakeSecretStore struct {
	mu      sync.Mutex
	secrets map[string]external.Secret
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{secrets: map[string]external.Secret{}}
}

func (f *fakeSecretStore) PutSecret(ctx context.Context, path string, secret external.Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[path] = secret
	return nil
}

func (f *fakeSecretStore) GetSecret(ctx context.Context, path string) (external.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secrets[path], nil
}

func (f *fakeSecretStore) DeleteSecret(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.secrets, path)
	return nil
}

func notInUse(ctx context.Context, name string) (bool, error) { return false, nil }

func newTestRegistry(t *testing.T, secrets *fakeSecretStore, inUse InUseCheck) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStore(client, "sources", kvstore.Config{BusyBudget: 2 * time.Second, BatchSize: 10}, nil)
	return New(store, secrets, inUse)
}

func TestCreateScrubsCredentials(t *testing.T) {
	ctx := context.Background()
	secrets := newFakeSecretStore()
	r := newTestRegistry(t, secrets, notInUse)

	src := &cfsmodel.Source{
		Name:     "s1",
		CloneURL: "https://example.com/repo.git",
		Credentials: &cfsmodel.Credentials{
			Username: "u",
			Password: "p",
		},
	}
	saved, err := r.Create(ctx, src)
	require.NoError(t, err)
	require.Empty(t, saved.Credentials.Username)
	require.Empty(t, saved.Credentials.Password)
	require.NotEmpty(t, saved.Credentials.SecretName)

	stored, _ := secrets.GetSecret(ctx, saved.Credentials.SecretName)
	require.Equal(t, "u", stored.Username)
	require.Equal(t, "p", stored.Password)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newFakeSecretStore(), notInUse)
	src := &cfsmodel.Source{Name: "s1", CloneURL: "u", Credentials: &cfsmodel.Credentials{Username: "a", Password: "b"}}
	_, err := r.Create(ctx, src)
	require.NoError(t, err)

	_, err = r.Create(ctx, &cfsmodel.Source{Name: "s1", CloneURL: "u", Credentials: &cfsmodel.Credentials{Username: "a", Password: "b"}})
	require.Error(t, err)
}

func TestCreateRejectsMissingPasswordAuth(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newFakeSecretStore(), notInUse)
	_, err := r.Create(ctx, &cfsmodel.Source{Name: "s1", CloneURL: "u"})
	require.Error(t, err)
}

func TestDeleteRefusesWhenInUse(t *testing.T) {
	ctx := context.Background()
	inUse := func(ctx context.Context, name string) (bool, error) { return true, nil }
	r := newTestRegistry(t, newFakeSecretStore(), inUse)
	_, err := r.Create(ctx, &cfsmodel.Source{Name: "s1", CloneURL: "u", Credentials: &cfsmodel.Credentials{Username: "a", Password: "b"}})
	require.NoError(t, err)

	err = r.Delete(ctx, "s1")
	require.Error(t, err)
}

func TestDeleteRemovesRecordAndSecret(t *testing.T) {
	ctx := context.Background()
	secrets := newFakeSecretStore()
	r := newTestRegistry(t, secrets, notInUse)
	saved, err := r.Create(ctx, &cfsmodel.Source{Name: "s1", CloneURL: "u", Credentials: &cfsmodel.Credentials{Username: "a", Password: "b"}})
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "s1"))
	_, ok, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok = secrets.secrets[saved.Credentials.SecretName]
	require.False(t, ok)
}
