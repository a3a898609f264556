package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// VaultSecretStore is the production SecretStore adapter. No Vault SDK
// exists anywhere in the retrieved corpus (see DESIGN.md); it speaks
// Vault's KV v2 HTTP API directly with the standard library's net/http,
// which is how every other inter-service call in this codebase that has no
// corpus-provided client library is made.
type VaultSecretStore struct {
	addr       string
	token      string
	httpClient *http.Client
}

// NewVaultSecretStore builds a VaultSecretStore against addr (VAULT_ADDR).
func NewVaultSecretStore(addr, token string, httpClient *http.Client) *VaultSecretStore {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &VaultSecretStore{addr: addr, token: token, httpClient: httpClient}
}

type vaultKVData struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

func (v *VaultSecretStore) url(path string) string {
	return fmt.Sprintf("%s/v1/secret/data/%s", v.addr, path)
}

// PutSecret writes username/password under path.
func (v *VaultSecretStore) PutSecret(ctx context.Context, path string, secret Secret) error {
	body, err := json.Marshal(map[string]interface{}{
		"data": map[string]string{"username": secret.Username, "password": secret.Password},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	v.setHeaders(req)
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vault put secret: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vault put secret: status %d", resp.StatusCode)
	}
	return nil
}

// GetSecret reads username/password from path.
func (v *VaultSecretStore) GetSecret(ctx context.Context, path string) (Secret, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url(path), nil)
	if err != nil {
		return Secret{}, err
	}
	v.setHeaders(req)
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Secret{}, fmt.Errorf("vault get secret: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Secret{}, fmt.Errorf("vault get secret: not found: %s", path)
	}
	if resp.StatusCode >= 300 {
		return Secret{}, fmt.Errorf("vault get secret: status %d", resp.StatusCode)
	}
	var parsed vaultKVData
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Secret{}, err
	}
	return Secret{Username: parsed.Data.Data["username"], Password: parsed.Data.Data["password"]}, nil
}

// DeleteSecret removes the secret at path.
func (v *VaultSecretStore) DeleteSecret(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.url(path), nil)
	if err != nil {
		return err
	}
	v.setHeaders(req)
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vault delete secret: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("vault delete secret: status %d", resp.StatusCode)
	}
	return nil
}

func (v *VaultSecretStore) setHeaders(req *http.Request) {
	req.Header.Set("X-Vault-Token", v.token)
	req.Header.Set("Content-Type", "application/json")
}
