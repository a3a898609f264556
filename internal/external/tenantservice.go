package external

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPTenantService is the production TenantService adapter: a 404 from
// GET /tenants/{name} signals "does not exist" (spec.md §6).
type HTTPTenantService struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTenantService builds a TenantService against baseURL.
func NewHTTPTenantService(baseURL string, httpClient *http.Client) *HTTPTenantService {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPTenantService{baseURL: baseURL, httpClient: httpClient}
}

// Exists implements TenantService.
func (t *HTTPTenantService) Exists(ctx context.Context, tenantName string) (bool, error) {
	url := fmt.Sprintf("%s/tenants/%s", t.baseURL, tenantName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("tenant service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("tenant service: status %d", resp.StatusCode)
	}
	return true, nil
}
