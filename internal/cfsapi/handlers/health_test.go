package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpcfleet/cfs/internal/health"
)

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

func TestHealthHandlerReturns200WhenHealthy(t *testing.T) {
	probe := health.New(okPinger{}, okPinger{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	Health(probe)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}
