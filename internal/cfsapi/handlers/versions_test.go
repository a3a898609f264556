package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionsListsV2AndV3(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/versions", nil)
	rec := httptest.NewRecorder()

	Versions()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]versionDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, []string{"v2.0"}, doc["v2"].Minor)
	require.Equal(t, []string{"v3.0"}, doc["v3"].Minor)
}
