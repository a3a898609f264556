package schemaxlate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComponentRoundTrip(t *testing.T) {
	v3 := map[string]interface{}{
		"id":      "n1",
		"enabled": true,
		"state": []interface{}{
			map[string]interface{}{
				"clone_url":    "u1",
				"playbook":     "site.yml",
				"commit":       "C1",
				"status":       "failed",
				"last_updated": "2024-01-01T00:00:00Z",
			},
		},
		"error_count": float64(2),
	}

	v2 := ComponentToV2(v3)
	state := v2["state"].([]interface{})
	layer := state[0].(map[string]interface{})
	require.Equal(t, "C1_failed", layer["commit"])
	_, hasStatus := layer["status"]
	require.False(t, hasStatus)
	require.Equal(t, "n1", v2["id"])
	require.Equal(t, float64(2), v2["errorCount"])

	back := ComponentToV3(v2)
	backState := back["state"].([]interface{})
	backLayer := backState[0].(map[string]interface{})
	require.Equal(t, "C1", backLayer["commit"])
	require.Equal(t, "failed", backLayer["status"])
	require.Equal(t, float64(2), back["error_count"])
}

func TestComponentAppliedLayerHasNoSuffix(t *testing.T) {
	v3 := map[string]interface{}{
		"id": "n1",
		"state": []interface{}{
			map[string]interface{}{"clone_url": "u1", "playbook": "p", "commit": "abc123", "status": "applied"},
		},
	}
	v2 := ComponentToV2(v3)
	layer := v2["state"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, "abc123", layer["commit"])

	back := ComponentToV3(v2)
	backLayer := back["state"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, "applied", backLayer["status"])
}

func TestOptionsRoundTrip(t *testing.T) {
	v3 := map[string]interface{}{
		"default_playbook":    "site.yml",
		"logging_level":       "DEBUG",
		"include_ara_links":   true,
		"default_page_size":   float64(1000),
	}
	v2 := OptionsToV2(v3)
	require.Equal(t, "site.yml", v2["defaultPlaybook"])
	require.Equal(t, "DEBUG", v2["loggingLevel"])

	back := OptionsToV3(v2)
	require.Equal(t, v3["default_playbook"], back["default_playbook"])
	require.Equal(t, v3["logging_level"], back["logging_level"])
}
