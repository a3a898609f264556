package sessionfsm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionStatusMonotonicRegressionDiscarded(t *testing.T) {
	current := map[string]interface{}{"status": "complete", "succeeded": "true"}
	patched := MergeSessionStatus(current, map[string]interface{}{"status": "running"})
	require.Equal(t, "complete", patched["status"])
}

func TestSessionStatusMonotonicAdvance(t *testing.T) {
	current := map[string]interface{}{"status": "pending", "succeeded": "none"}
	patched := MergeSessionStatus(current, map[string]interface{}{"status": "running", "succeeded": "unknown"})
	require.Equal(t, "running", patched["status"])
	require.Equal(t, "unknown", patched["succeeded"])
}

func TestSucceededOrderingNoneUnknownFalseTrue(t *testing.T) {
	cur := "none"
	for _, next := range []string{"unknown", "false", "true"} {
		require.True(t, advances(succeededOrder, cur, next))
		cur = next
	}
	require.False(t, advances(succeededOrder, "true", "false"))
}

func TestMergeArtifactsDedupExactMatch(t *testing.T) {
	current := []map[string]interface{}{{"name": "a", "url": "x"}}
	patch := []map[string]interface{}{
		{"name": "a", "url": "x"},
		{"name": "b", "url": "y"},
	}
	merged := MergeArtifacts(current, patch)
	require.Len(t, merged, 2)
}

func TestParseAgeTokens(t *testing.T) {
	d, err := ParseAge("1d2h")
	require.NoError(t, err)
	require.Equal(t, 26*time.Hour, d)

	_, err = ParseAge("abc")
	require.Error(t, err)

	_, err = ParseAge("")
	require.Error(t, err)

	_, err = ParseAge("5")
	require.Error(t, err)
}
