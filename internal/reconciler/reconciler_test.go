package reconciler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

type fakeConfigs map[string]*cfsmodel.Configuration

func (f fakeConfigs) Get(name string) (*cfsmodel.Configuration, bool) {
	c, ok := f[name]
	return c, ok
}

func TestUnconfiguredNewComponent(t *testing.T) {
	c := cfsmodel.Component{ID: "n1", Enabled: true}
	res := Reconcile(c, fakeConfigs{}, Options{DefaultPlaybook: "site.yml"}, false)
	require.Equal(t, cfsmodel.ConfigDeprecated, res.Status)
}

func TestConfiguredAllLayersApplied(t *testing.T) {
	configs := fakeConfigs{
		"c1": {Name: "c1", Layers: []cfsmodel.Layer{{CloneURL: "u1", Playbook: "site.yml", Commit: "C1"}}},
	}
	c := cfsmodel.Component{
		ID:            "n1",
		DesiredConfig: "c1",
		State: []cfsmodel.LayerState{
			{CloneURL: "u1", Playbook: "site.yml", Commit: "C1", Status: cfsmodel.StatusApplied},
		},
	}
	res := Reconcile(c, configs, Options{DefaultPlaybook: "site.yml"}, false)
	require.Equal(t, cfsmodel.Configured, res.Status)
}

func TestFailedWithRetriesExhausted(t *testing.T) {
	configs := fakeConfigs{
		"c1": {Name: "c1", Layers: []cfsmodel.Layer{{CloneURL: "u1", Playbook: "site.yml", Commit: "C1"}}},
	}
	c := cfsmodel.Component{
		ID:            "n1",
		DesiredConfig: "c1",
		ErrorCount:    1,
		State: []cfsmodel.LayerState{
			{CloneURL: "u1", Playbook: "site.yml", Commit: "C1", Status: cfsmodel.StatusFailed},
		},
	}
	res := Reconcile(c, configs, Options{DefaultPlaybook: "site.yml", DefaultBatcherRetryPolicy: 0}, false)
	require.Equal(t, cfsmodel.Failed, res.Status)
}

func TestInfiniteRetriesNeverMaxed(t *testing.T) {
	configs := fakeConfigs{
		"c1": {Name: "c1", Layers: []cfsmodel.Layer{{CloneURL: "u1", Playbook: "site.yml", Commit: "C1"}}},
	}
	c := cfsmodel.Component{
		ID:            "n1",
		DesiredConfig: "c1",
		ErrorCount:    100,
		State: []cfsmodel.LayerState{
			{CloneURL: "u1", Playbook: "site.yml", Commit: "C1", Status: cfsmodel.StatusFailed},
		},
	}
	res := Reconcile(c, configs, Options{DefaultPlaybook: "site.yml", DefaultBatcherRetryPolicy: -1}, false)
	require.Equal(t, cfsmodel.Pending, res.Status)
}

func TestNoMatchIsPending(t *testing.T) {
	configs := fakeConfigs{
		"c1": {Name: "c1", Layers: []cfsmodel.Layer{{CloneURL: "u1", Playbook: "site.yml", Commit: "C1"}}},
	}
	c := cfsmodel.Component{ID: "n1", DesiredConfig: "c1"}
	res := Reconcile(c, configs, Options{DefaultPlaybook: "site.yml"}, false)
	require.Equal(t, cfsmodel.Pending, res.Status)
}

func TestEmptyDesiredConfigurationWithExistingStateIsConfigured(t *testing.T) {
	c := cfsmodel.Component{
		ID:            "n1",
		DesiredConfig: "missing",
		State:         []cfsmodel.LayerState{{CloneURL: "u1", Playbook: "p", Commit: "x", Status: cfsmodel.StatusApplied}},
	}
	res := Reconcile(c, fakeConfigs{}, Options{}, false)
	require.Equal(t, cfsmodel.Configured, res.Status)
}
