// Package cfsmodel defines the wire/storage shapes shared by the v2 and v3
// API surfaces. Every type carries both a v3 JSON tag (the storage and v3
// wire representation) and a v2 tag consumed by internal/schemaxlate to
// derive the legacy camelCase surface without a second set of structs.
package cfsmodel

import (
	"encoding/json"
	"time"
)

// LayerStatus is the closed set of per-layer application states.
type LayerStatus string

const (
	StatusApplied    LayerStatus = "applied"
	StatusFailed     LayerStatus = "failed"
	StatusIncomplete LayerStatus = "incomplete"
	StatusPending    LayerStatus = "pending"
)

// ConfigurationStatus is the derived, never-persisted component verdict.
type ConfigurationStatus string

const (
	ConfigDeprecated ConfigurationStatus = "config_deprecated"
	Unconfigured     ConfigurationStatus = "unconfigured"
	Configured       ConfigurationStatus = "configured"
	Pending          ConfigurationStatus = "pending"
	Failed           ConfigurationStatus = "failed"
)

// verdictRank orders the per-layer verdicts so they can be combined with min().
var verdictRank = map[ConfigurationStatus]int{
	Unconfigured: 0,
	Failed:       1,
	Pending:      2,
	Configured:   3,
}

// Rank returns the combination order of a configuration status; lower wins
// when reducing the per-layer verdicts of a configuration to one status.
func (c ConfigurationStatus) Rank() (int, bool) {
	r, ok := verdictRank[c]
	return r, ok
}

// LayerState is one applied-layer record kept on a Component.
type LayerState struct {
	CloneURL    string      `json:"clone_url" cfs_v2:"cloneUrl"`
	Playbook    string      `json:"playbook" cfs_v2:"playbook"`
	Commit      string      `json:"commit" cfs_v2:"commit"`
	Status      LayerStatus `json:"status" cfs_v2:"-"`
	LastUpdated time.Time   `json:"last_updated" cfs_v2:"lastUpdated"`
}

// Key identifies a LayerState's append-or-replace slot on Component.State.
func (l LayerState) Key() [2]string { return [2]string{l.CloneURL, l.Playbook} }

// Component is one reconciliation target (node or image).
type Component struct {
	ID                  string            `json:"id" cfs_v2:"id"`
	Enabled             bool              `json:"enabled" cfs_v2:"enabled"`
	DesiredConfig       string            `json:"desired_config,omitempty" cfs_v2:"desiredConfig"`
	State               []LayerState      `json:"state" cfs_v2:"state"`
	StateAppend         *LayerState       `json:"state_append,omitempty" cfs_v2:"stateAppend"`
	DesiredState        []LayerState      `json:"desired_state,omitempty" cfs_v2:"desiredState"`
	RetryPolicy         *int              `json:"retry_policy" cfs_v2:"retryPolicy"`
	ErrorCount          int               `json:"error_count" cfs_v2:"errorCount"`
	Tags                map[string]string `json:"tags,omitempty" cfs_v2:"tags"`
	ConfigurationStatus string            `json:"configuration_status,omitempty" cfs_v2:"configurationStatus"`
	Logs                string            `json:"logs,omitempty" cfs_v2:"logs"`
}

// Layer is one (repo, playbook, commit) tuple within a Configuration.
type Layer struct {
	Name     string `json:"name,omitempty" cfs_v2:"name"`
	CloneURL string `json:"clone_url,omitempty" cfs_v2:"cloneUrl"`
	Source   string `json:"source,omitempty" cfs_v2:"source"`
	Playbook string `json:"playbook,omitempty" cfs_v2:"playbook"`
	Branch   string `json:"branch,omitempty" cfs_v2:"branch"`
	Commit   string `json:"commit,omitempty" cfs_v2:"commit"`
}

// RepoKey returns the unresolved repo identity (clone_url or source name)
// used for layer-pair uniqueness checks.
func (l Layer) RepoKey() string {
	if l.Source != "" {
		return "source:" + l.Source
	}
	return l.CloneURL
}

// Configuration is a named, ordered list of layers.
type Configuration struct {
	Name                 string    `json:"name" cfs_v2:"name"`
	Layers               []Layer   `json:"layers" cfs_v2:"layers"`
	AdditionalInventory  *Layer    `json:"additional_inventory,omitempty" cfs_v2:"additionalInventory"`
	LastUpdated          time.Time `json:"last_updated" cfs_v2:"lastUpdated"`
	TenantName           string    `json:"tenant_name,omitempty" cfs_v2:"-"`
}

// Credentials is the persisted (post-scrub) credentials reference on a Source.
type Credentials struct {
	AuthenticationMethod string `json:"authentication_method" cfs_v2:"authenticationMethod"`
	SecretName           string `json:"secret_name" cfs_v2:"secretName"`
	Username             string `json:"username,omitempty" cfs_v2:"username"`
	Password             string `json:"password,omitempty" cfs_v2:"password"`
}

// CaCert references a ConfigMap holding a CA bundle.
type CaCert struct {
	Name      string `json:"name" cfs_v2:"name"`
	Namespace string `json:"namespace,omitempty" cfs_v2:"namespace"`
}

// Source is a named Git origin plus credentials reference.
type Source struct {
	Name        string       `json:"name" cfs_v2:"name"`
	CloneURL    string       `json:"clone_url" cfs_v2:"cloneUrl"`
	Credentials *Credentials `json:"credentials,omitempty" cfs_v2:"credentials"`
	CaCert      *CaCert      `json:"ca_cert,omitempty" cfs_v2:"caCert"`
	LastUpdated time.Time    `json:"last_updated" cfs_v2:"lastUpdated"`
}

// SessionConfiguration references the Configuration a Session applies.
type SessionConfiguration struct {
	Name  string `json:"name" cfs_v2:"name"`
	Limit string `json:"limit,omitempty" cfs_v2:"limit"`
}

// SessionAnsible carries ansible-run tunables forwarded to the runner.
type SessionAnsible struct {
	Limit       string                 `json:"limit,omitempty" cfs_v2:"limit"`
	Config      string                 `json:"config,omitempty" cfs_v2:"config"`
	Verbosity   int                    `json:"verbosity,omitempty" cfs_v2:"verbosity"`
	Passthrough map[string]interface{} `json:"passthrough,omitempty" cfs_v2:"passthrough"`
}

// SessionTarget describes what a Session applies its Configuration to.
type SessionTarget struct {
	Definition string         `json:"definition" cfs_v2:"definition"`
	Groups     []SessionGroup `json:"groups,omitempty" cfs_v2:"groups"`
}

// SessionGroup is a named set of members under a spec/image target.
type SessionGroup struct {
	Name    string   `json:"name" cfs_v2:"name"`
	Members []string `json:"members" cfs_v2:"members"`
}

// SessionStatusInfo is the nested status.session document. Ansible runners
// report arbitrary extra keys (e.g. ara_report_url) alongside the known
// fields; Other preserves those round-trip rather than dropping them.
type SessionStatusInfo struct {
	Status    string                 `json:"status" cfs_v2:"status"`
	Succeeded string                 `json:"succeeded" cfs_v2:"succeeded"`
	StartTime time.Time              `json:"start_time" cfs_v2:"startTime"`
	Other     map[string]interface{} `json:"-" cfs_v2:"-"`
}

var sessionStatusInfoKnownFields = map[string]bool{
	"status": true, "succeeded": true, "start_time": true,
}

func (s SessionStatusInfo) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.Other)+3)
	for k, v := range s.Other {
		out[k] = v
	}
	out["status"] = s.Status
	out["succeeded"] = s.Succeeded
	out["start_time"] = s.StartTime
	return json.Marshal(out)
}

func (s *SessionStatusInfo) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	type alias SessionStatusInfo
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	other := make(map[string]interface{})
	for k, v := range raw {
		if !sessionStatusInfoKnownFields[k] {
			other[k] = v
		}
	}
	*s = SessionStatusInfo(a)
	s.Other = other
	return nil
}

// SessionStatus is the top-level status document on a Session.
type SessionStatus struct {
	Session   SessionStatusInfo        `json:"session" cfs_v2:"session"`
	Artifacts []map[string]interface{} `json:"artifacts" cfs_v2:"artifacts"`
}

// Session is one execution instance applying a Configuration to targets.
type Session struct {
	Name           string            `json:"name" cfs_v2:"name"`
	Configuration  SessionConfiguration `json:"configuration" cfs_v2:"configuration"`
	Ansible        SessionAnsible    `json:"ansible" cfs_v2:"ansible"`
	Target         SessionTarget     `json:"target" cfs_v2:"target"`
	Status         SessionStatus     `json:"status" cfs_v2:"status"`
	Tags           map[string]string `json:"tags,omitempty" cfs_v2:"tags"`
	DebugOnFailure bool              `json:"debug_on_failure" cfs_v2:"debugOnFailure"`
}

// Options is the single global-tunables record stored under key "options".
type Options struct {
	DefaultPlaybook          string `json:"default_playbook" cfs_v2:"defaultPlaybook"`
	DefaultAnsibleConfig     string `json:"default_ansible_config" cfs_v2:"defaultAnsibleConfig"`
	DefaultBatcherRetryPolicy int   `json:"default_batcher_retry_policy" cfs_v2:"defaultBatcherRetryPolicy"`
	BatcherCheckInterval     int    `json:"batcher_check_interval" cfs_v2:"batcherCheckInterval"`
	BatchSize                int    `json:"batch_size" cfs_v2:"batchSize"`
	BatchWindow              int    `json:"batch_window" cfs_v2:"batchWindow"`
	DefaultPageSize          int    `json:"default_page_size" cfs_v2:"defaultPageSize"`
	LoggingLevel             string `json:"logging_level" cfs_v2:"loggingLevel"`
	IncludeAraLinks          bool   `json:"include_ara_links" cfs_v2:"includeAraLinks"`
	AdditionalInventorySource string `json:"additional_inventory_source" cfs_v2:"additionalInventorySource"`
}

// DefaultOptions returns the packaged defaults (see internal/optionscache).
func DefaultOptions() Options {
	return Options{
		DefaultPlaybook:           "site.yml",
		DefaultAnsibleConfig:      "cfs-default-ansible-cfg",
		DefaultBatcherRetryPolicy: 1,
		BatcherCheckInterval:      10,
		BatchSize:                 100,
		BatchWindow:               60,
		DefaultPageSize:           1000,
		LoggingLevel:              "INFO",
		IncludeAraLinks:           true,
		AdditionalInventorySource: "",
	}
}
