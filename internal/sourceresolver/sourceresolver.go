// Package sourceresolver resolves a (clone URL, branch, optional Source)
// triple to a concrete commit hash by shallow Git interaction, per
// spec.md §4.4. No Git library exists anywhere in the retrieved corpus, so
// this shells out to the system git binary (os/exec, stdlib) exactly as the
// original Python implementation subprocesses to git; see DESIGN.md for the
// standard-library justification.
package sourceresolver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hpcfleet/cfs/internal/external"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// BranchConversionError wraps an upstream git failure, surfaced by handlers
// as a 400 with the upstream message quoted (spec.md §4.4, §7).
type BranchConversionError struct {
	CloneURL string
	Branch   string
	Err      error
}

func (e *BranchConversionError) Error() string {
	return fmt.Sprintf("resolve branch %q of %q: %v", e.Branch, e.CloneURL, e.Err)
}

func (e *BranchConversionError) Unwrap() error { return e.Err }

// Defaults carries the process-wide fallback Git credentials and CA path,
// sourced from VCS_USERNAME/VCS_PASSWORD/GIT_SSL_CAINFO.
type Defaults struct {
	Username string
	Password string
	CAInfo   string
}

// Resolver resolves branches to commits using scoped per-call temp
// directories and a per-call HOME override, so concurrent resolvers never
// race on a shared ~/.git-credentials (spec.md §4.4, §9).
type Resolver struct {
	defaults     Defaults
	secretStore  external.SecretStore
	configMaps   external.ConfigMapStore
	runGit       func(ctx context.Context, env []string, dir string, args ...string) (string, error)
}

// New builds a Resolver. secretStore and configMaps back credential and CA
// bundle retrieval when a named Source is supplied.
func New(defaults Defaults, secretStore external.SecretStore, configMaps external.ConfigMapStore) *Resolver {
	return &Resolver{
		defaults:    defaults,
		secretStore: secretStore,
		configMaps:  configMaps,
		runGit:      runGitCommand,
	}
}

// Resolve returns the commit hash at the tip of branch on cloneURL. If
// source is non-nil, its credentials and CA bundle are used instead of the
// process defaults.
func (r *Resolver) Resolve(ctx context.Context, cloneURL, branch string, source *cfsmodel.Source) (string, error) {
	tmpDir, err := os.MkdirTemp("", "cfs-source-*")
	if err != nil {
		return "", &BranchConversionError{CloneURL: cloneURL, Branch: branch, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	username, password, err := r.credentials(ctx, source)
	if err != nil {
		return "", &BranchConversionError{CloneURL: cloneURL, Branch: branch, Err: err}
	}

	caPath, err := r.caBundle(ctx, tmpDir, source)
	if err != nil {
		return "", &BranchConversionError{CloneURL: cloneURL, Branch: branch, Err: err}
	}

	credsPath := filepath.Join(tmpDir, ".git-credentials")
	if err := writeCredentials(credsPath, cloneURL, username, password); err != nil {
		return "", &BranchConversionError{CloneURL: cloneURL, Branch: branch, Err: err}
	}

	env := []string{
		"HOME=" + tmpDir,
		"GIT_SSL_CAINFO=" + caPath,
		"GIT_TERMINAL_PROMPT=0",
	}

	if _, err := r.runGit(ctx, env, tmpDir, "config", "--global", "credential.helper", "store --file="+credsPath); err != nil {
		return "", &BranchConversionError{CloneURL: cloneURL, Branch: branch, Err: err}
	}

	cloneDir := filepath.Join(tmpDir, "repo")
	if _, err := r.runGit(ctx, env, tmpDir, "clone", "--depth", "1", "--branch", branch, cloneURL, cloneDir); err != nil {
		return "", &BranchConversionError{CloneURL: cloneURL, Branch: branch, Err: err}
	}

	out, err := r.runGit(ctx, env, cloneDir, "rev-parse", "HEAD")
	if err != nil {
		return "", &BranchConversionError{CloneURL: cloneURL, Branch: branch, Err: err}
	}
	return strings.TrimSpace(out), nil
}

func (r *Resolver) credentials(ctx context.Context, source *cfsmodel.Source) (string, string, error) {
	if source == nil || source.Credentials == nil || source.Credentials.SecretName == "" {
		return r.defaults.Username, r.defaults.Password, nil
	}
	secret, err := r.secretStore.GetSecret(ctx, source.Credentials.SecretName)
	if err != nil {
		return "", "", err
	}
	return secret.Username, secret.Password, nil
}

func (r *Resolver) caBundle(ctx context.Context, tmpDir string, source *cfsmodel.Source) (string, error) {
	if source == nil || source.CaCert == nil || source.CaCert.Name == "" {
		return r.defaults.CAInfo, nil
	}
	cm, err := r.configMaps.GetConfigMap(ctx, source.CaCert.Name, source.CaCert.Namespace)
	if err != nil {
		return "", err
	}
	for _, contents := range cm.Data {
		caPath := filepath.Join(tmpDir, "ca.crt")
		if err := os.WriteFile(caPath, []byte(contents), 0o600); err != nil {
			return "", err
		}
		return caPath, nil
	}
	return r.defaults.CAInfo, nil
}

func writeCredentials(path, cloneURL, username, password string) error {
	u := cloneURL
	if username != "" {
		schemeSep := "://"
		if idx := strings.Index(cloneURL, schemeSep); idx >= 0 {
			scheme := cloneURL[:idx]
			rest := cloneURL[idx+len(schemeSep):]
			u = fmt.Sprintf("%s://%s:%s@%s", scheme, username, password, rest)
		}
	}
	return os.WriteFile(path, []byte(u+"\n"), 0o600)
}

func runGitCommand(ctx context.Context, env []string, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}
