// Package orchestration composes secretclient, providers, and iacdriver
// into the caller-facing "deploy a provider's infrastructure" workflow
// (spec §4.11). Grounded on
// original_source/.../deployment/provider_deploy.py and
// .../cli/secrets/{aws,azure}.py.
package orchestration

import (
	"context"

	"github.com/Tuee22/amoebius-go/internal/iacdriver"
	"github.com/Tuee22/amoebius-go/internal/providers"
	"github.com/Tuee22/amoebius-go/internal/secretclient"
	"github.com/Tuee22/amoebius-go/internal/statestore"
)

// Orchestrator wires a secret-manager client to an IaC driver to deploy or
// destroy a provider's infrastructure root.
type Orchestrator struct {
	secrets *secretclient.Client
	iac     *iacdriver.Driver
}

// New returns an Orchestrator wired to secrets and iac.
func New(secrets *secretclient.Client, iac *iacdriver.Driver) *Orchestrator {
	return &Orchestrator{secrets: secrets, iac: iac}
}

// ProviderEnv reads the raw credential data stored at path and derives the
// environment variables the named provider's provisioning-tool plugin
// expects (spec §4.11).
func (o *Orchestrator) ProviderEnv(ctx context.Context, provider providers.Name, path string) (map[string]string, error) {
	data, err := o.secrets.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return providers.EnvFromSecretData(provider, data)
}

// DeployOptions configures one Deploy call.
type DeployOptions struct {
	Provider  providers.Name
	CredsPath string
	Root      string
	Workspace string
	Backend   statestore.Backend
	Variables map[string]any
	Destroy   bool
}

// Deploy resolves opts.Provider's environment and invokes the IaC driver's
// init+apply (or init+destroy when opts.Destroy) against opts.Root/
// Workspace/Backend (spec §4.11).
func (o *Orchestrator) Deploy(ctx context.Context, opts DeployOptions) error {
	env, err := o.ProviderEnv(ctx, opts.Provider, opts.CredsPath)
	if err != nil {
		return err
	}

	cmdOpts := iacdriver.CommandOptions{Env: env, Variables: opts.Variables}
	if err := o.iac.Init(ctx, opts.Root, opts.Workspace, opts.Backend, cmdOpts); err != nil {
		return err
	}
	if opts.Destroy {
		return o.iac.Destroy(ctx, opts.Root, opts.Workspace, opts.Backend, cmdOpts)
	}
	return o.iac.Apply(ctx, opts.Root, opts.Workspace, opts.Backend, cmdOpts)
}
