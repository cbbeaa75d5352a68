// Package rke2deploy drives end-to-end RKE2 cluster formation over SSH:
// idempotent node preparation, bootstrap/join sequencing, credential
// capture, and the maintenance flows (destroy/upgrade/rotate-certs/backup/
// reset) spec §4.9 names. Grounded on
// original_source/.../deployment/rke2.py.
package rke2deploy

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/secretservices"
	"github.com/Tuee22/amoebius-go/internal/sshcore"
	"github.com/Tuee22/amoebius-go/internal/telemetry"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// Deployer orchestrates cluster formation against a fleet of nodes
// reachable over SSH, with per-node connection details and cluster
// credentials persisted through secretservices.
type Deployer struct {
	ssh      *sshcore.Runner
	sshStore *secretservices.SSHStore
	creds    *secretservices.RKE2CredentialStore
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// New returns a Deployer wired to its collaborators. logger/metrics may be
// nil.
func New(ssh *sshcore.Runner, sshStore *secretservices.SSHStore, creds *secretservices.RKE2CredentialStore, logger *slog.Logger, metrics *telemetry.Metrics) *Deployer {
	return &Deployer{ssh: ssh, sshStore: sshStore, creds: creds, logger: logger, metrics: metrics}
}

// nodeSSH resolves instance's SSHConfig via the TOFU-populating store
// (spec §4.9 step 1: "Retrieve SSHConfig from secretClient with TOFU
// enabled").
func (d *Deployer) nodeSSH(ctx context.Context, instance types.RKE2Instance) (types.SSHConfig, error) {
	return d.sshStore.Get(ctx, instance.VaultPath, true)
}

func allInstances(inventory types.RKE2Inventory) []types.RKE2Instance {
	var all []types.RKE2Instance
	for _, group := range inventory {
		all = append(all, group...)
	}
	return all
}

// DeployCluster runs node preparation, bootstraps the first control-plane
// node, joins the remaining control-plane nodes and every agent, captures
// the kubeconfig, and persists cluster credentials at credsPath
// (spec §4.9).
func (d *Deployer) DeployCluster(ctx context.Context, inventory types.RKE2Inventory, cpGroup string, credsPath string, channel string) (types.RKE2Credentials, error) {
	cpNodes := inventory[cpGroup]
	if len(cpNodes) == 0 {
		return types.RKE2Credentials{}, amoebiuserr.New(amoebiuserr.KindPrecondition, "rke2deploy.DeployCluster",
			fmt.Errorf("control-plane group %q has no instances", cpGroup))
	}

	if err := d.prepareAll(ctx, allInstances(inventory)); err != nil {
		return types.RKE2Credentials{}, err
	}

	bootstrap := cpNodes[0]
	bootstrapSSH, err := d.nodeSSH(ctx, bootstrap)
	if err != nil {
		return types.RKE2Credentials{}, err
	}

	token, err := d.bootstrapControlPlane(ctx, bootstrapSSH, channel)
	if err != nil {
		return types.RKE2Credentials{}, err
	}

	additionalCP := cpNodes[1:]
	if err := d.joinGroup(ctx, additionalCP, bootstrap, token, channel, true); err != nil {
		return types.RKE2Credentials{}, err
	}

	var agents []types.RKE2Instance
	for group, instances := range inventory {
		if group == cpGroup {
			continue
		}
		agents = append(agents, instances...)
	}
	if err := d.joinGroup(ctx, agents, bootstrap, token, channel, false); err != nil {
		return types.RKE2Credentials{}, err
	}

	kubeconfig, err := d.captureKubeconfig(ctx, bootstrapSSH, bootstrap)
	if err != nil {
		return types.RKE2Credentials{}, err
	}

	cpPaths := make([]string, 0, len(cpNodes))
	for _, n := range cpNodes {
		cpPaths = append(cpPaths, n.VaultPath)
	}
	creds := types.RKE2Credentials{
		Kubeconfig:                kubeconfig,
		JoinToken:                 token,
		ControlPlaneSSHVaultPaths: cpPaths,
	}
	if err := d.creds.Save(ctx, credsPath, creds); err != nil {
		return types.RKE2Credentials{}, err
	}
	return creds, nil
}

func (d *Deployer) prepareAll(ctx context.Context, instances []types.RKE2Instance) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, instance := range instances {
		instance := instance
		group.Go(func() error {
			cfg, err := d.nodeSSH(gctx, instance)
			if err != nil {
				return err
			}
			return d.prepareNode(gctx, cfg, instance)
		})
	}
	return group.Wait()
}

func (d *Deployer) joinGroup(ctx context.Context, instances []types.RKE2Instance, bootstrap types.RKE2Instance, token, channel string, controlPlane bool) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, instance := range instances {
		instance := instance
		group.Go(func() error {
			cfg, err := d.nodeSSH(gctx, instance)
			if err != nil {
				return err
			}
			if controlPlane {
				return d.joinAdditionalControlPlane(gctx, cfg, bootstrap, token, channel)
			}
			return d.joinAgent(gctx, cfg, bootstrap, token, channel)
		})
	}
	return group.Wait()
}
