package rke2deploy

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Tuee22/amoebius-go/internal/sshcore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// TeardownFunc is an optional caller hook for infrastructure teardown run
// after every node's uninstall script completes (spec §4.9:
// "destroyCluster ... optionally invokes a caller callback for infra
// teardown").
type TeardownFunc func(ctx context.Context) error

func uninstallScriptPath(installType string) string {
	return fmt.Sprintf("/usr/local/bin/rke2-%s-uninstall.sh", installType)
}

// DestroyCluster runs each node's RKE2 uninstall script, conditional on
// its presence, in parallel, then invokes teardown if given.
func (d *Deployer) DestroyCluster(ctx context.Context, cfgs []types.SSHConfig, installType string, teardown TeardownFunc) error {
	group, gctx := errgroup.WithContext(ctx)
	script := uninstallScriptPath(installType)
	for _, cfg := range cfgs {
		cfg := cfg
		group.Go(func() error {
			_, err := runRemote(gctx, d.ssh, cfg, []string{"sh", "-c", "test -f " + script + " && sudo " + script + " || true"}, sshcore.RunOptions{Sensitive: false})
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if teardown != nil {
		return teardown(ctx)
	}
	return nil
}

// upgradeNode stops the node's service, re-runs the installer pinned to
// the new channel, and restarts the service.
func (d *Deployer) upgradeNode(ctx context.Context, cfg types.SSHConfig, installType, channel string) error {
	service := "rke2-" + installType + ".service"
	if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "systemctl", "stop", service}, sshcore.RunOptions{Sensitive: false}); err != nil {
		return err
	}

	installCmd := fmt.Sprintf("curl -sfL https://get.rke2.io | INSTALL_RKE2_CHANNEL=%s INSTALL_RKE2_TYPE=%s sh -", channel, installType)
	if _, err := runRemote(ctx, d.ssh, cfg, []string{"sh", "-c", "sudo " + installCmd}, sshcore.RunOptions{Sensitive: false, Retries: 1}); err != nil {
		return err
	}

	_, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "systemctl", "start", service}, sshcore.RunOptions{Sensitive: false})
	return err
}

// UpgradeCluster upgrades servers strictly serially, then agents in
// parallel (spec §4.9/§5: "upgradeCluster servers are strictly serial;
// agents are parallel").
func (d *Deployer) UpgradeCluster(ctx context.Context, servers, agents []types.SSHConfig, channel string) error {
	for _, cfg := range servers {
		if err := d.upgradeNode(ctx, cfg, "server", channel); err != nil {
			return err
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, cfg := range agents {
		cfg := cfg
		group.Go(func() error { return d.upgradeNode(gctx, cfg, "agent", channel) })
	}
	return group.Wait()
}

// RotateCerts runs the distribution's cert-rotate subcommand and restarts
// the server service per node, sequentially (spec §4.9/§5).
func (d *Deployer) RotateCerts(ctx context.Context, servers []types.SSHConfig) error {
	for _, cfg := range servers {
		if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "rke2", "certificate", "rotate"}, sshcore.RunOptions{Sensitive: false}); err != nil {
			return err
		}
		if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "systemctl", "restart", "rke2-server.service"}, sshcore.RunOptions{Sensitive: false}); err != nil {
			return err
		}
	}
	return nil
}

// Backup triggers an etcd snapshot named name on cfg's server (spec §4.9).
func (d *Deployer) Backup(ctx context.Context, cfg types.SSHConfig, name string) error {
	_, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "rke2", "etcd-snapshot", "save", "--name", name}, sshcore.RunOptions{Sensitive: false})
	return err
}

// ResetNode stops the role-specific service and runs the node uninstall
// script on cfg (spec §4.9).
func (d *Deployer) ResetNode(ctx context.Context, cfg types.SSHConfig, isControlPlane bool) error {
	installType := "agent"
	if isControlPlane {
		installType = "server"
	}
	service := "rke2-" + installType + ".service"
	if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "systemctl", "stop", service}, sshcore.RunOptions{Sensitive: false}); err != nil {
		return err
	}
	script := uninstallScriptPath(installType)
	_, err := runRemote(ctx, d.ssh, cfg, []string{"sh", "-c", "test -f " + script + " && sudo " + script + " || true"}, sshcore.RunOptions{Sensitive: false})
	return err
}
