package rke2deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/retry"
	"github.com/Tuee22/amoebius-go/internal/sshcore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

const (
	rke2BinaryPath     = "/usr/local/bin/rke2"
	rke2ConfigPath     = "/etc/rancher/rke2/config.yaml"
	rke2NodeTokenPath  = "/var/lib/rancher/rke2/server/node-token"
	rke2KubeconfigPath = "/etc/rancher/rke2/rke2.yaml"
)

// installIfMissing fetches and runs the distribution installer for
// installType ("server" or "agent") unless the binary is already present,
// then ensures the corresponding systemd unit is enabled (spec §4.9:
// "idempotent: if the binary is present, only ensure the service is
// enabled/started").
func (d *Deployer) installIfMissing(ctx context.Context, cfg types.SSHConfig, installType, channel string) error {
	exists := false
	if _, checkErr := runRemote(ctx, d.ssh, cfg, []string{"test", "-f", rke2BinaryPath}, sshcore.RunOptions{Sensitive: false}); checkErr == nil {
		exists = true
	}

	if !exists {
		installCmd := fmt.Sprintf("curl -sfL https://get.rke2.io | INSTALL_RKE2_CHANNEL=%s INSTALL_RKE2_TYPE=%s sh -", channel, installType)
		if _, err := runRemote(ctx, d.ssh, cfg, []string{"sh", "-c", "sudo " + installCmd}, sshcore.RunOptions{Sensitive: false, Retries: 1}); err != nil {
			return err
		}
	}

	service := "rke2-" + installType + ".service"
	_, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "systemctl", "enable", "--now", service}, sshcore.RunOptions{Sensitive: false})
	d.metrics.RecordRKE2NodeInstall(ctx, installType)
	return err
}

// bootstrapControlPlane installs and starts the first control-plane node
// as a server, then retrieves its node-join token (spec §4.9 step 2).
func (d *Deployer) bootstrapControlPlane(ctx context.Context, cfg types.SSHConfig, channel string) (string, error) {
	if err := d.installIfMissing(ctx, cfg, "server", channel); err != nil {
		return "", err
	}
	return d.readNodeToken(ctx, cfg)
}

// readNodeToken polls for the node-token file, retrying up to 30 times 2s
// apart since the file appears asynchronously after the server unit
// starts (spec §4.9 step 2). Empty content is treated as a failure so the
// retry keeps polling rather than handing back a blank token.
func (d *Deployer) readNodeToken(ctx context.Context, cfg types.SSHConfig) (string, error) {
	token, err := retry.Do(ctx, d.logger, d.metrics, retry.Config{
		Retries: 30,
		Delay:   2 * time.Second,
		Label:   "rke2deploy.readNodeToken",
	}, cfg.Hostname, func(ctx context.Context) (string, error) {
		out, runErr := runRemote(ctx, d.ssh, cfg, []string{"sudo", "cat", rke2NodeTokenPath}, sshcore.RunOptions{Sensitive: true, Retries: 1})
		if runErr != nil {
			return "", runErr
		}
		trimmed := strings.TrimSpace(out)
		if trimmed == "" {
			return "", errors.New("node-token file is empty")
		}
		return trimmed, nil
	})
	if err != nil {
		return "", amoebiuserr.New(amoebiuserr.KindRemoteCommand, "rke2deploy.readNodeToken", err)
	}
	return token, nil
}

func joinConfig(bootstrap types.RKE2Instance, token string) string {
	return fmt.Sprintf("server: https://%s:9345\ntoken: %s\ntls-san:\n  - %s\n", bootstrap.PrivateIP, token, bootstrap.PrivateIP)
}

// joinAdditionalControlPlane installs cfg's node as an additional server
// pointed at bootstrap, restarting the server service after writing config
// (spec §4.9 step 3).
func (d *Deployer) joinAdditionalControlPlane(ctx context.Context, cfg types.SSHConfig, bootstrap types.RKE2Instance, token, channel string) error {
	if err := uploadFile(ctx, d.ssh, cfg, rke2ConfigPath, joinConfig(bootstrap, token)); err != nil {
		return err
	}
	if err := d.installIfMissing(ctx, cfg, "server", channel); err != nil {
		return err
	}
	_, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "systemctl", "restart", "rke2-server.service"}, sshcore.RunOptions{Sensitive: false})
	return err
}

// joinAgent installs cfg's node as an agent pointed at bootstrap,
// restarting the agent service after writing config (spec §4.9 step 4).
func (d *Deployer) joinAgent(ctx context.Context, cfg types.SSHConfig, bootstrap types.RKE2Instance, token, channel string) error {
	if err := uploadFile(ctx, d.ssh, cfg, rke2ConfigPath, joinConfig(bootstrap, token)); err != nil {
		return err
	}
	if err := d.installIfMissing(ctx, cfg, "agent", channel); err != nil {
		return err
	}
	_, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "systemctl", "restart", "rke2-agent.service"}, sshcore.RunOptions{Sensitive: false})
	return err
}

// captureKubeconfig reads the bootstrap node's kubeconfig and rewrites its
// loopback server address to the bootstrap's reachable IP so the captured
// credentials are usable off-node.
func (d *Deployer) captureKubeconfig(ctx context.Context, cfg types.SSHConfig, bootstrap types.RKE2Instance) (string, error) {
	out, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "cat", rke2KubeconfigPath}, sshcore.RunOptions{Sensitive: true})
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(out, "127.0.0.1", bootstrap.PrivateIP), nil
}
