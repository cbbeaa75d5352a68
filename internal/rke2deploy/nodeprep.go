package rke2deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/Tuee22/amoebius-go/internal/retry"
	"github.com/Tuee22/amoebius-go/internal/sshcore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

const (
	modulesLoadPath = "/etc/modules-load.d/rke2.conf"
	sysctlConfPath  = "/etc/sysctl.d/99-rke2.conf"
)

const sysctlContent = `net.bridge.bridge-nf-call-iptables = 1
net.bridge.bridge-nf-call-ip6tables = 1
net.ipv4.ip_forward = 1
`

// prepareNode runs the idempotent node-prep sequence spec §4.9 step 1
// describes, then reboots and waits for SSH to come back.
func (d *Deployer) prepareNode(ctx context.Context, cfg types.SSHConfig, instance types.RKE2Instance) error {
	if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "swapoff", "-a"}, sshcore.RunOptions{Sensitive: false}); err != nil {
		return err
	}
	if _, err := runRemote(ctx, d.ssh, cfg,
		[]string{"sudo", "sed", "-i", `/swap/ s/^/#/`, "/etc/fstab"},
		sshcore.RunOptions{Sensitive: false}); err != nil {
		return err
	}

	if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "modprobe", "overlay"}, sshcore.RunOptions{Sensitive: false}); err != nil {
		return err
	}
	if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "modprobe", "br_netfilter"}, sshcore.RunOptions{Sensitive: false}); err != nil {
		return err
	}
	if err := uploadFile(ctx, d.ssh, cfg, modulesLoadPath, "overlay\nbr_netfilter\n"); err != nil {
		return err
	}

	if err := uploadFile(ctx, d.ssh, cfg, sysctlConfPath, sysctlContent); err != nil {
		return err
	}
	if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "sysctl", "--system"}, sshcore.RunOptions{Sensitive: false}); err != nil {
		return err
	}

	if instance.HasGPU {
		if err := d.installGPUSupport(ctx, cfg); err != nil {
			return err
		}
	}

	if _, err := runRemote(ctx, d.ssh, cfg, []string{"sudo", "reboot"}, sshcore.RunOptions{Sensitive: false, OKCodes: []int{0, 255}}); err != nil {
		return err
	}

	return d.waitForSSH(ctx, cfg)
}

// installGPUSupport installs distro GPU drivers and the container GPU
// runtime, then patches the containerd config so newly-created containers
// pick up the GPU runtime (spec §4.9). Each step is idempotent: driver and
// toolkit installation is a no-op when already present, and the containerd
// patch is applied via the toolkit's own idempotent "configure" verb.
func (d *Deployer) installGPUSupport(ctx context.Context, cfg types.SSHConfig) error {
	steps := [][]string{
		{"sh", "-c", "command -v nvidia-smi >/dev/null 2>&1 || (sudo apt-get update && sudo apt-get install -y nvidia-driver-535)"},
		{"sh", "-c", "command -v nvidia-ctk >/dev/null 2>&1 || (sudo apt-get update && sudo apt-get install -y nvidia-container-toolkit)"},
		{"sudo", "nvidia-ctk", "runtime", "configure", "--runtime=containerd"},
		{"sudo", "systemctl", "restart", "containerd"},
	}
	for _, argv := range steps {
		if _, err := runRemote(ctx, d.ssh, cfg, argv, sshcore.RunOptions{Sensitive: false}); err != nil {
			return err
		}
	}
	return nil
}

// waitForSSH polls the host with a no-op remote command every 5 seconds,
// up to 30 attempts (150s wall-clock, spec §4.9/§5), until it responds.
func (d *Deployer) waitForSSH(ctx context.Context, cfg types.SSHConfig) error {
	_, err := retry.Do(ctx, d.logger, d.metrics, retry.Config{
		Retries: 30,
		Delay:   5 * time.Second,
		Label:   "rke2deploy.waitForSSH",
	}, cfg.Hostname, func(ctx context.Context) (struct{}, error) {
		_, runErr := runRemote(ctx, d.ssh, cfg, []string{"true"}, sshcore.RunOptions{Sensitive: true, Retries: 1})
		return struct{}{}, runErr
	})
	if err != nil {
		return fmt.Errorf("rke2deploy: node %s never came back after reboot: %w", cfg.Hostname, err)
	}
	return nil
}
