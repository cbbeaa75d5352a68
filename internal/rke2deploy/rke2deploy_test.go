package rke2deploy_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/rke2deploy"
	"github.com/Tuee22/amoebius-go/internal/secretclient"
	"github.com/Tuee22/amoebius-go/internal/secretservices"
	"github.com/Tuee22/amoebius-go/internal/sshcore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// installFakeSSH shims "ssh" with a script that logs the joined remote
// command line to logPath and answers a handful of commands rke2deploy is
// known to issue, mirroring iacdriver_test.go's installFakeTerraform
// technique for a different subprocess dependency.
func installFakeSSH(t *testing.T, logPath string, binaryExists bool) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ssh shim requires a POSIX shell")
	}
	dir := t.TempDir()

	existsExit := "1"
	if binaryExists {
		existsExit = "0"
	}

	script := `#!/bin/sh
cmd="$*"
echo "$cmd" >> "` + logPath + `"
case "$cmd" in
  *"-uninstall.sh"*) exit 0 ;;
  *"test -f /usr/local/bin/rke2"*) exit ` + existsExit + ` ;;
  *"cat /var/lib/rancher/rke2/server/node-token"*) echo "fake-node-token"; exit 0 ;;
  *"cat /etc/rancher/rke2/rke2.yaml"*) echo "server: https://127.0.0.1:6443"; exit 0 ;;
  *"reboot"*) exit 0 ;;
esac
exit 0
`
	path := filepath.Join(dir, "ssh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, ln := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(ln) != "" {
			out = append(out, ln)
		}
	}
	return out
}

func newTestSSHStore(t *testing.T) *secretservices.SSHStore {
	t.Helper()
	return secretservices.NewSSHStore(secretclient.New(secretclient.Config{Address: "http://unused.invalid", Token: "t"}, nil, nil), sshcore.New(nil, nil), nil, nil)
}

func pinnedConfig(host string) types.SSHConfig {
	return types.SSHConfig{User: "root", Hostname: host, PrivateKey: "fake-key", HostKeys: []string{host + " ssh-ed25519 AAAA"}}
}

func TestDestroyClusterIssuesConditionalUninstallAndRunsTeardown(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")
	installFakeSSH(t, logPath, false)

	deployer := rke2deploy.New(sshcore.New(nil, nil), newTestSSHStore(t), nil, nil, nil)
	cfgs := []types.SSHConfig{pinnedConfig("node-1")}

	ranTeardown := false
	err := deployer.DestroyCluster(context.Background(), cfgs, "server", func(ctx context.Context) error {
		ranTeardown = true
		return nil
	})
	if err != nil {
		t.Fatalf("DestroyCluster: %v", err)
	}
	if !ranTeardown {
		t.Fatalf("expected teardown callback to run after node uninstall fan-out")
	}

	lines := readLines(t, logPath)
	found := false
	for _, l := range lines {
		if strings.Contains(l, "rke2-server-uninstall.sh") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the conditional uninstall command to have been issued, log: %v", lines)
	}
}

func TestDestroyClusterSkipsTeardownWhenNil(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")
	installFakeSSH(t, logPath, false)

	deployer := rke2deploy.New(sshcore.New(nil, nil), newTestSSHStore(t), nil, nil, nil)
	cfgs := []types.SSHConfig{pinnedConfig("node-1")}

	if err := deployer.DestroyCluster(context.Background(), cfgs, "agent", nil); err != nil {
		t.Fatalf("DestroyCluster with nil teardown: %v", err)
	}
}

func TestBackupRunsEtcdSnapshotSave(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")
	installFakeSSH(t, logPath, true)

	deployer := rke2deploy.New(sshcore.New(nil, nil), newTestSSHStore(t), nil, nil, nil)
	if err := deployer.Backup(context.Background(), pinnedConfig("cp-1"), "nightly"); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	lines := readLines(t, logPath)
	if len(lines) == 0 || !strings.Contains(lines[0], "etcd-snapshot save --name nightly") {
		t.Fatalf("expected an etcd-snapshot save command, got %v", lines)
	}
}

func TestUpgradeClusterRunsServersThenAgents(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")
	installFakeSSH(t, logPath, true)

	deployer := rke2deploy.New(sshcore.New(nil, nil), newTestSSHStore(t), nil, nil, nil)
	servers := []types.SSHConfig{pinnedConfig("cp-1"), pinnedConfig("cp-2")}
	agents := []types.SSHConfig{pinnedConfig("agent-1")}

	if err := deployer.UpgradeCluster(context.Background(), servers, agents, "v1.30"); err != nil {
		t.Fatalf("UpgradeCluster: %v", err)
	}

	lines := readLines(t, logPath)
	serverStopIdx, agentStopIdx := -1, -1
	for i, l := range lines {
		if strings.Contains(l, "stop rke2-server.service") && serverStopIdx == -1 {
			serverStopIdx = i
		}
		if strings.Contains(l, "stop rke2-agent.service") && agentStopIdx == -1 {
			agentStopIdx = i
		}
	}
	if serverStopIdx == -1 || agentStopIdx == -1 {
		t.Fatalf("expected both a server and an agent stop command, got %v", lines)
	}
	if serverStopIdx > agentStopIdx {
		t.Fatalf("expected servers to upgrade strictly before agents start, log: %v", lines)
	}
}

func TestResetNodeStopsRoleSpecificService(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")
	installFakeSSH(t, logPath, true)

	deployer := rke2deploy.New(sshcore.New(nil, nil), newTestSSHStore(t), nil, nil, nil)
	if err := deployer.ResetNode(context.Background(), pinnedConfig("agent-1"), false); err != nil {
		t.Fatalf("ResetNode: %v", err)
	}

	lines := readLines(t, logPath)
	foundStop := false
	for _, l := range lines {
		if strings.Contains(l, "stop rke2-agent.service") {
			foundStop = true
		}
	}
	if !foundStop {
		t.Fatalf("expected an agent service stop, got %v", lines)
	}
}

// safeLogSync is held by TestDeployClusterRejectsEmptyControlPlaneGroup for
// its whole run; no other test in this file takes it.
var safeLogSync sync.Mutex

func TestDeployClusterRejectsEmptyControlPlaneGroup(t *testing.T) {
	safeLogSync.Lock()
	defer safeLogSync.Unlock()

	deployer := rke2deploy.New(sshcore.New(nil, nil), newTestSSHStore(t), nil, nil, nil)
	inventory := types.RKE2Inventory{"control-plane": nil}

	_, err := deployer.DeployCluster(context.Background(), inventory, "control-plane", "clusters/x", "stable")
	if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindPrecondition {
		t.Fatalf("expected KindPrecondition for an empty control-plane group, got %v", err)
	}
}
