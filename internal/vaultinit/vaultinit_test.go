package vaultinit_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/vaultinit"
)

// installFakeVault shims "vault" (and, for Configure, "kubectl") with
// scripts driven by a small set of canned responses, mirroring
// iacdriver_test.go's installFakeTerraform technique.
func installFakeVault(t *testing.T, initialized bool) (logPath string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake vault shim requires a POSIX shell")
	}
	dir := t.TempDir()
	logPath = filepath.Join(dir, "log")

	initializedStr := "false"
	if initialized {
		initializedStr = "true"
	}

	script := `#!/bin/sh
echo "$*" >> "` + logPath + `"
case "$1 $2" in
  "status -format=json") echo '{"initialized": ` + initializedStr + `}'; exit 0 ;;
  "operator init") echo '{"unsealKeysB64": ["k1","k2","k3"], "unsealShares": 3, "unsealThreshold": 2, "rootToken": "root-token"}'; exit 0 ;;
  "operator unseal") exit 0 ;;
esac
case "$1" in
  auth)
    case "$2" in
      list) echo "{}"; exit 0 ;;
      enable) exit 0 ;;
    esac
    ;;
  secrets)
    case "$2" in
      list) echo "{}"; exit 0 ;;
      enable) exit 0 ;;
    esac
    ;;
  policy) exit 0 ;;
  write) exit 0 ;;
esac
exit 0
`
	if err := os.WriteFile(filepath.Join(dir, "vault"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	kubectlScript := `#!/bin/sh
case "$*" in
  *"create token"*) echo "fake-sa-token" ;;
  *"get configmap"*) echo "fake-ca-cert" ;;
esac
exit 0
`
	if err := os.WriteFile(filepath.Join(dir, "kubectl"), []byte(kubectlScript), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return logPath
}

func TestStatusReportsInitialized(t *testing.T) {
	installFakeVault(t, true)
	b := vaultinit.New(cmdrunner.New(nil, nil), nil, nil)

	initialized, err := b.Status(context.Background(), "http://vault.internal:8200")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !initialized {
		t.Fatalf("expected Status to report initialized=true")
	}
}

func TestStatusReportsUninitialized(t *testing.T) {
	installFakeVault(t, false)
	b := vaultinit.New(cmdrunner.New(nil, nil), nil, nil)

	initialized, err := b.Status(context.Background(), "http://vault.internal:8200")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if initialized {
		t.Fatalf("expected Status to report initialized=false")
	}
}

func TestInitializeParsesUnsealData(t *testing.T) {
	installFakeVault(t, false)
	b := vaultinit.New(cmdrunner.New(nil, nil), nil, nil)

	data, err := b.Initialize(context.Background(), "http://vault.internal:8200", 3, 2)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if data.RootToken != "root-token" || len(data.UnsealKeysB64) != 3 || data.UnsealThreshold != 2 {
		t.Fatalf("unexpected init data: %+v", data)
	}
}

func TestUnsealAllUnsealsEveryPod(t *testing.T) {
	logPath := installFakeVault(t, false)
	b := vaultinit.New(cmdrunner.New(nil, nil), nil, nil)

	initData, err := b.Initialize(context.Background(), "http://vault.internal:8200", 3, 2)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	pods := []string{"http://vault-0:8200", "http://vault-1:8200", "http://vault-2:8200"}
	if err := b.UnsealAll(context.Background(), pods, initData); err != nil {
		t.Fatalf("UnsealAll: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	count := strings.Count(string(data), "operator unseal")
	if count < len(pods)*initData.UnsealThreshold {
		t.Fatalf("expected at least %d unseal calls (threshold per pod), got %d", len(pods)*initData.UnsealThreshold, count)
	}
}

func TestSaveAndLoadInitDataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.enc")
	data := vaultinit.InitData{
		UnsealKeysB64:   []string{"k1", "k2"},
		UnsealShares:    2,
		UnsealThreshold: 2,
		RootToken:       "root-token",
	}

	if err := vaultinit.SaveInitData(data, path, "password123"); err != nil {
		t.Fatalf("SaveInitData: %v", err)
	}

	got, err := vaultinit.LoadInitData(path, "password123")
	if err != nil {
		t.Fatalf("LoadInitData: %v", err)
	}
	if got.RootToken != data.RootToken || len(got.UnsealKeysB64) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadInitDataRejectsWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.enc")
	data := vaultinit.InitData{RootToken: "root-token"}
	if err := vaultinit.SaveInitData(data, path, "correct"); err != nil {
		t.Fatalf("SaveInitData: %v", err)
	}

	if _, err := vaultinit.LoadInitData(path, "wrong"); err == nil {
		t.Fatalf("expected LoadInitData to fail with the wrong password")
	}
}

func TestConfigureEnablesAuthAndWritesRole(t *testing.T) {
	logPath := installFakeVault(t, true)
	b := vaultinit.New(cmdrunner.New(nil, nil), nil, nil)

	err := b.Configure(context.Background(), "http://vault.internal:8200", "root-token", vaultinit.ConfigureOptions{
		ServiceAccountName:      "amoebius",
		ServiceAccountNamespace: "amoebius-system",
		KubernetesHost:          "https://kubernetes.default.svc",
		AdminPolicyName:         "amoebius-admin",
		AdminRoleName:           "amoebius-admin-role",
		AdminPolicyHCL:          "path \"secret/*\" { capabilities = [\"read\"] }",
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	log := string(data)
	if !strings.Contains(log, "auth enable kubernetes") {
		t.Fatalf("expected kubernetes auth to be enabled, log: %q", log)
	}
	if !strings.Contains(log, "auth/kubernetes/role/amoebius-admin-role") {
		t.Fatalf("expected the admin role to be written, log: %q", log)
	}
}
