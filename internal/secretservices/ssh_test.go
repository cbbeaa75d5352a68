package secretservices

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/sshcore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// installFakeSSH puts a shell-script "ssh" on $PATH that mimics OpenSSH's
// TOFU accept-new handshake closely enough to exercise sshcore.GetServerKey:
// it locates the -o UserKnownHostsFile=<path> argument and appends a fixed
// fake host-key line to it (mirrors iacdriver_test.go's installFakeTerraform
// technique of shimming a subprocess dependency via $PATH).
func installFakeSSH(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ssh shim requires a POSIX shell")
	}
	dir := t.TempDir()
	script := `#!/bin/sh
khfile=""
prev=""
for arg in "$@"; do
  case "$prev" in
    UserKnownHostsFile=*) ;;
  esac
  case "$arg" in
    UserKnownHostsFile=*) khfile="${arg#UserKnownHostsFile=}" ;;
  esac
  prev="$arg"
done
if [ -n "$khfile" ]; then
  echo "example.com ssh-ed25519 AAAAfakehostkey" >> "$khfile"
fi
exit 0
`
	path := filepath.Join(dir, "ssh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newTestSSHStore(t *testing.T, now int64) (*SSHStore, *fakeSecretManager) {
	t.Helper()
	fm := newFakeSecretManager()
	srv := httptest.NewServer(fm.handler())
	t.Cleanup(srv.Close)

	store := NewSSHStore(newTestClient(t, srv), sshcore.New(nil, nil), nil, nil)
	store.clock = fakeClock{t: now}
	return store, fm
}

func sampleSSHConfig() types.SSHConfig {
	return types.SSHConfig{User: "root", Hostname: "node-1", PrivateKey: "fake-key"}
}

func TestSSHStoreStoreGetRoundTrip(t *testing.T) {
	store, _ := newTestSSHStore(t, 1000)
	ctx := context.Background()

	cfg := sampleSSHConfig()
	cfg.HostKeys = []string{"node-1 ssh-ed25519 AAAA"}
	if err := store.Store(ctx, "nodes/node-1", cfg); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := store.Get(ctx, "nodes/node-1", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Hostname != cfg.Hostname || len(got.HostKeys) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSSHStoreStoreSetsExpiryWhenHostKeysEmpty(t *testing.T) {
	store, fm := newTestSSHStore(t, 1000)
	ctx := context.Background()

	if err := store.Store(ctx, "nodes/node-2", sampleSSHConfig()); err != nil {
		t.Fatalf("Store: %v", err)
	}

	data := fm.kv["nodes/node-2"]
	if data == nil {
		t.Fatalf("expected stored data at nodes/node-2, fake kv = %+v", fm.kv)
	}
	if _, ok := data["expiresAt"]; !ok {
		t.Fatalf("expected expiresAt to be set for a host-key-less config, got %+v", data)
	}
}

func TestSSHStoreGetExpiredHardDeletesAndReportsNotFound(t *testing.T) {
	store, _ := newTestSSHStore(t, 1000)
	ctx := context.Background()

	if err := store.Store(ctx, "nodes/node-3", sampleSSHConfig()); err != nil {
		t.Fatalf("Store: %v", err)
	}

	store.clock = fakeClock{t: 1000 + types.TOFUGracePeriodSeconds + 1}
	_, err := store.Get(ctx, "nodes/node-3", false)
	if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindNotFound {
		t.Fatalf("expected NotFound after expiry, got %v", err)
	}

	if _, err := store.secrets.Read(ctx, "nodes/node-3"); err == nil {
		t.Fatalf("expected the expired envelope to have been hard-deleted")
	}
}

func TestSSHStoreTofuPopulateRejectsConfigWithHostKeys(t *testing.T) {
	store, _ := newTestSSHStore(t, 1000)
	ctx := context.Background()

	cfg := sampleSSHConfig()
	cfg.HostKeys = []string{"already-present"}
	if err := store.Store(ctx, "nodes/node-4", cfg); err != nil {
		t.Fatalf("Store: %v", err)
	}

	err := store.TofuPopulate(ctx, "nodes/node-4")
	if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindPrecondition {
		t.Fatalf("expected KindPrecondition, got %v", err)
	}
}

func TestSSHStoreStoreWithTOFUSuccess(t *testing.T) {
	installFakeSSH(t)
	store, _ := newTestSSHStore(t, 1000)
	ctx := context.Background()

	if err := store.StoreWithTOFU(ctx, "nodes/node-5", sampleSSHConfig()); err != nil {
		t.Fatalf("StoreWithTOFU: %v", err)
	}

	got, err := store.Get(ctx, "nodes/node-5", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.HostKeys) == 0 {
		t.Fatalf("expected TOFU to have populated host keys, got %+v", got)
	}
	if got.RequiresTOFU() {
		t.Fatalf("config should no longer require TOFU once keys are populated")
	}
}

func TestSSHStoreDeleteSoftRequiresExistingPath(t *testing.T) {
	store, _ := newTestSSHStore(t, 1000)
	ctx := context.Background()

	err := store.Delete(ctx, "nodes/missing", false)
	if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindNotFound {
		t.Fatalf("expected NotFound deleting a missing path softly, got %v", err)
	}
}

func TestSSHStoreDeleteHardToleratesMissingPath(t *testing.T) {
	store, _ := newTestSSHStore(t, 1000)
	ctx := context.Background()

	if err := store.Delete(ctx, "nodes/missing", true); err != nil {
		t.Fatalf("hard delete of a missing path should not error, got %v", err)
	}
}
