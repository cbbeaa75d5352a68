package secretservices

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/types"
)

func newTestRKE2Store(t *testing.T) *RKE2CredentialStore {
	t.Helper()
	fm := newFakeSecretManager()
	srv := httptest.NewServer(fm.handler())
	t.Cleanup(srv.Close)
	return NewRKE2CredentialStore(newTestClient(t, srv))
}

const validKubeconfig = `
apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://10.0.0.1:6443
  name: default
contexts:
- context:
    cluster: default
    user: default
  name: default
current-context: default
users:
- name: default
  user:
    token: fake-token
`

func TestRKE2CredentialStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestRKE2Store(t)
	ctx := context.Background()

	creds := types.RKE2Credentials{
		Kubeconfig:                validKubeconfig,
		JoinToken:                 "join-token",
		ControlPlaneSSHVaultPaths: []string{"nodes/cp-1"},
	}
	if err := store.Save(ctx, "clusters/prod", creds); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "clusters/prod")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.JoinToken != creds.JoinToken || len(got.ControlPlaneSSHVaultPaths) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRKE2CredentialStoreLoadRejectsEmptyKubeconfig(t *testing.T) {
	store := newTestRKE2Store(t)
	ctx := context.Background()

	if err := store.Save(ctx, "clusters/bad", types.RKE2Credentials{JoinToken: "t"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := store.Load(ctx, "clusters/bad")
	if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindValidation {
		t.Fatalf("expected KindValidation for empty kubeconfig, got %v", err)
	}
}

func TestRKE2CredentialStoreLoadRejectsMalformedKubeconfig(t *testing.T) {
	store := newTestRKE2Store(t)
	ctx := context.Background()

	creds := types.RKE2Credentials{Kubeconfig: "not: [valid, yaml: structure"}
	if err := store.Save(ctx, "clusters/malformed", creds); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := store.Load(ctx, "clusters/malformed")
	if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindValidation {
		t.Fatalf("expected KindValidation for malformed kubeconfig, got %v", err)
	}
}
