package statestore

import (
	"context"
	"fmt"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// kvClient is the subset of secretclient.Client this backend needs, kept
// narrow so tests can fake it without standing up an HTTP server.
type kvClient interface {
	Read(ctx context.Context, path string) (map[string]any, error)
	Write(ctx context.Context, path string, data map[string]any) error
}

// KVBackend stores ciphertext in the secret manager's KV-v2 engine at
// amoebius/terraform-backends/<root>/<workspace> (spec §4.7).
type KVBackend struct {
	client         kvClient
	ref            types.ProvisioningBackendRef
	transitKeyName string
}

// NewKVBackend builds a KVBackend for ref, bound to client. transitKeyName
// may be empty to disable ephemeral encryption.
func NewKVBackend(client kvClient, ref types.ProvisioningBackendRef, transitKeyName string) *KVBackend {
	return &KVBackend{client: client, ref: ref, transitKeyName: transitKeyName}
}

func (b *KVBackend) path() string {
	return fmt.Sprintf("amoebius/terraform-backends/%s/%s", b.ref.Root, b.ref.WorkspaceOrDefault())
}

func (b *KVBackend) TransitKeyName() string { return b.transitKeyName }

func (b *KVBackend) ReadCiphertext(ctx context.Context) (string, bool, error) {
	data, err := b.client.Read(ctx, b.path())
	if err != nil {
		if kind, ok := amoebiuserr.KindOf(err); ok && kind == amoebiuserr.KindNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	ciphertext, _ := data["ciphertext"].(string)
	return ciphertext, true, nil
}

func (b *KVBackend) WriteCiphertext(ctx context.Context, ciphertext string) error {
	return b.client.Write(ctx, b.path(), map[string]any{"ciphertext": ciphertext})
}
