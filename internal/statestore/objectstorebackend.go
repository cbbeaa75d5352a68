package statestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/Tuee22/amoebius-go/internal/objectstore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

const backendsPrefix = "terraform-backends/"

// ObjectStoreBackend stores a single ciphertext object per (root,
// workspace) under terraform-backends/<dottedRoot>/<workspace>.enc, where
// slashes in root become dots (spec §4.7), grounded on
// original_source/.../utils/terraform/commands.py's _build_object_name.
type ObjectStoreBackend struct {
	io             objectstore.ObjectIO
	bucket         string
	ref            types.ProvisioningBackendRef
	transitKeyName string
}

// NewObjectStoreBackend builds an ObjectStoreBackend for ref, bound to io
// and bucket. transitKeyName may be empty to disable ephemeral encryption.
func NewObjectStoreBackend(io objectstore.ObjectIO, bucket string, ref types.ProvisioningBackendRef, transitKeyName string) *ObjectStoreBackend {
	return &ObjectStoreBackend{io: io, bucket: bucket, ref: ref, transitKeyName: transitKeyName}
}

// buildObjectName renders ref as terraform-backends/<dottedRoot>/<workspace>.enc.
func buildObjectName(ref types.ProvisioningBackendRef) string {
	dottedRoot := strings.ReplaceAll(ref.Root, "/", ".")
	return fmt.Sprintf("%s%s/%s.enc", backendsPrefix, dottedRoot, ref.WorkspaceOrDefault())
}

// parseObjectName reverses buildObjectName, returning ok=false for any
// name that does not match the expected pattern.
func parseObjectName(name string) (types.ProvisioningBackendRef, bool) {
	if !strings.HasPrefix(name, backendsPrefix) || !strings.HasSuffix(name, ".enc") {
		return types.ProvisioningBackendRef{}, false
	}
	tail := strings.TrimPrefix(name, backendsPrefix)
	tail = strings.TrimSuffix(tail, ".enc")

	idx := strings.LastIndex(tail, "/")
	if idx < 0 {
		return types.ProvisioningBackendRef{}, false
	}
	dottedRoot, workspace := tail[:idx], tail[idx+1:]
	if dottedRoot == "" || workspace == "" {
		return types.ProvisioningBackendRef{}, false
	}

	ref := types.ProvisioningBackendRef{Root: strings.ReplaceAll(dottedRoot, ".", "/"), Workspace: workspace}
	if ValidateBackendRef(ref) != nil {
		return types.ProvisioningBackendRef{}, false
	}
	return ref, true
}

func (b *ObjectStoreBackend) TransitKeyName() string { return b.transitKeyName }

// Ref returns the backend's (root, workspace) pair.
func (b *ObjectStoreBackend) Ref() types.ProvisioningBackendRef { return b.ref }

func (b *ObjectStoreBackend) ReadCiphertext(ctx context.Context) (string, bool, error) {
	data, found, err := b.io.GetObject(ctx, b.bucket, buildObjectName(b.ref))
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	return string(data), true, nil
}

func (b *ObjectStoreBackend) WriteCiphertext(ctx context.Context, ciphertext string) error {
	return b.io.PutObject(ctx, b.bucket, buildObjectName(b.ref), []byte(ciphertext))
}
