package statestore

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Tuee22/amoebius-go/internal/objectstore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// ListBackends enumerates object-store entries matching
// terraform-backends/<dottedRoot>/<workspace>.enc and parses them back into
// ProvisioningBackendRef values, skipping anything that does not match
// (spec §4.7).
func ListBackends(ctx context.Context, io objectstore.ObjectIO, bucket string) ([]types.ProvisioningBackendRef, error) {
	keys, err := io.ListObjects(ctx, bucket, backendsPrefix)
	if err != nil {
		return nil, err
	}

	refs := make([]types.ProvisioningBackendRef, 0, len(keys))
	for _, key := range keys {
		if ref, ok := parseObjectName(key); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// IsEmptyStateFunc reads a backend's ciphertext and reports whether the
// state it decrypts to has zero resources. deleteEmptyBackends treats a
// read failure the same as "empty" (spec §4.7).
type IsEmptyStateFunc func(ctx context.Context, backend Backend) bool

// DeleteEmptyBackends reads every listed backend in parallel and removes
// the object-store entries whose state is empty or unreadable.
func DeleteEmptyBackends(ctx context.Context, io objectstore.ObjectIO, bucket, transitKeyName string, isEmpty IsEmptyStateFunc) error {
	refs, err := ListBackends(ctx, io, bucket)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			backend := NewObjectStoreBackend(io, bucket, ref, transitKeyName)
			if !isEmpty(gctx, backend) {
				return nil
			}
			return io.DeleteObject(gctx, bucket, buildObjectName(ref))
		})
	}
	return g.Wait()
}
