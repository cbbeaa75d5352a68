package iacdriver

import (
	"context"

	"github.com/Tuee22/amoebius-go/internal/statestore"
)

// IsEmptyStateFunc returns a statestore.IsEmptyStateFunc bound to d: for
// every object-store backend it reads the provisioning state (ephemeral,
// no retries) and reports whether it has zero resources, treating any read
// failure as empty too (spec §4.7's "treats any read failure as empty").
// Backends that are not *statestore.ObjectStoreBackend (the only kind
// statestore.ListBackends/DeleteEmptyBackends ever construct) are reported
// as empty so an unexpected type never blocks reaping.
func (d *Driver) IsEmptyStateFunc() statestore.IsEmptyStateFunc {
	return func(ctx context.Context, backend statestore.Backend) bool {
		osBackend, ok := backend.(*statestore.ObjectStoreBackend)
		if !ok {
			return true
		}
		ref := osBackend.Ref()
		state, err := d.ReadState(ctx, ref.Root, ref.WorkspaceOrDefault(), backend, CommandOptions{Retries: 1})
		if err != nil {
			return true
		}
		return state.IsEmpty()
	}
}
