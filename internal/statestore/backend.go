// Package statestore provides pluggable ciphertext storage for the
// provisioning-tool state the iacdriver manages under tmpfs (spec §4.7).
// Grounded on original_source/.../utils/terraform/storage.py.
package statestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// Backend reads and writes the ciphertext for one (root, workspace) pair.
// TransitKeyName, if non-empty, names the transit key ephemeral usage
// should encrypt under; an empty value means ephemeral encryption is
// disabled for this backend.
type Backend interface {
	TransitKeyName() string
	ReadCiphertext(ctx context.Context) (ciphertext string, found bool, err error)
	WriteCiphertext(ctx context.Context, ciphertext string) error
}

// ValidateBackendRef enforces spec §3's naming rules: root forbids "." and
// newline (but allows "/"); workspace forbids ".", "/", and newline.
func ValidateBackendRef(ref types.ProvisioningBackendRef) error {
	if strings.ContainsAny(ref.Root, ".\n") {
		return amoebiuserr.New(amoebiuserr.KindPrecondition, "statestore.ValidateBackendRef",
			fmt.Errorf("root %q must not contain '.' or newline", ref.Root))
	}
	ws := ref.WorkspaceOrDefault()
	if strings.ContainsAny(ws, "./\n") {
		return amoebiuserr.New(amoebiuserr.KindPrecondition, "statestore.ValidateBackendRef",
			fmt.Errorf("workspace %q must not contain '.', '/', or newline", ws))
	}
	return nil
}
