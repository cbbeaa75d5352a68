package iacdriver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/statestore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// ReadState runs "terraform show -json" for root/workspace and parses the
// captured output into a ProvisioningState (spec §4.8). Retries default to
// 1 (a single attempt, no retry): an empty read most commonly means "no
// state yet", which is not a transient failure worth retrying.
func (d *Driver) ReadState(ctx context.Context, root, workspace string, backend statestore.Backend, opts CommandOptions) (types.ProvisioningState, error) {
	if opts.Retries < 1 {
		opts.Retries = 1
	}

	output, err := d.run(ctx, "show", root, workspace, backend, opts, true)
	if err != nil {
		return types.ProvisioningState{}, err
	}
	if output == "" {
		return types.ProvisioningState{}, amoebiuserr.New(amoebiuserr.KindValidation, "iacdriver.ReadState", fmt.Errorf("empty state output"))
	}

	var state types.ProvisioningState
	if err := json.Unmarshal([]byte(output), &state); err != nil {
		return types.ProvisioningState{}, amoebiuserr.New(amoebiuserr.KindValidation, "iacdriver.ReadState", err)
	}
	return state, nil
}

// GetOutput extracts output named name from state and unmarshals its value
// into dst, surfacing a precise error when the output is missing or its
// shape does not match dst (spec §4.8).
func GetOutput(state types.ProvisioningState, name string, dst any) error {
	output, ok := state.Values.Outputs[name]
	if !ok {
		return amoebiuserr.New(amoebiuserr.KindNotFound, "iacdriver.GetOutput", fmt.Errorf("output %q not found", name))
	}

	blob, err := json.Marshal(output.Value)
	if err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "iacdriver.GetOutput", err)
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "iacdriver.GetOutput", fmt.Errorf("output %q: %w", name, err))
	}
	return nil
}
