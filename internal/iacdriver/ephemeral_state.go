package iacdriver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Tuee22/amoebius-go/internal/ephemeral"
	"github.com/Tuee22/amoebius-go/internal/statestore"
)

const (
	tfstateName       = "terraform.tfstate"
	tfstateBackupName = "terraform.tfstate.backup"
)

// withEphemeralState scopes a symlink-map pointing <terraformDir>/terraform.tfstate
// and its .backup sibling at ephemeral tmpfs files. If backend.TransitKeyName
// is set, it decrypts the stored ciphertext into the primary ephemeral file
// on entry, and re-encrypts whatever plaintext is there (if any) back into
// the backend on exit (spec §4.8).
func (d *Driver) withEphemeralState(ctx context.Context, backend statestore.Backend, terraformDir string, fn func() error) error {
	backend = backendOrNone(backend)
	transitKeyName := backend.TransitKeyName()
	useEncryption := transitKeyName != "" && d.transit != nil

	targets := map[string]string{
		tfstateName:       filepath.Join(terraformDir, tfstateName),
		tfstateBackupName: filepath.Join(terraformDir, tfstateBackupName),
	}

	return ephemeral.SymlinkMap("tfstate-", targets, func(paths map[string]string) error {
		statePath := paths[tfstateName]

		if useEncryption {
			ciphertext, found, err := backend.ReadCiphertext(ctx)
			if err != nil {
				return err
			}
			if found {
				plaintext, err := d.transit.Decrypt(ctx, transitKeyName, ciphertext)
				if err != nil {
					return err
				}
				if err := os.WriteFile(statePath, plaintext, 0o600); err != nil {
					return err
				}
			}
		}

		runErr := fn()

		if useEncryption {
			plaintext, readErr := os.ReadFile(statePath)
			if readErr == nil && len(plaintext) > 0 {
				ciphertext, encErr := d.transit.Encrypt(ctx, transitKeyName, plaintext)
				if encErr != nil {
					if runErr == nil {
						return encErr
					}
					return runErr
				}
				if writeErr := backend.WriteCiphertext(ctx, ciphertext); writeErr != nil && runErr == nil {
					return writeErr
				}
			}
			// Missing or empty state file: nothing to re-encrypt.
		}

		return runErr
	})
}

// withTFVars scopes a single ephemeral *.auto.tfvars.json file for apply/
// destroy actions carrying a non-empty variable map, yielding the
// "-var-file <path>" flags to append. Other actions, or an empty map,
// yield no flags (spec §4.8).
func withTFVars(action string, variables map[string]any, fn func(extraArgs []string) error) error {
	if (action != "apply" && action != "destroy") || len(variables) == 0 {
		return fn(nil)
	}

	return ephemeral.File("tfvars-", func(path string) error {
		encoded, err := json.MarshalIndent(variables, "", "  ")
		if err != nil {
			return err
		}
		tfvarsPath := path + ".auto.tfvars.json"
		if err := os.Rename(path, tfvarsPath); err != nil {
			return err
		}

		if err := os.WriteFile(tfvarsPath, encoded, 0o600); err != nil {
			return err
		}
		return fn([]string{"-var-file", tfvarsPath})
	})
}
