// Package secretservices composes secretclient, sshcore, and iacdriver into
// the caller-facing lifecycles spec §4.10 names: per-node SSH config
// storage with TOFU, object-store user provisioning, and RKE2 credential
// persistence. Grounded on original_source/.../secrets/ssh.py,
// .../secrets/rke2.py, and .../services/minio.py + .../utils/minio.py.
package secretservices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/secretclient"
	"github.com/Tuee22/amoebius-go/internal/sshcore"
	"github.com/Tuee22/amoebius-go/internal/telemetry"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// clock abstracts "now" so tests can control expiry without sleeping.
// Production code uses realClock, which calls nowUnix in time.go, the only
// place time.Now appears in this package.
type clock interface {
	nowUnix() int64
}

// SSHStore manages per-node SSH connection envelopes in the secret manager,
// including TOFU host-key discovery (spec §4.10).
type SSHStore struct {
	secrets *secretclient.Client
	ssh     *sshcore.Runner
	logger  *slog.Logger
	metrics *telemetry.Metrics
	clock   clock
}

// NewSSHStore returns an SSHStore wired to secrets and ssh. logger/metrics
// may be nil.
func NewSSHStore(secrets *secretclient.Client, ssh *sshcore.Runner, logger *slog.Logger, metrics *telemetry.Metrics) *SSHStore {
	return &SSHStore{secrets: secrets, ssh: ssh, logger: logger, metrics: metrics, clock: realClock{}}
}

func readEnvelope(data map[string]any) (types.SSHVaultEnvelope, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return types.SSHVaultEnvelope{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.readEnvelope", err)
	}
	var env types.SSHVaultEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return types.SSHVaultEnvelope{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.readEnvelope", err)
	}
	return env, nil
}

func envelopeToData(env types.SSHVaultEnvelope) (map[string]any, error) {
	blob, err := json.Marshal(env)
	if err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.envelopeToData", err)
	}
	var data map[string]any
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.envelopeToData", err)
	}
	return data, nil
}

// Store writes cfg at path. When cfg has no host keys yet, the envelope is
// given a TOFUGracePeriodSeconds expiry (spec §4.10: "if hostKeys empty,
// set expiresAt = now+3600").
func (s *SSHStore) Store(ctx context.Context, path string, cfg types.SSHConfig) error {
	env := types.SSHVaultEnvelope{SSHConfig: cfg}
	if cfg.RequiresTOFU() {
		expires := s.clock.nowUnix() + types.TOFUGracePeriodSeconds
		env.ExpiresAt = &expires
	}
	data, err := envelopeToData(env)
	if err != nil {
		return err
	}
	return s.secrets.Write(ctx, path, data)
}

// StoreWithTOFU stores cfg then immediately performs TOFU discovery. A TOFU
// failure hard-deletes the just-stored path before the error is surfaced
// (spec §4.10), so a retried call never finds a half-populated envelope.
func (s *SSHStore) StoreWithTOFU(ctx context.Context, path string, cfg types.SSHConfig) error {
	if err := s.Store(ctx, path, cfg); err != nil {
		return err
	}
	if err := s.TofuPopulate(ctx, path); err != nil {
		if delErr := s.secrets.Delete(ctx, path, true); delErr != nil {
			return amoebiuserr.New(amoebiuserr.KindTransient, "secretservices.StoreWithTOFU",
				fmt.Errorf("tofu failed (%w) and compensating delete also failed: %v", err, delErr))
		}
		return err
	}
	return nil
}

// Get reads the SSHConfig at path. An expired envelope is hard-deleted and
// reported as not found. When tofuIfMissing is set and the stored config
// has no host keys, TOFU runs and the config is re-read before returning
// (spec §4.10).
func (s *SSHStore) Get(ctx context.Context, path string, tofuIfMissing bool) (types.SSHConfig, error) {
	env, err := s.readAndCheckExpiry(ctx, path)
	if err != nil {
		return types.SSHConfig{}, err
	}

	if tofuIfMissing && env.SSHConfig.RequiresTOFU() {
		if err := s.TofuPopulate(ctx, path); err != nil {
			return types.SSHConfig{}, err
		}
		env, err = s.readAndCheckExpiry(ctx, path)
		if err != nil {
			return types.SSHConfig{}, err
		}
	}
	return env.SSHConfig, nil
}

func (s *SSHStore) readAndCheckExpiry(ctx context.Context, path string) (types.SSHVaultEnvelope, error) {
	data, err := s.secrets.Read(ctx, path)
	if err != nil {
		return types.SSHVaultEnvelope{}, err
	}
	env, err := readEnvelope(data)
	if err != nil {
		return types.SSHVaultEnvelope{}, err
	}
	if env.ExpiresAt != nil && *env.ExpiresAt <= s.clock.nowUnix() {
		if delErr := s.secrets.Delete(ctx, path, true); delErr != nil {
			return types.SSHVaultEnvelope{}, amoebiuserr.New(amoebiuserr.KindTransient, "secretservices.Get", delErr)
		}
		return types.SSHVaultEnvelope{}, amoebiuserr.NotFound("secretservices.Get", fmt.Errorf("ssh config at %q expired", path))
	}
	return env, nil
}

// TofuPopulate requires the stored config at path to have empty HostKeys;
// it performs the TOFU handshake and writes back the updated envelope with
// ExpiresAt cleared (spec §4.10).
func (s *SSHStore) TofuPopulate(ctx context.Context, path string) error {
	data, err := s.secrets.Read(ctx, path)
	if err != nil {
		return err
	}
	env, err := readEnvelope(data)
	if err != nil {
		return err
	}
	if !env.SSHConfig.RequiresTOFU() {
		return amoebiuserr.New(amoebiuserr.KindPrecondition, "secretservices.TofuPopulate",
			fmt.Errorf("ssh config at %q already has host keys", path))
	}

	hostKeys, err := s.ssh.GetServerKey(ctx, env.SSHConfig)
	if err != nil {
		return err
	}

	env.SSHConfig.HostKeys = hostKeys
	env.ExpiresAt = nil
	newData, err := envelopeToData(env)
	if err != nil {
		return err
	}
	return s.secrets.Write(ctx, path, newData)
}

// Delete removes the SSH envelope at path. Soft deletes (hard=false)
// validate the path is present first; hard deletes tolerate a missing
// path (spec §4.10).
func (s *SSHStore) Delete(ctx context.Context, path string, hard bool) error {
	if !hard {
		if _, err := s.secrets.Read(ctx, path); err != nil {
			return err
		}
	}
	return s.secrets.Delete(ctx, path, hard)
}

type realClock struct{}

func (realClock) nowUnix() int64 { return nowUnix() }
