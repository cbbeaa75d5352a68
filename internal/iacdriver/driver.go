// Package iacdriver wraps the external provisioning tool binary
// ("terraform"): init/apply/destroy/show, ephemeral state
// decryption/re-encryption around every invocation, ephemeral var-file
// injection, and workspace management (spec §4.8). Grounded on
// original_source/.../utils/terraform/commands.py and .../ephemeral.py.
package iacdriver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/statestore"
	"github.com/Tuee22/amoebius-go/internal/telemetry"
)

// DefaultBasePath is the default directory containing one subdirectory per
// provisioning root, mirroring the original's default root path.
const DefaultBasePath = "/amoebius/terraform/roots"

// TransitClient is the narrow slice of secretclient.Client the ephemeral
// state discipline needs, kept as an interface so tests can fake it
// without a real secret manager.
type TransitClient interface {
	Encrypt(ctx context.Context, keyName string, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, keyName, ciphertext string) ([]byte, error)
}

// Driver runs provisioning-tool commands against a fixed base path, using
// cmd to execute the binary and transit (optional) to decrypt/encrypt
// ephemeral state when a backend names a transit key.
type Driver struct {
	basePath string
	cmd      *cmdrunner.Runner
	transit  TransitClient
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// New builds a Driver. basePath defaults to DefaultBasePath when empty.
// transit may be nil if no backend in use ever sets a transit key name.
func New(basePath string, cmd *cmdrunner.Runner, transit TransitClient, logger *slog.Logger, metrics *telemetry.Metrics) *Driver {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &Driver{basePath: basePath, cmd: cmd, transit: transit, logger: logger, metrics: metrics}
}

// rootDir returns <basePath>/<root>, verifying it exists.
func (d *Driver) rootDir(root string) (string, error) {
	dir := filepath.Join(d.basePath, root)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", amoebiuserr.New(amoebiuserr.KindPrecondition, "iacdriver.rootDir", err)
	}
	return dir, nil
}

func (d *Driver) recordInvocation(ctx context.Context, action string) {
	d.metrics.RecordIaCInvocation(ctx, action)
}

// backendOrNone normalizes a possibly-nil Backend to statestore.NoneBackend
// so ephemeral-state handling always has a concrete backend to query.
func backendOrNone(backend statestore.Backend) statestore.Backend {
	if backend == nil {
		return statestore.NoneBackend{}
	}
	return backend
}
