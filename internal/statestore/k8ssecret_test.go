package statestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/statestore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// installFakeKubectl writes a shell script that behaves like a tiny,
// file-backed kubectl: `apply -f -` stores whatever JSON it reads from
// stdin, keyed by name ("/" in a name is mapped to "_" in the file name);
// `get secret <name> -o json` echoes it back or exits 1 if unknown.
func installFakeKubectl(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	require.NoError(t, os.MkdirAll(store, 0o755))

	script := `#!/bin/sh
set -e
if [ "$1" = "apply" ]; then
  tmp=$(mktemp)
  cat > "$tmp"
  name=$(sed -n 's/.*"name": *"\([^"]*\)".*/\1/p' "$tmp" | head -n1)
  mv "$tmp" "` + store + `/$(echo "$name" | tr / _).json"
  exit 0
fi
if [ "$1" = "get" ] && [ "$2" = "secret" ]; then
  name="$3"
  f="` + store + `/$(echo "$name" | tr / _).json"
  if [ -f "$f" ]; then
    cat "$f"
    exit 0
  fi
  echo "secrets \"$name\" not found" >&2
  exit 1
fi
exit 1
`
	scriptPath := filepath.Join(dir, "kubectl")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return scriptPath
}

func TestK8sSecretBackendRoundTrip(t *testing.T) {
	installFakeKubectl(t)
	runner := cmdrunner.New(nil, nil)
	ref := types.ProvisioningBackendRef{Root: "providers/aws", Workspace: "prod"}
	b := statestore.NewK8sSecretBackend(runner, "amoebius", ref, "")
	ctx := t.Context()

	_, found, err := b.ReadCiphertext(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.WriteCiphertext(ctx, "ciphertext-blob"))

	got, found, err := b.ReadCiphertext(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ciphertext-blob", got)
}
