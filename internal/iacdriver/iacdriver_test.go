package iacdriver_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/iacdriver"
	"github.com/Tuee22/amoebius-go/internal/statestore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// installFakeTerraform writes a shell script masquerading as "terraform":
// every invocation is appended (space-joined) to $IACDRIVER_LOG; "workspace
// list" reads back $IACDRIVER_WORKSPACES (one name per line, "* default" by
// default); "workspace new NAME" appends NAME to that file; "destroy" also
// appends a marker line so tests can assert it was never invoked; "show"
// cats the state file Terraform itself would read from its working
// directory.
func installFakeTerraform(t *testing.T) (logFile, workspacesFile string) {
	t.Helper()
	dir := t.TempDir()
	logFile = filepath.Join(dir, "log")
	workspacesFile = filepath.Join(dir, "workspaces")
	require.NoError(t, os.WriteFile(workspacesFile, []byte("* default\n"), 0o644))

	script := `#!/bin/sh
echo "$*" >> "` + logFile + `"
case "$1" in
  workspace)
    case "$2" in
      list) cat "` + workspacesFile + `" ;;
      new) for name; do :; done; echo "$name" >> "` + workspacesFile + `" ;;
    esac
    ;;
  show)
    cat terraform.tfstate
    ;;
esac
exit 0
`
	scriptPath := filepath.Join(dir, "terraform")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return logFile, workspacesFile
}

func newTestDriver(t *testing.T, transit iacdriver.TransitClient) (*iacdriver.Driver, string) {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "providers/aws"), 0o755))
	runner := cmdrunner.New(nil, nil)
	return iacdriver.New(base, runner, transit, nil, nil), base
}

func readLog(t *testing.T, logFile string) string {
	t.Helper()
	data, err := os.ReadFile(logFile)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestInitInvokesTerraformInitWithFlags(t *testing.T) {
	logFile, _ := installFakeTerraform(t)
	d, _ := newTestDriver(t, nil)

	err := d.Init(t.Context(), "providers/aws", "", statestore.NoneBackend{}, iacdriver.CommandOptions{Reconfigure: true})
	require.NoError(t, err)

	assert.Contains(t, readLog(t, logFile), "init -no-color -reconfigure")
}

func TestApplyWritesEphemeralTFVarsFile(t *testing.T) {
	logFile, _ := installFakeTerraform(t)
	d, _ := newTestDriver(t, nil)

	err := d.Apply(t.Context(), "providers/aws", "", statestore.NoneBackend{}, iacdriver.CommandOptions{
		Variables: map[string]any{"region": "us-east-1"},
	})
	require.NoError(t, err)

	log := readLog(t, logFile)
	assert.Contains(t, log, "apply -no-color -auto-approve")
	assert.Contains(t, log, "-var-file")
	assert.Contains(t, log, ".auto.tfvars.json")
}

func TestEnsureWorkspaceCreatesMissingWorkspaceAndSetsEnv(t *testing.T) {
	logFile, workspacesFile := installFakeTerraform(t)
	d, _ := newTestDriver(t, nil)

	err := d.Init(t.Context(), "providers/aws", "staging", statestore.NoneBackend{}, iacdriver.CommandOptions{})
	require.NoError(t, err)

	names, err := os.ReadFile(workspacesFile)
	require.NoError(t, err)
	assert.Contains(t, string(names), "staging")
	assert.Contains(t, readLog(t, logFile), "workspace list")
}

func TestDestroyIsNoOpWhenWorkspaceMissing(t *testing.T) {
	logFile, _ := installFakeTerraform(t)
	d, _ := newTestDriver(t, nil)

	err := d.Destroy(t.Context(), "providers/aws", "nonexistent", statestore.NoneBackend{}, iacdriver.CommandOptions{})
	require.NoError(t, err)

	assert.False(t, strings.Contains(readLog(t, logFile), "destroy -no-color"))
}

type fakeBackend struct {
	transitKeyName string
	ciphertext     string
	found          bool
}

func (b *fakeBackend) TransitKeyName() string { return b.transitKeyName }
func (b *fakeBackend) ReadCiphertext(ctx context.Context) (string, bool, error) {
	return b.ciphertext, b.found, nil
}
func (b *fakeBackend) WriteCiphertext(ctx context.Context, ciphertext string) error {
	b.ciphertext = ciphertext
	b.found = true
	return nil
}

type fakeTransit struct {
	plaintext map[string][]byte
}

func (f *fakeTransit) Encrypt(ctx context.Context, keyName string, plaintext []byte) (string, error) {
	token := keyName + "-cipher"
	f.plaintext[token] = append([]byte(nil), plaintext...)
	return token, nil
}

func (f *fakeTransit) Decrypt(ctx context.Context, keyName, ciphertext string) ([]byte, error) {
	return f.plaintext[ciphertext], nil
}

func TestReadStateDecryptsEphemeralStateThenParsesShowOutput(t *testing.T) {
	_, _ = installFakeTerraform(t)
	transit := &fakeTransit{plaintext: map[string][]byte{}}
	stateJSON := `{"format_version":"1.0","terraform_version":"1.5.0","values":{"root_module":{"resources":[{}]}}}`
	transit.plaintext["demo-key-cipher"] = []byte(stateJSON)

	backend := &fakeBackend{transitKeyName: "demo-key", ciphertext: "demo-key-cipher", found: true}
	d, _ := newTestDriver(t, transit)

	state, err := d.ReadState(t.Context(), "providers/aws", "", backend, iacdriver.CommandOptions{})
	require.NoError(t, err)
	assert.False(t, state.IsEmpty())
	assert.Equal(t, "1.5.0", state.ToolVersion)
}

func TestGetOutputReturnsNotFoundForMissingOutput(t *testing.T) {
	state := types.ProvisioningState{}
	var dst string
	err := iacdriver.GetOutput(state, "missing", &dst)
	require.Error(t, err)
	kind, ok := amoebiuserr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, amoebiuserr.KindNotFound, kind)
}

func TestGetOutputDecodesTypedValue(t *testing.T) {
	state := types.ProvisioningState{
		Values: types.ProvisioningValues{
			Outputs: map[string]types.ProvisioningOutput{
				"cluster_name": {Value: "prod"},
			},
		},
	}
	var name string
	require.NoError(t, iacdriver.GetOutput(state, "cluster_name", &name))
	assert.Equal(t, "prod", name)
}

func TestIsEmptyStateFuncTreatsNonObjectStoreBackendAsEmpty(t *testing.T) {
	d, _ := newTestDriver(t, nil)
	isEmpty := d.IsEmptyStateFunc()
	assert.True(t, isEmpty(t.Context(), &fakeBackend{}))
}
