package statestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// K8sSecretBackend stores ciphertext in a Kubernetes Secret named
// tf-backend-<root>-<workspace>, under data["ciphertext"] (spec §4.7).
// Driven entirely through the kubectl binary, never the Kubernetes API
// directly, per the module's Non-goal on direct API calls.
type K8sSecretBackend struct {
	runner         *cmdrunner.Runner
	namespace      string
	ref            types.ProvisioningBackendRef
	transitKeyName string
}

// NewK8sSecretBackend builds a K8sSecretBackend for ref in namespace.
// transitKeyName may be empty to disable ephemeral encryption.
func NewK8sSecretBackend(runner *cmdrunner.Runner, namespace string, ref types.ProvisioningBackendRef, transitKeyName string) *K8sSecretBackend {
	return &K8sSecretBackend{runner: runner, namespace: namespace, ref: ref, transitKeyName: transitKeyName}
}

func (b *K8sSecretBackend) secretName() string {
	return fmt.Sprintf("tf-backend-%s-%s", b.ref.Root, b.ref.WorkspaceOrDefault())
}

func (b *K8sSecretBackend) TransitKeyName() string { return b.transitKeyName }

type k8sSecretJSON struct {
	Data map[string]string `json:"data"`
}

func (b *K8sSecretBackend) ReadCiphertext(ctx context.Context) (string, bool, error) {
	out, err := b.runner.Run(ctx, []string{
		"kubectl", "get", "secret", b.secretName(), "-n", b.namespace, "-o", "json",
	}, cmdrunner.Options{Sensitive: true, OKCodes: []int{0}})
	if err != nil {
		var cmdErr *cmdrunner.CommandError
		if errors.As(err, &cmdErr) {
			return "", false, nil
		}
		return "", false, err
	}

	var secret k8sSecretJSON
	if jsonErr := json.Unmarshal([]byte(out), &secret); jsonErr != nil {
		return "", false, amoebiuserr.New(amoebiuserr.KindValidation, "statestore.K8sSecretBackend.ReadCiphertext", jsonErr)
	}
	encoded, ok := secret.Data["ciphertext"]
	if !ok {
		return "", false, nil
	}
	decoded, decErr := base64.StdEncoding.DecodeString(encoded)
	if decErr != nil {
		return "", false, amoebiuserr.New(amoebiuserr.KindValidation, "statestore.K8sSecretBackend.ReadCiphertext", decErr)
	}
	return string(decoded), true, nil
}

func (b *K8sSecretBackend) WriteCiphertext(ctx context.Context, ciphertext string) error {
	manifest := map[string]any{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata": map[string]any{
			"name":      b.secretName(),
			"namespace": b.namespace,
		},
		"data": map[string]string{
			"ciphertext": base64.StdEncoding.EncodeToString([]byte(ciphertext)),
		},
	}
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("statestore: encode secret manifest: %w", err)
	}

	_, err = b.runner.Run(ctx, []string{"kubectl", "apply", "-f", "-"}, cmdrunner.Options{
		Sensitive: true,
		Stdin:     string(encoded),
	})
	return err
}
