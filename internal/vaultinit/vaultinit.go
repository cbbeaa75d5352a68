// Package vaultinit is supplemental bootstrap tooling layered on top of
// secretclient: Shamir's-secret-sharing initialize/unseal/configure flows
// for an already-deployed secret manager, driven through its own CLI via
// cmdrunner rather than secretclient's HTTP surface (the CLI is what the
// operator-facing init tooling controls before any application ever logs
// in). Grounded on
// original_source/.../secrets/vault_unseal.py and unseal_vault.py.
package vaultinit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/cryptobox"
	"github.com/Tuee22/amoebius-go/internal/retry"
	"github.com/Tuee22/amoebius-go/internal/telemetry"
)

// InitData is the Shamir unseal-key set and root token a fresh init
// produces (grounds VaultInitData).
type InitData struct {
	UnsealKeysB64   []string `json:"unsealKeysB64"`
	UnsealKeysHex   []string `json:"unsealKeysHex"`
	UnsealShares    int      `json:"unsealShares"`
	UnsealThreshold int      `json:"unsealThreshold"`
	RootToken       string   `json:"rootToken"`
}

// Bootstrapper drives the secret manager's own CLI to initialize, unseal,
// and configure it.
type Bootstrapper struct {
	cmd     *cmdrunner.Runner
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New returns a Bootstrapper wired to cmd. logger/metrics may be nil.
func New(cmd *cmdrunner.Runner, logger *slog.Logger, metrics *telemetry.Metrics) *Bootstrapper {
	return &Bootstrapper{cmd: cmd, logger: logger, metrics: metrics}
}

type statusOutput struct {
	Initialized bool `json:"initialized"`
}

// Status reports whether the secret manager at addr has been initialized,
// retrying up to 30 times since the server may still be coming up
// (grounds is_vault_initialized's @async_retry(retries=30)).
func (b *Bootstrapper) Status(ctx context.Context, addr string) (bool, error) {
	return retry.Do(ctx, b.logger, b.metrics, retry.Config{
		Retries: 30,
		Label:   "vaultinit.Status",
	}, addr, func(ctx context.Context) (bool, error) {
		out, err := b.cmd.Run(ctx, []string{"vault", "status", "-format=json"}, cmdrunner.Options{
			Env:       map[string]string{"VAULT_ADDR": addr},
			Sensitive: false,
			OKCodes:   []int{0, 1, 2},
		})
		if err != nil {
			return false, err
		}
		var parsed statusOutput
		if err := json.Unmarshal([]byte(out), &parsed); err != nil {
			return false, amoebiuserr.New(amoebiuserr.KindValidation, "vaultinit.Status", err)
		}
		return parsed.Initialized, nil
	})
}

// Initialize runs Shamir init against addr, returning the unseal keys and
// root token.
func (b *Bootstrapper) Initialize(ctx context.Context, addr string, shares, threshold int) (InitData, error) {
	out, err := b.cmd.Run(ctx, []string{
		"vault", "operator", "init",
		fmt.Sprintf("-key-shares=%d", shares),
		fmt.Sprintf("-key-threshold=%d", threshold),
		"-format=json",
	}, cmdrunner.Options{Env: map[string]string{"VAULT_ADDR": addr}, Sensitive: true})
	if err != nil {
		return InitData{}, err
	}

	var data InitData
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		return InitData{}, amoebiuserr.New(amoebiuserr.KindValidation, "vaultinit.Initialize", err)
	}
	return data, nil
}

// UnsealAll concurrently unseals every replica named in podAddrs, each
// with its own random threshold-sized subset of keys (grounds
// unseal_vault_pods/unseal_vault_pods_concurrently).
func (b *Bootstrapper) UnsealAll(ctx context.Context, podAddrs []string, initData InitData) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, addr := range podAddrs {
		addr := addr
		keys := sampleKeys(initData.UnsealKeysB64, initData.UnsealThreshold)
		group.Go(func() error {
			for _, key := range keys {
				if _, err := b.cmd.Run(gctx, []string{"vault", "operator", "unseal", key}, cmdrunner.Options{
					Env: map[string]string{"VAULT_ADDR": addr}, Sensitive: true,
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return group.Wait()
}

func sampleKeys(keys []string, threshold int) []string {
	if threshold >= len(keys) {
		return keys
	}
	shuffled := append([]string(nil), keys...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:threshold]
}

// SaveInitData persists data at path, encrypted under password, via
// cryptobox (grounds save_vault_init_data_to_file).
func SaveInitData(data InitData, path, password string) error {
	return cryptobox.EncryptToFile(data, password, path)
}

// LoadInitData recovers data previously saved with SaveInitData.
func LoadInitData(path, password string) (InitData, error) {
	var data InitData
	if err := cryptobox.DecryptFromFile(path, password, &data); err != nil {
		return InitData{}, err
	}
	return data, nil
}

// ConfigureOptions names the Terraform-output-derived values Configure
// needs to enable Kubernetes auth and bind the amoebius admin role
// (grounds configure_vault).
type ConfigureOptions struct {
	ServiceAccountName      string
	ServiceAccountNamespace string
	KubernetesHost          string
	AdminPolicyName         string
	AdminRoleName           string
	AdminPolicyHCL          string
}

// Configure enables Kubernetes auth, KV v2, and the transit engine
// idempotently (check-then-enable, grounds configure_vault), then writes
// the admin policy and k8s-auth role.
func (b *Bootstrapper) Configure(ctx context.Context, addr, rootToken string, opts ConfigureOptions) error {
	env := map[string]string{"VAULT_ADDR": addr, "VAULT_TOKEN": rootToken}

	if err := b.enableIfMissing(ctx, env, "auth list", "auth", "enable", "kubernetes"); err != nil {
		return err
	}

	saToken, err := b.cmd.Run(ctx, []string{
		"kubectl", "create", "token", opts.ServiceAccountName,
		"--duration=315360000s", "-n", opts.ServiceAccountNamespace,
	}, cmdrunner.Options{Sensitive: true})
	if err != nil {
		return err
	}
	caCert, err := b.cmd.Run(ctx, []string{
		"kubectl", "get", "configmap", "kube-root-ca.crt", "-n", "kube-public",
		"-o", `jsonpath={.data['ca\.crt']}`,
	}, cmdrunner.Options{Sensitive: false})
	if err != nil {
		return err
	}

	if _, err := b.cmd.Run(ctx, []string{
		"vault", "write", "auth/kubernetes/config",
		"token_reviewer_jwt=" + saToken,
		"kubernetes_host=" + opts.KubernetesHost,
		"kubernetes_ca_cert=" + caCert,
	}, cmdrunner.Options{Env: env, Sensitive: true}); err != nil {
		return err
	}

	if err := b.enableSecretsEngineIfMissing(ctx, env, "secret", "kv", "-version=2"); err != nil {
		return err
	}
	if err := b.enableSecretsEngineIfMissing(ctx, env, "transit", "transit"); err != nil {
		return err
	}

	if _, err := b.cmd.Run(ctx, []string{"vault", "policy", "write", opts.AdminPolicyName, "-"}, cmdrunner.Options{
		Env: env, Stdin: opts.AdminPolicyHCL, Sensitive: false,
	}); err != nil {
		return err
	}

	_, err = b.cmd.Run(ctx, []string{
		"vault", "write", "auth/kubernetes/role/" + opts.AdminRoleName,
		"bound_service_account_names=" + opts.ServiceAccountName,
		"bound_service_account_namespaces=" + opts.ServiceAccountNamespace,
		"policies=" + opts.AdminPolicyName,
		"ttl=1h",
	}, cmdrunner.Options{Env: env, Sensitive: false})
	return err
}

func (b *Bootstrapper) enableIfMissing(ctx context.Context, env map[string]string, listArgs string, enableArgs ...string) error {
	out, err := b.cmd.Run(ctx, append([]string{"vault"}, strings.Fields(listArgs)...), cmdrunner.Options{Env: env, Sensitive: false, Retries: 30})
	if err != nil {
		return err
	}
	if strings.Contains(out, "kubernetes/") {
		return nil
	}
	_, err = b.cmd.Run(ctx, append([]string{"vault"}, enableArgs...), cmdrunner.Options{Env: env, Sensitive: false})
	return err
}

func (b *Bootstrapper) enableSecretsEngineIfMissing(ctx context.Context, env map[string]string, path string, engineArgs ...string) error {
	out, err := b.cmd.Run(ctx, []string{"vault", "secrets", "list", "-format=json"}, cmdrunner.Options{Env: env, Sensitive: false})
	if err != nil {
		return err
	}
	if strings.Contains(out, path+"/") {
		return nil
	}
	argv := append([]string{"vault", "secrets", "enable", "-path=" + path}, engineArgs...)
	_, err = b.cmd.Run(ctx, argv, cmdrunner.Options{Env: env, Sensitive: false})
	return err
}
