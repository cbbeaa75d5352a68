package secretservices

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/iacdriver"
	"github.com/Tuee22/amoebius-go/internal/objectstore"
	"github.com/Tuee22/amoebius-go/internal/secretclient"
	"github.com/Tuee22/amoebius-go/internal/statestore"
	"github.com/Tuee22/amoebius-go/internal/telemetry"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// AdminFactory connects to the object store as root using the credentials
// ObjectStoreDeploy resolves after applying infrastructure. The concrete
// SDK behind it is a black box per spec §1.
type AdminFactory func(cred types.ObjectStoreCredential) (objectstore.Admin, error)

// ObjectStoreDeployOptions configures one ObjectStoreDeploy/Rotate call.
type ObjectStoreDeployOptions struct {
	// RootCredentialPath is the fixed secret-manager path holding the root
	// access/secret key pair (spec §4.10: "a fixed path").
	RootCredentialPath string
	// UserPrefix is the secret-manager path prefix under which per-SA
	// credentials are stored, keyed by "namespace:name".
	UserPrefix string
	// TransitKeyName is the transit key ensured before materializing
	// infrastructure.
	TransitKeyName string
	// IaCRoot/Workspace/Backend describe the provisioning-tool root this
	// deployment's infrastructure lives under.
	IaCRoot   string
	Workspace string
	Backend   statestore.Backend
	// EndpointOutput names the provisioning-tool output carrying the
	// object store's connection URL.
	EndpointOutput string
	Secure         bool
	Admin          AdminFactory
	KubeconfigEnv  map[string]string
}

// ObjectStoreService drives the object-store user lifecycle (spec §4.10),
// grounded on original_source/.../services/minio.py's minio_deploy and
// rotate_minio_secrets.
type ObjectStoreService struct {
	secrets *secretclient.Client
	iac     *iacdriver.Driver
	cmd     *cmdrunner.Runner
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewObjectStoreService returns a service wired to its collaborators.
// logger/metrics may be nil.
func NewObjectStoreService(secrets *secretclient.Client, iac *iacdriver.Driver, cmd *cmdrunner.Runner, logger *slog.Logger, metrics *telemetry.Metrics) *ObjectStoreService {
	return &ObjectStoreService{secrets: secrets, iac: iac, cmd: cmd, logger: logger, metrics: metrics}
}

func randomHex(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", amoebiuserr.New(amoebiuserr.KindCrypto, "secretservices.randomHex", err)
	}
	return hex.EncodeToString(buf), nil
}

func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, ":", "-")
}

func policyName(saKey string) string       { return "objectstore-user-" + sanitizeKey(saKey) }
func secretPolicyName(saKey string) string { return "minio-user-" + sanitizeKey(saKey) }
func roleName(saKey string) string         { return "role-minio-" + sanitizeKey(saKey) }

// listServiceAccounts enumerates every Kubernetes ServiceAccount currently
// in the cluster via "kubectl get serviceaccounts -A -o json" (spec §4.10),
// grounded on original_source/.../utils/k8s.py's get_service_accounts.
func listServiceAccounts(ctx context.Context, cmd *cmdrunner.Runner) (map[string]types.KubernetesServiceAccount, error) {
	out, err := cmd.Run(ctx, []string{"kubectl", "get", "serviceaccounts", "-A", "-o", "json"}, cmdrunner.Options{Sensitive: false})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Items []struct {
			Metadata struct {
				Namespace string `json:"namespace"`
				Name      string `json:"name"`
			} `json:"metadata"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.listServiceAccounts", err)
	}

	found := make(map[string]types.KubernetesServiceAccount, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Metadata.Namespace == "" || item.Metadata.Name == "" {
			continue
		}
		sa := types.KubernetesServiceAccount{Namespace: item.Metadata.Namespace, Name: item.Metadata.Name}
		found[sa.Key()] = sa
	}
	return found, nil
}

type rootCredential struct {
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

// ensureRootCredential reads the root credential at path, generating and
// storing a fresh random one if absent (spec §4.10: "ensure or create a
// root credential at a fixed path").
func (s *ObjectStoreService) ensureRootCredential(ctx context.Context, path string) (rootCredential, error) {
	data, err := s.secrets.Read(ctx, path)
	if err == nil {
		var cred rootCredential
		blob, mErr := json.Marshal(data)
		if mErr != nil {
			return rootCredential{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.ensureRootCredential", mErr)
		}
		if uErr := json.Unmarshal(blob, &cred); uErr != nil {
			return rootCredential{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.ensureRootCredential", uErr)
		}
		return cred, nil
	}
	if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindNotFound {
		return rootCredential{}, err
	}

	secretKey, err := randomHex(32)
	if err != nil {
		return rootCredential{}, err
	}
	cred := rootCredential{AccessKey: "root", SecretKey: secretKey}
	if err := s.writeRootCredential(ctx, path, cred); err != nil {
		return rootCredential{}, err
	}
	return cred, nil
}

func (s *ObjectStoreService) writeRootCredential(ctx context.Context, path string, cred rootCredential) error {
	blob, err := json.Marshal(cred)
	if err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.writeRootCredential", err)
	}
	var data map[string]any
	if err := json.Unmarshal(blob, &data); err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.writeRootCredential", err)
	}
	return s.secrets.Write(ctx, path, data)
}

// materializeInfra runs init+apply against opts' root/workspace/backend
// with the root credential threaded in as provisioning-tool variables,
// then reads back the connection endpoint output.
func (s *ObjectStoreService) materializeInfra(ctx context.Context, opts ObjectStoreDeployOptions, cred rootCredential) (string, error) {
	cmdOpts := iacdriver.CommandOptions{
		Variables: map[string]any{
			"root_user":     cred.AccessKey,
			"root_password": cred.SecretKey,
		},
	}
	if err := s.iac.Init(ctx, opts.IaCRoot, opts.Workspace, opts.Backend, cmdOpts); err != nil {
		return "", err
	}
	if err := s.iac.Apply(ctx, opts.IaCRoot, opts.Workspace, opts.Backend, cmdOpts); err != nil {
		return "", err
	}

	state, err := s.iac.ReadState(ctx, opts.IaCRoot, opts.Workspace, opts.Backend, iacdriver.CommandOptions{Retries: 1})
	if err != nil {
		return "", err
	}
	var endpoint string
	if err := iacdriver.GetOutput(state, opts.EndpointOutput, &endpoint); err != nil {
		return "", err
	}
	return endpoint, nil
}

// Deploy materializes the object store, connects as root, creates the
// root bucket, and reconciles per-ServiceAccount access (spec §4.10).
func (s *ObjectStoreService) Deploy(ctx context.Context, model types.ObjectStoreDeployment, opts ObjectStoreDeployOptions) error {
	if err := s.secrets.WriteTransitKey(ctx, opts.TransitKeyName); err != nil {
		return err
	}

	rootCred, err := s.ensureRootCredential(ctx, opts.RootCredentialPath)
	if err != nil {
		return err
	}

	endpoint, err := s.materializeInfra(ctx, opts, rootCred)
	if err != nil {
		return err
	}

	admin, err := opts.Admin(types.ObjectStoreCredential{
		URL: endpoint, AccessKey: rootCred.AccessKey, SecretKey: rootCred.SecretKey, Secure: opts.Secure,
	})
	if err != nil {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretservices.ObjectStoreService.Deploy", err)
	}

	if err := admin.EnsureBucket(ctx, model.RootBucket); err != nil {
		return err
	}

	clusterSAs, err := listServiceAccounts(ctx, s.cmd)
	if err != nil {
		return err
	}

	desiredKeys := make(map[string]bool, len(model.ServiceAccounts))
	group, gctx := errgroup.WithContext(ctx)
	for _, access := range model.ServiceAccounts {
		access := access
		desiredKeys[access.ServiceAccount.Key()] = true
		if _, present := clusterSAs[access.ServiceAccount.Key()]; !present {
			continue
		}
		group.Go(func() error {
			return s.configureServiceAccount(gctx, admin, opts, access)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	return s.reapStaleUsers(ctx, admin, opts, desiredKeys)
}

func (s *ObjectStoreService) userSecretPath(opts ObjectStoreDeployOptions, saKey string) string {
	return strings.TrimRight(opts.UserPrefix, "/") + "/" + saKey
}

type userCredential struct {
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

func (s *ObjectStoreService) configureServiceAccount(ctx context.Context, admin objectstore.Admin, opts ObjectStoreDeployOptions, access types.ServiceAccountAccess) error {
	saKey := access.ServiceAccount.Key()
	secretPath := s.userSecretPath(opts, saKey)

	cred, err := s.loadOrCreateUserCredential(ctx, secretPath, saKey)
	if err != nil {
		return err
	}

	if err := admin.EnsureUser(ctx, cred.AccessKey, cred.SecretKey); err != nil {
		return err
	}

	perms := make([]objectstore.Permission, 0, len(access.BucketAccess))
	for _, ba := range access.BucketAccess {
		perms = append(perms, objectstore.Permission{Bucket: ba.Bucket, Access: string(ba.Permission)})
	}
	pName := policyName(saKey)
	if err := admin.WritePolicy(ctx, pName, perms); err != nil {
		return err
	}
	if err := admin.AttachPolicy(ctx, cred.AccessKey, pName); err != nil {
		return err
	}

	if err := s.secrets.WriteReadOnlyKVPolicy(ctx, secretPolicyName(saKey), secretPath); err != nil {
		return err
	}
	s.metrics.RecordObjectStoreUserOp(ctx, "configure")
	return s.secrets.CreateKubernetesRole(ctx, roleName(saKey),
		[]string{access.ServiceAccount.Name}, []string{access.ServiceAccount.Namespace},
		[]string{secretPolicyName(saKey)}, 3600)
}

func (s *ObjectStoreService) loadOrCreateUserCredential(ctx context.Context, secretPath, saKey string) (userCredential, error) {
	data, err := s.secrets.Read(ctx, secretPath)
	if err == nil {
		var cred userCredential
		blob, mErr := json.Marshal(data)
		if mErr != nil {
			return userCredential{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.loadOrCreateUserCredential", mErr)
		}
		if uErr := json.Unmarshal(blob, &cred); uErr != nil {
			return userCredential{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.loadOrCreateUserCredential", uErr)
		}
		return cred, nil
	}
	if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindNotFound {
		return userCredential{}, err
	}

	secretKey, err := randomHex(24)
	if err != nil {
		return userCredential{}, err
	}
	cred := userCredential{AccessKey: "sa-" + sanitizeKey(saKey), SecretKey: secretKey}
	blob, err := json.Marshal(cred)
	if err != nil {
		return userCredential{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.loadOrCreateUserCredential", err)
	}
	var writeData map[string]any
	if err := json.Unmarshal(blob, &writeData); err != nil {
		return userCredential{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.loadOrCreateUserCredential", err)
	}
	if err := s.secrets.Write(ctx, secretPath, writeData); err != nil {
		return userCredential{}, err
	}
	return cred, nil
}

// reapStaleUsers removes every provisioned user whose key is present in
// the secret manager but absent from desiredKeys (spec §4.10), fanning the
// removals out in parallel.
func (s *ObjectStoreService) reapStaleUsers(ctx context.Context, admin objectstore.Admin, opts ObjectStoreDeployOptions, desiredKeys map[string]bool) error {
	existing, err := s.secrets.List(ctx, opts.UserPrefix)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, saKey := range existing {
		saKey := strings.TrimSuffix(saKey, "/")
		if desiredKeys[saKey] {
			continue
		}
		group.Go(func() error {
			return s.removeStaleUser(gctx, admin, opts, saKey)
		})
	}
	return group.Wait()
}

func (s *ObjectStoreService) removeStaleUser(ctx context.Context, admin objectstore.Admin, opts ObjectStoreDeployOptions, saKey string) error {
	secretPath := s.userSecretPath(opts, saKey)
	data, err := s.secrets.Read(ctx, secretPath)
	if err != nil {
		if kind, ok := amoebiuserr.KindOf(err); ok && kind == amoebiuserr.KindNotFound {
			return nil
		}
		return err
	}
	var cred userCredential
	blob, mErr := json.Marshal(data)
	if mErr != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.removeStaleUser", mErr)
	}
	if uErr := json.Unmarshal(blob, &cred); uErr != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.removeStaleUser", uErr)
	}

	if err := admin.RemoveUser(ctx, cred.AccessKey); err != nil {
		return err
	}
	if err := s.secrets.DeleteKubernetesRole(ctx, roleName(saKey)); err != nil {
		return err
	}
	s.metrics.RecordObjectStoreUserOp(ctx, "reap")
	return s.secrets.Delete(ctx, secretPath, true)
}

// RotateRoot regenerates the root credential and reapplies infrastructure
// so the deployed object store picks up the new password (spec §4.10:
// "Rotation rewrites the root secret ... reapplying infra").
func (s *ObjectStoreService) RotateRoot(ctx context.Context, opts ObjectStoreDeployOptions) (string, error) {
	secretKey, err := randomHex(32)
	if err != nil {
		return "", err
	}
	cred := rootCredential{AccessKey: "root", SecretKey: secretKey}
	if err := s.writeRootCredential(ctx, opts.RootCredentialPath, cred); err != nil {
		return "", err
	}
	return s.materializeInfra(ctx, opts, cred)
}

// RotateUserSecret regenerates a single ServiceAccount's object-store
// credential, recreating the user under the object store's Admin surface
// since EnsureUser leaves an existing identical-named user untouched.
func (s *ObjectStoreService) RotateUserSecret(ctx context.Context, admin objectstore.Admin, opts ObjectStoreDeployOptions, sa types.KubernetesServiceAccount) error {
	saKey := sa.Key()
	secretPath := s.userSecretPath(opts, saKey)

	existing, err := s.loadOrCreateUserCredential(ctx, secretPath, saKey)
	if err != nil {
		return err
	}

	secretKey, err := randomHex(24)
	if err != nil {
		return err
	}
	newCred := userCredential{AccessKey: existing.AccessKey, SecretKey: secretKey}

	if err := admin.RemoveUser(ctx, existing.AccessKey); err != nil {
		return err
	}
	if err := admin.EnsureUser(ctx, newCred.AccessKey, newCred.SecretKey); err != nil {
		return err
	}
	if err := admin.AttachPolicy(ctx, newCred.AccessKey, policyName(saKey)); err != nil {
		return err
	}

	blob, err := json.Marshal(newCred)
	if err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.RotateUserSecret", err)
	}
	var data map[string]any
	if err := json.Unmarshal(blob, &data); err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.RotateUserSecret", err)
	}
	return s.secrets.Write(ctx, secretPath, data)
}
