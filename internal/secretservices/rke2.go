package secretservices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"k8s.io/client-go/tools/clientcmd"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/secretclient"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// RKE2CredentialStore persists cluster-level RKE2Credentials (spec §4.10).
type RKE2CredentialStore struct {
	secrets *secretclient.Client
}

// NewRKE2CredentialStore returns a store wired to secrets.
func NewRKE2CredentialStore(secrets *secretclient.Client) *RKE2CredentialStore {
	return &RKE2CredentialStore{secrets: secrets}
}

// Save writes creds at path idempotently: an identical write is a no-op on
// the secret manager's version history (spec §4.10, §8).
func (s *RKE2CredentialStore) Save(ctx context.Context, path string, creds types.RKE2Credentials) error {
	blob, err := json.Marshal(creds)
	if err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.RKE2CredentialStore.Save", err)
	}
	var data map[string]any
	if err := json.Unmarshal(blob, &data); err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.RKE2CredentialStore.Save", err)
	}
	_, err = s.secrets.WriteIdempotent(ctx, path, data)
	return err
}

// Load reads and validates the RKE2Credentials stored at path.
func (s *RKE2CredentialStore) Load(ctx context.Context, path string) (types.RKE2Credentials, error) {
	data, err := s.secrets.Read(ctx, path)
	if err != nil {
		return types.RKE2Credentials{}, err
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return types.RKE2Credentials{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.RKE2CredentialStore.Load", err)
	}
	var creds types.RKE2Credentials
	if err := json.Unmarshal(blob, &creds); err != nil {
		return types.RKE2Credentials{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.RKE2CredentialStore.Load", err)
	}
	if creds.Kubeconfig == "" {
		return types.RKE2Credentials{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.RKE2CredentialStore.Load",
			errors.New("stored credentials have an empty kubeconfig"))
	}
	if _, err := clientcmd.Load([]byte(creds.Kubeconfig)); err != nil {
		return types.RKE2Credentials{}, amoebiuserr.New(amoebiuserr.KindValidation, "secretservices.RKE2CredentialStore.Load",
			fmt.Errorf("stored kubeconfig is not structurally valid: %w", err))
	}
	return creds, nil
}
