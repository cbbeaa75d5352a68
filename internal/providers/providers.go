// Package providers holds the cloud-credential shapes that cross the
// boundary between a secret-manager KV-v2 read and a provisioning-tool
// environment: one struct per cloud, each knowing how to render itself as
// the environment variables that tool expects (spec §9 Open Question #1).
package providers

import (
	"encoding/json"
	"fmt"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
)

// Name identifies which cloud a credential secret belongs to.
type Name string

const (
	AWS   Name = "aws"
	Azure Name = "azure"
	GCP   Name = "gcp"
)

// AWSAPIKey is the decoded shape of an AWS credential secret.
type AWSAPIKey struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
}

// ToEnvDict renders the credential as the environment variables the AWS
// SDK/CLI and Terraform's AWS provider both read directly.
func (k AWSAPIKey) ToEnvDict() map[string]string {
	env := map[string]string{
		"AWS_ACCESS_KEY_ID":     k.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY": k.SecretAccessKey,
	}
	if k.SessionToken != "" {
		env["AWS_SESSION_TOKEN"] = k.SessionToken
	}
	return env
}

// AzureCredentials is the decoded shape of an Azure service-principal secret.
type AzureCredentials struct {
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	TenantID       string `json:"tenant_id"`
	SubscriptionID string `json:"subscription_id"`
}

// ToEnvDict renders the credential as the ARM_* variables Terraform's
// azurerm provider reads.
func (c AzureCredentials) ToEnvDict() map[string]string {
	return map[string]string{
		"ARM_CLIENT_ID":       c.ClientID,
		"ARM_CLIENT_SECRET":   c.ClientSecret,
		"ARM_TENANT_ID":       c.TenantID,
		"ARM_SUBSCRIPTION_ID": c.SubscriptionID,
	}
}

// GCPServiceAccountKey is the decoded shape of a GCP service-account key
// secret, mirroring the JSON key file GCP itself issues.
type GCPServiceAccountKey struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
	UniverseDomain          string `json:"universe_domain"`
}

// ToEnvDict renders the credential as GOOGLE_CREDENTIALS (the whole key,
// re-serialized) and GOOGLE_PROJECT, the pair Terraform's google provider
// reads.
func (k GCPServiceAccountKey) ToEnvDict() (map[string]string, error) {
	blob, err := json.Marshal(k)
	if err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "providers.GCPServiceAccountKey.ToEnvDict", err)
	}
	return map[string]string{
		"GOOGLE_CREDENTIALS": string(blob),
		"GOOGLE_PROJECT":     k.ProjectID,
	}, nil
}

// decode re-serializes raw secret data (as returned by a KV-v2 read) and
// parses it into dst. The round trip through encoding/json is exact for
// this data, since it already originated as JSON on the wire; there is no
// need for a general map-to-struct decoder.
func decode(op string, data map[string]any, dst any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, op, err)
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, op, err)
	}
	return nil
}

// EnvFromSecretData looks up name in the dispatch table and decodes data
// into the matching credential shape, returning its environment variables.
// Grounds the original's ENV_MODEL_MAP/get_provider_env_from_secret_data.
func EnvFromSecretData(name Name, data map[string]any) (map[string]string, error) {
	const op = "providers.EnvFromSecretData"
	switch name {
	case AWS:
		var k AWSAPIKey
		if err := decode(op, data, &k); err != nil {
			return nil, err
		}
		return k.ToEnvDict(), nil
	case Azure:
		var c AzureCredentials
		if err := decode(op, data, &c); err != nil {
			return nil, err
		}
		return c.ToEnvDict(), nil
	case GCP:
		var k GCPServiceAccountKey
		if err := decode(op, data, &k); err != nil {
			return nil, err
		}
		return k.ToEnvDict()
	default:
		return nil, amoebiuserr.New(amoebiuserr.KindPrecondition, op, fmt.Errorf("unknown provider name %q", name))
	}
}
