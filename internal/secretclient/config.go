// Package secretclient is an authenticated client to the secret manager:
// login, token renewal, KV-v2 CRUD, transit encrypt/decrypt, and
// policy/role management (spec §4.5).
package secretclient

import "time"

// DefaultJWTPath is where a Kubernetes-mounted service account token lives.
const DefaultJWTPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

const (
	// DefaultRenewThreshold is how many seconds before expiry Renew
	// attempts to renew the current token.
	DefaultRenewThreshold = 300
	// DefaultCheckInterval is the minimum number of seconds between two
	// introspection calls against the same client.
	DefaultCheckInterval = 60
)

// Config describes how to reach and authenticate against the secret
// manager (spec §3: SecretClientConfig).
type Config struct {
	// Address is the base URL of the secret manager, e.g.
	// "https://secrets.internal:8200".
	Address string
	// Role is the Kubernetes-auth role name exchanged for a token.
	Role string
	// Token, if set, is used directly and skips the JWT login flow.
	Token string
	// JWTPath is the filesystem path of the service-account JWT. Defaults
	// to DefaultJWTPath.
	JWTPath string
	// InsecureSkipVerify disables TLS certificate verification. Defaults
	// to false (verification on).
	InsecureSkipVerify bool
	// RenewThresholdSeconds is how many seconds before expiry a renewal is
	// attempted. Defaults to DefaultRenewThreshold.
	RenewThresholdSeconds int
	// CheckIntervalSeconds is the minimum gap between introspection calls.
	// Defaults to DefaultCheckInterval.
	CheckIntervalSeconds int
}

func (c Config) jwtPath() string {
	if c.JWTPath == "" {
		return DefaultJWTPath
	}
	return c.JWTPath
}

func (c Config) renewThreshold() time.Duration {
	if c.RenewThresholdSeconds <= 0 {
		return DefaultRenewThreshold * time.Second
	}
	return time.Duration(c.RenewThresholdSeconds) * time.Second
}

func (c Config) checkInterval() time.Duration {
	if c.CheckIntervalSeconds <= 0 {
		return DefaultCheckInterval * time.Second
	}
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}
