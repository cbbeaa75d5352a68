package secretclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/telemetry"
)

const authHeader = "X-Amoebius-Token"

// tokenState is the mutable half of a Client's session: the current
// opaque token (empty means EMPTY per spec §4.5) and the last time it was
// introspected.
type tokenState struct {
	token     string
	lastCheck time.Time
}

// Client is a reusable session against the secret manager. One Client
// instance owns one HTTP session and one TokenState; concurrent operations
// on the same Client share both, with token refresh serialized internally
// (spec §4.5 Concurrency, spec §5).
type Client struct {
	cfg     Config
	http    *retryablehttp.Client
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex // serializes ensureToken's login/renew/introspect
	state tokenState
}

// New creates a Client. The returned Client owns an HTTP session scoped to
// its lifetime; call Close when done with it.
func New(cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // operator opt-in via Config

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 0 // this module's own retry package governs retries, not the HTTP layer
	rc.HTTPClient = &http.Client{Transport: transport}

	c := &Client{cfg: cfg, http: rc, logger: logger, metrics: metrics}
	if cfg.Token != "" {
		c.state.token = cfg.Token
		c.state.lastCheck = time.Now()
	}
	return c
}

// Close releases the client's pooled connections.
func (c *Client) Close() {
	c.http.HTTPClient.CloseIdleConnections()
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.Address, "/") + "/v1/" + strings.TrimLeft(path, "/")
}

// rawRequest issues one HTTP call with the current token attached. It does
// not itself manage the token lifecycle — callers go through ensureToken
// first (or deliberately bypass it, as login does).
func (c *Client) rawRequest(ctx context.Context, method, path string, body any, token string) (status int, respBody []byte, err error) {
	var reader io.Reader
	if body != nil {
		encoded, merr := json.Marshal(body)
		if merr != nil {
			return 0, nil, fmt.Errorf("secretclient: encode request: %w", merr)
		}
		reader = strings.NewReader(string(encoded))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("secretclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(authHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.request", err)
	}

	return resp.StatusCode, data, nil
}

// request issues an authenticated call, first ensuring the token is fresh.
func (c *Client) request(ctx context.Context, method, path string, body any) (status int, respBody []byte, err error) {
	if err := c.ensureToken(ctx); err != nil {
		return 0, nil, err
	}

	c.mu.Lock()
	token := c.state.token
	c.mu.Unlock()

	status, respBody, err = c.rawRequest(ctx, method, path, body, token)
	if err != nil {
		return status, respBody, err
	}

	if status == http.StatusForbidden {
		c.mu.Lock()
		c.state.token = ""
		c.mu.Unlock()
		if err := c.ensureToken(ctx); err != nil {
			return status, respBody, err
		}
		c.mu.Lock()
		token = c.state.token
		c.mu.Unlock()
		return c.rawRequest(ctx, method, path, body, token)
	}

	return status, respBody, nil
}

// ensureToken runs the token management state machine from spec §4.5.
// Login and renew are serialized through c.mu so concurrent callers never
// trigger concurrent logins.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.token == "" {
		return c.loginLocked(ctx)
	}

	if time.Since(c.state.lastCheck) < c.cfg.checkInterval() {
		return nil
	}

	ttl, status, err := c.lookupSelfLocked(ctx)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusForbidden:
		c.state.token = ""
		return c.loginLocked(ctx)
	case http.StatusOK:
		c.state.lastCheck = time.Now()
		if ttl >= int(c.cfg.renewThreshold().Seconds()) {
			return nil
		}
		if err := c.renewSelfLocked(ctx); err != nil {
			c.state.token = ""
			return c.loginLocked(ctx)
		}
		return nil
	default:
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.ensureToken",
			fmt.Errorf("unexpected lookup-self status %d", status))
	}
}

func (c *Client) loginLocked(ctx context.Context) error {
	jwt, err := os.ReadFile(c.cfg.jwtPath())
	if err != nil {
		return amoebiuserr.New(amoebiuserr.KindAuth, "secretclient.login", fmt.Errorf("read jwt file: %w", err))
	}

	status, body, err := c.rawRequest(ctx, http.MethodPost, "auth/kubernetes/login", map[string]string{
		"jwt":  strings.TrimSpace(string(jwt)),
		"role": c.cfg.Role,
	}, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		c.metrics.RecordTokenRenewal(ctx, "login_failed")
		return amoebiuserr.New(amoebiuserr.KindAuth, "secretclient.login", fmt.Errorf("status %d: %s", status, string(body)))
	}

	var parsed struct {
		Auth struct {
			ClientToken string `json:"client_token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return amoebiuserr.New(amoebiuserr.KindValidation, "secretclient.login", err)
	}
	if parsed.Auth.ClientToken == "" {
		return amoebiuserr.New(amoebiuserr.KindAuth, "secretclient.login", fmt.Errorf("empty client_token in response"))
	}

	c.state.token = parsed.Auth.ClientToken
	c.state.lastCheck = time.Now()
	c.metrics.RecordTokenRenewal(ctx, "login")
	return nil
}

func (c *Client) lookupSelfLocked(ctx context.Context) (ttlSeconds int, status int, err error) {
	status, body, err := c.rawRequest(ctx, http.MethodGet, "auth/token/lookup-self", nil, c.state.token)
	if err != nil {
		return 0, 0, err
	}
	if status != http.StatusOK {
		return 0, status, nil
	}

	var parsed struct {
		Data struct {
			TTL int `json:"ttl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, status, amoebiuserr.New(amoebiuserr.KindValidation, "secretclient.lookupSelf", err)
	}
	return parsed.Data.TTL, status, nil
}

func (c *Client) renewSelfLocked(ctx context.Context) error {
	status, _, err := c.rawRequest(ctx, http.MethodPost, "auth/token/renew-self", nil, c.state.token)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.renewSelf", fmt.Errorf("status %d", status))
	}
	c.metrics.RecordTokenRenewal(ctx, "renew")
	return nil
}

// RevokeSelf revokes the current token and returns the client to the EMPTY
// state; the next operation will log in again (spec §4.5).
func (c *Client) RevokeSelf(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.token == "" {
		return nil
	}
	status, _, err := c.rawRequest(ctx, http.MethodPost, "auth/token/revoke-self", nil, c.state.token)
	if err != nil {
		return err
	}
	c.state.token = ""
	if status != http.StatusOK && status != http.StatusNoContent {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.revokeSelf", fmt.Errorf("status %d", status))
	}
	return nil
}
