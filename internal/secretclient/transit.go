package secretclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
)

func transitKeyPath(name string) string    { return "transit/keys/" + name }
func transitEncryptPath(name string) string { return "transit/encrypt/" + name }
func transitDecryptPath(name string) string { return "transit/decrypt/" + name }

// WriteTransitKey creates the named transit encryption key if it does not
// already exist. Creation is idempotent: a key that already exists is left
// untouched rather than rotated (spec §4.5).
func (c *Client) WriteTransitKey(ctx context.Context, name string) error {
	status, _, err := c.request(ctx, http.MethodGet, transitKeyPath(name), nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	status, body, err := c.request(ctx, http.MethodPost, transitKeyPath(name), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.WriteTransitKey", fmt.Errorf("status %d: %s", status, string(body)))
	}
	return nil
}

// Encrypt wraps plaintext under the named transit key, returning the
// ciphertext token the secret manager produces (e.g. "vault:v1:...").
func (c *Client) Encrypt(ctx context.Context, keyName string, plaintext []byte) (string, error) {
	status, body, err := c.request(ctx, http.MethodPost, transitEncryptPath(keyName), map[string]string{
		"plaintext": base64Encode(plaintext),
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", amoebiuserr.New(amoebiuserr.KindCrypto, "secretclient.Encrypt", fmt.Errorf("status %d: %s", status, string(body)))
	}

	var parsed struct {
		Data struct {
			Ciphertext string `json:"ciphertext"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", amoebiuserr.New(amoebiuserr.KindValidation, "secretclient.Encrypt", err)
	}
	return parsed.Data.Ciphertext, nil
}

// Decrypt reverses Encrypt, returning the recovered plaintext bytes.
func (c *Client) Decrypt(ctx context.Context, keyName, ciphertext string) ([]byte, error) {
	status, body, err := c.request(ctx, http.MethodPost, transitDecryptPath(keyName), map[string]string{
		"ciphertext": ciphertext,
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, amoebiuserr.New(amoebiuserr.KindCrypto, "secretclient.Decrypt", fmt.Errorf("status %d: %s", status, string(body)))
	}

	var parsed struct {
		Data struct {
			Plaintext string `json:"plaintext"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "secretclient.Decrypt", err)
	}
	return base64Decode(parsed.Data.Plaintext)
}
