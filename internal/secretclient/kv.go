package secretclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
)

func kvDataPath(path string) string     { return "secret/data/" + strings.TrimLeft(path, "/") }
func kvMetadataPath(path string) string { return "secret/metadata/" + strings.TrimLeft(path, "/") }

type kvReadEnvelope struct {
	Data struct {
		Data     map[string]any `json:"data"`
		Metadata struct {
			Version      int    `json:"version"`
			DeletionTime string `json:"deletion_time"`
			Destroyed    bool   `json:"destroyed"`
		} `json:"metadata"`
	} `json:"data"`
}

// Read fetches the current version of the KV-v2 secret at path. A missing
// secret surfaces as amoebiuserr.ErrNotFound, with "404" in its message
// (spec §7/§8).
func (c *Client) Read(ctx context.Context, path string) (map[string]any, error) {
	status, body, err := c.request(ctx, http.MethodGet, kvDataPath(path), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, amoebiuserr.NotFound("secretclient.Read", fmt.Errorf("no secret at %q", path))
	}
	if status != http.StatusOK {
		return nil, amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.Read", fmt.Errorf("status %d: %s", status, string(body)))
	}

	var parsed kvReadEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "secretclient.Read", err)
	}
	if parsed.Data.Metadata.Destroyed || parsed.Data.Metadata.DeletionTime != "" {
		return nil, amoebiuserr.NotFound("secretclient.Read", fmt.Errorf("secret at %q is deleted", path))
	}
	return parsed.Data.Data, nil
}

// Write stores data as a new version of the KV-v2 secret at path,
// unconditionally (spec §4.5).
func (c *Client) Write(ctx context.Context, path string, data map[string]any) error {
	status, body, err := c.request(ctx, http.MethodPost, kvDataPath(path), map[string]any{"data": data})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.Write", fmt.Errorf("status %d: %s", status, string(body)))
	}
	return nil
}

// WriteIdempotent writes data only if it differs from the secret currently
// stored at path, reading the existing value first. It reports whether a
// write actually happened, so callers can distinguish a no-op from a
// genuine version bump (spec §8: writeIdempotent changed:true -> false).
func (c *Client) WriteIdempotent(ctx context.Context, path string, data map[string]any) (changed bool, err error) {
	current, err := c.Read(ctx, path)
	if err != nil {
		if kind, ok := amoebiuserr.KindOf(err); !ok || kind != amoebiuserr.KindNotFound {
			return false, err
		}
		current = nil
	}

	// Compare against data as it decodes from JSON, so that numbers
	// (float64 after a read) compare equal to the caller's ints.
	want := data
	if encoded, merr := json.Marshal(data); merr == nil {
		var decoded map[string]any
		if json.Unmarshal(encoded, &decoded) == nil {
			want = decoded
		}
	}
	if current != nil && reflect.DeepEqual(current, want) {
		return false, nil
	}

	if err := c.Write(ctx, path, data); err != nil {
		return false, err
	}
	return true, nil
}

// List enumerates child keys under path. A missing path is reported as an
// empty list rather than an error, matching the underlying LIST semantics.
func (c *Client) List(ctx context.Context, path string) ([]string, error) {
	status, body, err := c.request(ctx, "LIST", kvMetadataPath(path), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.List", fmt.Errorf("status %d: %s", status, string(body)))
	}

	var parsed struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "secretclient.List", err)
	}
	return parsed.Data.Keys, nil
}

// Delete removes the secret at path. A soft delete (hard=false) marks the
// current version deleted but preserves history; a hard delete destroys all
// versions and metadata outright (spec §4.5, §8).
func (c *Client) Delete(ctx context.Context, path string, hard bool) error {
	target := kvDataPath(path)
	if hard {
		target = kvMetadataPath(path)
	}
	status, body, err := c.request(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.Delete", fmt.Errorf("status %d: %s", status, string(body)))
	}
	return nil
}

// VersionHistory is one entry of a KV-v2 secret's metadata.versions map.
type VersionHistory struct {
	Version      int
	DeletionTime string
	Destroyed    bool
}

// SecretHistory returns every recorded version of the secret at path,
// ordered by version number (spec §8: secretHistory version bump to 2).
func (c *Client) SecretHistory(ctx context.Context, path string) ([]VersionHistory, error) {
	status, body, err := c.request(ctx, http.MethodGet, kvMetadataPath(path), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, amoebiuserr.NotFound("secretclient.SecretHistory", fmt.Errorf("no secret at %q", path))
	}
	if status != http.StatusOK {
		return nil, amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.SecretHistory", fmt.Errorf("status %d: %s", status, string(body)))
	}

	var parsed struct {
		Data struct {
			Versions map[string]struct {
				DeletionTime string `json:"deletion_time"`
				Destroyed    bool   `json:"destroyed"`
			} `json:"versions"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "secretclient.SecretHistory", err)
	}

	out := make([]VersionHistory, 0, len(parsed.Data.Versions))
	for k, v := range parsed.Data.Versions {
		var version int
		if _, err := fmt.Sscanf(k, "%d", &version); err != nil {
			continue
		}
		out = append(out, VersionHistory{Version: version, DeletionTime: v.DeletionTime, Destroyed: v.Destroyed})
	}
	sortVersions(out)
	return out, nil
}

func sortVersions(versions []VersionHistory) {
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && versions[j].Version < versions[j-1].Version; j-- {
			versions[j], versions[j-1] = versions[j-1], versions[j]
		}
	}
}
