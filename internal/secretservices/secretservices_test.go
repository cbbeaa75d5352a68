package secretservices

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Tuee22/amoebius-go/internal/secretclient"
)

// fakeClock lets expiry-dependent tests control "now" without sleeping.
type fakeClock struct{ t int64 }

func (f fakeClock) nowUnix() int64 { return f.t }

// fakeSecretManager is a minimal in-memory stand-in for the secret
// manager's HTTP surface, covering just enough of login/KV/transit/policy
// to exercise secretservices without a real server (mirrors
// secretclient_test.go's fakeServer for the pieces this package drives).
type fakeSecretManager struct {
	mu       sync.Mutex
	kv       map[string]map[string]any
	deleted  map[string]bool
	policies map[string]string
	roles    map[string]map[string]any
}

func newFakeSecretManager() *fakeSecretManager {
	return &fakeSecretManager{
		kv:       map[string]map[string]any{},
		deleted:  map[string]bool{},
		policies: map[string]string{},
		roles:    map[string]map[string]any{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeSecretManager) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/auth/kubernetes/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"auth": map[string]any{"client_token": "test-token"}})
	})
	mux.HandleFunc("/v1/auth/token/lookup-self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"ttl": 3600}})
	})

	mux.HandleFunc("/v1/secret/data/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			if f.deleted[path] {
				writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
					"data":     map[string]any{},
					"metadata": map[string]any{"deletion_time": "2020-01-01T00:00:00Z"},
				}})
				return
			}
			data, ok := f.kv[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"data": data, "metadata": map[string]any{"version": 1}}})
		case http.MethodPost:
			var body struct {
				Data map[string]any `json:"data"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.kv[path] = body.Data
			delete(f.deleted, path)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(f.kv, path)
			f.deleted[path] = true
			w.WriteHeader(http.StatusOK)
		}
	})

	mux.HandleFunc("/v1/secret/metadata/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/")
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case "LIST":
			prefix := strings.TrimSuffix(path, "/")
			var keys []string
			seen := map[string]bool{}
			for k := range f.kv {
				if strings.HasPrefix(k, prefix+"/") {
					rest := strings.TrimPrefix(k, prefix+"/")
					top := strings.SplitN(rest, "/", 2)[0]
					if !seen[top] {
						seen[top] = true
						keys = append(keys, top)
					}
				}
			}
			if len(keys) == 0 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"keys": keys}})
		case http.MethodDelete:
			for k := range f.kv {
				if k == path || strings.HasPrefix(k, path+"/") {
					delete(f.kv, k)
				}
			}
			w.WriteHeader(http.StatusOK)
		}
	})

	mux.HandleFunc("/v1/transit/keys/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/sys/policies/acl/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/v1/sys/policies/acl/")
		var body struct {
			Policy string `json:"policy"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.policies[name] = body.Policy
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/auth/kubernetes/role/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/v1/auth/kubernetes/role/")
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.roles[name] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(f.roles, name)
			w.WriteHeader(http.StatusOK)
		}
	})

	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server) *secretclient.Client {
	t.Helper()
	// Config.Token pre-seeds the session token and skips the JWT login
	// flow entirely, which is all these tests need from authentication.
	return secretclient.New(secretclient.Config{Address: srv.URL, Token: "test-token"}, nil, nil)
}
