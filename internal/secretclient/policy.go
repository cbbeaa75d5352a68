package secretclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
)

func policyPath(name string) string { return "sys/policies/acl/" + name }
func k8sRolePath(name string) string { return "auth/kubernetes/role/" + name }

// readOnlyKVPolicyHCL renders a policy document granting read-only access
// to the data and metadata endpoints beneath prefix.
func readOnlyKVPolicyHCL(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	return fmt.Sprintf(
		"path \"secret/data/%s/*\" {\n  capabilities = [\"read\", \"list\"]\n}\n"+
			"path \"secret/metadata/%s/*\" {\n  capabilities = [\"read\", \"list\"]\n}\n",
		prefix, prefix,
	)
}

// WriteReadOnlyKVPolicy creates or replaces a named policy granting
// read-only access to every secret beneath prefix.
func (c *Client) WriteReadOnlyKVPolicy(ctx context.Context, name, prefix string) error {
	status, body, err := c.request(ctx, http.MethodPut, policyPath(name), map[string]string{
		"policy": readOnlyKVPolicyHCL(prefix),
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.WriteReadOnlyKVPolicy", fmt.Errorf("status %d: %s", status, string(body)))
	}
	return nil
}

// CreateKubernetesRole binds a Kubernetes-auth role to a set of service
// accounts, namespaces, and policies, with a bounded token TTL.
func (c *Client) CreateKubernetesRole(ctx context.Context, name string, serviceAccounts, namespaces, policies []string, ttlSeconds int) error {
	status, body, err := c.request(ctx, http.MethodPost, k8sRolePath(name), map[string]any{
		"bound_service_account_names":      serviceAccounts,
		"bound_service_account_namespaces": namespaces,
		"policies":                         policies,
		"ttl":                              ttlSeconds,
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.CreateKubernetesRole", fmt.Errorf("status %d: %s", status, string(body)))
	}
	return nil
}

// DeleteKubernetesRole removes a previously created Kubernetes-auth role.
// Deleting a role that does not exist is treated as success.
func (c *Client) DeleteKubernetesRole(ctx context.Context, name string) error {
	status, body, err := c.request(ctx, http.MethodDelete, k8sRolePath(name), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return amoebiuserr.New(amoebiuserr.KindTransient, "secretclient.DeleteKubernetesRole", fmt.Errorf("status %d: %s", status, string(body)))
	}
	return nil
}
