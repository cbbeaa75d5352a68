package types

// RKE2Instance is one node destined for the cluster (spec §3).
type RKE2Instance struct {
	Name      string `json:"name"`
	PrivateIP string `json:"privateIp"`
	PublicIP  string `json:"publicIp,omitempty"`
	VaultPath string `json:"vaultPath"`
	HasGPU    bool   `json:"hasGpu"`
}

// RKE2Inventory groups instances by role/group name (e.g. "control-plane",
// "workers", "gpu-workers").
type RKE2Inventory map[string][]RKE2Instance

// RKE2Credentials is the cluster-level material captured after a
// successful deployCluster run (spec §3).
type RKE2Credentials struct {
	Kubeconfig                string   `json:"kubeconfig"`
	JoinToken                 string   `json:"joinToken"`
	ControlPlaneSSHVaultPaths []string `json:"controlPlaneSshVaultPaths"`
}
