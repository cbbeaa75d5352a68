package types

// ProvisioningBackendRef identifies one provisioning-tool state file by the
// directory ("root") it lives under and a workspace name (spec §3).
type ProvisioningBackendRef struct {
	Root      string
	Workspace string
}

// DefaultWorkspace is used whenever a ProvisioningBackendRef is constructed
// without an explicit workspace.
const DefaultWorkspace = "default"

// WorkspaceOrDefault returns ref.Workspace, or DefaultWorkspace if unset.
func (ref ProvisioningBackendRef) WorkspaceOrDefault() string {
	if ref.Workspace == "" {
		return DefaultWorkspace
	}
	return ref.Workspace
}

// ProvisioningOutput is one entry of a provisioning-tool state's outputs
// map: a value of a declared type, optionally marked sensitive.
type ProvisioningOutput struct {
	Sensitive bool   `json:"sensitive"`
	Value     any    `json:"value"`
	Type      any    `json:"type,omitempty"`
}

// ProvisioningModule is one module (root or child) of a provisioning-tool
// state's resource tree. Only the resource count is modeled: isEmpty()
// (spec §3/§8) needs nothing else.
type ProvisioningModule struct {
	Resources    []any                 `json:"resources,omitempty"`
	ChildModules []ProvisioningModule  `json:"child_modules,omitempty"`
}

// resourceCount returns the number of resources in this module and every
// module nested beneath it.
func (m ProvisioningModule) resourceCount() int {
	n := len(m.Resources)
	for _, child := range m.ChildModules {
		n += child.resourceCount()
	}
	return n
}

// ProvisioningValues is the "values" object of a provisioning-tool state.
type ProvisioningValues struct {
	Outputs    map[string]ProvisioningOutput `json:"outputs,omitempty"`
	RootModule ProvisioningModule            `json:"root_module"`
}

// ProvisioningState is the parsed JSON of the external provisioning tool's
// state (spec §3), as captured from `show -json`.
type ProvisioningState struct {
	FormatVersion string             `json:"format_version"`
	ToolVersion   string             `json:"terraform_version"`
	Values        ProvisioningValues `json:"values"`
}

// IsEmpty reports whether the state has zero resources across the root
// module and every child module (spec §3/§8).
func (s ProvisioningState) IsEmpty() bool {
	return s.Values.RootModule.resourceCount() == 0
}
