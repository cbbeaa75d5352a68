package iacdriver

import (
	"context"
	"strings"

	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
)

// tfWorkspaceVar is the environment variable the provisioning tool reads
// to select a workspace, and which it refuses to see set twice (once via
// inherited environment, once via an explicit "workspace select").
const tfWorkspaceVar = "TF_WORKSPACE"

// listWorkspaces runs "terraform workspace list" with TF_WORKSPACE
// suppressed from the environment, returning the bare workspace names.
func (d *Driver) listWorkspaces(ctx context.Context, terraformDir string) ([]string, error) {
	out, err := d.cmd.Run(ctx, []string{"terraform", "workspace", "list", "-no-color"}, cmdrunner.Options{
		Cwd:             terraformDir,
		SuppressEnvVars: []string{tfWorkspaceVar},
		Sensitive:       true,
	})
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// ensureWorkspace lists existing workspaces (suppressing TF_WORKSPACE) and
// creates the named one if absent, still suppressing TF_WORKSPACE so the
// tool never sees a conflicting override during listing/creation (spec
// §4.8).
func (d *Driver) ensureWorkspace(ctx context.Context, terraformDir, workspace string) error {
	names, err := d.listWorkspaces(ctx, terraformDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == workspace {
			return nil
		}
	}

	_, err = d.cmd.Run(ctx, []string{"terraform", "workspace", "new", "-no-color", workspace}, cmdrunner.Options{
		Cwd:             terraformDir,
		SuppressEnvVars: []string{tfWorkspaceVar},
		Sensitive:       true,
	})
	return err
}

// workspaceExists reports whether workspace is already listed, without
// creating it (used by Destroy, which is a no-op on a missing workspace).
func (d *Driver) workspaceExists(ctx context.Context, terraformDir, workspace string) (bool, error) {
	if workspace == "" || workspace == "default" {
		return true, nil
	}
	names, err := d.listWorkspaces(ctx, terraformDir)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == workspace {
			return true, nil
		}
	}
	return false, nil
}

// workspaceEnv returns the environment overrides a command targeting
// workspace needs: empty for the default workspace (let the tool use its
// own default), or {TF_WORKSPACE: workspace} otherwise, after first
// ensuring the workspace exists.
func (d *Driver) workspaceEnv(ctx context.Context, terraformDir, workspace string) (map[string]string, error) {
	if workspace == "" || workspace == "default" {
		return nil, nil
	}
	if err := d.ensureWorkspace(ctx, terraformDir, workspace); err != nil {
		return nil, err
	}
	return map[string]string{tfWorkspaceVar: workspace}, nil
}
