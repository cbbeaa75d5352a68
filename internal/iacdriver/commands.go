package iacdriver

import (
	"context"

	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/statestore"
)

// CommandOptions configures one init/apply/destroy invocation.
type CommandOptions struct {
	Env          map[string]string
	OverrideLock bool
	Variables    map[string]any
	Reconfigure  bool
	// Insensitive, when true, surfaces full argv/stdout/stderr on failure.
	// Commands are sensitive by default (spec §4.8/§4.1 default true).
	Insensitive bool
	Retries     int
}

func (o CommandOptions) retriesOrDefault() int {
	if o.Retries < 1 {
		return 3
	}
	return o.Retries
}

func baseCommand(action string, overrideLock, reconfigure bool) []string {
	cmd := []string{"terraform", action, "-no-color"}
	switch action {
	case "show":
		cmd = append(cmd, "-json")
	case "apply", "destroy":
		cmd = append(cmd, "-auto-approve")
		if overrideLock {
			cmd = append(cmd, "-lock=false")
		}
	case "init":
		if reconfigure {
			cmd = append(cmd, "-reconfigure")
		}
	}
	return cmd
}

// run executes one provisioning-tool action against ref's root/workspace,
// scoping ephemeral state (per backend) and ephemeral tfvars (per action),
// returning captured stdout when captureOutput is set.
func (d *Driver) run(ctx context.Context, action string, root string, workspace string, backend statestore.Backend, opts CommandOptions, captureOutput bool) (string, error) {
	terraformDir, err := d.rootDir(root)
	if err != nil {
		return "", err
	}

	env, err := d.workspaceEnv(ctx, terraformDir, workspace)
	if err != nil {
		return "", err
	}
	for k, v := range opts.Env {
		if env == nil {
			env = map[string]string{}
		}
		env[k] = v
	}

	d.recordInvocation(ctx, action)

	var output string
	err = d.withEphemeralState(ctx, backend, terraformDir, func() error {
		return withTFVars(action, opts.Variables, func(extraArgs []string) error {
			argv := append(baseCommand(action, opts.OverrideLock, opts.Reconfigure), extraArgs...)
			out, runErr := d.cmd.Run(ctx, argv, cmdrunner.Options{
				Cwd:       terraformDir,
				Env:       env,
				Sensitive: !opts.Insensitive,
				Retries:   opts.retriesOrDefault(),
			})
			if runErr != nil {
				return runErr
			}
			if captureOutput {
				output = out
			}
			return nil
		})
	})
	return output, err
}

// Init runs "terraform init" for root/workspace (spec §4.8).
func (d *Driver) Init(ctx context.Context, root, workspace string, backend statestore.Backend, opts CommandOptions) error {
	_, err := d.run(ctx, "init", root, workspace, backend, opts, false)
	return err
}

// Apply runs "terraform apply -auto-approve" for root/workspace.
func (d *Driver) Apply(ctx context.Context, root, workspace string, backend statestore.Backend, opts CommandOptions) error {
	_, err := d.run(ctx, "apply", root, workspace, backend, opts, false)
	return err
}

// Destroy runs "terraform destroy -auto-approve" for root/workspace. A
// workspace that does not exist makes this a no-op rather than an error
// (spec §4.8).
func (d *Driver) Destroy(ctx context.Context, root, workspace string, backend statestore.Backend, opts CommandOptions) error {
	terraformDir, err := d.rootDir(root)
	if err != nil {
		return err
	}
	exists, err := d.workspaceExists(ctx, terraformDir, workspace)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	_, err = d.run(ctx, "destroy", root, workspace, backend, opts, false)
	return err
}
