// Package sshcore provides TOFU host-key discovery and strict-mode command
// execution over SSH, built on ephemeral known_hosts/private-key files
// (spec §4.6). Grounded on original_source/.../utils/ssh.py.
package sshcore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
	"github.com/Tuee22/amoebius-go/internal/cmdrunner"
	"github.com/Tuee22/amoebius-go/internal/ephemeral"
	"github.com/Tuee22/amoebius-go/internal/telemetry"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// Runner executes SSH operations. The zero value is not usable; build one
// with New.
type Runner struct {
	cmd     *cmdrunner.Runner
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New returns a Runner wired to the given logger/metrics, either of which
// may be nil.
func New(logger *slog.Logger, metrics *telemetry.Metrics) *Runner {
	return &Runner{cmd: cmdrunner.New(logger, metrics), logger: logger, metrics: metrics}
}

// withKeyFiles allocates a symlink-map with an empty ephemeral known_hosts
// file and an ephemeral private-key file (mode 0600), as spec §4.6
// describes, then invokes fn with the two symlink paths ssh itself sees.
func withKeyFiles(hostKeyLines []string, privateKey string, fn func(knownHosts, privateKeyPath string) error) error {
	scratchDir, err := os.MkdirTemp(ephemeral.Root, "sshlink-")
	if err != nil {
		return fmt.Errorf("sshcore: create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	khTarget := filepath.Join(scratchDir, "known_hosts")
	pkTarget := filepath.Join(scratchDir, "id_key")

	return ephemeral.SymlinkMap("sshkeys-", map[string]string{
		"known_hosts": khTarget,
		"private_key": pkTarget,
	}, func(paths map[string]string) error {
		if len(hostKeyLines) > 0 {
			content := strings.Join(hostKeyLines, "\n") + "\n"
			if err := os.WriteFile(paths["known_hosts"], []byte(content), 0o600); err != nil {
				return fmt.Errorf("sshcore: write known_hosts: %w", err)
			}
		}
		if err := os.WriteFile(paths["private_key"], []byte(privateKey), 0o600); err != nil {
			return fmt.Errorf("sshcore: write private key: %w", err)
		}
		return fn(khTarget, pkTarget)
	})
}

func baseSSHArgs(cfg types.SSHConfig, keyPath, knownHostsPath string, strict bool) []string {
	mode := "accept-new"
	if strict {
		mode = "yes"
	}
	return []string{
		"ssh",
		"-p", strconv.Itoa(cfg.PortOrDefault()),
		"-i", keyPath,
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=" + mode,
		"-o", "UserKnownHostsFile=" + knownHostsPath,
		"-o", "GlobalKnownHostsFile=/dev/null",
		fmt.Sprintf("%s@%s", cfg.User, cfg.Hostname),
	}
}

// GetServerKey performs a minimal handshake with StrictHostKeyChecking set
// to accept-new, returning the host-key lines recorded in the ephemeral
// known_hosts file (TOFU). Returns a KindRemoteCommand error if the
// handshake fails or no key lines are recorded.
func (r *Runner) GetServerKey(ctx context.Context, cfg types.SSHConfig) ([]string, error) {
	var lines []string

	err := withKeyFiles(nil, cfg.PrivateKey, func(khPath, pkPath string) error {
		argv := append(baseSSHArgs(cfg, pkPath, khPath, false), "exit", "0")
		_, err := r.cmd.Run(ctx, argv, cmdrunner.Options{Retries: 3, Sensitive: true})
		if err != nil {
			return amoebiuserr.New(amoebiuserr.KindRemoteCommand, "sshcore.GetServerKey", err)
		}

		data, rerr := os.ReadFile(khPath)
		if rerr != nil {
			if os.IsNotExist(rerr) {
				return nil
			}
			return fmt.Errorf("sshcore: read known_hosts: %w", rerr)
		}
		for _, ln := range strings.Split(string(data), "\n") {
			if trimmed := strings.TrimSpace(ln); trimmed != "" {
				lines = append(lines, trimmed)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.RecordTOFU(ctx)

	if len(lines) == 0 {
		return nil, amoebiuserr.New(amoebiuserr.KindRemoteCommand, "sshcore.GetServerKey",
			fmt.Errorf("no host key lines recorded"))
	}
	return lines, nil
}

// RunOptions configures a single strict-mode SSH command.
type RunOptions struct {
	Sensitive bool
	Env       map[string]string
	Retries   int
	OKCodes   []int
}

// RunSSH executes remoteCommand on the host described by cfg using strict
// host-key checking. cfg.HostKeys must be non-empty (spec §4.6 precondition
// — use GetServerKey first).
func (r *Runner) RunSSH(ctx context.Context, cfg types.SSHConfig, remoteCommand []string, opts RunOptions) (string, error) {
	if cfg.RequiresTOFU() {
		return "", amoebiuserr.New(amoebiuserr.KindPrecondition, "sshcore.RunSSH",
			fmt.Errorf("host keys required for strict mode"))
	}

	var out string
	err := withKeyFiles(cfg.HostKeys, cfg.PrivateKey, func(khPath, pkPath string) error {
		argv := baseSSHArgs(cfg, pkPath, khPath, true)
		full := remoteCommand
		if len(opts.Env) > 0 {
			envTokens := []string{"env"}
			for k, v := range opts.Env {
				envTokens = append(envTokens, fmt.Sprintf("%s=%s", k, v))
			}
			full = append(envTokens, full...)
		}
		argv = append(argv, shellQuoteJoin(full))

		okCodes := opts.OKCodes
		if len(okCodes) == 0 {
			okCodes = []int{0}
		}

		result, rerr := r.cmd.Run(ctx, argv, cmdrunner.Options{
			Sensitive: opts.Sensitive,
			Retries:   opts.Retries,
			OKCodes:   okCodes,
		})
		out = result
		return rerr
	})
	return out, err
}

// InteractiveShell opens an interactive SSH session with a pseudo-tty
// (ssh -t), returning the remote exit code. Requires cfg.HostKeys.
func (r *Runner) InteractiveShell(ctx context.Context, cfg types.SSHConfig) (int, error) {
	if cfg.RequiresTOFU() {
		return 0, amoebiuserr.New(amoebiuserr.KindPrecondition, "sshcore.InteractiveShell",
			fmt.Errorf("host keys required for strict mode"))
	}

	var code int
	err := withKeyFiles(cfg.HostKeys, cfg.PrivateKey, func(khPath, pkPath string) error {
		argv := append([]string{"ssh", "-t"}, baseSSHArgs(cfg, pkPath, khPath, true)[1:]...)
		rc, rerr := r.cmd.RunInteractive(ctx, argv)
		code = rc
		return rerr
	})
	return code, err
}

func shellQuoteJoin(tokens []string) string {
	return shellquote.Join(tokens...)
}
