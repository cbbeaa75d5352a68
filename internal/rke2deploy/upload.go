package rke2deploy

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Tuee22/amoebius-go/internal/sshcore"
	"github.com/Tuee22/amoebius-go/internal/types"
)

// uploadFile writes content to remotePath on cfg's host using the
// hex-encode/echo/xxd/tee pattern spec §4.9 mandates to avoid quoting
// problems with arbitrary file content.
func uploadFile(ctx context.Context, ssh *sshcore.Runner, cfg types.SSHConfig, remotePath string, content string) error {
	encoded := hex.EncodeToString([]byte(content))
	script := fmt.Sprintf("echo %s | xxd -r -p | sudo tee %s > /dev/null", encoded, remotePath)
	_, err := ssh.RunSSH(ctx, cfg, []string{"sh", "-c", script}, sshcore.RunOptions{Sensitive: true, Retries: 3})
	return err
}

// runRemote runs argv on cfg's host with a small default retry budget,
// returning trimmed stdout.
func runRemote(ctx context.Context, ssh *sshcore.Runner, cfg types.SSHConfig, argv []string, opts sshcore.RunOptions) (string, error) {
	if opts.Retries < 1 {
		opts.Retries = 3
	}
	return ssh.RunSSH(ctx, cfg, argv, opts)
}
