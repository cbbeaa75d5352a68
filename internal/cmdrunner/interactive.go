package cmdrunner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"golang.org/x/term"
)

// RunInteractive runs the child attached to this process's own stdin,
// stdout and stderr, switching stdin to raw mode while it runs when stdin
// is a terminal, and forwards received signals to the child, returning the
// child's exit code. No pseudo-terminal is allocated: the child uses
// whatever terminal this process already has.
func (r *Runner) RunInteractive(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("cmdrunner: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	var restore func() error
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			restore = func() error { return term.Restore(int(os.Stdin.Fd()), state) }
			defer restore()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("cmdrunner: start interactive %q: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-sigCh:
			if cmd.Process != nil {
				_ = cmd.Process.Signal(sig)
			}
		case err := <-done:
			if err == nil {
				return 0, nil
			}
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode(), nil
			}
			return 0, fmt.Errorf("cmdrunner: interactive %q: %w", argv[0], err)
		case <-ctx.Done():
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			return 0, ctx.Err()
		}
	}
}
