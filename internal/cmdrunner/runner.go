// Package cmdrunner provides asynchronous subprocess execution with env
// merging, working-directory control, stdin piping, retries, and an
// interactive TTY mode (spec §4.1, the "cmd" component).
package cmdrunner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Tuee22/amoebius-go/internal/retry"
	"github.com/Tuee22/amoebius-go/internal/telemetry"
)

// CommandError is returned when a subprocess exits with a code outside the
// caller's OKCodes. When Sensitive is true, the error surface deliberately
// omits argv/stdout/stderr (spec §4.1): only the return code is exposed.
type CommandError struct {
	ReturnCode int
	Sensitive  bool
	Argv       []string
	Stdout     string
	Stderr     string
}

func (e *CommandError) Error() string {
	if e.Sensitive {
		return fmt.Sprintf("command exited %d", e.ReturnCode)
	}
	return fmt.Sprintf("command %q exited %d: stdout=%q stderr=%q", strings.Join(e.Argv, " "), e.ReturnCode, e.Stdout, e.Stderr)
}

// Options configures a single Run invocation.
type Options struct {
	Env             map[string]string
	Cwd             string
	Stdin           string
	Retries         int
	RetryDelay      time.Duration
	OKCodes         []int
	Sensitive       bool
	SuppressEnvVars []string
}

func (o Options) okCodesOrDefault() []int {
	if len(o.OKCodes) == 0 {
		return []int{0}
	}
	return o.OKCodes
}

func (o Options) retriesOrDefault() int {
	if o.Retries < 1 {
		return 1
	}
	return o.Retries
}

// Runner executes subprocesses. The zero value is ready to use.
type Runner struct {
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// New returns a Runner wired to the given logger/metrics, either of which
// may be nil.
func New(logger *slog.Logger, metrics *telemetry.Metrics) *Runner {
	return &Runner{Logger: logger, Metrics: metrics}
}

func mergedEnv(opts Options) []string {
	base := os.Environ()
	suppress := make(map[string]bool, len(opts.SuppressEnvVars))
	for _, name := range opts.SuppressEnvVars {
		suppress[name] = true
	}

	merged := make(map[string]string, len(base)+len(opts.Env))
	for _, kv := range base {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if suppress[parts[0]] {
			continue
		}
		merged[parts[0]] = parts[1]
	}
	for k, v := range opts.Env {
		if suppress[k] {
			continue
		}
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// Run executes argv once per retry attempt, returning trimmed stdout on
// success. A non-success exit code raises a *CommandError; retries re-run
// the identical invocation after opts.RetryDelay.
func (r *Runner) Run(ctx context.Context, argv []string, opts Options) (string, error) {
	cfg := retry.Config{
		Retries: opts.retriesOrDefault(),
		Delay:   opts.RetryDelay,
		Label:   "cmdrunner.run",
	}

	return retry.Do(ctx, r.Logger, r.Metrics, cfg, argv, func(ctx context.Context) (string, error) {
		return r.runOnce(ctx, argv, opts)
	})
}

func (r *Runner) runOnce(ctx context.Context, argv []string, opts Options) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("cmdrunner: empty argv")
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Cwd
	cmd.Env = mergedEnv(opts)
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			r.Metrics.RecordCommand(ctx, elapsed, false)
			return "", fmt.Errorf("cmdrunner: exec %q: %w", argv[0], err)
		}
	}

	ok := contains(opts.okCodesOrDefault(), code)
	r.Metrics.RecordCommand(ctx, elapsed, ok)

	if !ok {
		return "", &CommandError{
			ReturnCode: code,
			Sensitive:  opts.Sensitive,
			Argv:       argv,
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}
