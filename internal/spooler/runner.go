package spooler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a spooler command line tool and captures its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, stderr string, err error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct {
	// Env is appended to the process environment, e.g. CUPS_SERVER=host:631.
	Env []string
}

// Run executes name with args, returning trimmed stdout and stderr.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())
	if runErr != nil {
		return stdout, stderr, fmt.Errorf("failed to execute '%s %s': %w", name, strings.Join(args, " "), runErr)
	}
	return stdout, stderr, nil
}
