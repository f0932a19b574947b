package queue

import (
	"context"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/veldtlabs/runq/errors"
)

// Executor runs a job's command. Implementations must honour ctx: return
// promptly once it is cancelled or its deadline passes.
//
// The command string is opaque to the core; only the executor interprets
// it.
type Executor interface {
	Run(ctx context.Context, command string) (string, error)
}

// ShellExecutor runs commands as child processes. The command string is
// split with shell quoting rules; the child is hard-killed when the
// context deadline expires, so non-cooperative commands cannot outlive
// their timeout.
type ShellExecutor struct{}

// NewShellExecutor creates a process-spawning executor
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

// Run executes the command and returns its combined output
func (e *ShellExecutor) Run(ctx context.Context, command string) (string, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse command")
	}
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		return "", errors.Wrapf(err, "command %q failed", argv[0])
	}
	return strings.TrimRight(string(out), "\n"), nil
}
