package apt

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
)

// Runner invokes package manager operations.  Only the exit status is
// meaningful to callers; output is passed through for diagnostics.
type Runner interface {
	// Clean removes downloaded archive files (apt-get clean).
	Clean(ctx context.Context) error
	// Update refreshes the package index (apt-get update).
	Update(ctx context.Context) error
}

// ExecRunner runs apt-get as a subprocess.
type ExecRunner struct {
	// Timeout bounds a single apt-get invocation.
	Timeout time.Duration
}

// NewExecRunner creates an ExecRunner with a sane default timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: 10 * time.Minute}
}

func (r *ExecRunner) run(ctx context.Context, args ...string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "apt-get", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.Debug("apt-get failed", "args", args, "output", string(output))
		return errors.Wrapf(err, "apt-get %v", args)
	}
	return nil
}

// Clean implements Runner.
func (r *ExecRunner) Clean(ctx context.Context) error {
	return r.run(ctx, "clean")
}

// Update implements Runner.
func (r *ExecRunner) Update(ctx context.Context) error {
	return r.run(ctx, "update")
}
