//go:build unix

package runner_test

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/CZERTAINLY/toxin/internal/model"
	"github.com/CZERTAINLY/toxin/internal/runner"

	"github.com/stretchr/testify/require"
)

func TestTimeout(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var cases = []struct {
		scenario string
		script   string
		minimum  time.Duration
	}{
		// sleep exits on SIGTERM
		{"terminate", "exec sleep 30", 200 * time.Millisecond},
		// SIGTERM is ignored, so it must be killed after the grace period
		{"kill", "trap '' TERM; exec sleep 30", 200*time.Millisecond + 300*time.Millisecond},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			out := runner.New().Run(t.Context(), runner.Command{
				Path:      sh,
				Args:      []string{"-c", tc.script},
				Timeout:   200 * time.Millisecond,
				KillGrace: 300 * time.Millisecond,
			})
			require.Error(t, out.Err)
			require.ErrorIs(t, out.Err, model.ErrProcessTimeout)
			require.Contains(t, out.Err.Error(), "did not finish within")
			require.True(t, out.TimedOut)
			require.False(t, out.Clean)
			require.Equal(t, runner.ExitCodeTimeout, out.ExitCode)
			require.GreaterOrEqual(t, out.Elapsed, tc.minimum)
			require.Less(t, out.Elapsed, 10*time.Second)

			// the process has been reaped
			err := syscall.Kill(out.PID, 0)
			require.True(t, errors.Is(err, syscall.ESRCH), "process %d still exists: %v", out.PID, err)
		})
	}
}

func TestDescendantHoldsOutput(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var cases = []struct {
		scenario string
		script   string
		exitCode int
	}{
		{"clean exit", "sleep 30 & echo done; exit 0", 0},
		{"non zero exit", "sleep 30 & echo done; exit 4", 4},
		{"stderr only", "sleep 30 1>/dev/null & echo done; exit 0", 0},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			out := runner.New().Run(t.Context(), runner.Command{
				Path:      sh,
				Args:      []string{"-c", tc.script},
				Timeout:   20 * time.Second,
				KillGrace: 300 * time.Millisecond,
			})
			require.NoError(t, out.Err)
			require.False(t, out.TimedOut)
			require.Equal(t, tc.exitCode, out.ExitCode)
			require.Equal(t, tc.exitCode == 0, out.Clean)
			require.Contains(t, out.Output, "done\n")
			require.Less(t, out.Elapsed, 5*time.Second)
		})
	}
}
