package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/toxin/internal/log"
	"github.com/CZERTAINLY/toxin/internal/model"
	"github.com/CZERTAINLY/toxin/internal/prompt"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout   = 300 * time.Second
	DefaultKillGrace = 5 * time.Second

	// ExitCodeNotStarted is reported when the process could not be spawned
	ExitCodeNotStarted = -2
	// ExitCodeTimeout is reported when the process was terminated on deadline
	ExitCodeTimeout = -3

	// OutputTail is how many bytes of the combined output are retained
	OutputTail = 5000
	stderrTail = 1000
	chunkSize  = 4096
)

type Command struct {
	Path      string
	Args      []string
	Env       []string // nil inherits the environment of the current process
	Timeout   time.Duration
	KillGrace time.Duration
	Responder prompt.Responder
	// RedactFlags lists flags whose values never reach the logs
	RedactFlags []string
}

// Outcome is the result of a single Run. It is always returned, failures
// are described by Err.
type Outcome struct {
	Path        string
	Args        []string
	PID         int
	Started     time.Time
	Stopped     time.Time
	Elapsed     time.Duration
	ExitCode    int
	TimedOut    bool
	Clean       bool // ExitCode == 0 && !TimedOut && Err == nil
	Responses   int  // number of prompt answers written to stdin
	Output      string
	OutputBytes int64
	Stderr      string
	Err         error
}

// Runner executes commands. The zero value is ready to use and is safe
// for concurrent use, each Run owns its own process and buffers.
type Runner struct{}

func New() Runner {
	return Runner{}
}

// Run starts the command and blocks until it exits or the deadline
// expires. Prompts found in the output are answered via cmd.Responder.
func (Runner) Run(ctx context.Context, proto Command) Outcome {
	timeout := proto.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := proto.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	responder := proto.Responder
	if responder == nil {
		responder = prompt.NewTable()
	}

	out := Outcome{
		Path:     proto.Path,
		Args:     append([]string(nil), proto.Args...),
		ExitCode: ExitCodeNotStarted,
	}
	ctx = log.ContextAttrs(ctx, slog.String("path", proto.Path))

	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Env = proto.Env
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return out.fail(fmt.Errorf("%w: stdin pipe: %w", model.ErrProcessError, err))
	}
	// os.Pipe instead of StdoutPipe: Wait must not depend on the read loops,
	// descendants may keep the write ends open after the process exits
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return out.fail(fmt.Errorf("%w: stdout pipe: %w", model.ErrProcessError, err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW)
		return out.fail(fmt.Errorf("%w: stderr pipe: %w", model.ErrProcessError, err))
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	defer closeAll(stdoutR, stderrR)

	out.Started = time.Now().UTC()
	err = cmd.Start()
	// the child holds its own copies now
	closeAll(stdoutW, stderrW)
	if err != nil {
		slog.DebugContext(ctx, "process start failed", "error", err)
		return out.fail(startError(proto.Path, err))
	}
	out.PID = cmd.Process.Pid
	ctx = log.ContextAttrs(ctx, slog.Int("pid", out.PID))
	slog.DebugContext(ctx, "process started",
		"args", Redact(proto.Args, proto.RedactFlags...),
		"timeout", timeout.String(),
	)

	combined := newTail(OutputTail)
	errTail := newTail(stderrTail)
	answers := &stdinWriter{w: stdin}

	var g errgroup.Group
	g.Go(func() error {
		return pump(ctx, stdoutR, responder, answers, combined)
	})
	g.Go(func() error {
		return pump(ctx, stderrR, responder, answers, combined, errTail)
	})
	drained := make(chan error, 1)
	go func() {
		drained <- g.Wait()
	}()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		waitErr  error
		canceled bool
	)
	select {
	case waitErr = <-exited:
	case <-timer.C:
		out.TimedOut = true
		slog.WarnContext(ctx, "process deadline expired: terminating", "timeout", timeout.String())
		waitErr = stop(ctx, cmd, exited, grace)
	case <-ctx.Done():
		canceled = true
		slog.DebugContext(ctx, "context canceled: terminating process")
		waitErr = stop(ctx, cmd, exited, grace)
	}
	answers.close()
	ioErr := drain(ctx, cmd, drained, grace, stdoutR, stderrR)

	out.Stopped = time.Now().UTC()
	out.Elapsed = out.Stopped.Sub(out.Started)
	out.Output = combined.String()
	out.OutputBytes = combined.Total()
	out.Stderr = errTail.String()
	out.Responses = answers.count()
	out.ExitCode = -1
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case out.TimedOut:
		out.ExitCode = ExitCodeTimeout
		out.Err = fmt.Errorf("%w: %s did not finish within %s", model.ErrProcessTimeout, proto.Path, timeout)
	case canceled:
		out.Err = fmt.Errorf("%w: scan canceled: %w", model.ErrProcessError, context.Cause(ctx))
	case waitErr != nil && !isExitError(waitErr):
		out.Err = fmt.Errorf("%w: waiting for %s: %w", model.ErrProcessError, proto.Path, waitErr)
	case ioErr != nil:
		out.Err = fmt.Errorf("%w: reading output: %w", model.ErrProcessError, ioErr)
	}
	out.Clean = out.Err == nil && out.ExitCode == 0

	slog.DebugContext(ctx, "process finished",
		"exit_code", out.ExitCode,
		"elapsed", out.Elapsed.String(),
		"responses", out.Responses,
		"output_bytes", out.OutputBytes,
	)
	return out
}

func (o Outcome) fail(err error) Outcome {
	if o.Started.IsZero() {
		o.Started = time.Now().UTC()
	}
	o.Stopped = time.Now().UTC()
	o.Elapsed = o.Stopped.Sub(o.Started)
	o.Err = err
	return o
}

// stop terminates the process group and waits until the process is
// reaped. It escalates to SIGKILL after grace.
func stop(ctx context.Context, cmd *exec.Cmd, exited <-chan error, grace time.Duration) error {
	if err := terminate(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.DebugContext(ctx, "terminate failed", "error", err)
	}
	select {
	case err := <-exited:
		return err
	case <-time.After(grace):
	}

	slog.WarnContext(ctx, "process ignored termination: killing", "grace", grace.String())
	if err := kill(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.DebugContext(ctx, "kill failed", "error", err)
	}
	return <-exited
}

// drain waits for the read loops once the process is gone. Descendants
// still holding the output open get grace to finish, then the process
// group is terminated and finally the read ends are closed.
func drain(ctx context.Context, cmd *exec.Cmd, drained <-chan error, grace time.Duration, pipes ...io.Closer) error {
	select {
	case err := <-drained:
		return err
	case <-time.After(grace):
	}

	slog.WarnContext(ctx, "output still open after exit: terminating descendants", "grace", grace.String())
	if err := terminate(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.DebugContext(ctx, "terminate failed", "error", err)
	}
	select {
	case err := <-drained:
		return err
	case <-time.After(grace):
	}

	slog.WarnContext(ctx, "output still open: closing pipes")
	if err := kill(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.DebugContext(ctx, "kill failed", "error", err)
	}
	closeAll(pipes...)
	return <-drained
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

// pump reads r chunk by chunk, stores each chunk to sinks and writes the
// answers to prompts found in it before reading the next one
func pump(ctx context.Context, r io.Reader, responder prompt.Responder, answers *stdinWriter, sinks ...io.Writer) error {
	chunk := make([]byte, chunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			for _, s := range sinks {
				_, _ = s.Write(data)
			}
			for _, answer := range responder.Respond(data) {
				answers.write(ctx, answer)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

type stdinWriter struct {
	mx     sync.Mutex
	w      io.WriteCloser
	n      int
	closed atomic.Bool
	once   sync.Once
}

func (s *stdinWriter) write(ctx context.Context, p []byte) {
	if s.closed.Load() {
		return
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, err := s.w.Write(p); err != nil {
		slog.DebugContext(ctx, "writing prompt answer failed", "error", err)
		return
	}
	s.n++
	slog.DebugContext(ctx, "prompt answered", "answer", string(p))
}

// close does not take the mutex so it can't block on a write in progress
func (s *stdinWriter) close() {
	s.once.Do(func() {
		s.closed.Store(true)
		_ = s.w.Close()
	})
}

func (s *stdinWriter) count() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.n
}

func startError(path string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", model.ErrExecutableNotFound, path, err)
	}
	return fmt.Errorf("%w: starting %s: %w", model.ErrProcessError, path, err)
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
