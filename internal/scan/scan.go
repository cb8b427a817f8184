package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/CZERTAINLY/toxin/internal/config"
	"github.com/CZERTAINLY/toxin/internal/log"
	"github.com/CZERTAINLY/toxin/internal/model"
	"github.com/CZERTAINLY/toxin/internal/parser"
	"github.com/CZERTAINLY/toxin/internal/prompt"
	"github.com/CZERTAINLY/toxin/internal/runner"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SampleLen caps the output samples stored in the debug map
const SampleLen = 1000

// cookies and headers carry credentials of the scanned site
var redactFlags = []string{"--cookies", "--headers"}

// ErrNoActivity is reported when the tool exited cleanly, but its output
// has no statistics and no findings
var ErrNoActivity = errors.New("no scan activity detected in tool output")

// Executor runs a single process. runner.Runner is the production one.
type Executor interface {
	Run(ctx context.Context, cmd runner.Command) runner.Outcome
}

// Orchestrator drives one scan through Validating, Running and Parsing
// and assembles the ScanResult. It holds no per scan state, so a single
// instance serves concurrent scans.
type Orchestrator struct {
	cfg       config.Config
	executor  Executor
	observer  Observer
	responder prompt.Responder
}

type Option func(*Orchestrator)

func WithExecutor(e Executor) Option {
	return func(o *Orchestrator) { o.executor = e }
}

// WithObserver replaces the default LogObserver
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithResponder overrides the prompts from the configuration
func WithResponder(r prompt.Responder) Option {
	return func(o *Orchestrator) { o.responder = r }
}

func New(cfg config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		executor:  runner.New(),
		observer:  LogObserver{},
		responder: cfg.Responder(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one scan. It never returns an error: every failure ends
// as a ScanResult with Status Failed and ErrorMessage set.
func (o *Orchestrator) Run(ctx context.Context, req model.ScanRequest) model.ScanResult {
	id := uuid.NewString()
	ctx = log.ContextAttrs(ctx,
		slog.String("scan_id", id),
		slog.String("target", req.URL()),
	)

	result := model.NewScanResult(req.URL())
	result.Debug = map[string]any{
		"scan_id":       id,
		"state":         StateIdle.String(),
		"command":       o.cfg.Tool.Path,
		"exit_code":     runner.ExitCodeNotStarted,
		"timed_out":     false,
		"elapsed":       "0s",
		"elapsed_ms":    int64(0),
		"responses":     0,
		"output_sample": "",
		"stderr_sample": "",
		"error_kind":    "",
	}

	o.transition(ctx, id, StateValidating)
	if err := req.Validate(); err != nil {
		return o.finish(ctx, id, result, err)
	}
	if probe, err := o.CheckTool(ctx); err != nil {
		result.Debug["probe_exit_code"] = probe.ExitCode
		result.Debug["output_sample"] = parser.Snippet(probe.Output, SampleLen)
		return o.finish(ctx, id, result, err)
	}

	o.transition(ctx, id, StateRunning)
	args := o.Args(req)
	result.Debug["command"] = strings.Join(append([]string{o.cfg.Tool.Path}, runner.Redact(args, redactFlags...)...), " ")
	outcome := o.executor.Run(ctx, runner.Command{
		Path:        o.cfg.Tool.Path,
		Args:        args,
		Env:         o.cfg.Tool.Environ(),
		Timeout:     o.cfg.Scan.Timeout,
		KillGrace:   o.cfg.Scan.KillGrace,
		Responder:   o.responder,
		RedactFlags: redactFlags,
	})
	result.Debug["exit_code"] = outcome.ExitCode
	result.Debug["timed_out"] = outcome.TimedOut
	result.Debug["elapsed"] = outcome.Elapsed.String()
	result.Debug["elapsed_ms"] = outcome.Elapsed.Milliseconds()
	result.Debug["responses"] = outcome.Responses
	result.Debug["output_bytes"] = outcome.OutputBytes
	result.Debug["output_sample"] = parser.Snippet(outcome.Output, SampleLen)
	result.Debug["stderr_sample"] = parser.Snippet(outcome.Stderr, SampleLen)
	if outcome.Err != nil {
		return o.finish(ctx, id, result, outcome.Err)
	}

	o.transition(ctx, id, StateParsing)
	findings, warning := parser.Parse(outcome.Output)
	result.Vulnerabilities = findings.Vulnerabilities
	result.Statistics = findings.Statistics
	result.Success = outcome.Clean && findings.Valid
	if result.Success {
		result.Status = model.StatusCompleted
	}

	var err error
	switch {
	case warning != "":
		err = fmt.Errorf("%w: %s", model.ErrParseWarning, warning)
	case outcome.ExitCode != 0:
		err = fmt.Errorf("%w: %s exited with code %d%s", model.ErrProcessError, o.cfg.Tool.Path, outcome.ExitCode, lastLine(outcome.Stderr))
	case !findings.Valid:
		err = ErrNoActivity
	}
	if err != nil {
		result.ErrorMessage = err.Error()
		result.Debug["error_kind"] = model.Kind(err)
	}
	return o.finish(ctx, id, result, nil)
}

// RunAll runs independent scans with at most limit of them at once.
// Results keep the order of reqs.
func (o *Orchestrator) RunAll(ctx context.Context, reqs []model.ScanRequest, limit int) []model.ScanResult {
	results := make([]model.ScanResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = o.Run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// CheckTool runs the tool with its version arguments. A missing
// executable, a timeout or a non zero exit code make the tool unavailable.
func (o *Orchestrator) CheckTool(ctx context.Context) (runner.Outcome, error) {
	tool := o.cfg.Tool
	if len(tool.VersionArgs) == 0 {
		return runner.Outcome{}, nil
	}
	args := make([]string, 0, len(tool.Args)+len(tool.VersionArgs))
	args = append(args, tool.Args...)
	args = append(args, tool.VersionArgs...)

	timeout := tool.VersionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	out := o.executor.Run(ctx, runner.Command{
		Path:      tool.Path,
		Args:      args,
		Env:       tool.Environ(),
		Timeout:   timeout,
		KillGrace: time.Second,
	})
	switch {
	case out.Err != nil:
		return out, fmt.Errorf("%w: %w", model.ErrToolUnavailable, out.Err)
	case out.ExitCode != 0:
		return out, fmt.Errorf("%w: %s exited with code %d%s", model.ErrToolUnavailable, tool.Path, out.ExitCode, lastLine(out.Stderr))
	}
	slog.DebugContext(ctx, "tool available", "version", strings.TrimSpace(parser.Snippet(out.Output, 100)))
	return out, nil
}

// Args returns the arguments of the tool for req: the configured prefix,
// performance flags, then the target.
func (o *Orchestrator) Args(req model.ScanRequest) []string {
	s := o.cfg.Scan
	args := make([]string, 0, len(o.cfg.Tool.Args)+len(s.ExtraArgs)+14)
	args = append(args, o.cfg.Tool.Args...)
	args = append(args,
		"--threads="+strconv.Itoa(s.Threads),
		"--timeout="+seconds(s.RequestTimeout),
		"--retries="+strconv.Itoa(s.Retries),
		"--delay="+seconds(s.Delay),
	)
	args = append(args, s.ExtraArgs...)
	args = append(args, "-u", req.URL(), "--method", req.Method())
	if c := req.Cookies(); c != "" {
		args = append(args, "--cookies", c)
	}
	if h := req.Headers(); h != "" {
		args = append(args, "--headers", h)
	}
	if p := req.Payload(); p != "" && o.cfg.Tool.PayloadFlag != "" {
		args = append(args, o.cfg.Tool.PayloadFlag, p)
	}
	return args
}

func (o *Orchestrator) transition(ctx context.Context, id string, state State) {
	o.observer.Notify(ctx, Event{ScanID: id, State: state, Time: time.Now().UTC()})
}

func (o *Orchestrator) finish(ctx context.Context, id string, result model.ScanResult, err error) model.ScanResult {
	if err != nil {
		result.Status = model.StatusFailed
		result.Success = false
		result.ErrorMessage = err.Error()
		result.Debug["error_kind"] = model.Kind(err)
	}
	result.Debug["state"] = StateDone.String()
	o.observer.Notify(ctx, Event{
		ScanID: id,
		State:  StateDone,
		Time:   time.Now().UTC(),
		Err:    err,
		Result: &result,
	})
	return result
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	return ": " + parser.Snippet(s, 200)
}
