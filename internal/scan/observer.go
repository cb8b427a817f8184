package scan

import (
	"context"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/toxin/internal/model"
)

type State int

const (
	StateIdle State = iota
	StateValidating
	StateRunning
	StateParsing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	case StateParsing:
		return "parsing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is a state transition of one scan. Result is set on StateDone only,
// observers must not modify it.
type Event struct {
	ScanID string
	State  State
	Time   time.Time
	Err    error // fatal error which ended the scan
	Result *model.ScanResult
}

// Observer is notified synchronously from the scan goroutine
type Observer interface {
	Notify(ctx context.Context, e Event)
}

type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// LogObserver logs transitions with slog
type LogObserver struct{}

func (LogObserver) Notify(ctx context.Context, e Event) {
	if e.State != StateDone {
		slog.DebugContext(ctx, "scan state", "state", e.State.String())
		return
	}
	r := e.Result
	switch {
	case e.Err != nil:
		slog.ErrorContext(ctx, "scan failed", "error", e.Err)
	case r.Status == model.StatusCompleted:
		slog.InfoContext(ctx, "scan completed",
			"vulnerabilities", len(r.Vulnerabilities),
			"requests", r.Statistics.Requests,
		)
	default:
		slog.WarnContext(ctx, "scan finished", "status", string(r.Status), "error", r.ErrorMessage)
	}
}
