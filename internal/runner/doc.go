// Package runner drives one interactive scanning process to completion.
//
// Overview
// Runner is an opinionated wrapper around os/exec for tools, which ask
// questions on their output and wait for an answer on stdin:
//   - starts the process in its own process group
//   - reads stdout and stderr in chunks on two goroutines
//   - writes the answers of a prompt.Responder to stdin, before reading on
//   - keeps only the tail of the combined output
//   - terminates the process group on deadline, kills it after a grace period
//   - waits for the process independently of its output: descendants
//     holding stdout or stderr open after it exited get a grace period,
//     then the group is terminated and the pipes are closed
//
// Data flow:
//
//   Run()                 read loops               process
//     |                       |                       |
//     | Start() ------------------------------------->|
//     |                       |<------ chunk ---------| stdout/stderr
//     |                       | Respond(chunk)        |
//     |                       |------- answer ------->| stdin
//     |                       |<------ EOF -----------| (process exits)
//     |<----- Wait() ---------|                       |
//     | deadline: SIGTERM -> grace -> SIGKILL ------->|
//
// Invariants:
//   - Run never returns before the process is reaped.
//   - An answer is written before the next chunk of the same stream is read.
//   - Each Run owns its buffers, nothing is shared across runs.
//   - Failures are reported in Outcome.Err, wrapping model.ErrExecutableNotFound,
//     model.ErrProcessTimeout or model.ErrProcessError.
package runner
