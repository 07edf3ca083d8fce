// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package job runs customer-discovery jobs: it owns the job lifecycle state
// machine, the job store, the submission queue, and the workers that drive
// each job through sources, aggregation, and analysis.
package job

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/pkg/types"
)

var (
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidSubject is returned by Submit for an empty subject name.
	ErrInvalidSubject = errors.New("invalid subject name")

	// ErrInvalidMaxResults is returned by Submit for a negative result cap.
	ErrInvalidMaxResults = errors.New("invalid max results")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// maxRunningPercent keeps 100 reserved for terminal states.
const maxRunningPercent = 99

// transitions lists the allowed next states. Terminal states have none.
// Queued jobs may fail directly when the orchestrator shuts down first.
var transitions = map[types.Status][]types.Status{
	types.StatusQueued:     {types.StatusProcessing, types.StatusFailed},
	types.StatusProcessing: {types.StatusCompleted, types.StatusCompletedWithErrors, types.StatusFailed},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to types.Status) bool {
	return slices.Contains(transitions[from], to)
}

// transition moves j to status to, stamping start and finish times.
func transition(j *types.Job, to types.Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	switch {
	case to == types.StatusProcessing:
		j.StartedAt = now
	case to.IsTerminal():
		j.FinishedAt = now
	}
	return nil
}

// applyEvent folds one progress event into j. Percent only moves forward,
// metrics are merged key by key (prefixed with the event's source), logs are
// trimmed to the last window entries, and a partial result set replaces the
// current one only if it is at least as large or explicitly supersedes it.
func applyEvent(j *types.Job, ev progress.Event, window int, now time.Time) {
	if j.Status.IsTerminal() {
		return
	}

	if p := min(ev.Percent, maxRunningPercent); p > j.Progress.Percent {
		j.Progress.Percent = p
	}
	if ev.Message != "" {
		j.Progress.Message = ev.Message
	}

	if len(ev.Metrics) > 0 {
		m := ev.Metrics
		if ev.Source != "" {
			m = m.Prefixed(ev.Source)
		}
		j.Metrics = j.Metrics.Merge(m)
	}

	if ev.Log && ev.Message != "" {
		level := ev.Level
		if level == "" {
			level = types.LevelInfo
		}
		appendLog(j, types.LogEntry{Time: now, Level: level, Message: ev.Message}, window)
	}

	if ev.Partial != nil && (ev.Supersedes || len(ev.Partial) >= len(j.PartialResults)) {
		j.PartialResults = slices.Clone(ev.Partial)
	}
}

func appendLog(j *types.Job, entry types.LogEntry, window int) {
	j.Logs = append(j.Logs, entry)
	if window > 0 && len(j.Logs) > window {
		j.Logs = slices.Clone(j.Logs[len(j.Logs)-window:])
	}
}

// Report builds the poller's view of j. Final results are shown once the job
// completed; before that, and after a failure, the partial results are.
func Report(j types.Job) types.StatusReport {
	r := types.StatusReport{
		ID:          j.ID,
		SubjectName: j.SubjectName,
		Status:      j.Status,
		Progress:    j.Progress,
		Metrics:     j.Metrics,
		Logs:        j.Logs,
		Error:       j.Error,
	}
	switch j.Status {
	case types.StatusCompleted, types.StatusCompletedWithErrors:
		r.Results = j.Results
	default:
		r.Partial = true
		r.Results = j.PartialResults
	}
	if r.Results == nil {
		r.Results = []types.ResultRecord{}
	}
	if r.Logs == nil {
		r.Logs = []types.LogEntry{}
	}
	if r.Metrics == nil {
		r.Metrics = types.Metrics{}
	}
	return r
}
