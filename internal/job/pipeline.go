// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/internal/sources"
	"github.com/pdiddy/customer-engine/pkg/types"
)

// Job-wide progress bands for each pipeline stage.
const (
	percentStarted   = 5
	sourcesLo        = 10
	sourcesHi        = 60
	aggregateLo      = 60
	aggregateHi      = 75
	analysisLo       = 75
	analysisHi       = 95
	sourceOverfetch  = 5
	stageSources     = "sources"
	stageAggregate   = "aggregate"
	stageAnalysis    = "analysis"
	stageFinalize    = "finalize"
	stageOrchestrate = "orchestrate"
)

// stageError is an orchestration error attributed to a pipeline stage.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// runResult is what a successful pipeline run produced.
type runResult struct {
	results     []types.ResultRecord
	degraded    bool
	sourceError int
}

// execute drives one job from Queued to a terminal state. A single consumer
// goroutine folds the job's progress events into the store; it is drained
// before the terminal write so no event lands after it.
func (o *Orchestrator) execute(ctx context.Context, id string) {
	// Store writes must land even when ctx is cancelled mid-job.
	writeCtx := context.WithoutCancel(ctx)

	var j types.Job
	err := o.store.Update(writeCtx, id, func(cur *types.Job) error {
		if err := transition(cur, types.StatusProcessing, o.now()); err != nil {
			return err
		}
		cur.Progress = types.Progress{Percent: percentStarted, Message: "Starting discovery"}
		j = cur.Clone()
		return nil
	})
	if err != nil {
		o.logger.Warn("skipping job", "job_id", id, "error", err)
		return
	}

	logger := o.logger.With("job_id", id, "subject", j.SubjectName)
	logger.Info("job started", "max_results", j.MaxResults)

	sink := progress.NewChannel(eventBuffer)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ev := range sink.Events() {
			err := o.store.Update(writeCtx, id, func(cur *types.Job) error {
				applyEvent(cur, ev, o.cfg.LogWindow, o.now())
				return nil
			})
			if err != nil {
				logger.Warn("dropping progress event", "error", err)
			}
		}
	}()

	res, runErr := o.runGuarded(ctx, j, sink, logger)
	sink.Close()
	<-consumed

	err = o.store.Update(writeCtx, id, func(cur *types.Job) error {
		if runErr != nil {
			stage := stageOrchestrate
			var se *stageError
			if errors.As(runErr, &se) {
				stage = se.stage
				runErr = se.err
			}
			return o.fail(cur, stage, runErr)
		}
		return o.complete(cur, res)
	})
	if err != nil {
		logger.Error("could not record job outcome", "error", err)
		return
	}

	if runErr != nil {
		logger.Error("job failed", "error", runErr)
		return
	}
	logger.Info("job finished", "results", len(res.results), "degraded", res.degraded, "source_errors", res.sourceError)
}

func (o *Orchestrator) complete(j *types.Job, res runResult) error {
	status := types.StatusCompleted
	if res.degraded {
		status = types.StatusCompletedWithErrors
	}
	if err := transition(j, status, o.now()); err != nil {
		return err
	}
	j.Results = res.results
	if j.Results == nil {
		j.Results = []types.ResultRecord{}
	}
	j.Progress = types.Progress{Percent: 100, Message: fmt.Sprintf("Found %d customers for %s", len(j.Results), j.SubjectName)}
	level := types.LevelSuccess
	if res.degraded {
		level = types.LevelWarning
		j.Progress.Message += " (some steps failed)"
	}
	appendLog(j, types.LogEntry{Time: o.now(), Level: level, Message: j.Progress.Message}, o.cfg.LogWindow)
	j.Metrics = j.Metrics.Merge(types.Metrics{
		"duration_seconds": j.FinishedAt.Sub(j.StartedAt).Seconds(),
		"results":          float64(len(j.Results)),
		"source_errors":    float64(res.sourceError),
	})
	return nil
}

// runGuarded runs the pipeline, converting a panic anywhere in it into a
// stage-attributed error.
func (o *Orchestrator) runGuarded(ctx context.Context, j types.Job, sink progress.Sink, logger *slog.Logger) (res runResult, err error) {
	stage := stageOrchestrate
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			err = &stageError{stage: stage, err: fmt.Errorf("internal error: %v", r)}
		}
	}()
	return o.run(ctx, j, sink, &stage)
}

func (o *Orchestrator) run(ctx context.Context, j types.Job, sink progress.Sink, stage *string) (runResult, error) {
	var res runResult

	*stage = stageSources
	lists, failed := o.collect(ctx, j, sink)
	res.sourceError = failed
	res.degraded = failed > 0

	total := 0
	for _, l := range lists {
		total += len(l)
	}
	if total == 0 {
		sink.Emit(progress.Event{Message: "No candidates found in any source", Log: true, Level: types.LevelWarning})
	}

	*stage = stageAggregate
	agg := o.aggregator.Aggregate(ctx, j.SubjectName,
		progress.Scoped{Sink: sink, Stage: stageAggregate, Lo: aggregateLo, Hi: aggregateHi}, lists...)

	*stage = stageAnalysis
	out, err := o.gateway.Analyze(ctx, agg.Candidates, j.SubjectName, j.MaxResults,
		progress.Scoped{Sink: sink, Stage: stageAnalysis, Lo: analysisLo, Hi: analysisHi})
	if err != nil {
		return res, &stageError{stage: stageAnalysis, err: err}
	}
	if out.ServiceErr != nil {
		res.degraded = true
	}

	*stage = stageFinalize
	if err := ctx.Err(); err != nil {
		return res, &stageError{stage: stageFinalize, err: fmt.Errorf("cancelled: %w", err)}
	}
	res.results = out.Results
	return res, nil
}

// collect invokes every source, sequentially or in parallel, and returns
// their lists in source order. A failing source is logged and contributes
// an empty list; the number of failures is returned.
func (o *Orchestrator) collect(ctx context.Context, j types.Job, sink progress.Sink) ([][]types.CandidateRecord, int) {
	n := len(o.fetchers)
	if n == 0 {
		sink.Emit(progress.Event{Percent: sourcesHi, Message: "No sources configured", Log: true, Level: types.LevelWarning})
		return nil, 0
	}

	lists := make([][]types.CandidateRecord, n)
	errs := make([]error, n)
	opts := sources.Options{MaxResults: j.MaxResults * sourceOverfetch}

	fetch := func(i int) {
		f := o.fetchers[i]
		band := progress.Band(sink, stageSources, f.Name(), sourcesLo, sourcesHi, i, n)
		band.Emit(progress.Event{Message: fmt.Sprintf("Searching %s", f.Name()), Log: true, Level: types.LevelInfo})

		start := time.Now()
		recs, err := fetchGuarded(ctx, f, j.SubjectName, opts, band)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			errs[i] = err
			band.Emit(progress.Event{
				Percent: 100,
				Message: fmt.Sprintf("%s failed: %v", f.Name(), err),
				Log:     true,
				Level:   types.LevelError,
				Metrics: types.Metrics{"errors": 1, "seconds": elapsed},
			})
			return
		}
		lists[i] = recs
		band.Emit(progress.Event{
			Percent: 100,
			Message: fmt.Sprintf("%s returned %d candidates", f.Name(), len(recs)),
			Log:     true,
			Level:   types.LevelSuccess,
			Metrics: types.Metrics{"candidates": float64(len(recs)), "seconds": elapsed},
		})
	}

	if o.cfg.ParallelSources {
		var g errgroup.Group
		for i := range n {
			g.Go(func() error {
				fetch(i)
				return nil
			})
		}
		g.Wait()
	} else {
		for i := range n {
			fetch(i)
		}
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	return lists, failed
}

// fetchGuarded calls f, treating a panic as an ordinary source failure.
func fetchGuarded(ctx context.Context, f sources.Fetcher, subject string, opts sources.Options, sink progress.Sink) (recs []types.CandidateRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source panicked: %v", r)
		}
	}()
	return f.Fetch(ctx, subject, opts, sink)
}
