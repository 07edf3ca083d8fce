// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/customer-engine/internal/aggregate"
	"github.com/pdiddy/customer-engine/internal/analysis"
	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/internal/sources"
	"github.com/pdiddy/customer-engine/pkg/types"
)

const (
	defaultWorkers         = 2
	defaultMaxResults      = 20
	defaultLogWindow       = 50
	defaultRetention       = time.Hour
	defaultJanitorInterval = 15 * time.Minute

	// eventBuffer is the per-job progress channel capacity.
	eventBuffer = 64
)

// Aggregator merges and validates the lists returned by the sources.
type Aggregator interface {
	Aggregate(ctx context.Context, subject string, sink progress.Sink, lists ...[]types.CandidateRecord) aggregate.Output
}

// Analyzer ranks the aggregated candidates. It returns an error only for
// contract violations; service failures degrade inside it.
type Analyzer interface {
	Analyze(ctx context.Context, candidates []types.CandidateRecord, subject string, maxResults int, sink progress.Sink) (analysis.Outcome, error)
}

// Orchestrator accepts submissions, queues them, and runs them on a fixed
// pool of workers. Job state lives in the Store; the orchestrator is the
// only writer.
type Orchestrator struct {
	store      Store
	fetchers   []sources.Fetcher
	aggregator Aggregator
	gateway    Analyzer
	cfg        types.WorkerConfig
	logger     *slog.Logger
	queue      *queue
	now        func() time.Time

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// New creates an Orchestrator. Zero values in cfg take defaults.
func New(store Store, fetchers []sources.Fetcher, agg Aggregator, gw Analyzer, cfg types.WorkerConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = defaultMaxResults
	}
	if cfg.LogWindow <= 0 {
		cfg.LogWindow = defaultLogWindow
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = defaultJanitorInterval
	}
	return &Orchestrator{
		store:      store,
		fetchers:   fetchers,
		aggregator: agg,
		gateway:    gw,
		cfg:        cfg,
		logger:     logger,
		queue:      newQueue(),
		now:        time.Now,
	}
}

// Start launches the workers and the retention janitor. They run until ctx
// is cancelled; Wait blocks until they have exited. Start is a no-op after
// the first call.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	for i := range o.cfg.Workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.work(ctx, i+1)
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.janitor(ctx)
	}()

	o.logger.Info("orchestrator started", "workers", o.cfg.Workers, "sources", len(o.fetchers), "retention", o.cfg.Retention)
}

// Wait blocks until every worker has stopped, then fails any job still
// queued so pollers do not wait on work that will never run.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
	for _, id := range o.queue.drain() {
		err := o.store.Update(context.Background(), id, func(j *types.Job) error {
			return o.fail(j, "queue", errors.New("orchestrator stopped before the job started"))
		})
		if err != nil {
			o.logger.Warn("could not fail queued job", "job_id", id, "error", err)
		}
	}
}

// Submit creates a queued job and returns its ID without waiting for it to
// run. maxResults of 0 uses the configured default.
func (o *Orchestrator) Submit(ctx context.Context, subject string, maxResults int) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrInvalidSubject
	}
	if maxResults < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidMaxResults, maxResults)
	}
	if maxResults == 0 {
		maxResults = o.cfg.DefaultMaxResults
	}

	j := types.Job{
		ID:          uuid.NewString(),
		SubjectName: subject,
		MaxResults:  maxResults,
		Status:      types.StatusQueued,
		Progress:    types.Progress{Percent: 0, Message: "Queued"},
		Metrics:     types.Metrics{},
		CreatedAt:   o.now(),
	}
	if err := o.store.Create(ctx, j); err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}
	o.queue.push(j.ID)

	o.logger.Info("job submitted", "job_id", j.ID, "subject", subject, "max_results", maxResults, "queued", o.queue.len())
	return j.ID, nil
}

// GetStatus returns the poller's view of a job, or ErrNotFound.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (types.StatusReport, error) {
	j, err := o.store.Get(ctx, id)
	if err != nil {
		return types.StatusReport{}, err
	}
	return Report(j), nil
}

// Sweep removes terminal jobs older than the retention period.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	return o.store.Sweep(ctx, o.now().Add(-o.cfg.Retention))
}

func (o *Orchestrator) work(ctx context.Context, worker int) {
	logger := o.logger.With("worker", worker)
	for {
		id, ok := o.queue.pop(ctx)
		if !ok {
			logger.Debug("worker stopping")
			return
		}
		o.execute(ctx, id)
	}
}

func (o *Orchestrator) janitor(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.Sweep(ctx)
			if err != nil {
				o.logger.Warn("job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				o.logger.Info("swept expired jobs", "removed", n)
			}
		}
	}
}

func (o *Orchestrator) fail(j *types.Job, stage string, err error) error {
	if err := transition(j, types.StatusFailed, o.now()); err != nil {
		return err
	}
	j.Error = &types.JobError{Stage: stage, Message: err.Error()}
	j.Results = nil
	j.Progress.Message = fmt.Sprintf("Failed during %s: %v", stage, err)
	appendLog(j, types.LogEntry{Time: o.now(), Level: types.LevelError, Message: j.Progress.Message}, o.cfg.LogWindow)
	if !j.StartedAt.IsZero() {
		j.Metrics = j.Metrics.Merge(types.Metrics{"duration_seconds": j.FinishedAt.Sub(j.StartedAt).Seconds()})
	}
	return nil
}
