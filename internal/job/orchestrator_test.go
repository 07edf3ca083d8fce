// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package job

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/customer-engine/internal/aggregate"
	"github.com/pdiddy/customer-engine/internal/analysis"
	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/internal/sources"
	"github.com/pdiddy/customer-engine/internal/validate"
	"github.com/pdiddy/customer-engine/pkg/types"
)

// --- doubles ---

type hostsResolver map[string]bool

func (h hostsResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if h[host] {
		return []string{"192.0.2.7"}, nil
	}
	return nil, errors.New("no such host")
}

func staticSource(name string, recs ...types.CandidateRecord) sources.Fetcher {
	return sources.Func{SourceName: name, Fn: func(_ context.Context, _ string, _ sources.Options, sink progress.Sink) ([]types.CandidateRecord, error) {
		sink.Emit(progress.Event{Percent: 50, Message: name + " halfway", Metrics: types.Metrics{"pages_checked": 1}})
		out := make([]types.CandidateRecord, len(recs))
		for i, r := range recs {
			r.Source = name
			out[i] = r
		}
		return out, nil
	}}
}

func failingSource(name string) sources.Fetcher {
	return sources.Func{SourceName: name, Fn: func(context.Context, string, sources.Options, progress.Sink) ([]types.CandidateRecord, error) {
		return nil, errors.New("upstream returned garbage")
	}}
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, []types.CandidateRecord, string, int, progress.Sink) (analysis.Outcome, error) {
	var m map[string]int
	m["boom"]++ // nil map write
	return analysis.Outcome{}, nil
}

type harness struct {
	orch   *Orchestrator
	cancel context.CancelFunc
}

func newHarness(t *testing.T, store Store, fetchers []sources.Fetcher, svc analysis.Service, cfg types.WorkerConfig, opts ...func(*Orchestrator)) *harness {
	t.Helper()
	v := validate.New(types.ValidatorConfig{}, validate.WithResolver(hostsResolver{"globex.com": true, "hooli.com": true}))
	tiers := types.TierStructure | types.TierDNS
	agg := aggregate.New(v, tiers, types.AggregateConfig{}, nil)
	gw := analysis.NewGateway(svc, v, tiers, types.AnalysisConfig{BaseTimeout: 20 * time.Millisecond, RetryDelay: time.Millisecond}, nil)
	o := New(store, fetchers, agg, gw, cfg, nil)
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	h := &harness{orch: o, cancel: cancel}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	h.orch.Wait()
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) types.StatusReport {
	t.Helper()
	var report types.StatusReport
	require.Eventually(t, func() bool {
		r, err := o.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		report = r
		return r.Status.IsTerminal()
	}, 5*time.Second, 2*time.Millisecond)
	return report
}

func scenarioSources() []sources.Fetcher {
	return []sources.Fetcher{
		staticSource("vendor_site", types.CandidateRecord{Name: "Acme"}, types.CandidateRecord{Name: "Globex", RawURL: "globex.com"}),
		staticSource("featured_customers", types.CandidateRecord{Name: "globex", RawURL: "www.globex.com/about"}),
		staticSource("search", types.CandidateRecord{Name: "Initech"}),
	}
}

// --- tests ---

func TestOrchestratorScenario(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), scenarioSources(), nil, types.WorkerConfig{})

	id, err := h.orch.Submit(context.Background(), "Acme", 10)
	require.NoError(t, err)

	r := waitTerminal(t, h.orch, id)
	assert.Equal(t, types.StatusCompleted, r.Status)
	assert.False(t, r.Partial)
	assert.Equal(t, 100, r.Progress.Percent)
	require.Len(t, r.Results, 1)
	assert.Equal(t, "Globex", r.Results[0].CandidateName)
	assert.Equal(t, "globex.com", r.Results[0].CandidateURL)
	assert.Equal(t, "Acme", r.Results[0].SubjectName)
	assert.Equal(t, "vendor_site", r.Results[0].Source)

	assert.Equal(t, 1.0, r.Metrics["vendor_site.pages_checked"])
	assert.Equal(t, 1.0, r.Metrics["search.candidates"])
	assert.Equal(t, 1.0, r.Metrics["aggregate.self_references"])
	assert.Equal(t, 1.0, r.Metrics["analysis.fallback"])
	assert.Contains(t, r.Metrics, "duration_seconds")
	assert.NotEmpty(t, r.Logs)
	assert.LessOrEqual(t, len(r.Logs), defaultLogWindow)
}

func TestOrchestratorProgressIsMonotonic(t *testing.T) {
	slow := func(name string) sources.Fetcher {
		return sources.Func{SourceName: name, Fn: func(ctx context.Context, _ string, _ sources.Options, sink progress.Sink) ([]types.CandidateRecord, error) {
			for p := 10; p <= 100; p += 30 {
				sink.Emit(progress.Event{Percent: p, Message: name})
				time.Sleep(2 * time.Millisecond)
			}
			// A late, lower report must not pull the job back.
			sink.Emit(progress.Event{Percent: 5, Message: name + " straggler"})
			return []types.CandidateRecord{{Name: "Hooli", RawURL: "hooli.com", Source: name}}, nil
		}}
	}
	h := newHarness(t, NewMemoryStore(), []sources.Fetcher{slow("a"), slow("b"), slow("c")}, nil, types.WorkerConfig{ParallelSources: true})

	id, err := h.orch.Submit(context.Background(), "Acme", 10)
	require.NoError(t, err)

	last := -1
	for {
		r, err := h.orch.GetStatus(context.Background(), id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Progress.Percent, last, "progress regressed")
		last = r.Progress.Percent
		if r.Status.IsTerminal() {
			assert.Equal(t, types.StatusCompleted, r.Status)
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 100, last)
}

func TestOrchestratorSourceFailureDoesNotAbort(t *testing.T) {
	fetchers := append([]sources.Fetcher{failingSource("peerspot")}, scenarioSources()...)
	h := newHarness(t, NewMemoryStore(), fetchers, nil, types.WorkerConfig{})

	id, err := h.orch.Submit(context.Background(), "Acme", 10)
	require.NoError(t, err)

	r := waitTerminal(t, h.orch, id)
	assert.Equal(t, types.StatusCompletedWithErrors, r.Status)
	require.Len(t, r.Results, 1)
	assert.Equal(t, "Globex", r.Results[0].CandidateName)
	assert.Equal(t, 1.0, r.Metrics["peerspot.errors"])
	assert.Equal(t, 1.0, r.Metrics["source_errors"])

	var sawError bool
	for _, l := range r.Logs {
		if l.Level == types.LevelError {
			sawError = true
			assert.Contains(t, l.Message, "peerspot failed")
		}
	}
	assert.True(t, sawError)
}

func TestOrchestratorSourcePanicIsASourceFailure(t *testing.T) {
	panicky := sources.Func{SourceName: "broken", Fn: func(context.Context, string, sources.Options, progress.Sink) ([]types.CandidateRecord, error) {
		panic("index out of range")
	}}
	h := newHarness(t, NewMemoryStore(), append(scenarioSources(), panicky), nil, types.WorkerConfig{})

	id, err := h.orch.Submit(context.Background(), "Acme", 10)
	require.NoError(t, err)
	r := waitTerminal(t, h.orch, id)
	assert.Equal(t, types.StatusCompletedWithErrors, r.Status)
	assert.Len(t, r.Results, 1)
}

func TestOrchestratorAnalysisServiceFailureDegrades(t *testing.T) {
	svc := analysis.ServiceFunc(func(context.Context, analysis.Request) ([]analysis.Item, error) {
		return nil, errors.New("connection refused")
	})
	h := newHarness(t, NewMemoryStore(), scenarioSources(), svc, types.WorkerConfig{})

	id, err := h.orch.Submit(context.Background(), "Acme", 10)
	require.NoError(t, err)
	r := waitTerminal(t, h.orch, id)
	assert.Equal(t, types.StatusCompletedWithErrors, r.Status)
	require.Len(t, r.Results, 1)
	assert.Equal(t, "globex.com", r.Results[0].CandidateURL)
}

func TestOrchestratorPanicFailsJobKeepingPartials(t *testing.T) {
	swap := func(o *Orchestrator) { o.gateway = panickingAnalyzer{} }
	h := newHarness(t, NewMemoryStore(), scenarioSources(), nil, types.WorkerConfig{}, swap)

	id, err := h.orch.Submit(context.Background(), "Acme", 10)
	require.NoError(t, err)

	r := waitTerminal(t, h.orch, id)
	assert.Equal(t, types.StatusFailed, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, stageAnalysis, r.Error.Stage)
	assert.Contains(t, r.Error.Message, "internal error")
	assert.True(t, r.Partial)
	require.Len(t, r.Results, 1, "aggregated partial results stay visible")
	assert.Equal(t, "Globex", r.Results[0].CandidateName)
}

func TestOrchestratorConcurrentSubmitsGetUniqueIDs(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), scenarioSources(), nil, types.WorkerConfig{Workers: 4})

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := h.orch.Submit(context.Background(), "Acme", 5)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	for id := range seen {
		r := waitTerminal(t, h.orch, id)
		assert.Equal(t, types.StatusCompleted, r.Status)
	}
}

func TestOrchestratorRunsEachJobOnce(t *testing.T) {
	var calls atomic.Int32
	counting := sources.Func{SourceName: "count", Fn: func(context.Context, string, sources.Options, progress.Sink) ([]types.CandidateRecord, error) {
		calls.Add(1)
		return nil, nil
	}}
	h := newHarness(t, NewMemoryStore(), []sources.Fetcher{counting}, nil, types.WorkerConfig{Workers: 3})

	var ids []string
	for range 10 {
		id, err := h.orch.Submit(context.Background(), "Acme", 5)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitTerminal(t, h.orch, id)
	}
	assert.Equal(t, int32(10), calls.Load())
}

func TestOrchestratorNoSources(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil, nil, types.WorkerConfig{})
	id, err := h.orch.Submit(context.Background(), "Acme", 5)
	require.NoError(t, err)
	r := waitTerminal(t, h.orch, id)
	assert.Equal(t, types.StatusCompleted, r.Status)
	assert.Empty(t, r.Results)
	assert.NotNil(t, r.Results)
}

func TestSubmitValidation(t *testing.T) {
	o := New(NewMemoryStore(), nil, nil, nil, types.WorkerConfig{}, nil)

	_, err := o.Submit(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = o.Submit(context.Background(), "Acme", -1)
	assert.ErrorIs(t, err, ErrInvalidMaxResults)

	id, err := o.Submit(context.Background(), " Acme ", 0)
	require.NoError(t, err)
	r, err := o.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, r.Status)
	assert.Equal(t, "Acme", r.SubjectName)
	assert.Equal(t, 0, r.Progress.Percent)

	j, err := o.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxResults, j.MaxResults)
}

func TestGetStatusUnknownID(t *testing.T) {
	o := New(NewMemoryStore(), nil, nil, nil, types.WorkerConfig{}, nil)
	_, err := o.GetStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrchestratorSweep(t *testing.T) {
	store := NewMemoryStore()
	h := newHarness(t, store, scenarioSources(), nil, types.WorkerConfig{Retention: time.Hour})

	id, err := h.orch.Submit(context.Background(), "Acme", 5)
	require.NoError(t, err)
	waitTerminal(t, h.orch, id)

	n, err := h.orch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "fresh jobs are retained")

	h.orch.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = h.orch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.orch.GetStatus(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrchestratorJanitorSweeps(t *testing.T) {
	store := NewMemoryStore()
	h := newHarness(t, store, scenarioSources(), nil, types.WorkerConfig{Retention: time.Nanosecond, JanitorInterval: 5 * time.Millisecond})

	id, err := h.orch.Submit(context.Background(), "Acme", 5)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := h.orch.GetStatus(context.Background(), id)
		return errors.Is(err, ErrNotFound)
	}, 5*time.Second, 5*time.Millisecond)
}

func TestWaitFailsQueuedJobs(t *testing.T) {
	o := New(NewMemoryStore(), scenarioSources(), nil, nil, types.WorkerConfig{}, nil)
	id, err := o.Submit(context.Background(), "Acme", 5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.Start(ctx)
	o.Wait()

	r, err := o.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, r.Status)
	assert.Equal(t, "queue", r.Error.Stage)
}

func TestOrchestratorWithSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := newHarness(t, store, scenarioSources(), nil, types.WorkerConfig{})
	id, err := h.orch.Submit(context.Background(), "Acme", 10)
	require.NoError(t, err)

	r := waitTerminal(t, h.orch, id)
	assert.Equal(t, types.StatusCompleted, r.Status)
	require.Len(t, r.Results, 1)
	assert.Equal(t, "globex.com", r.Results[0].CandidateURL)
	assert.True(t, r.Results[0].Validation.DNSValid)
}
