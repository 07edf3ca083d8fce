// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pdiddy/customer-engine/internal/aggregate"
	"github.com/pdiddy/customer-engine/internal/httputil"
	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/internal/retry"
	"github.com/pdiddy/customer-engine/internal/validate"
	"github.com/pdiddy/customer-engine/pkg/types"
)

const (
	defaultBaseTimeout   = 20 * time.Second
	defaultRetryDelay    = 500 * time.Millisecond
	defaultPayloadBudget = 12000
	defaultBatchSize     = 40
	defaultMinCandidates = 1
)

// keepFirst is a confidence delta no pair of scores in [0,1] can reach, so
// merging keeps the first record for every name and preserves rank order.
const keepFirst = 2.0

// SourceAnalysis is recorded on results the service named that no source did.
const SourceAnalysis = "analysis"

// Path records how the gateway produced its results.
type Path string

const (
	// PathService means every batch was answered by the service.
	PathService Path = "service"

	// PathFallback means at least one batch used the local dedup fallback.
	PathFallback Path = "fallback"

	// PathPartial means the service answered but yielded nothing usable, so
	// the locally computed partial set was returned instead.
	PathPartial Path = "partial"
)

// Outcome is the result of one Analyze call.
type Outcome struct {
	Results  []types.ResultRecord
	Path     Path
	Attempts int

	// ServiceErr is the last service error that forced a fallback, if any.
	ServiceErr error

	Metrics types.Metrics
}

// Gateway calls the analysis service with a bounded retry ladder and always
// degrades to a local answer when the service cannot help.
type Gateway struct {
	service       Service
	validator     *validate.Validator
	tiers         types.Tier
	policy        retry.Policy
	payloadBudget int
	batchSize     int
	minCandidates int
	logger        *slog.Logger
}

// NewGateway creates a Gateway. svc may be nil, in which case every call
// uses the fallback. Results are validated through v at tiers.
func NewGateway(svc Service, v *validate.Validator, tiers types.Tier, cfg types.AnalysisConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	baseTimeout := cfg.BaseTimeout
	if baseTimeout <= 0 {
		baseTimeout = defaultBaseTimeout
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return &Gateway{
		service:   svc,
		validator: v,
		tiers:     tiers.Normalize(),
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseTimeout: baseTimeout,
			BaseDelay:   delay,
		},
		payloadBudget: positiveOr(cfg.PayloadBudget, defaultPayloadBudget),
		batchSize:     positiveOr(cfg.BatchSize, defaultBatchSize),
		minCandidates: positiveOr(cfg.MinCandidates, defaultMinCandidates),
		logger:        logger,
	}
}

// Policy returns the retry ladder applied to each batch.
func (g *Gateway) Policy() retry.Policy { return g.policy }

// Analyze ranks candidates for subject. Transport, timeout, and status
// failures never escape: they degrade to the fallback. The only error
// returned is ErrMalformedInput for contract violations.
func (g *Gateway) Analyze(ctx context.Context, candidates []types.CandidateRecord, subject string, maxResults int, sink progress.Sink) (Outcome, error) {
	if sink == nil {
		sink = progress.Discard
	}
	if strings.TrimSpace(subject) == "" {
		return Outcome{}, fmt.Errorf("%w: empty subject name", ErrMalformedInput)
	}
	if maxResults <= 0 {
		return Outcome{}, fmt.Errorf("%w: max results must be positive, got %d", ErrMalformedInput, maxResults)
	}

	start := time.Now()
	out := Outcome{Path: PathService, Metrics: types.Metrics{}}

	// Preparing.
	sink.Emit(progress.Event{Percent: 1, Message: fmt.Sprintf("Preparing %d candidates for analysis", len(candidates))})
	partial := g.fallback(ctx, subject, candidates, maxResults)
	if len(partial) > 0 {
		sink.Emit(progress.Event{
			Percent: 5,
			Message: fmt.Sprintf("Local analysis found %d candidates", len(partial)),
			Partial: partial,
		})
	}

	batches, truncated := g.prepare(candidates)
	out.Metrics["batches"] = float64(len(batches))
	out.Metrics["truncated_candidates"] = float64(truncated)
	if truncated > 0 {
		sink.Emit(progress.Event{
			Message: fmt.Sprintf("Analysis payload truncated: %d candidates over the %d character budget were not sent", truncated, g.payloadBudget),
			Log:     true,
			Level:   types.LevelWarning,
		})
	}

	var reason string
	switch {
	case g.service == nil:
		reason = ErrNoService.Error()
	case len(candidates) < g.minCandidates:
		reason = fmt.Sprintf("insufficient data: %d candidates, need %d", len(candidates), g.minCandidates)
	}
	if reason != "" {
		g.logger.Info("analysis using fallback", "subject", subject, "reason", reason)
		sink.Emit(progress.Event{Message: "Using local analysis: " + reason, Log: true, Level: types.LevelInfo})
		out.Path = PathFallback
		out.Results = partial
		return g.finish(out, start, sink), nil
	}

	// Calling. All batches share one ladder's worth of time. After one batch
	// falls back, or the budget runs out, later batches are answered by the
	// fallback.
	budgetCtx, cancelBudget := context.WithTimeout(ctx, g.policy.Bound())
	defer cancelBudget()

	var served []Item
	var unserved []types.CandidateRecord
	for i, batch := range batches {
		if out.Path == PathFallback {
			unserved = append(unserved, batch...)
			continue
		}
		if budgetCtx.Err() != nil && ctx.Err() == nil {
			out.Path = PathFallback
			out.ServiceErr = fmt.Errorf("%w before batch %d of %d", ErrTimeBudget, i+1, len(batches))
			unserved = append(unserved, batch...)
			g.logger.Warn("analysis time budget exhausted, using fallback", "subject", subject, "batch", i+1, "bound", g.policy.Bound())
			sink.Emit(progress.Event{
				Message: fmt.Sprintf("Analysis time budget of %s exhausted, using local analysis for the remaining candidates", g.policy.Bound()),
				Log:     true,
				Level:   types.LevelWarning,
			})
			continue
		}
		lo := 10 + 80*i/len(batches)
		hi := 10 + 80*(i+1)/len(batches)
		items, attempts, err := g.call(budgetCtx, Request{SubjectName: subject, Candidates: batch, MaxResults: maxResults},
			progress.Scoped{Sink: sink, Lo: lo, Hi: hi})
		out.Attempts += attempts
		if err != nil && ctx.Err() == nil && budgetCtx.Err() != nil {
			err = fmt.Errorf("%w during batch %d of %d: %w", ErrTimeBudget, i+1, len(batches), err)
		}
		if err != nil {
			out.Path = PathFallback
			out.ServiceErr = err
			unserved = append(unserved, batch...)
			g.logger.Warn("analysis service failed, using fallback", "subject", subject, "batch", i+1, "attempts", attempts, "error", err)
			sink.Emit(progress.Event{
				Message: fmt.Sprintf("Analysis service unavailable after %d attempts, using local analysis: %v", attempts, err),
				Log:     true,
				Level:   types.LevelWarning,
			})
			continue
		}
		served = append(served, items...)
	}

	// Finalizing.
	sink.Emit(progress.Event{Percent: 92, Message: "Validating analysis results"})
	results := g.finalize(ctx, subject, candidates, served, unserved, maxResults)
	if len(results) == 0 && len(partial) > 0 {
		sink.Emit(progress.Event{
			Message: "Analysis returned no usable results, keeping local results",
			Log:     true,
			Level:   types.LevelWarning,
		})
		out.Path = PathPartial
		results = partial
	}
	out.Results = results
	return g.finish(out, start, sink), nil
}

func (g *Gateway) finish(out Outcome, start time.Time, sink progress.Sink) Outcome {
	out.Metrics["attempts"] = float64(out.Attempts)
	out.Metrics["results"] = float64(len(out.Results))
	out.Metrics["duration_seconds"] = time.Since(start).Seconds()
	if out.Path != PathService {
		out.Metrics["fallback"] = 1
	} else {
		out.Metrics["fallback"] = 0
	}
	out.Metrics = out.Metrics.Prefixed("analysis")

	sink.Emit(progress.Event{
		Percent: 100,
		Message: fmt.Sprintf("Analysis complete: %d results (%s)", len(out.Results), out.Path),
		Log:     true,
		Level:   types.LevelSuccess,
		Metrics: out.Metrics,
	})
	return out
}

// call runs the retry ladder for one batch. A timeout or non-2xx status
// moves to the next attempt with a longer timeout; any other error, or the
// caller giving up, ends the ladder at once.
func (g *Gateway) call(ctx context.Context, req Request, sink progress.Sink) ([]Item, int, error) {
	n := g.policy.Attempts()
	var lastErr error
	for attempt := 1; attempt <= n; attempt++ {
		timeout := g.policy.Timeout(attempt)
		sink.Emit(progress.Event{
			Percent: 100 * (attempt - 1) / n,
			Message: fmt.Sprintf("Calling analysis service (attempt %d/%d, timeout %s)", attempt, n, timeout),
		})

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		items, err := g.service.Analyze(callCtx, req)
		cancel()
		if err == nil {
			sink.Emit(progress.Event{Percent: 100, Message: fmt.Sprintf("Analysis service returned %d entries", len(items))})
			return items, attempt, nil
		}
		lastErr = err

		var statusErr *StatusError
		switch {
		case ctx.Err() != nil:
			return nil, attempt, fmt.Errorf("analysis cancelled: %w", ctx.Err())
		case httputil.IsTimeout(err):
			g.logger.Warn("analysis attempt timed out", "attempt", attempt, "timeout", timeout)
			sink.Emit(progress.Event{Message: fmt.Sprintf("Analysis attempt %d timed out after %s", attempt, timeout), Log: true, Level: types.LevelWarning})
		case errors.As(err, &statusErr):
			g.logger.Warn("analysis attempt rejected", "attempt", attempt, "status", statusErr.Code)
			sink.Emit(progress.Event{Message: fmt.Sprintf("Analysis attempt %d failed with status %d", attempt, statusErr.Code), Log: true, Level: types.LevelWarning})
		default:
			return nil, attempt, err
		}

		if attempt < n {
			if err := retry.Sleep(ctx, g.policy.Delay(attempt)); err != nil {
				return nil, attempt, fmt.Errorf("analysis cancelled: %w", err)
			}
		}
	}
	return nil, n, fmt.Errorf("after %d attempts: %w", n, lastErr)
}

// prepare splits candidates into batches and drops candidates that would
// push a batch's serialized size past the payload budget.
func (g *Gateway) prepare(candidates []types.CandidateRecord) ([][]types.CandidateRecord, int) {
	var batches [][]types.CandidateRecord
	truncated := 0
	for start := 0; start < len(candidates); start += g.batchSize {
		chunk := candidates[start:min(start+g.batchSize, len(candidates))]
		var batch []types.CandidateRecord
		size := 0
		for _, c := range chunk {
			n := payloadSize(c)
			if size+n > g.payloadBudget && len(batch) > 0 {
				truncated++
				continue
			}
			size += n
			batch = append(batch, c)
		}
		batches = append(batches, batch)
	}
	return batches, truncated
}

func payloadSize(c types.CandidateRecord) int {
	data, err := json.Marshal(c)
	if err != nil {
		return len(c.Name) + len(c.RawURL) + len(c.Source)
	}
	return len(data) + 1
}

// finalize turns service items into validated results, answering unserved
// candidates with the fallback. Service items come first; names are
// deduplicated across both, the subject is excluded, and the total is
// capped at maxResults.
func (g *Gateway) finalize(ctx context.Context, subject string, candidates []types.CandidateRecord, served []Item, unserved []types.CandidateRecord, maxResults int) []types.ResultRecord {
	sources := make(map[string]string, len(candidates))
	urls := make(map[string]string, len(candidates))
	for _, c := range candidates {
		if _, ok := sources[c.Key()]; !ok {
			sources[c.Key()] = c.Source
		}
		if _, ok := urls[c.Key()]; !ok && strings.TrimSpace(c.RawURL) != "" {
			urls[c.Key()] = c.RawURL
		}
	}

	reasons := make(map[string]string, len(served))
	records := make([]types.CandidateRecord, 0, len(served))
	for _, it := range served {
		rec := types.CandidateRecord{Name: it.Name, RawURL: it.URL, Source: SourceAnalysis, Confidence: it.Confidence}
		if src, ok := sources[rec.Key()]; ok && src != "" {
			rec.Source = src
		}
		if strings.TrimSpace(rec.RawURL) == "" {
			rec.RawURL = urls[rec.Key()]
		}
		if _, ok := reasons[rec.Key()]; !ok {
			reasons[rec.Key()] = it.Reason
		}
		records = append(records, rec)
	}

	merged, _ := aggregate.Merge(subject, keepFirst, records, unserved)
	results := g.validateAll(ctx, subject, merged, maxResults)
	for i := range results {
		results[i].Reason = reasons[types.NormalizeName(results[i].CandidateName)]
	}
	return results
}

// fallback is the deterministic local answer: dedup by name, then keep the
// candidates whose given or synthesized URL passes validation.
func (g *Gateway) fallback(ctx context.Context, subject string, candidates []types.CandidateRecord, maxResults int) []types.ResultRecord {
	merged, _ := aggregate.Merge(subject, keepFirst, candidates)
	return g.validateAll(ctx, subject, merged, maxResults)
}

func (g *Gateway) validateAll(ctx context.Context, subject string, merged []types.CandidateRecord, maxResults int) []types.ResultRecord {
	urls := make([]string, len(merged))
	for i, rec := range merged {
		urls[i], _ = aggregate.URLFor(rec)
	}
	validations := g.validator.ValidateBatch(ctx, urls, g.tiers, nil)

	var results []types.ResultRecord
	for i, v := range validations {
		if !v.IsValid() {
			continue
		}
		results = append(results, aggregate.Result(subject, merged[i], v))
		if len(results) == maxResults {
			break
		}
	}
	return results
}

func positiveOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
