// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package aggregate merges candidate records from several sources into one
// deduplicated set keyed by normalized name, then validates the URL attached
// to each surviving candidate.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/internal/validate"
	"github.com/pdiddy/customer-engine/pkg/types"
)

// DefaultConfidenceDelta is how much higher a later record's confidence must
// be for it to replace the kept record.
const DefaultConfidenceDelta = 0.15

// minNameLength rejects single-character names scraped from logos and icons.
const minNameLength = 2

// junkNameTerms mark names that are page furniture rather than companies.
var junkNameTerms = []string{
	"logo", "image", "untitled",
	"case study", "white paper", "learn more", "read more", "download",
}

// MergeStats counts what Merge did with its input.
type MergeStats struct {
	Input          int
	Kept           int
	Duplicates     int
	Replaced       int
	SelfReferences int
	Rejected       int
}

// Metrics returns the stats as a metrics bag.
func (s MergeStats) Metrics() types.Metrics {
	return types.Metrics{
		"input":           float64(s.Input),
		"kept":            float64(s.Kept),
		"duplicates":      float64(s.Duplicates),
		"replaced":        float64(s.Replaced),
		"self_references": float64(s.SelfReferences),
		"rejected":        float64(s.Rejected),
	}
}

// Merge deduplicates records across lists by normalized name. Lists are
// processed in the order given, so earlier lists win name collisions. A
// later duplicate replaces the kept record only when its confidence is at
// least delta higher (a missing confidence counts as 0). Records naming the
// subject itself are dropped. Output preserves first-seen order.
func Merge(subject string, delta float64, lists ...[]types.CandidateRecord) ([]types.CandidateRecord, MergeStats) {
	subjectKey := types.NormalizeName(subject)
	seen := make(map[string]int) // name key → index in merged
	var merged []types.CandidateRecord
	var stats MergeStats

	for _, list := range lists {
		for _, rec := range list {
			stats.Input++
			rec.Name = strings.TrimSpace(rec.Name)
			rec.RawURL = strings.TrimSpace(rec.RawURL)

			if isJunkName(rec.Name) {
				stats.Rejected++
				continue
			}
			key := rec.Key()
			if key == subjectKey {
				stats.SelfReferences++
				continue
			}

			if idx, ok := seen[key]; ok {
				stats.Duplicates++
				if mergeInto(&merged[idx], rec, delta) {
					stats.Replaced++
				}
				continue
			}

			seen[key] = len(merged)
			merged = append(merged, rec)
		}
	}
	stats.Kept = len(merged)
	return merged, stats
}

// mergeInto folds src into dst. It reports whether src replaced dst because
// it carried a materially higher confidence; otherwise it only fills a
// missing URL from src.
func mergeInto(dst *types.CandidateRecord, src types.CandidateRecord, delta float64) bool {
	if src.Confidence != nil && src.ConfidenceOrZero()-dst.ConfidenceOrZero() >= delta {
		if src.RawURL == "" {
			src.RawURL = dst.RawURL
		}
		*dst = src
		return true
	}
	if dst.RawURL == "" && src.RawURL != "" {
		dst.RawURL = src.RawURL
	}
	return false
}

func isJunkName(name string) bool {
	if len([]rune(name)) < minNameLength {
		return true
	}
	lower := strings.ToLower(name)
	for _, term := range junkNameTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// URLFor returns the record's URL, synthesizing a placeholder from the name
// when the source supplied none.
func URLFor(rec types.CandidateRecord) (url string, synthesized bool) {
	if rec.RawURL != "" {
		return rec.RawURL, false
	}
	return validate.SynthesizeURL(rec.Name), true
}

// Aggregator merges and validates candidate records.
type Aggregator struct {
	validator *validate.Validator
	tiers     types.Tier
	delta     float64
	logger    *slog.Logger
}

// New returns an Aggregator that requires tiers for every emitted result.
func New(v *validate.Validator, tiers types.Tier, cfg types.AggregateConfig, logger *slog.Logger) *Aggregator {
	delta := cfg.ConfidenceDelta
	if delta <= 0 {
		delta = DefaultConfidenceDelta
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{validator: v, tiers: tiers.Normalize(), delta: delta, logger: logger}
}

// Tiers returns the validation tiers every result must pass.
func (a *Aggregator) Tiers() types.Tier { return a.tiers }

// Output is the result of one Aggregate call.
type Output struct {
	// Candidates is the merged, deduplicated candidate set before validation.
	Candidates []types.CandidateRecord

	// Results holds the candidates whose URL passed validation, in merge order.
	Results []types.ResultRecord

	// Dropped holds the validation outcome of every candidate that failed.
	Dropped []types.ValidationResult

	Stats   MergeStats
	Metrics types.Metrics
}

// Aggregate merges lists and validates each merged candidate's URL (given or
// synthesized) in chunks, reporting progress to sink as each chunk finishes.
// Only candidates passing the aggregator's tiers appear in Results.
func (a *Aggregator) Aggregate(ctx context.Context, subject string, sink progress.Sink, lists ...[]types.CandidateRecord) Output {
	if sink == nil {
		sink = progress.Discard
	}
	merged, stats := Merge(subject, a.delta, lists...)

	urls := make([]string, len(merged))
	synthesized := 0
	for i, rec := range merged {
		var synth bool
		urls[i], synth = URLFor(rec)
		if synth {
			synthesized++
		}
	}

	sink.Emit(progress.Event{
		Message: fmt.Sprintf("Validating %d unique candidates (%d duplicates merged)", len(merged), stats.Duplicates),
		Log:     true,
		Level:   types.LevelInfo,
	})

	validations := a.validator.ValidateBatch(ctx, urls, a.tiers, func(done, total int) {
		sink.Emit(progress.Event{
			Percent: done * 100 / total,
			Message: fmt.Sprintf("Validated %d/%d candidate URLs", done, total),
		})
	})

	out := Output{Candidates: merged, Stats: stats}
	for i, v := range validations {
		if !v.IsValid() {
			out.Dropped = append(out.Dropped, v)
			continue
		}
		out.Results = append(out.Results, Result(subject, merged[i], v))
	}

	out.Metrics = stats.Metrics().Prefixed("aggregate").
		Merge(validate.Stats(validations).Prefixed("validation")).
		Merge(types.Metrics{"aggregate.synthesized_urls": float64(synthesized)})

	switch {
	case len(validations) > 0 && len(out.Results) == 0:
		a.logger.Warn("no candidate URL survived validation", "subject", subject, "candidates", len(validations), "tiers", a.tiers.String())
		sink.Emit(progress.Event{Message: "No candidate URLs passed validation", Log: true, Level: types.LevelWarning})
	default:
		a.logger.Info("aggregation complete", "subject", subject, "kept", stats.Kept, "valid", len(out.Results), "duplicates", stats.Duplicates)
	}

	sink.Emit(progress.Event{
		Percent:    100,
		Message:    fmt.Sprintf("%d of %d candidates have valid URLs", len(out.Results), len(merged)),
		Log:        true,
		Level:      types.LevelSuccess,
		Metrics:    out.Metrics,
		Partial:    out.Results,
		Supersedes: true,
	})
	return out
}

// Result builds the ResultRecord for a validated candidate.
func Result(subject string, rec types.CandidateRecord, v types.ValidationResult) types.ResultRecord {
	return types.ResultRecord{
		SubjectName:   subject,
		CandidateName: rec.Name,
		CandidateURL:  v.CleanedHost,
		Validation:    v,
		Source:        rec.Source,
		Confidence:    rec.Confidence,
	}
}
