// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/pkg/types"
)

// staticFile is the on-disk layout of a static source:
//
//	subjects:
//	  acme:
//	    - name: Globex
//	      url: globex.com
//	      confidence: 0.9
//
// Subject keys are matched case-insensitively.
type staticFile struct {
	Subjects map[string][]staticEntry `yaml:"subjects"`
}

type staticEntry struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	Confidence *float64 `yaml:"confidence"`
}

// Static serves candidate lists from a YAML file. The file is read on every
// fetch so edits apply to the next job.
type Static struct {
	name string
	path string
}

// NewStatic returns a Static source reading path.
func NewStatic(name, path string) *Static {
	return &Static{name: name, path: path}
}

// Name returns the source name.
func (s *Static) Name() string { return s.name }

// Fetch returns the file's entries for subject.
func (s *Static) Fetch(ctx context.Context, subject string, opts Options, sink progress.Sink) ([]types.CandidateRecord, error) {
	if sink == nil {
		sink = progress.Discard
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading static source %s: %w", s.path, err)
	}
	var file staticFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing static source %s: %w", s.path, err)
	}

	key := types.NormalizeName(subject)
	var entries []staticEntry
	for _, k := range slices.Sorted(maps.Keys(file.Subjects)) {
		if types.NormalizeName(k) == key {
			entries = append(entries, file.Subjects[k]...)
		}
	}

	recs := make([]types.CandidateRecord, 0, len(entries))
	for _, e := range entries {
		rec := types.CandidateRecord{Name: e.Name, RawURL: e.URL, Source: s.name}
		if e.Confidence != nil {
			rec.Confidence = types.Confidence(*e.Confidence)
		}
		recs = append(recs, rec)
	}
	recs = limit(recs, opts.MaxResults)

	sink.Emit(progress.Event{
		Percent: 100,
		Message: fmt.Sprintf("%s: %d candidates", s.name, len(recs)),
		Metrics: types.Metrics{"items_found": float64(len(recs))},
	})
	return recs, nil
}
