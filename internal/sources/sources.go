// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources defines the source collaborator contract and the built-in
// fetchers that produce candidate records for a subject.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/pkg/types"
)

// Options tunes one Fetch call.
type Options struct {
	// MaxResults bounds the number of records returned; 0 means no bound.
	MaxResults int
}

// Fetcher collects raw candidate mentions for a subject. Each fetcher
// implements this interface per the Strategy pattern.
//
// Fetch returns an empty slice, not an error, when nothing is found. Errors
// are reserved for transport and parsing failures. Progress events sent to
// sink carry percentages local to the fetch (0..100).
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, subject string, opts Options, sink progress.Sink) ([]types.CandidateRecord, error)
}

// Func adapts a function to the Fetcher interface.
type Func struct {
	SourceName string
	Fn         func(ctx context.Context, subject string, opts Options, sink progress.Sink) ([]types.CandidateRecord, error)
}

// Name returns the source name.
func (f Func) Name() string { return f.SourceName }

// Fetch calls f.Fn.
func (f Func) Fetch(ctx context.Context, subject string, opts Options, sink progress.Sink) ([]types.CandidateRecord, error) {
	return f.Fn(ctx, subject, opts, sink)
}

// New builds the fetcher described by cfg.
func New(cfg types.SourceConfig, client *http.Client, userAgent string) (Fetcher, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("source has no name")
	}
	switch cfg.Kind {
	case "static":
		if cfg.File == "" {
			return nil, fmt.Errorf("static source %s: file is required", cfg.Name)
		}
		return NewStatic(cfg.Name, cfg.File), nil
	case "page":
		if cfg.URLTemplate == "" {
			return nil, fmt.Errorf("page source %s: url_template is required", cfg.Name)
		}
		return NewPage(cfg.Name, cfg.URLTemplate, cfg.Selector, client, userAgent), nil
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q (use static or page)", cfg.Name, cfg.Kind)
	}
}

// Build creates a fetcher for every configured source, in order.
func Build(cfgs []types.SourceConfig, client *http.Client, userAgent string) ([]Fetcher, error) {
	fetchers := make([]Fetcher, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate source name %q", cfg.Name)
		}
		seen[cfg.Name] = true
		f, err := New(cfg, client, userAgent)
		if err != nil {
			return nil, err
		}
		fetchers = append(fetchers, f)
	}
	return fetchers, nil
}

// Slug lowercases subject and joins its alphanumeric runs with hyphens,
// e.g. "Acme Corp." becomes "acme-corp".
func Slug(subject string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(subject)) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func limit(recs []types.CandidateRecord, n int) []types.CandidateRecord {
	if n > 0 && len(recs) > n {
		return recs[:n]
	}
	return recs
}
