// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analysis wraps the external candidate-scoring service behind a
// gateway that batches, truncates, retries, and falls back to a local
// deterministic answer when the service is unavailable.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/customer-engine/pkg/types"
)

// ErrNoService is recorded when the gateway runs without a configured service.
var ErrNoService = errors.New("no analysis service configured")

// ErrMalformedInput is returned when the gateway is called with arguments
// that violate its contract. It is a programming error, not a runtime one.
var ErrMalformedInput = errors.New("malformed analysis input")

// ErrTimeBudget is recorded when the batches of one call together use up
// the retry ladder's time bound.
var ErrTimeBudget = errors.New("analysis time budget exhausted")

// Request is what the service receives for one batch.
type Request struct {
	SubjectName string                  `json:"subject_name"`
	Candidates  []types.CandidateRecord `json:"candidates"`
	MaxResults  int                     `json:"max_results"`
}

// Item is one ranked entry in a service response.
type Item struct {
	Name       string   `json:"name"`
	URL        string   `json:"url,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Service scores a batch of candidates. Implementations must honor ctx
// cancellation; the gateway sets a deadline on every call.
type Service interface {
	Analyze(ctx context.Context, req Request) ([]Item, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, req Request) ([]Item, error)

// Analyze calls f(ctx, req).
func (f ServiceFunc) Analyze(ctx context.Context, req Request) ([]Item, error) { return f(ctx, req) }

// StatusError is a non-2xx service response. The gateway retries these.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("analysis service returned status %d", e.Code)
	}
	return fmt.Sprintf("analysis service returned status %d: %s", e.Code, e.Body)
}

// NewService builds the Service selected by cfg.Provider. The "none"
// provider (or an empty one) yields a nil Service and a nil error, which
// makes the gateway use its local fallback for every call.
func NewService(cfg types.AnalysisConfig) (Service, error) {
	switch cfg.Provider {
	case "", types.ProviderNone:
		return nil, nil
	case types.ProviderHTTP:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("analysis provider http requires an endpoint")
		}
		return &HTTPService{Endpoint: cfg.Endpoint, APIKey: cfg.APIKey}, nil
	case types.ProviderOpenAI, types.ProviderAnthropic, types.ProviderOllama:
		svc, err := NewLLMService(cfg)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported analysis provider: %s", cfg.Provider)
	}
}
