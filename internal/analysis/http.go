// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/customer-engine/internal/httputil"
	"github.com/pdiddy/customer-engine/internal/retry"
)

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 512

// rateLimitPolicy covers HTTP 429 only. Timeouts are set by the gateway's
// ladder through ctx, so no per-call timeout is configured here.
var rateLimitPolicy = retry.Policy{MaxAttempts: 2}

// HTTPService posts a JSON Request to Endpoint and expects either a JSON
// array of items, an object with a "results" array, or "Name, url" lines.
type HTTPService struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// Analyze sends one batch to the service.
func (s *HTTPService) Analyze(ctx context.Context, req Request) ([]Item, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if s.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, httpReq, rateLimitPolicy)
	if err != nil {
		return nil, fmt.Errorf("calling analysis service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: msg}
	}

	return ParseResponse(string(data))
}
