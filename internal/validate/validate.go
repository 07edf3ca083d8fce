// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate normalizes raw URL strings into hostnames and checks them
// through up to three escalating tiers: structure (pure string work), DNS
// resolution, and an HTTP existence probe. Tiers run cheapest first and stop
// at the first failure. DNS and HTTP outcomes are cached per host with a TTL
// and are shared by every job in the process.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pdiddy/customer-engine/internal/httputil"
	"github.com/pdiddy/customer-engine/pkg/types"
)

const (
	defaultDNSTimeout   = 2 * time.Second
	defaultHTTPTimeout  = 2 * time.Second
	defaultMaxRedirects = 5
	defaultCacheTTL     = time.Hour
	defaultCacheSize    = 10000
	defaultProbeRate    = 20
	defaultBatchSize    = 8
	defaultUserAgent    = "customer-engine/0.1"
)

// Resolver looks up a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Prober issues a lightweight existence request and reports the status code.
type Prober interface {
	Probe(ctx context.Context, url string) (int, error)
}

// ErrTooManyRedirects is returned by HTTPProber when the redirect cap is hit.
var ErrTooManyRedirects = errors.New("too many redirects")

// HTTPProber probes with HEAD requests.
type HTTPProber struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPProber returns a prober with the given timeout and redirect cap.
func NewHTTPProber(timeout time.Duration, maxRedirects int, userAgent string) *HTTPProber {
	return &HTTPProber{
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		UserAgent: userAgent,
	}
}

// Probe sends a HEAD request to url and returns the final status code.
func (p *HTTPProber) Probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Validator runs tiered URL validation. It is safe for concurrent use.
type Validator struct {
	resolver Resolver
	prober   Prober
	limiter  *rate.Limiter
	logger   *slog.Logger

	dnsTimeout  time.Duration
	httpTimeout time.Duration
	batchSize   int

	dns  *outcomeCache
	http *outcomeCache
}

// Option customizes a Validator.
type Option func(*Validator)

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) Option { return func(v *Validator) { v.resolver = r } }

// WithProber replaces the HTTP prober.
func WithProber(p Prober) Option { return func(v *Validator) { v.prober = p } }

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option { return func(v *Validator) { v.logger = l } }

// New creates a Validator from cfg, filling defaults for zero values.
func New(cfg types.ValidatorConfig, opts ...Option) *Validator {
	dnsTimeout := orDuration(cfg.DNSTimeout, defaultDNSTimeout)
	httpTimeout := orDuration(cfg.HTTPTimeout, defaultHTTPTimeout)
	ttl := orDuration(cfg.CacheTTL, defaultCacheTTL)
	size := orInt(cfg.CacheSize, defaultCacheSize)
	redirects := orInt(cfg.MaxRedirects, defaultMaxRedirects)
	batch := orInt(cfg.BatchSize, defaultBatchSize)
	probeRate := cfg.ProbesPerSecond
	if probeRate <= 0 {
		probeRate = defaultProbeRate
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	v := &Validator{
		resolver:    net.DefaultResolver,
		prober:      NewHTTPProber(httpTimeout, redirects, ua),
		limiter:     rate.NewLimiter(rate.Limit(probeRate), max(1, int(probeRate))),
		logger:      slog.Default(),
		dnsTimeout:  dnsTimeout,
		httpTimeout: httpTimeout,
		batchSize:   batch,
		dns:         newOutcomeCache(size, ttl),
		http:        newOutcomeCache(size, ttl),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks input through the requested tiers in the fixed order
// Structure, DNS, HTTP, stopping at the first failure. Structure is always
// evaluated because it yields the cleaned host.
func (v *Validator) Validate(ctx context.Context, input string, tiers types.Tier) types.ValidationResult {
	tiers = tiers.Normalize()
	res := types.ValidationResult{OriginalInput: input, Requested: tiers}

	host, reason := checkStructure(input)
	if reason != "" {
		res.Reason = reason
		return res
	}
	res.StructureValid = true
	res.CleanedHost = host

	if tiers.Has(types.TierDNS) {
		o := v.dns.get(ctx, host, func(ctx context.Context) (outcome, bool) { return v.lookup(ctx, host) })
		res.DNSValid = o.ok
		if !o.ok {
			res.Reason = o.reason
			return res
		}
	}

	if tiers.Has(types.TierHTTP) {
		o := v.http.get(ctx, host, func(ctx context.Context) (outcome, bool) { return v.probe(ctx, host) })
		res.HTTPValid = o.ok
		if !o.ok {
			res.Reason = o.reason
			return res
		}
	}
	return res
}

// lookup resolves host. Any resolution error is a definitive negative.
func (v *Validator) lookup(ctx context.Context, host string) (outcome, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, v.dnsTimeout)
	defer cancel()

	addrs, err := v.resolver.LookupHost(lookupCtx, host)
	if err != nil && ctx.Err() != nil {
		return outcome{reason: "lookup cancelled"}, false
	}
	if err != nil || len(addrs) == 0 {
		v.logger.Debug("dns resolution failed", "host", host, "error", err)
		return outcome{reason: "domain does not resolve"}, true
	}
	return outcome{ok: true}, true
}

// probe sends one existence request. 2xx and 3xx are valid; everything else,
// including timeouts and refused connections, is a definitive negative. A
// probe that never ran because the caller gave up is not cached.
func (v *Validator) probe(ctx context.Context, host string) (outcome, bool) {
	if err := v.limiter.Wait(ctx); err != nil {
		return outcome{reason: "probe cancelled"}, false
	}
	probeCtx, cancel := context.WithTimeout(ctx, v.httpTimeout)
	defer cancel()

	code, err := v.prober.Probe(probeCtx, "https://"+host)
	switch {
	case err != nil && ctx.Err() != nil:
		return outcome{reason: "probe cancelled"}, false
	case errors.Is(err, ErrTooManyRedirects):
		return outcome{reason: "too many redirects"}, true
	case httputil.IsTimeout(err):
		return outcome{reason: fmt.Sprintf("request timed out after %s", v.httpTimeout)}, true
	case err != nil:
		v.logger.Debug("http probe failed", "host", host, "error", err)
		return outcome{reason: "connection error"}, true
	case code < 200 || code >= 400:
		return outcome{reason: fmt.Sprintf("HTTP status code: %d", code)}, true
	}
	return outcome{ok: true}, true
}

// ValidateBatch validates inputs in chunks of the configured batch size. The
// entries of one chunk run concurrently, each under its own tier timeouts,
// so a hanging host cannot hold the chunk past that bound. onChunk, if
// non-nil, is called after each chunk with the running count.
func (v *Validator) ValidateBatch(ctx context.Context, inputs []string, tiers types.Tier, onChunk func(done, total int)) []types.ValidationResult {
	results := make([]types.ValidationResult, len(inputs))
	for start := 0; start < len(inputs); start += v.batchSize {
		end := min(start+v.batchSize, len(inputs))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = v.Validate(ctx, inputs[i], tiers)
				return nil
			})
		}
		g.Wait()

		if onChunk != nil {
			onChunk(end, len(inputs))
		}
	}
	return results
}

// Stats summarizes a set of validation results as metrics.
func Stats(results []types.ValidationResult) types.Metrics {
	m := types.Metrics{"total": float64(len(results))}
	for _, r := range results {
		if r.StructureValid {
			m.Add("structure_valid", 1)
		}
		if r.DNSValid {
			m.Add("dns_valid", 1)
		}
		if r.HTTPValid {
			m.Add("http_valid", 1)
		}
		if r.IsValid() {
			m.Add("valid", 1)
		}
	}
	return m
}

// CacheSizes reports the number of cached DNS and HTTP outcomes.
func (v *Validator) CacheSizes() (dns, http int) {
	return v.dns.len(), v.http.len()
}

// Purge empties both caches.
func (v *Validator) Purge() {
	v.dns.purge()
	v.http.purge()
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
