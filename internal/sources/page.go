// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/customer-engine/internal/httputil"
	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/internal/retry"
	"github.com/pdiddy/customer-engine/pkg/types"
)

// DefaultSelector matches logo images and customer links inside sections
// whose class mentions customers, clients, or logos.
const DefaultSelector = `[class*="customer"] img[alt], [class*="client"] img[alt], [class*="logo"] img[alt], [class*="customer"] a[href], [class*="case"] a[href]`

const (
	defaultPageTimeout = 15 * time.Second
	minNameLength      = 3
)

// nameSuffixes are decorations stripped from alt and title text.
var nameSuffixes = []string{" logo", " logotype", " icon"}

// Page scrapes one HTML page per subject. The page URL comes from a template
// in which "{subject}" is the path-escaped subject and "{slug}" its slug.
// Every element matched by the selector yields at most one candidate: the
// name from its alt, title, or text, the URL from an external href.
type Page struct {
	name        string
	urlTemplate string
	selector    string
	client      *http.Client
	userAgent   string
	policy      retry.Policy
}

// NewPage returns a Page source. An empty selector uses DefaultSelector; a
// nil client uses one with a 15s timeout.
func NewPage(name, urlTemplate, selector string, client *http.Client, userAgent string) *Page {
	if selector == "" {
		selector = DefaultSelector
	}
	if client == nil {
		client = &http.Client{Timeout: defaultPageTimeout}
	}
	return &Page{
		name:        name,
		urlTemplate: urlTemplate,
		selector:    selector,
		client:      client,
		userAgent:   userAgent,
		policy:      retry.Policy{MaxAttempts: 3, BaseTimeout: defaultPageTimeout},
	}
}

// Name returns the source name.
func (p *Page) Name() string { return p.name }

// PageURL returns the page fetched for subject.
func (p *Page) PageURL(subject string) string {
	r := strings.NewReplacer(
		"{subject}", url.PathEscape(strings.TrimSpace(subject)),
		"{slug}", Slug(subject),
	)
	return r.Replace(p.urlTemplate)
}

// Fetch downloads the subject's page and extracts candidates. A 404 means
// the subject has no such page and yields no candidates.
func (p *Page) Fetch(ctx context.Context, subject string, opts Options, sink progress.Sink) ([]types.CandidateRecord, error) {
	if sink == nil {
		sink = progress.Discard
	}
	pageURL := p.PageURL(subject)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", pageURL, err)
	}
	req.Header.Set("Accept", "text/html")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	sink.Emit(progress.Event{Percent: 10, Message: fmt.Sprintf("%s: fetching %s", p.name, pageURL)})
	resp, err := httputil.DoWithRetry(ctx, p.client, req, p.policy)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	metrics := types.Metrics{"pages_checked": 1}
	if resp.StatusCode == http.StatusNotFound {
		sink.Emit(progress.Event{Percent: 100, Message: fmt.Sprintf("%s: no page for %s", p.name, subject), Metrics: metrics})
		return []types.CandidateRecord{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: HTTP %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	sink.Emit(progress.Event{Percent: 60, Message: fmt.Sprintf("%s: parsing page", p.name)})

	base := resp.Request.URL
	recs := p.extract(doc, base)
	recs = limit(recs, opts.MaxResults)

	metrics["items_found"] = float64(len(recs))
	metrics["fetch_seconds"] = time.Since(start).Seconds()
	sink.Emit(progress.Event{
		Percent: 100,
		Message: fmt.Sprintf("%s: %d candidates", p.name, len(recs)),
		Metrics: metrics,
	})
	return recs, nil
}

func (p *Page) extract(doc *goquery.Document, base *url.URL) []types.CandidateRecord {
	var recs []types.CandidateRecord
	seen := make(map[string]bool)
	doc.Find(p.selector).Each(func(_ int, s *goquery.Selection) {
		name := elementName(s)
		if len([]rune(name)) < minNameLength {
			return
		}
		key := types.NormalizeName(name)
		if seen[key] {
			return
		}
		seen[key] = true
		recs = append(recs, types.CandidateRecord{
			Name:   name,
			RawURL: externalLink(s, base),
			Source: p.name,
		})
	})
	return recs
}

// elementName picks the most specific label an element carries.
func elementName(s *goquery.Selection) string {
	var name string
	for _, attr := range []string{"alt", "title", "aria-label"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			name = v
			break
		}
	}
	if name == "" {
		if alt, ok := s.Find("img[alt]").First().Attr("alt"); ok {
			name = alt
		}
	}
	if name == "" {
		name = s.Text()
	}
	name = strings.Join(strings.Fields(name), " ")

	lower := strings.ToLower(name)
	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(lower, suffix) {
			name = strings.TrimSpace(name[:len(name)-len(suffix)])
			break
		}
	}
	return name
}

// externalLink returns the href of s, or of its nearest enclosing link,
// when it points off the scraped site.
func externalLink(s *goquery.Selection, base *url.URL) string {
	href, ok := s.Attr("href")
	if !ok {
		href, ok = s.Closest("a[href]").Attr("href")
	}
	if !ok {
		return ""
	}
	u, err := base.Parse(strings.TrimSpace(href))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	if sameSite(u.Hostname(), base.Hostname()) {
		return ""
	}
	return u.String()
}

func sameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a == b
}
