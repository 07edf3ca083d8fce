// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/pkg/types"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "acme-corp", Slug("  Acme Corp. "))
	assert.Equal(t, "at-t", Slug("AT&T"))
	assert.Equal(t, "", Slug("!!"))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const staticYAML = `subjects:
  Acme:
    - name: Globex
      url: globex.com
      confidence: 0.9
    - name: Initech
  hooli:
    - name: Pied Piper
`

func TestStaticFetch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "customers.yaml", staticYAML)
	src := NewStatic("vendor_site", path)

	var events []progress.Event
	recs, err := src.Fetch(context.Background(), "acme", Options{}, progress.Func(func(ev progress.Event) { events = append(events, ev) }))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Globex", recs[0].Name)
	assert.Equal(t, "globex.com", recs[0].RawURL)
	assert.Equal(t, "vendor_site", recs[0].Source)
	assert.InDelta(t, 0.9, recs[0].ConfidenceOrZero(), 1e-9)
	assert.Nil(t, recs[1].Confidence)

	require.Len(t, events, 1)
	assert.Equal(t, 100, events[0].Percent)
	assert.Equal(t, 2.0, events[0].Metrics["items_found"])
}

func TestStaticFetchUnknownSubjectIsEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "customers.yaml", staticYAML)
	recs, err := NewStatic("s", path).Fetch(context.Background(), "Umbrella", Options{}, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStaticFetchLimit(t *testing.T) {
	path := writeFile(t, t.TempDir(), "customers.yaml", staticYAML)
	recs, err := NewStatic("s", path).Fetch(context.Background(), "Acme", Options{MaxResults: 1}, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStaticFetchErrors(t *testing.T) {
	_, err := NewStatic("s", filepath.Join(t.TempDir(), "missing.yaml")).Fetch(context.Background(), "Acme", Options{}, nil)
	assert.ErrorContains(t, err, "reading static source")

	path := writeFile(t, t.TempDir(), "bad.yaml", "subjects: [unclosed")
	_, err = NewStatic("s", path).Fetch(context.Background(), "Acme", Options{}, nil)
	assert.ErrorContains(t, err, "parsing static source")
}

const customersHTML = `<html><body>
<nav><a href="/pricing">Pricing</a></nav>
<section class="customer-logos">
  <a href="https://www.globex.com/"><img alt="Globex logo" src="/g.png"></a>
  <img alt="Initech" src="/i.png">
  <img alt="X" src="/x.png">
  <a href="https://hooli.com"><img alt="globex" src="/g2.png"></a>
</section>
<div class="case-studies">
  <a href="/customers/umbrella">Umbrella   Corporation</a>
</div>
</body></html>`

func TestPageFetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "customer-engine-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(customersHTML))
	}))
	defer srv.Close()

	src := NewPage("vendor_site", srv.URL+"/{slug}/customers", "", nil, "customer-engine-test")
	var last progress.Event
	recs, err := src.Fetch(context.Background(), "Acme Corp", Options{}, progress.Func(func(ev progress.Event) { last = ev }))
	require.NoError(t, err)

	assert.Equal(t, "/acme-corp/customers", gotPath)
	require.Len(t, recs, 3)
	assert.Equal(t, types.CandidateRecord{Name: "Globex", RawURL: "https://www.globex.com/", Source: "vendor_site"}, recs[0])
	assert.Equal(t, types.CandidateRecord{Name: "Initech", Source: "vendor_site"}, recs[1])
	assert.Equal(t, "Umbrella Corporation", recs[2].Name)
	assert.Empty(t, recs[2].RawURL, "same-site links are not candidate URLs")

	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, 1.0, last.Metrics["pages_checked"])
	assert.Equal(t, 3.0, last.Metrics["items_found"])
}

func TestPageFetchNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	recs, err := NewPage("p", srv.URL+"/{subject}", "", nil, "").Fetch(context.Background(), "Acme", Options{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestPageFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewPage("p", srv.URL+"/{subject}", "", nil, "").Fetch(context.Background(), "Acme", Options{}, nil)
	assert.ErrorContains(t, err, "HTTP 502")
}

func TestPageURL(t *testing.T) {
	p := NewPage("p", "https://vendor.test/{subject}?s={slug}", "", nil, "")
	assert.Equal(t, "https://vendor.test/Acme%20Corp?s=acme-corp", p.PageURL("Acme Corp"))
}

func TestBuild(t *testing.T) {
	fetchers, err := Build([]types.SourceConfig{
		{Name: "vendor_site", Kind: "page", URLTemplate: "https://{slug}.com/customers"},
		{Name: "curated", Kind: "static", File: "customers.yaml"},
	}, nil, "")
	require.NoError(t, err)
	require.Len(t, fetchers, 2)
	assert.Equal(t, "vendor_site", fetchers[0].Name())
	assert.IsType(t, &Static{}, fetchers[1])

	_, err = Build([]types.SourceConfig{{Name: "a", Kind: "static", File: "f"}, {Name: "a", Kind: "static", File: "f"}}, nil, "")
	assert.ErrorContains(t, err, "duplicate")

	_, err = Build([]types.SourceConfig{{Name: "a", Kind: "rss"}}, nil, "")
	assert.ErrorContains(t, err, "unknown kind")

	_, err = Build([]types.SourceConfig{{Name: "a", Kind: "page"}}, nil, "")
	assert.ErrorContains(t, err, "url_template")
}
