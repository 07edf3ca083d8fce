// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// placeholderDomains are hosts sources and models emit when they have no
// real domain. Subdomains of these are rejected too.
var placeholderDomains = []string{
	"example.com", "example.org", "example.net", "localhost",
	"test.com", "sample.com", "domain.com", "yourdomain.com",
	"mysite.com", "mydomain.com", "exampleurl.com", "testurl.com",
	"host.com", "placeholder.com", "website.com", "company.com",
}

// nonURLIndicators are substrings that only show up when markup or prose
// leaked into a URL field.
var nonURLIndicators = []string{"<", ">", "\"", "'", "{", "}", ";", "\\", "//", ".."}

const (
	maxHostLength  = 253
	maxLabelLength = 63
)

// CleanHost reduces raw to a bare lower-case hostname: scheme, "www.",
// userinfo, port, path, query, fragment and spaces are removed. It does not
// judge whether the result is a plausible host.
func CleanHost(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"http://", "https://", "www."} {
		s = strings.TrimPrefix(s, prefix)
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, " ", "")
	return strings.TrimSuffix(s, ".")
}

// checkStructure validates raw as a hostname and returns the cleaned host,
// or an empty host and the rejection reason.
func checkStructure(raw string) (host, reason string) {
	if strings.TrimSpace(raw) == "" {
		return "", "empty input"
	}
	for _, ind := range nonURLIndicators {
		// "//" is legitimate only as part of the scheme separator.
		probe := raw
		if ind == "//" {
			probe = strings.Replace(strings.ToLower(raw), "://", "", 1)
		}
		if strings.Contains(probe, ind) {
			return "", "contains invalid characters"
		}
	}

	host = CleanHost(raw)
	if host == "" {
		return "", "no hostname"
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", "contains characters illegal in a hostname"
	}
	host = ascii

	if isPlaceholder(host) {
		return "", fmt.Sprintf("placeholder domain: %s", host)
	}
	if len(host) < 4 || !strings.Contains(host, ".") {
		return "", "too short or missing domain extension"
	}
	if len(host) > maxHostLength {
		return "", "hostname too long"
	}

	labels := strings.Split(host, ".")
	for _, label := range labels {
		if reason := checkLabel(label); reason != "" {
			return "", reason
		}
	}

	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return "", fmt.Sprintf("invalid TLD: %s", tld)
	}
	if isNumeric(tld) {
		return "", fmt.Sprintf("invalid TLD: %s", tld)
	}
	return host, ""
}

func checkLabel(label string) string {
	if label == "" {
		return "empty label"
	}
	if len(label) > maxLabelLength {
		return "label too long"
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return "label starts or ends with a hyphen"
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return "contains characters illegal in a hostname"
		}
	}
	return ""
}

func isPlaceholder(host string) bool {
	for _, d := range placeholderDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SynthesizeURL builds the placeholder domain used when a source supplied no
// URL: the lower-cased name with spaces removed and ".com" appended. The
// result is a guess and must still be validated.
func SynthesizeURL(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "") + ".com"
}
