// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// headerNames are first columns that label a table rather than name a company.
var headerNames = map[string]bool{
	"customer name": true,
	"customer":      true,
	"name":          true,
	"company":       true,
	"company name":  true,
}

// ParseResponse extracts items from a service reply. It accepts a JSON array
// of items, a JSON object with a "results" (or "customers") array, JSON
// wrapped in a Markdown code fence, or plain "Name, url" lines. Lines without
// a comma yield an item with no URL.
func ParseResponse(text string) ([]Item, error) {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return nil, nil
	}

	if items, ok := parseJSON(text); ok {
		return cleanItems(items), nil
	}
	if strings.HasPrefix(text, "[") || strings.HasPrefix(text, "{") {
		return nil, fmt.Errorf("response looks like JSON but does not parse")
	}
	return cleanItems(parseLines(text)), nil
}

func parseJSON(text string) ([]Item, bool) {
	var items []Item
	if err := json.Unmarshal([]byte(text), &items); err == nil {
		return items, true
	}

	var wrapped struct {
		Results   []Item `json:"results"`
		Customers []Item `json:"customers"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil {
		if wrapped.Results != nil {
			return wrapped.Results, true
		}
		return wrapped.Customers, true
	}

	// Models sometimes wrap the array in prose.
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start >= 0 && end > start && (start > 0 || end < len(text)-1) {
		return parseJSON(text[start : end+1])
	}
	return nil, false
}

func parseLines(text string) []Item {
	var items []Item
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = stripListMarker(line)

		name, url, _ := strings.Cut(line, ",")
		name = strings.TrimSpace(name)
		if headerNames[strings.ToLower(name)] {
			continue
		}
		items = append(items, Item{Name: name, URL: strings.TrimSpace(url)})
	}
	return items
}

// stripListMarker removes "- ", "* " and "1. " style prefixes.
func stripListMarker(line string) string {
	for _, p := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(line[len(p):])
		}
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:] // drop the language tag
	} else {
		text = ""
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

func cleanItems(items []Item) []Item {
	out := items[:0]
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		it.URL = strings.TrimSpace(it.URL)
		if it.Name == "" {
			continue
		}
		if it.Confidence != nil {
			c := min(max(*it.Confidence, 0), 1)
			it.Confidence = &c
		}
		out = append(out, it)
	}
	return out
}
